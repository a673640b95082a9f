package seed

import (
	"context"
	"fmt"
	"time"

	"campus/internal/models"
	"campus/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by the seeder and tests.
type Factory struct {
	db       *gorm.DB
	comments repository.CommentRepository
	faker    *gofakeit.Faker
	now      time.Time
	seq      int
}

// NewFactory creates a new Factory bound to the provided Gorm DB. A zero seed picks a
// random one.
func NewFactory(db *gorm.DB, seed int64) *Factory {
	return &Factory{
		db:       db,
		comments: repository.NewCommentRepository(db),
		faker:    gofakeit.New(seed),
		now:      time.Now().UTC(),
	}
}

func (f *Factory) next() int {
	f.seq++
	return f.seq
}

// CreateUser constructs and persists a user with the given role.
func (f *Factory) CreateUser(role models.Role, overrides ...func(*models.User)) (*models.User, error) {
	n := f.next()
	user := &models.User{
		Username: fmt.Sprintf("%s%d", f.faker.Username(), n),
		Email:    fmt.Sprintf("%d.%s", n, f.faker.Email()),
		Avatar:   fmt.Sprintf("https://i.pravatar.cc/150?u=%s", f.faker.UUID()),
		Role:     role,
	}
	for _, override := range overrides {
		override(user)
	}
	if err := f.db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// CreateCourse persists a course taught by instructor.
func (f *Factory) CreateCourse(instructor *models.User) (*models.Course, error) {
	course := &models.Course{
		Title:        fmt.Sprintf("Intro to %s %s", f.faker.HackerAdjective(), f.faker.HackerNoun()),
		InstructorID: instructor.ID,
	}
	if err := f.db.Create(course).Error; err != nil {
		return nil, fmt.Errorf("create course: %w", err)
	}
	return course, nil
}

// CreateLesson persists a lesson in course.
func (f *Factory) CreateLesson(course *models.Course, index int) (*models.Lesson, error) {
	lesson := &models.Lesson{
		CourseID: course.ID,
		Title:    fmt.Sprintf("Lesson %d: %s", index, f.faker.HackerPhrase()),
	}
	if err := f.db.Create(lesson).Error; err != nil {
		return nil, fmt.Errorf("create lesson: %w", err)
	}
	return lesson, nil
}

// CreateAssignment persists an assignment in course.
func (f *Factory) CreateAssignment(course *models.Course) (*models.Assignment, error) {
	assignment := &models.Assignment{
		CourseID: course.ID,
		Title:    "Assignment: " + f.faker.Sentence(4),
	}
	if err := f.db.Create(assignment).Error; err != nil {
		return nil, fmt.Errorf("create assignment: %w", err)
	}
	return assignment, nil
}

// CreateAnnouncement persists an announcement in course.
func (f *Factory) CreateAnnouncement(course *models.Course) (*models.Announcement, error) {
	announcement := &models.Announcement{
		CourseID: course.ID,
		Title:    f.faker.Sentence(6),
	}
	if err := f.db.Create(announcement).Error; err != nil {
		return nil, fmt.Errorf("create announcement: %w", err)
	}
	return announcement, nil
}

// CreateStudyGroup persists a study group owned by owner, optionally tied to course.
func (f *Factory) CreateStudyGroup(owner *models.User, course *models.Course) (*models.StudyGroup, error) {
	group := &models.StudyGroup{
		OwnerID: owner.ID,
		Name:    fmt.Sprintf("%s study group", f.faker.HackerAdjective()),
	}
	if course != nil {
		group.CourseID = &course.ID
	}
	if err := f.db.Create(group).Error; err != nil {
		return nil, fmt.Errorf("create study group: %w", err)
	}
	return group, nil
}

// Enroll enrolls user in course.
func (f *Factory) Enroll(user *models.User, course *models.Course, status models.EnrollmentStatus) error {
	return f.db.Create(&models.Enrollment{
		UserID:   user.ID,
		CourseID: course.ID,
		Status:   status,
	}).Error
}

// pastTime returns a moment within the last maxDays days.
func (f *Factory) pastTime(maxDays int) time.Time {
	if maxDays <= 0 {
		maxDays = 30
	}
	back := time.Duration(f.faker.Number(0, maxDays*24*60)) * time.Minute
	return f.now.Add(-back)
}

// CreateComment persists a comment through the repository so reply counters stay in step.
func (f *Factory) CreateComment(ctx context.Context, author *models.User, entityType models.EntityType, entityID uint, parent *models.Comment, at time.Time) (*models.Comment, error) {
	comment := &models.Comment{
		AuthorID:   author.ID,
		EntityType: entityType,
		EntityID:   entityID,
		Content:    f.faker.Paragraph(1, f.faker.Number(1, 3), f.faker.Number(6, 14), " "),
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	if parent != nil {
		comment.ParentID = &parent.ID
	}
	if err := f.comments.Create(ctx, comment); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	return comment, nil
}

// Like records a like by user on comment.
func (f *Factory) Like(ctx context.Context, comment *models.Comment, user *models.User) error {
	_, err := f.comments.ToggleLike(ctx, comment.ID, user.ID)
	return err
}
