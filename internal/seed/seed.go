// Package seed provides database seeding utilities for development and testing.
package seed

import (
	"context"
	"fmt"
	"log"
	"time"

	"campus/internal/database"
	"campus/internal/models"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	Instructors       int
	Students          int
	LessonsPerCourse  int
	CommentsPerThread int
	RepliesPerComment int
	MaxDays           int
	// Seed makes generated content reproducible; zero picks a random seed.
	Seed int64
}

// DefaultOptions is a small but lively campus.
var DefaultOptions = Options{
	Instructors:       3,
	Students:          30,
	LessonsPerCourse:  4,
	CommentsPerThread: 6,
	RepliesPerComment: 3,
	MaxDays:           30,
}

// Summary counts what a run created.
type Summary struct {
	Users    int
	Courses  int
	Threads  int
	Comments int
	Replies  int
	Likes    int
}

// Seeder populates a database with a coherent campus: one course per instructor with
// lessons, an assignment and an announcement, enrolled students, a study group, and a
// discussion on every entity.
type Seeder struct {
	db      *gorm.DB
	opts    Options
	factory *Factory
}

// NewSeeder creates a seeder. Zero option values fall back to DefaultOptions.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	if opts.Instructors <= 0 {
		opts.Instructors = DefaultOptions.Instructors
	}
	if opts.Students <= 0 {
		opts.Students = DefaultOptions.Students
	}
	if opts.LessonsPerCourse <= 0 {
		opts.LessonsPerCourse = DefaultOptions.LessonsPerCourse
	}
	if opts.CommentsPerThread <= 0 {
		opts.CommentsPerThread = DefaultOptions.CommentsPerThread
	}
	if opts.RepliesPerComment < 0 {
		opts.RepliesPerComment = 0
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = DefaultOptions.MaxDays
	}
	return &Seeder{db: db, opts: opts, factory: NewFactory(db, opts.Seed)}
}

type thread struct {
	entityType models.EntityType
	entityID   uint
	members    []*models.User
}

// Run creates the campus and its discussions.
func (s *Seeder) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{}
	f := s.factory

	admin, err := f.CreateUser(models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	sum.Users++

	students := make([]*models.User, 0, s.opts.Students)
	for i := 0; i < s.opts.Students; i++ {
		u, err := f.CreateUser(models.RoleStudent)
		if err != nil {
			return nil, err
		}
		students = append(students, u)
	}
	sum.Users += len(students)

	var threads []thread
	for i := 0; i < s.opts.Instructors; i++ {
		instructor, err := f.CreateUser(models.RoleInstructor)
		if err != nil {
			return nil, err
		}
		sum.Users++

		course, err := f.CreateCourse(instructor)
		if err != nil {
			return nil, err
		}
		sum.Courses++

		enrolled := s.pickStudents(students, i)
		for j, student := range enrolled {
			status := models.EnrollmentActive
			if j%10 == 9 {
				status = models.EnrollmentDropped
			}
			if err := f.Enroll(student, course, status); err != nil {
				return nil, fmt.Errorf("enroll: %w", err)
			}
		}
		members := append([]*models.User{instructor, admin}, activeOnly(enrolled)...)

		threads = append(threads, thread{models.EntityCourse, course.ID, members})
		for n := 1; n <= s.opts.LessonsPerCourse; n++ {
			lesson, err := f.CreateLesson(course, n)
			if err != nil {
				return nil, err
			}
			threads = append(threads, thread{models.EntityLesson, lesson.ID, members})
		}

		assignment, err := f.CreateAssignment(course)
		if err != nil {
			return nil, err
		}
		threads = append(threads, thread{models.EntityAssignment, assignment.ID, members})

		announcement, err := f.CreateAnnouncement(course)
		if err != nil {
			return nil, err
		}
		threads = append(threads, thread{models.EntityAnnouncement, announcement.ID, members})

		if len(enrolled) > 0 {
			group, err := f.CreateStudyGroup(enrolled[0], course)
			if err != nil {
				return nil, err
			}
			threads = append(threads, thread{models.EntityStudyGroup, group.ID, members})
		}
	}

	for _, th := range threads {
		if err := s.seedThread(ctx, th, sum); err != nil {
			return nil, err
		}
		sum.Threads++
	}

	log.Printf("seeded %d users, %d courses, %d threads, %d comments, %d replies, %d likes",
		sum.Users, sum.Courses, sum.Threads, sum.Comments, sum.Replies, sum.Likes)
	return sum, nil
}

// pickStudents returns a rotating slice of roughly two thirds of students for course i.
func (s *Seeder) pickStudents(students []*models.User, i int) []*models.User {
	if len(students) == 0 {
		return nil
	}
	n := len(students) * 2 / 3
	if n == 0 {
		n = 1
	}
	out := make([]*models.User, 0, n)
	offset := i * len(students) / s.opts.Instructors
	for j := 0; j < n; j++ {
		out = append(out, students[(offset+j)%len(students)])
	}
	return out
}

func activeOnly(enrolled []*models.User) []*models.User {
	out := make([]*models.User, 0, len(enrolled))
	for j, u := range enrolled {
		if j%10 != 9 {
			out = append(out, u)
		}
	}
	return out
}

func (s *Seeder) seedThread(ctx context.Context, th thread, sum *Summary) error {
	f := s.factory
	faker := f.faker
	pick := func() *models.User { return th.members[faker.Number(0, len(th.members)-1)] }

	for i := 0; i < s.opts.CommentsPerThread; i++ {
		at := f.pastTime(s.opts.MaxDays)
		top, err := f.CreateComment(ctx, pick(), th.entityType, th.entityID, nil, at)
		if err != nil {
			return err
		}
		sum.Comments++

		replies := 0
		if s.opts.RepliesPerComment > 0 {
			replies = faker.Number(0, s.opts.RepliesPerComment)
		}
		for r := 0; r < replies; r++ {
			at = at.Add(time.Duration(faker.Number(1, 600)) * time.Minute)
			if at.After(f.now) {
				at = f.now
			}
			if _, err := f.CreateComment(ctx, pick(), th.entityType, th.entityID, top, at); err != nil {
				return err
			}
			sum.Replies++
		}

		likers := faker.Number(0, len(th.members)/2)
		seen := make(map[uint]bool, likers)
		for l := 0; l < likers; l++ {
			u := pick()
			if seen[u.ID] {
				continue
			}
			seen[u.ID] = true
			if err := f.Like(ctx, top, u); err != nil {
				return fmt.Errorf("like: %w", err)
			}
			sum.Likes++
		}
	}
	return nil
}

// ClearAll removes every seeded row.
func ClearAll(db *gorm.DB) error {
	if db.Dialector.Name() == "postgres" {
		return db.Exec(`TRUNCATE TABLE comment_likes, comments, enrollments, study_groups, announcements, assignments, lessons, courses, users RESTART IDENTITY CASCADE`).Error
	}

	persistent := database.PersistentModels()
	for i := len(persistent) - 1; i >= 0; i-- {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(persistent[i]).Error; err != nil {
			return err
		}
	}
	return nil
}
