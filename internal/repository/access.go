package repository

import (
	"context"
	"errors"

	"campus/internal/models"

	"gorm.io/gorm"
)

// AccessRepository answers the ownership and enrollment questions the access guard asks.
// Lookups of absent entities report found=false rather than an error.
type AccessRepository interface {
	CourseInstructorID(ctx context.Context, courseID uint) (instructorID uint, found bool, err error)
	ParentCourseID(ctx context.Context, entityType models.EntityType, entityID uint) (courseID uint, found bool, err error)
	StudyGroupOwnerID(ctx context.Context, groupID uint) (ownerID uint, found bool, err error)
	HasActiveEnrollment(ctx context.Context, userID, courseID uint) (bool, error)
}

type accessRepository struct {
	db *gorm.DB
}

// NewAccessRepository creates a new AccessRepository
func NewAccessRepository(db *gorm.DB) AccessRepository {
	return &accessRepository{db: db}
}

// pluckUint reads a single uint column of the row with the given id.
func (r *accessRepository) pluckUint(ctx context.Context, model interface{}, column string, id uint) (uint, bool, error) {
	var values []uint
	err := r.db.WithContext(ctx).Model(model).Where("id = ?", id).Limit(1).Pluck(column, &values).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if len(values) == 0 {
		return 0, false, nil
	}
	return values[0], true, nil
}

func (r *accessRepository) CourseInstructorID(ctx context.Context, courseID uint) (uint, bool, error) {
	return r.pluckUint(ctx, &models.Course{}, "instructor_id", courseID)
}

// ParentCourseID resolves the course that owns a lesson, assignment or announcement.
// A course resolves to itself.
func (r *accessRepository) ParentCourseID(ctx context.Context, entityType models.EntityType, entityID uint) (uint, bool, error) {
	switch entityType {
	case models.EntityCourse:
		_, found, err := r.pluckUint(ctx, &models.Course{}, "id", entityID)
		return entityID, found, err
	case models.EntityLesson:
		return r.pluckUint(ctx, &models.Lesson{}, "course_id", entityID)
	case models.EntityAssignment:
		return r.pluckUint(ctx, &models.Assignment{}, "course_id", entityID)
	case models.EntityAnnouncement:
		return r.pluckUint(ctx, &models.Announcement{}, "course_id", entityID)
	default:
		return 0, false, nil
	}
}

func (r *accessRepository) StudyGroupOwnerID(ctx context.Context, groupID uint) (uint, bool, error) {
	return r.pluckUint(ctx, &models.StudyGroup{}, "owner_id", groupID)
}

func (r *accessRepository) HasActiveEnrollment(ctx context.Context, userID, courseID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Enrollment{}).
		Where("user_id = ? AND course_id = ? AND status = ?", userID, courseID, models.EnrollmentActive).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
