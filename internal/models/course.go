package models

import "time"

// Course is a unit of instruction owned by an instructor.
type Course struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Title        string    `gorm:"not null" json:"title"`
	InstructorID uint      `gorm:"not null;index" json:"instructor_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Lesson belongs to a course.
type Lesson struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CourseID  uint      `gorm:"not null;index" json:"course_id"`
	Title     string    `gorm:"not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Assignment belongs to a course.
type Assignment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CourseID  uint      `gorm:"not null;index" json:"course_id"`
	Title     string    `gorm:"not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Announcement is posted to a course by its staff.
type Announcement struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CourseID  uint      `gorm:"not null;index" json:"course_id"`
	Title     string    `gorm:"not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StudyGroup is a learner-run group, optionally tied to a course.
type StudyGroup struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CourseID  *uint     `gorm:"index" json:"course_id,omitempty"`
	OwnerID   uint      `gorm:"not null;index" json:"owner_id"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EnrollmentStatus describes the state of a learner's enrollment.
type EnrollmentStatus string

// Enrollment statuses.
const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentDropped   EnrollmentStatus = "dropped"
)

// Enrollment links a user to a course.
type Enrollment struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	UserID    uint             `gorm:"not null;uniqueIndex:idx_enrollments_user_course" json:"user_id"`
	CourseID  uint             `gorm:"not null;uniqueIndex:idx_enrollments_user_course;index" json:"course_id"`
	Status    EnrollmentStatus `gorm:"type:varchar(16);not null;default:'active'" json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
