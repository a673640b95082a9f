// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"campus/internal/database"
	"campus/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// NewSQLiteDB opens an isolated in-memory SQLite database with the full schema migrated.
func NewSQLiteDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:campus_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// Fixtures creates platform rows for tests.
type Fixtures struct {
	t  testing.TB
	db *gorm.DB
}

// NewFixtures binds fixture helpers to db.
func NewFixtures(t testing.TB, db *gorm.DB) *Fixtures {
	return &Fixtures{t: t, db: db}
}

var userSeq atomic.Int64

// User creates a user with the given role.
func (f *Fixtures) User(role models.Role) *models.User {
	f.t.Helper()
	n := userSeq.Add(1)
	u := &models.User{
		Username: fmt.Sprintf("user%d", n),
		Email:    fmt.Sprintf("user%d@example.com", n),
		Role:     role,
	}
	require.NoError(f.t, f.db.Create(u).Error)
	return u
}

// Course creates a course taught by instructor.
func (f *Fixtures) Course(instructor *models.User) *models.Course {
	f.t.Helper()
	c := &models.Course{Title: "Course", InstructorID: instructor.ID}
	require.NoError(f.t, f.db.Create(c).Error)
	return c
}

// Lesson creates a lesson in course.
func (f *Fixtures) Lesson(course *models.Course) *models.Lesson {
	f.t.Helper()
	l := &models.Lesson{Title: "Lesson", CourseID: course.ID}
	require.NoError(f.t, f.db.Create(l).Error)
	return l
}

// Assignment creates an assignment in course.
func (f *Fixtures) Assignment(course *models.Course) *models.Assignment {
	f.t.Helper()
	a := &models.Assignment{Title: "Assignment", CourseID: course.ID}
	require.NoError(f.t, f.db.Create(a).Error)
	return a
}

// StudyGroup creates a study group owned by owner.
func (f *Fixtures) StudyGroup(owner *models.User) *models.StudyGroup {
	f.t.Helper()
	g := &models.StudyGroup{Name: "Group", OwnerID: owner.ID}
	require.NoError(f.t, f.db.Create(g).Error)
	return g
}

// Enroll enrolls user in course with the given status.
func (f *Fixtures) Enroll(user *models.User, course *models.Course, status models.EnrollmentStatus) {
	f.t.Helper()
	require.NoError(f.t, f.db.Create(&models.Enrollment{
		UserID:   user.ID,
		CourseID: course.ID,
		Status:   status,
	}).Error)
}

// Comment inserts a comment row directly, bypassing counters.
func (f *Fixtures) Comment(author *models.User, entityType models.EntityType, entityID uint, content string, createdAt time.Time) *models.Comment {
	f.t.Helper()
	c := &models.Comment{
		AuthorID:   author.ID,
		EntityType: entityType,
		EntityID:   entityID,
		Content:    content,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	require.NoError(f.t, f.db.Create(c).Error)
	return c
}
