package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"campus/internal/models"
	"campus/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessRepository_Lookups(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	fx := testutil.NewFixtures(t, db)
	repo := NewAccessRepository(db)
	ctx := context.Background()

	instructor := fx.User(models.RoleInstructor)
	student := fx.User(models.RoleStudent)
	dropped := fx.User(models.RoleStudent)
	course := fx.Course(instructor)
	lesson := fx.Lesson(course)
	assignment := fx.Assignment(course)
	group := fx.StudyGroup(student)
	fx.Enroll(student, course, models.EnrollmentActive)
	fx.Enroll(dropped, course, models.EnrollmentDropped)

	t.Run("course instructor", func(t *testing.T) {
		id, found, err := repo.CourseInstructorID(ctx, course.ID)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, instructor.ID, id)

		_, found, err = repo.CourseInstructorID(ctx, 9999)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("parent course", func(t *testing.T) {
		for _, tc := range []struct {
			entityType models.EntityType
			id         uint
		}{
			{models.EntityCourse, course.ID},
			{models.EntityLesson, lesson.ID},
			{models.EntityAssignment, assignment.ID},
		} {
			courseID, found, err := repo.ParentCourseID(ctx, tc.entityType, tc.id)
			require.NoError(t, err)
			assert.True(t, found, tc.entityType)
			assert.Equal(t, course.ID, courseID, tc.entityType)
		}

		_, found, err := repo.ParentCourseID(ctx, models.EntityLesson, 9999)
		require.NoError(t, err)
		assert.False(t, found)

		_, found, err = repo.ParentCourseID(ctx, models.EntityStudyGroup, group.ID)
		require.NoError(t, err)
		assert.False(t, found, "study groups have no parent course lookup")
	})

	t.Run("study group owner", func(t *testing.T) {
		id, found, err := repo.StudyGroupOwnerID(ctx, group.ID)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, student.ID, id)
	})

	t.Run("enrollment", func(t *testing.T) {
		ok, err := repo.HasActiveEnrollment(ctx, student.ID, course.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.HasActiveEnrollment(ctx, dropped.ID, course.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.HasActiveEnrollment(ctx, instructor.ID, course.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestAccessRepository_PropagatesStoreErrors(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAccessRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "enrollments"`)).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.HasActiveEnrollment(context.Background(), 1, 2)
	assert.EqualError(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccessRepository_HasActiveEnrollment_CountsRows(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAccessRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "enrollments" WHERE user_id = $1 AND course_id = $2 AND status = $3`)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	ok, err := repo.HasActiveEnrollment(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
