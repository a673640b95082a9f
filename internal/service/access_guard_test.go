package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"campus/internal/featureflags"
	"campus/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// accessRepoStub is a stub for repository.AccessRepository.
type accessRepoStub struct {
	instructorFn   func(context.Context, uint) (uint, bool, error)
	parentCourseFn func(context.Context, models.EntityType, uint) (uint, bool, error)
	groupOwnerFn   func(context.Context, uint) (uint, bool, error)
	enrolledFn     func(context.Context, uint, uint) (bool, error)
}

func (s *accessRepoStub) CourseInstructorID(ctx context.Context, courseID uint) (uint, bool, error) {
	return s.instructorFn(ctx, courseID)
}
func (s *accessRepoStub) ParentCourseID(ctx context.Context, t models.EntityType, id uint) (uint, bool, error) {
	return s.parentCourseFn(ctx, t, id)
}
func (s *accessRepoStub) StudyGroupOwnerID(ctx context.Context, id uint) (uint, bool, error) {
	return s.groupOwnerFn(ctx, id)
}
func (s *accessRepoStub) HasActiveEnrollment(ctx context.Context, userID, courseID uint) (bool, error) {
	return s.enrolledFn(ctx, userID, courseID)
}

// campusAccessRepo models course 10 taught by user 100, lesson 20 in course 10,
// user 200 enrolled in course 10 and study group 30 owned by user 300.
func campusAccessRepo() *accessRepoStub {
	return &accessRepoStub{
		instructorFn: func(_ context.Context, courseID uint) (uint, bool, error) {
			if courseID == 10 {
				return 100, true, nil
			}
			return 0, false, nil
		},
		parentCourseFn: func(_ context.Context, t models.EntityType, id uint) (uint, bool, error) {
			switch {
			case t == models.EntityCourse && id == 10:
				return 10, true, nil
			case t == models.EntityLesson && id == 20:
				return 10, true, nil
			}
			return 0, false, nil
		},
		groupOwnerFn: func(_ context.Context, id uint) (uint, bool, error) {
			if id == 30 {
				return 300, true, nil
			}
			return 0, false, nil
		},
		enrolledFn: func(_ context.Context, userID, courseID uint) (bool, error) {
			return userID == 200 && courseID == 10, nil
		},
	}
}

func TestAccessGuard_CanAccessComments(t *testing.T) {
	t.Parallel()

	guard := NewAccessGuard(campusAccessRepo(), nil, nil, 0)
	ctx := context.Background()

	tests := []struct {
		name       string
		userID     uint
		entityType models.EntityType
		entityID   uint
		want       bool
	}{
		{"instructor on course", 100, models.EntityCourse, 10, true},
		{"enrolled on course", 200, models.EntityCourse, 10, true},
		{"stranger on course", 999, models.EntityCourse, 10, false},
		{"missing course", 100, models.EntityCourse, 11, false},
		{"instructor on lesson", 100, models.EntityLesson, 20, true},
		{"enrolled on lesson", 200, models.EntityLesson, 20, true},
		{"stranger on lesson", 999, models.EntityLesson, 20, false},
		{"missing lesson", 200, models.EntityLesson, 21, false},
		{"assignment is open", 999, models.EntityAssignment, 1, true},
		{"study group is open", 999, models.EntityStudyGroup, 30, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ok, err := guard.CanAccessComments(ctx, tc.userID, tc.entityType, tc.entityID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestAccessGuard_StoreFailureIsAccessCheckError(t *testing.T) {
	t.Parallel()

	repo := campusAccessRepo()
	storeErr := errors.New("connection reset by peer")
	repo.enrolledFn = func(_ context.Context, _, _ uint) (bool, error) { return false, storeErr }
	guard := NewAccessGuard(repo, nil, nil, 0)

	ok, err := guard.CanAccessComments(context.Background(), 999, models.EntityCourse, 10)
	assert.False(t, ok)
	assert.True(t, models.IsAccessCheckError(err))
	assert.ErrorIs(t, err, storeErr)
}

func TestAccessGuard_AreCommentsAllowed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("unset flags allow comments", func(t *testing.T) {
		t.Parallel()
		guard := NewAccessGuard(campusAccessRepo(), nil, nil, 0)
		ok, err := guard.AreCommentsAllowed(ctx, models.EntityLesson, 1)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, guard.CommentSwitches())
	})

	t.Run("kill switch per entity type", func(t *testing.T) {
		t.Parallel()
		flags := featureflags.NewManager("comments_assignment=off,comments_lesson=on")
		guard := NewAccessGuard(campusAccessRepo(), flags, nil, 0)

		ok, err := guard.AreCommentsAllowed(ctx, models.EntityAssignment, 1)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = guard.AreCommentsAllowed(ctx, models.EntityLesson, 1)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = guard.AreCommentsAllowed(ctx, models.EntityCourse, 1)
		require.NoError(t, err)
		assert.True(t, ok)

		assert.Equal(t, map[models.EntityType]string{
			models.EntityAssignment: "off",
			models.EntityLesson:     "on",
		}, guard.CommentSwitches())
	})

	t.Run("percentage rollout is stable per entity", func(t *testing.T) {
		t.Parallel()
		flags := featureflags.NewManager("comments_announcement=50%")
		guard := NewAccessGuard(campusAccessRepo(), flags, nil, 0)

		first, err := guard.AreCommentsAllowed(ctx, models.EntityAnnouncement, 77)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			again, err := guard.AreCommentsAllowed(ctx, models.EntityAnnouncement, 77)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	})
}

func TestAccessGuard_GetModeratorID(t *testing.T) {
	t.Parallel()

	guard := NewAccessGuard(campusAccessRepo(), nil, nil, 0)
	ctx := context.Background()

	tests := []struct {
		name       string
		entityType models.EntityType
		entityID   uint
		want       *uint
	}{
		{"course instructor", models.EntityCourse, 10, uintPtr(100)},
		{"lesson resolves to course instructor", models.EntityLesson, 20, uintPtr(100)},
		{"study group owner", models.EntityStudyGroup, 30, uintPtr(300)},
		{"missing lesson", models.EntityLesson, 21, nil},
		{"missing group", models.EntityStudyGroup, 31, nil},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := guard.GetModeratorID(ctx, tc.entityType, tc.entityID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAccessGuard_GetModeratorID_UsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var lookups atomic.Int32
	repo := campusAccessRepo()
	instructor := repo.instructorFn
	repo.instructorFn = func(ctx context.Context, courseID uint) (uint, bool, error) {
		lookups.Add(1)
		return instructor(ctx, courseID)
	}
	guard := NewAccessGuard(repo, nil, rdb, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := guard.GetModeratorID(ctx, models.EntityCourse, 10)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, uint(100), *got)
	}
	assert.Equal(t, int32(1), lookups.Load())
	assert.True(t, mr.Exists("moderator:course:10"))

	mr.FastForward(2 * time.Minute)
	_, err := guard.GetModeratorID(ctx, models.EntityCourse, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(2), lookups.Load())
}

func TestAccessGuard_GetModeratorID_StoreFailure(t *testing.T) {
	t.Parallel()

	repo := campusAccessRepo()
	repo.groupOwnerFn = func(_ context.Context, _ uint) (uint, bool, error) {
		return 0, false, errors.New("timeout")
	}
	guard := NewAccessGuard(repo, nil, nil, 0)

	got, err := guard.GetModeratorID(context.Background(), models.EntityStudyGroup, 30)
	assert.Nil(t, got)
	assert.True(t, models.IsAccessCheckError(err))
}

func uintPtr(v uint) *uint { return &v }
