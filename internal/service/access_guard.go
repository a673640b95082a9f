package service

import (
	"context"
	"fmt"
	"time"

	"campus/internal/cache"
	"campus/internal/featureflags"
	"campus/internal/models"
	"campus/internal/repository"

	"github.com/redis/go-redis/v9"
)

const defaultModeratorCacheTTL = 5 * time.Minute

// AccessGuard decides who may read and write an entity's comment thread and who moderates it.
type AccessGuard struct {
	repo  repository.AccessRepository
	flags *featureflags.Manager
	rdb   *redis.Client
	ttl   time.Duration
}

// NewAccessGuard builds a guard. flags and rdb may be nil; a nil rdb disables the moderator cache.
func NewAccessGuard(
	repo repository.AccessRepository,
	flags *featureflags.Manager,
	rdb *redis.Client,
	moderatorTTL time.Duration,
) *AccessGuard {
	if moderatorTTL <= 0 {
		moderatorTTL = defaultModeratorCacheTTL
	}
	return &AccessGuard{repo: repo, flags: flags, rdb: rdb, ttl: moderatorTTL}
}

// CanAccessComments reports whether userID may read and post in the entity's thread.
// Courses and lessons require the instructor or an active enrollment; other entity types
// are open to any authenticated user.
func (g *AccessGuard) CanAccessComments(ctx context.Context, userID uint, entityType models.EntityType, entityID uint) (bool, error) {
	switch entityType {
	case models.EntityCourse:
		return g.canAccessCourse(ctx, userID, entityID)
	case models.EntityLesson:
		courseID, found, err := g.repo.ParentCourseID(ctx, models.EntityLesson, entityID)
		if err != nil {
			return false, models.NewAccessCheckError(err)
		}
		if !found {
			return false, nil
		}
		return g.canAccessCourse(ctx, userID, courseID)
	default:
		return true, nil
	}
}

func (g *AccessGuard) canAccessCourse(ctx context.Context, userID, courseID uint) (bool, error) {
	instructorID, found, err := g.repo.CourseInstructorID(ctx, courseID)
	if err != nil {
		return false, models.NewAccessCheckError(err)
	}
	if !found {
		return false, nil
	}
	if instructorID == userID {
		return true, nil
	}

	enrolled, err := g.repo.HasActiveEnrollment(ctx, userID, courseID)
	if err != nil {
		return false, models.NewAccessCheckError(err)
	}
	return enrolled, nil
}

// AreCommentsAllowed is the kill switch for an entity type. Comments stay on unless
// comments_<entityType> is configured and evaluates off for this entity.
func (g *AccessGuard) AreCommentsAllowed(_ context.Context, entityType models.EntityType, entityID uint) (bool, error) {
	name := "comments_" + string(entityType)
	subject := fmt.Sprintf("%s:%d", entityType, entityID)
	return g.flags.EnabledFor(name, subject, true), nil
}

// CommentSwitches returns the configured comments_<entityType> flag values, keyed by
// entity type. Entity types without a flag are absent.
func (g *AccessGuard) CommentSwitches() map[models.EntityType]string {
	out := map[models.EntityType]string{}
	if g.flags == nil {
		return out
	}
	raw := g.flags.Raw()
	for _, entityType := range models.EntityTypes {
		name := "comments_" + string(entityType)
		if g.flags.IsSet(name) {
			out[entityType] = raw[name]
		}
	}
	return out
}

type moderatorEntry struct {
	ID *uint `json:"id"`
}

// GetModeratorID returns the user who moderates the entity's thread, or nil when the
// entity does not exist or has no moderator.
func (g *AccessGuard) GetModeratorID(ctx context.Context, entityType models.EntityType, entityID uint) (*uint, error) {
	var entry moderatorEntry
	err := cache.Aside(ctx, g.rdb, cache.ModeratorKey(entityType, entityID), &entry, g.ttl, func() error {
		id, err := g.lookupModerator(ctx, entityType, entityID)
		if err != nil {
			return err
		}
		entry.ID = id
		return nil
	})
	if err != nil {
		return nil, models.NewAccessCheckError(err)
	}
	return entry.ID, nil
}

func (g *AccessGuard) lookupModerator(ctx context.Context, entityType models.EntityType, entityID uint) (*uint, error) {
	var (
		id    uint
		found bool
		err   error
	)

	switch entityType {
	case models.EntityStudyGroup:
		id, found, err = g.repo.StudyGroupOwnerID(ctx, entityID)
	case models.EntityCourse, models.EntityLesson, models.EntityAssignment, models.EntityAnnouncement:
		var courseID uint
		courseID, found, err = g.repo.ParentCourseID(ctx, entityType, entityID)
		if err != nil || !found {
			break
		}
		id, found, err = g.repo.CourseInstructorID(ctx, courseID)
	}

	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &id, nil
}
