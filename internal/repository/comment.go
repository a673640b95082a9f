// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"errors"
	"time"

	"campus/internal/models"
	"campus/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrCommentAlreadyDeleted is returned when a soft delete finds the row already deleted.
var ErrCommentAlreadyDeleted = errors.New("comment already deleted")

// Sort orders accepted by ListTopLevel.
const (
	SortNewest = "newest"
	SortOldest = "oldest"
	SortLikes  = "likes"
)

func increment(column string) clause.Expr {
	return gorm.Expr(column + " + 1")
}

// decrement never lets a counter drop below zero.
func decrement(column string) clause.Expr {
	return gorm.Expr("CASE WHEN " + column + " > 0 THEN " + column + " - 1 ELSE 0 END")
}

// ThreadFilter selects one page of top-level comments for a thread.
type ThreadFilter struct {
	EntityType models.EntityType
	EntityID   uint
	Offset     int
	Limit      int
	Sort       string
}

// LikeState is the membership and counter of a comment after a toggle.
type LikeState struct {
	IsLiked    bool
	LikesCount int
}

// CommentRepository defines interface for comment operations
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id string) (*models.Comment, error)
	ListTopLevel(ctx context.Context, filter ThreadFilter) ([]*models.Comment, int64, error)
	ListRepliesByParentIDs(ctx context.Context, parentIDs []string) ([]*models.Comment, error)
	LikedCommentIDs(ctx context.Context, userID uint, commentIDs []string) (map[string]bool, error)
	UpdateContent(ctx context.Context, id, content string, editedAt time.Time) error
	SoftDelete(ctx context.Context, comment *models.Comment, deletedBy uint, at time.Time) error
	ToggleLike(ctx context.Context, commentID string, userID uint) (LikeState, error)
}

type commentRepository struct {
	db     *gorm.DB
	logger *observability.RepoLogger
	now    func() time.Time
}

// NewCommentRepository creates a new CommentRepository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{
		db:     db,
		logger: observability.NewRepoLogger("comments"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts the comment and, for replies, bumps the parent's replies_count in the
// same transaction.
func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	defer observability.TrackQuery("create", "comments")()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(comment).Error; err != nil {
			return err
		}
		if !comment.IsReply() {
			return nil
		}
		res := tx.Model(&models.Comment{}).
			Where("id = ?", *comment.ParentID).
			Updates(map[string]interface{}{
				"replies_count": increment("replies_count"),
				"updated_at":    comment.CreatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		r.logger.LogError(ctx, err, "create")
		return err
	}

	r.logger.LogCreate(ctx, map[string]interface{}{
		"comment_id":  comment.ID,
		"entity_type": comment.EntityType,
		"entity_id":   comment.EntityID,
		"is_reply":    comment.IsReply(),
	})
	return nil
}

func (r *commentRepository) GetByID(ctx context.Context, id string) (*models.Comment, error) {
	var comment models.Comment
	if err := r.db.WithContext(ctx).Preload("Author").Where("id = ?", id).First(&comment).Error; err != nil {
		return nil, err
	}
	return &comment, nil
}

func orderFor(sort string) string {
	switch sort {
	case SortOldest:
		return "created_at ASC, id ASC"
	case SortLikes:
		return "likes_count DESC, created_at DESC, id DESC"
	default:
		return "created_at DESC, id DESC"
	}
}

// ListTopLevel returns one page of non-deleted top-level comments plus the total count of
// such comments in the thread.
func (r *commentRepository) ListTopLevel(ctx context.Context, filter ThreadFilter) ([]*models.Comment, int64, error) {
	defer observability.TrackQuery("list", "comments")()

	base := r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("entity_type = ? AND entity_id = ?", filter.EntityType, filter.EntityID).
		Where("parent_id IS NULL AND is_deleted = ?", false)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var comments []*models.Comment
	err := base.Session(&gorm.Session{}).
		Preload("Author").
		Order(orderFor(filter.Sort)).
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&comments).Error
	if err != nil {
		return nil, 0, err
	}
	return comments, total, nil
}

// ListRepliesByParentIDs returns every non-deleted reply of the given parents, oldest first.
func (r *commentRepository) ListRepliesByParentIDs(ctx context.Context, parentIDs []string) ([]*models.Comment, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	defer observability.TrackQuery("list_replies", "comments")()

	var replies []*models.Comment
	err := r.db.WithContext(ctx).
		Preload("Author").
		Where("parent_id IN ? AND is_deleted = ?", parentIDs, false).
		Order("created_at ASC, id ASC").
		Find(&replies).Error
	return replies, err
}

func (r *commentRepository) LikedCommentIDs(ctx context.Context, userID uint, commentIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if userID == 0 || len(commentIDs) == 0 {
		return out, nil
	}

	var liked []string
	err := r.db.WithContext(ctx).Model(&models.CommentLike{}).
		Where("user_id = ? AND comment_id IN ?", userID, commentIDs).
		Pluck("comment_id", &liked).Error
	if err != nil {
		return nil, err
	}
	for _, id := range liked {
		out[id] = true
	}
	return out, nil
}

// UpdateContent rewrites the body of a live comment and marks it edited.
func (r *commentRepository) UpdateContent(ctx context.Context, id, content string, editedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]interface{}{
			"content":    content,
			"is_edited":  true,
			"edited_at":  editedAt,
			"updated_at": editedAt,
		})
	if res.Error != nil {
		r.logger.LogError(ctx, res.Error, "update")
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCommentAlreadyDeleted
	}
	r.logger.LogUpdate(ctx, map[string]interface{}{"comment_id": id})
	return nil
}

// SoftDelete marks the comment deleted and, for replies, decrements the parent's
// replies_count in the same transaction. A concurrent delete yields ErrCommentAlreadyDeleted.
func (r *commentRepository) SoftDelete(ctx context.Context, comment *models.Comment, deletedBy uint, at time.Time) error {
	defer observability.TrackQuery("soft_delete", "comments")()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Comment{}).
			Where("id = ? AND is_deleted = ?", comment.ID, false).
			Updates(map[string]interface{}{
				"is_deleted": true,
				"deleted_at": at,
				"deleted_by": deletedBy,
				"updated_at": at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCommentAlreadyDeleted
		}
		if !comment.IsReply() {
			return nil
		}
		return tx.Model(&models.Comment{}).
			Where("id = ?", *comment.ParentID).
			Updates(map[string]interface{}{
				"replies_count": decrement("replies_count"),
				"updated_at":    at,
			}).Error
	})
	if err != nil {
		if !errors.Is(err, ErrCommentAlreadyDeleted) {
			r.logger.LogError(ctx, err, "delete")
		}
		return err
	}

	r.logger.LogDelete(ctx, map[string]interface{}{
		"comment_id": comment.ID,
		"deleted_by": deletedBy,
	})
	return nil
}

// ToggleLike flips the (comment, user) like membership and its counter atomically and
// returns the resulting state. A concurrent insert of the same pair counts as "liked".
func (r *commentRepository) ToggleLike(ctx context.Context, commentID string, userID uint) (LikeState, error) {
	defer observability.TrackQuery("toggle_like", "comment_likes")()

	var state LikeState
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now()
		var existing int64
		err := tx.Model(&models.CommentLike{}).
			Where("comment_id = ? AND user_id = ?", commentID, userID).
			Count(&existing).Error
		if err != nil {
			return err
		}

		if existing > 0 {
			res := tx.Where("comment_id = ? AND user_id = ?", commentID, userID).Delete(&models.CommentLike{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				if err := r.bumpLikes(tx, commentID, decrement("likes_count"), now); err != nil {
					return err
				}
			}
			state.IsLiked = false
		} else {
			like := &models.CommentLike{CommentID: commentID, UserID: userID, CreatedAt: now}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(like)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				if err := r.bumpLikes(tx, commentID, increment("likes_count"), now); err != nil {
					return err
				}
			}
			state.IsLiked = true
		}

		var counts []int
		if err := tx.Model(&models.Comment{}).Where("id = ?", commentID).Pluck("likes_count", &counts).Error; err != nil {
			return err
		}
		if len(counts) == 0 {
			return gorm.ErrRecordNotFound
		}
		state.LikesCount = counts[0]
		return nil
	})
	if err != nil {
		r.logger.LogError(ctx, err, "toggle_like")
		return LikeState{}, err
	}
	return state, nil
}

func (r *commentRepository) bumpLikes(tx *gorm.DB, commentID string, expr clause.Expr, at time.Time) error {
	return tx.Model(&models.Comment{}).
		Where("id = ?", commentID).
		Updates(map[string]interface{}{
			"likes_count": expr,
			"updated_at":  at,
		}).Error
}
