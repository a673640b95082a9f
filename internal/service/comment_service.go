package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"campus/internal/models"
	"campus/internal/observability"
	"campus/internal/repository"

	"gorm.io/gorm"
)

// Pagination bounds for List.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

const defaultNotifyTimeout = 10 * time.Second

// Broadcaster delivers a realtime event to every subscriber of a room.
type Broadcaster interface {
	Emit(ctx context.Context, room, event string, payload any)
}

// ReplyNotifier tells the author of a parent comment that someone replied.
type ReplyNotifier interface {
	SendCommentReplyNotification(ctx context.Context, commentID, parentCommentID string) error
}

// CommentAccess is the subset of AccessGuard the comment engine depends on.
type CommentAccess interface {
	CanAccessComments(ctx context.Context, userID uint, entityType models.EntityType, entityID uint) (bool, error)
	AreCommentsAllowed(ctx context.Context, entityType models.EntityType, entityID uint) (bool, error)
	GetModeratorID(ctx context.Context, entityType models.EntityType, entityID uint) (*uint, error)
}

type CommentService struct {
	commentRepo   repository.CommentRepository
	access        CommentAccess
	broadcaster   Broadcaster
	notifier      ReplyNotifier
	now           func() time.Time
	notifyTimeout time.Duration
}

type CreateCommentInput struct {
	UserID     uint
	EntityType models.EntityType
	EntityID   uint
	Content    string
	ParentID   *string
}

type ListCommentsInput struct {
	EntityType       models.EntityType
	EntityID         uint
	RequestingUserID uint
	Page             int
	Limit            int
	Sort             string
}

type UpdateCommentInput struct {
	UserID    uint
	CommentID string
	Content   string
}

type DeleteCommentInput struct {
	UserID    uint
	UserRole  models.Role
	CommentID string
}

// Pagination describes the page returned by List.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalCount int64 `json:"totalCount"`
	TotalPages int   `json:"totalPages"`
	HasMore    bool  `json:"hasMore"`
}

// ListCommentsResult is one page of a thread.
type ListCommentsResult struct {
	Comments   []*models.Comment `json:"comments"`
	TotalCount int64             `json:"totalCount"`
	Pagination Pagination        `json:"pagination"`
}

// LikeResult is the like state of a comment after a toggle.
type LikeResult struct {
	IsLiked    bool `json:"isLiked"`
	LikesCount int  `json:"likesCount"`
}

// NewCommentService wires the comment engine. broadcaster and notifier may be nil;
// now defaults to the UTC wall clock.
func NewCommentService(
	commentRepo repository.CommentRepository,
	access CommentAccess,
	broadcaster Broadcaster,
	notifier ReplyNotifier,
	now func() time.Time,
) *CommentService {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &CommentService{
		commentRepo:   commentRepo,
		access:        access,
		broadcaster:   broadcaster,
		notifier:      notifier,
		now:           now,
		notifyTimeout: defaultNotifyTimeout,
	}
}

func validateContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", models.NewValidationError("Content is required")
	}
	if utf8.RuneCountInString(content) > models.MaxCommentLength {
		return "", models.NewValidationError(fmt.Sprintf("Comment too long (max %d characters)", models.MaxCommentLength))
	}
	return content, nil
}

func validateEntityType(t models.EntityType) error {
	if !t.Valid() {
		return models.NewValidationError(fmt.Sprintf("Unsupported entity type %q", t))
	}
	return nil
}

// requireAccess turns a negative or failed access check into a PermissionError. Store
// failures are logged here and never surface to the caller.
func (s *CommentService) requireAccess(ctx context.Context, userID uint, entityType models.EntityType, entityID uint) error {
	ok, err := s.access.CanAccessComments(ctx, userID, entityType, entityID)
	if err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "comment access check failed",
			slog.Uint64("user_id", uint64(userID)),
			slog.String("entity_type", string(entityType)),
			slog.Uint64("entity_id", uint64(entityID)),
			slog.String("error", err.Error()),
		)
		return models.NewPermissionError("You do not have access to this discussion")
	}
	if !ok {
		return models.NewPermissionError("You do not have access to this discussion")
	}
	return nil
}

func (s *CommentService) emit(ctx context.Context, entityType models.EntityType, entityID uint, event string, payload any) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Emit(ctx, models.RoomKey(entityType, entityID), event, payload)
}

// loadComment fetches a comment and maps a missing row to NotFound.
func (s *CommentService) loadComment(ctx context.Context, id string) (*models.Comment, error) {
	comment, err := s.commentRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Comment", id)
		}
		return nil, err
	}
	return comment, nil
}

func (s *CommentService) CreateComment(ctx context.Context, in CreateCommentInput) (_ *models.Comment, err error) {
	span, ctx := observability.StartCommentSpan(ctx, "create",
		observability.ThreadAttrs(string(in.EntityType), in.EntityID)...)
	defer func() {
		span.Finish(err)
		observability.RecordCommentOperation("create", err)
	}()

	if err := validateEntityType(in.EntityType); err != nil {
		return nil, err
	}
	content, err := validateContent(in.Content)
	if err != nil {
		return nil, err
	}

	allowed, err := s.access.AreCommentsAllowed(ctx, in.EntityType, in.EntityID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, models.NewPermissionError("Comments are disabled here")
	}
	if err := s.requireAccess(ctx, in.UserID, in.EntityType, in.EntityID); err != nil {
		return nil, err
	}

	var parent *models.Comment
	if in.ParentID != nil && strings.TrimSpace(*in.ParentID) != "" {
		parentID := strings.TrimSpace(*in.ParentID)
		parent, err = s.commentRepo.GetByID(ctx, parentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, models.NewParentNotFoundError(parentID)
			}
			return nil, err
		}
		switch {
		case parent.IsDeleted:
			return nil, models.NewValidationError("Cannot reply to a deleted comment")
		case parent.EntityType != in.EntityType || parent.EntityID != in.EntityID:
			return nil, models.NewValidationError("Parent comment belongs to a different discussion")
		case parent.IsReply():
			return nil, models.NewValidationError("Replies can only be one level deep")
		}
	}

	comment := &models.Comment{
		AuthorID:   in.UserID,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Content:    content,
	}
	if parent != nil {
		comment.ParentID = &parent.ID
	}

	if err := s.commentRepo.Create(ctx, comment); err != nil {
		if parent != nil && errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewParentNotFoundError(parent.ID)
		}
		return nil, err
	}

	created, err := s.commentRepo.GetByID(ctx, comment.ID)
	if err != nil {
		return nil, err
	}
	created.IsLikedByCurrentUser = false
	span.SetComment(created.ID)

	s.emit(ctx, created.EntityType, created.EntityID, models.EventCommentCreated, created)
	if parent != nil && parent.AuthorID != in.UserID {
		s.notifyReply(ctx, created.ID, parent.ID)
	}
	return created, nil
}

// notifyReply runs the reply notification on its own goroutine with a detached context.
// It never fails the request.
func (s *CommentService) notifyReply(ctx context.Context, commentID, parentID string) {
	if s.notifier == nil {
		return
	}
	const operation = "comment_reply_notification"
	fields := map[string]interface{}{"comment_id": commentID, "parent_comment_id": parentID}
	bg := observability.WithCorrelationID(context.WithoutCancel(ctx), commentID)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				observability.ReplyNotifications.WithLabelValues("panic").Inc()
				observability.LogAsyncOperationError(bg, operation, fmt.Errorf("panic: %v", r), fields)
			}
		}()

		taskCtx, cancel := context.WithTimeout(bg, s.notifyTimeout)
		defer cancel()

		observability.LogAsyncOperationStart(taskCtx, operation, fields)
		if err := s.notifier.SendCommentReplyNotification(taskCtx, commentID, parentID); err != nil {
			observability.ReplyNotifications.WithLabelValues("error").Inc()
			observability.LogAsyncOperationError(taskCtx, operation, err, fields)
			return
		}
		observability.ReplyNotifications.WithLabelValues("sent").Inc()
		observability.LogAsyncOperationEnd(taskCtx, operation, fields)
	}()
}

func normalizePage(page, limit int, sort string) (int, int, string) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit <= 0:
		limit = DefaultPageLimit
	case limit > MaxPageLimit:
		limit = MaxPageLimit
	}
	switch sort {
	case repository.SortNewest, repository.SortOldest, repository.SortLikes:
	default:
		sort = repository.SortNewest
	}
	return page, limit, sort
}

func (s *CommentService) ListComments(ctx context.Context, in ListCommentsInput) (_ *ListCommentsResult, err error) {
	span, ctx := observability.StartCommentSpan(ctx, "list",
		observability.ThreadAttrs(string(in.EntityType), in.EntityID)...)
	defer func() {
		span.Finish(err)
	}()

	if err := validateEntityType(in.EntityType); err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, in.RequestingUserID, in.EntityType, in.EntityID); err != nil {
		return nil, err
	}

	page, limit, sort := normalizePage(in.Page, in.Limit, in.Sort)
	topLevel, total, err := s.commentRepo.ListTopLevel(ctx, repository.ThreadFilter{
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Offset:     (page - 1) * limit,
		Limit:      limit,
		Sort:       sort,
	})
	if err != nil {
		return nil, err
	}

	if err := s.attachReplies(ctx, topLevel); err != nil {
		return nil, err
	}
	if err := s.markLiked(ctx, in.RequestingUserID, topLevel); err != nil {
		return nil, err
	}

	if topLevel == nil {
		topLevel = []*models.Comment{}
	}
	totalPages := int(math.Ceil(float64(total) / float64(limit)))
	return &ListCommentsResult{
		Comments:   topLevel,
		TotalCount: total,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			TotalCount: total,
			TotalPages: totalPages,
			HasMore:    int64(page*limit) < total,
		},
	}, nil
}

// attachReplies fills Replies of each top-level comment in one batched store query.
func (s *CommentService) attachReplies(ctx context.Context, topLevel []*models.Comment) error {
	if len(topLevel) == 0 {
		return nil
	}

	ids := make([]string, len(topLevel))
	for i, c := range topLevel {
		ids[i] = c.ID
	}

	loader := newReplyLoader(s.commentRepo)
	replies, err := loader.Load(ctx, ids)
	if err != nil {
		return err
	}
	for i, c := range topLevel {
		c.Replies = replies[i]
		if c.Replies == nil {
			c.Replies = []*models.Comment{}
		}
	}
	return nil
}

// markLiked sets IsLikedByCurrentUser on comments and their replies with a single query.
func (s *CommentService) markLiked(ctx context.Context, userID uint, comments []*models.Comment) error {
	var ids []string
	for _, c := range comments {
		ids = append(ids, c.ID)
		for _, r := range c.Replies {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	liked, err := s.commentRepo.LikedCommentIDs(ctx, userID, ids)
	if err != nil {
		return err
	}
	for _, c := range comments {
		c.IsLikedByCurrentUser = liked[c.ID]
		for _, r := range c.Replies {
			r.IsLikedByCurrentUser = liked[r.ID]
		}
	}
	return nil
}

// GetComment returns a single comment with its replies. Deleted comments come back with the
// placeholder content.
func (s *CommentService) GetComment(ctx context.Context, commentID string, userID uint) (*models.Comment, error) {
	comment, err := s.loadComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, userID, comment.EntityType, comment.EntityID); err != nil {
		return nil, err
	}

	if !comment.IsReply() {
		if err := s.attachReplies(ctx, []*models.Comment{comment}); err != nil {
			return nil, err
		}
	}
	if err := s.markLiked(ctx, userID, []*models.Comment{comment}); err != nil {
		return nil, err
	}
	return comment.Redacted(), nil
}

func (s *CommentService) UpdateComment(ctx context.Context, in UpdateCommentInput) (_ *models.Comment, err error) {
	span, ctx := observability.StartCommentSpan(ctx, "update", observability.AttrCommentID.String(in.CommentID))
	defer func() {
		span.Finish(err)
		observability.RecordCommentOperation("update", err)
	}()

	comment, err := s.loadComment(ctx, in.CommentID)
	if err != nil {
		return nil, err
	}
	if comment.IsDeleted {
		return nil, models.NewValidationError("Cannot edit a deleted comment")
	}
	content, err := validateContent(in.Content)
	if err != nil {
		return nil, err
	}
	if comment.AuthorID != in.UserID {
		return nil, models.NewPermissionError("You can only edit your own comments")
	}

	now := s.now()
	if now.Sub(comment.CreatedAt) > models.EditWindow {
		return nil, models.NewEditWindowExpiredError()
	}

	if err := s.commentRepo.UpdateContent(ctx, comment.ID, content, now); err != nil {
		if errors.Is(err, repository.ErrCommentAlreadyDeleted) {
			return nil, models.NewValidationError("Cannot edit a deleted comment")
		}
		return nil, err
	}

	updated, err := s.commentRepo.GetByID(ctx, comment.ID)
	if err != nil {
		return nil, err
	}
	if err := s.markLiked(ctx, in.UserID, []*models.Comment{updated}); err != nil {
		return nil, err
	}

	// Like state is per viewer; subscribers keep their own.
	event := updated.Clone()
	event.IsLikedByCurrentUser = false
	s.emit(ctx, updated.EntityType, updated.EntityID, models.EventCommentUpdated, event)
	return updated, nil
}

func (s *CommentService) canModerate(ctx context.Context, in DeleteCommentInput, comment *models.Comment) bool {
	if comment.AuthorID == in.UserID || in.UserRole == models.RoleAdmin {
		return true
	}

	moderatorID, err := s.access.GetModeratorID(ctx, comment.EntityType, comment.EntityID)
	if err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "moderator lookup failed",
			slog.String("comment_id", comment.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return moderatorID != nil && *moderatorID == in.UserID
}

func (s *CommentService) DeleteComment(ctx context.Context, in DeleteCommentInput) (err error) {
	span, ctx := observability.StartCommentSpan(ctx, "delete", observability.AttrCommentID.String(in.CommentID))
	defer func() {
		span.Finish(err)
		observability.RecordCommentOperation("delete", err)
	}()

	comment, err := s.loadComment(ctx, in.CommentID)
	if err != nil {
		return err
	}
	if comment.IsDeleted {
		return models.NewAlreadyDeletedError()
	}
	if !s.canModerate(ctx, in, comment) {
		return models.NewPermissionError("You do not have permission to delete this comment")
	}

	if err := s.commentRepo.SoftDelete(ctx, comment, in.UserID, s.now()); err != nil {
		if errors.Is(err, repository.ErrCommentAlreadyDeleted) {
			return models.NewAlreadyDeletedError()
		}
		return err
	}

	s.emit(ctx, comment.EntityType, comment.EntityID, models.EventCommentDeleted, comment.ID)
	return nil
}

func (s *CommentService) ToggleLike(ctx context.Context, commentID string, userID uint) (_ LikeResult, err error) {
	span, ctx := observability.StartCommentSpan(ctx, "toggle_like", observability.AttrCommentID.String(commentID))
	defer func() {
		span.Finish(err)
		observability.RecordCommentOperation("like", err)
	}()

	comment, err := s.loadComment(ctx, commentID)
	if err != nil {
		return LikeResult{}, err
	}
	if comment.IsDeleted {
		return LikeResult{}, models.NewValidationError("Cannot like a deleted comment")
	}
	if err := s.requireAccess(ctx, userID, comment.EntityType, comment.EntityID); err != nil {
		return LikeResult{}, err
	}

	state, err := s.commentRepo.ToggleLike(ctx, comment.ID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return LikeResult{}, models.NewNotFoundError("Comment", commentID)
		}
		return LikeResult{}, err
	}

	s.emit(ctx, comment.EntityType, comment.EntityID, models.EventCommentLiked, models.LikeEventPayload{
		CommentID:  comment.ID,
		LikesCount: state.LikesCount,
		IsLiked:    state.IsLiked,
	})
	return LikeResult{IsLiked: state.IsLiked, LikesCount: state.LikesCount}, nil
}
