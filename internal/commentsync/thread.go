// Package commentsync keeps a client-side copy of a comment thread consistent with the
// server's responses and the realtime events of the thread's room.
package commentsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"campus/internal/models"
)

// SuppressWindow is how long a locally deleted id ignores remote comment:deleted events.
const SuppressWindow = time.Second

var (
	// ErrUnknownComment is returned when an operation targets a comment not in the thread.
	ErrUnknownComment = errors.New("comment is not part of this thread")
	// ErrCommentDeleted is returned when an operation targets a comment already deleted locally.
	ErrCommentDeleted = errors.New("comment has already been deleted")
)

// Option configures a Thread.
type Option func(*Thread)

// WithPageSize sets the page size requested from the server.
func WithPageSize(limit int) Option {
	return func(t *Thread) { t.limit = limit }
}

// WithSort sets the sort order requested from the server.
func WithSort(sort string) Option {
	return func(t *Thread) { t.sort = sort }
}

// WithClock replaces the wall clock used for the suppression window.
func WithClock(now func() time.Time) Option {
	return func(t *Thread) { t.now = now }
}

// Thread is the view model of one thread. It is safe for concurrent use; the lock is never
// held across a network call.
type Thread struct {
	api   API
	key   ThreadKey
	limit int
	sort  string
	now   func() time.Time

	mu              sync.Mutex
	comments        []*models.Comment
	totalCount      int64
	page            int
	hasMore         bool
	recentlyDeleted map[string]time.Time
}

// NewThread creates an empty view model for key. Call Load to populate it.
func NewThread(api API, key ThreadKey, opts ...Option) *Thread {
	t := &Thread{
		api:             api,
		key:             key,
		limit:           20,
		now:             time.Now,
		recentlyDeleted: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Key returns the thread key.
func (t *Thread) Key() ThreadKey { return t.key }

// Load fetches the first page and replaces the local state.
func (t *Thread) Load(ctx context.Context) error {
	page, err := t.api.List(ctx, t.key, PageQuery{Page: 1, Limit: t.limit, Sort: t.sort})
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.comments = append([]*models.Comment(nil), page.Comments...)
	t.totalCount = page.TotalCount
	t.page = 1
	t.hasMore = page.Pagination.HasMore
	return nil
}

// LoadMore appends the next page of top-level comments. It is a no-op when the server
// reported no further pages. Pages are assumed disjoint.
func (t *Thread) LoadMore(ctx context.Context) error {
	t.mu.Lock()
	next, more := t.page+1, t.hasMore
	t.mu.Unlock()
	if !more {
		return nil
	}

	page, err := t.api.List(ctx, t.key, PageQuery{Page: next, Limit: t.limit, Sort: t.sort})
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.comments = append(t.comments, page.Comments...)
	t.totalCount = page.TotalCount
	t.page = next
	t.hasMore = page.Pagination.HasMore
	return nil
}

// HasMore reports whether another page is available.
func (t *Thread) HasMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasMore
}

// TotalCount returns the number of top-level comments the server last reported.
func (t *Thread) TotalCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCount
}

// Create posts a comment and splices the server's copy into the thread.
func (t *Thread) Create(ctx context.Context, content string, parentID *string) (*models.Comment, error) {
	created, err := t.api.Create(ctx, t.key, content, parentID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.splice(created.Clone())
	return created, nil
}

// Update edits a comment and replaces the local copy with the server's.
func (t *Thread) Update(ctx context.Context, commentID, content string) (*models.Comment, error) {
	updated, err := t.api.Update(ctx, commentID, content)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.replace(updated)
	return updated, nil
}

// Delete soft-deletes a comment. Comments unknown to the thread or already deleted fail
// without contacting the server.
func (t *Thread) Delete(ctx context.Context, commentID string) error {
	t.mu.Lock()
	err := t.checkTarget(commentID)
	t.mu.Unlock()
	if err != nil {
		return err
	}

	if err := t.api.Delete(ctx, commentID); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for id, at := range t.recentlyDeleted {
		if now.Sub(at) >= SuppressWindow {
			delete(t.recentlyDeleted, id)
		}
	}
	t.recentlyDeleted[commentID] = now
	t.markDeleted(commentID)
	return nil
}

// ToggleLike likes or unlikes a comment and patches the local copy.
func (t *Thread) ToggleLike(ctx context.Context, commentID string) (LikeState, error) {
	t.mu.Lock()
	err := t.checkTarget(commentID)
	t.mu.Unlock()
	if err != nil {
		return LikeState{}, err
	}

	state, err := t.api.ToggleLike(ctx, commentID)
	if err != nil {
		return LikeState{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.each(commentID, func(c *models.Comment) {
		c.LikesCount = state.LikesCount
		c.IsLikedByCurrentUser = state.IsLiked
	})
	return state, nil
}

// Apply folds a remote event into the thread. It reports whether the state changed.
// Events for other rooms are ignored.
func (t *Thread) Apply(ev Event) bool {
	if ev.Room != "" && ev.Room != t.key.Room() {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case models.EventCommentCreated:
		if ev.Comment == nil {
			return false
		}
		return t.splice(ev.Comment.Clone())
	case models.EventCommentUpdated:
		if ev.Comment == nil {
			return false
		}
		return t.replace(ev.Comment)
	case models.EventCommentDeleted:
		if at, ok := t.recentlyDeleted[ev.CommentID]; ok && t.now().Sub(at) < SuppressWindow {
			return false
		}
		return t.markDeleted(ev.CommentID)
	case models.EventCommentLiked:
		return t.each(ev.CommentID, func(c *models.Comment) {
			c.LikesCount = ev.LikesCount
		})
	}
	return false
}

// Snapshot returns a deep copy of the top-level comments with deleted content redacted.
func (t *Thread) Snapshot() []*models.Comment {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*models.Comment, len(t.comments))
	for i, c := range t.comments {
		out[i] = c.Clone().Redacted()
	}
	return out
}

func (t *Thread) checkTarget(commentID string) error {
	c, _ := t.find(commentID)
	if c == nil {
		return ErrUnknownComment
	}
	if c.IsDeleted {
		return ErrCommentDeleted
	}
	return nil
}

// find returns the comment with id and, for replies, its top-level parent.
func (t *Thread) find(id string) (comment, parent *models.Comment) {
	for _, top := range t.comments {
		if top.ID == id {
			return top, nil
		}
		for _, reply := range top.Replies {
			if reply.ID == id {
				return reply, top
			}
		}
	}
	return nil, nil
}

func (t *Thread) each(id string, fn func(*models.Comment)) bool {
	found := false
	for _, top := range t.comments {
		if top.ID == id {
			fn(top)
			found = true
		}
		for _, reply := range top.Replies {
			if reply.ID == id {
				fn(reply)
				found = true
			}
		}
	}
	return found
}

// splice inserts c unless its id is already present. Top-level comments are prepended;
// replies are appended to their parent when the parent is loaded.
func (t *Thread) splice(c *models.Comment) bool {
	if existing, _ := t.find(c.ID); existing != nil {
		return false
	}
	if !c.IsReply() {
		t.comments = append([]*models.Comment{c}, t.comments...)
		t.totalCount++
		return true
	}

	for _, top := range t.comments {
		if top.ID == *c.ParentID {
			top.Replies = append(top.Replies, c)
			top.RepliesCount++
			return true
		}
	}
	return false
}

// replace swaps in c wherever its id appears. The local replies of a top-level comment and
// the viewer's own like flag are kept.
func (t *Thread) replace(c *models.Comment) bool {
	found := false
	for i, top := range t.comments {
		if top.ID == c.ID {
			next := c.Clone()
			next.Replies = top.Replies
			next.IsLikedByCurrentUser = top.IsLikedByCurrentUser
			t.comments[i] = next
			found = true
			continue
		}
		for j, reply := range top.Replies {
			if reply.ID == c.ID {
				next := c.Clone()
				next.Replies = nil
				next.IsLikedByCurrentUser = reply.IsLikedByCurrentUser
				top.Replies[j] = next
				found = true
			}
		}
	}
	return found
}

// markDeleted flags the comment as deleted. The parent's reply count drops only on the
// first transition.
func (t *Thread) markDeleted(id string) bool {
	c, parent := t.find(id)
	if c == nil || c.IsDeleted {
		return false
	}
	now := t.now().UTC()
	c.IsDeleted = true
	c.DeletedAt = &now
	c.Content = models.DeletedCommentPlaceholder
	if parent != nil && parent.RepliesCount > 0 {
		parent.RepliesCount--
	}
	return true
}
