package commentsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"campus/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) List(ctx context.Context, key ThreadKey, query PageQuery) (*Page, error) {
	args := m.Called(ctx, key, query)
	page, _ := args.Get(0).(*Page)
	return page, args.Error(1)
}

func (m *mockAPI) Create(ctx context.Context, key ThreadKey, content string, parentID *string) (*models.Comment, error) {
	args := m.Called(ctx, key, content, parentID)
	c, _ := args.Get(0).(*models.Comment)
	return c, args.Error(1)
}

func (m *mockAPI) Update(ctx context.Context, commentID, content string) (*models.Comment, error) {
	args := m.Called(ctx, commentID, content)
	c, _ := args.Get(0).(*models.Comment)
	return c, args.Error(1)
}

func (m *mockAPI) Delete(ctx context.Context, commentID string) error {
	return m.Called(ctx, commentID).Error(0)
}

func (m *mockAPI) ToggleLike(ctx context.Context, commentID string) (LikeState, error) {
	args := m.Called(ctx, commentID)
	return args.Get(0).(LikeState), args.Error(1)
}

var lesson = ThreadKey{EntityType: models.EntityLesson, EntityID: 7}

func strPtr(s string) *string { return &s }

func top(id, content string, replies ...*models.Comment) *models.Comment {
	return &models.Comment{
		ID:           id,
		EntityType:   lesson.EntityType,
		EntityID:     lesson.EntityID,
		Content:      content,
		RepliesCount: len(replies),
		Replies:      replies,
	}
}

func reply(id, parentID, content string) *models.Comment {
	return &models.Comment{
		ID:         id,
		EntityType: lesson.EntityType,
		EntityID:   lesson.EntityID,
		Content:    content,
		ParentID:   strPtr(parentID),
	}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// loadedThread returns a thread loaded with c1 (replies r1, r2) and c2.
func loadedThread(t *testing.T) (*Thread, *mockAPI, *fakeClock) {
	t.Helper()
	api := &mockAPI{}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	page := &Page{
		Comments: []*models.Comment{
			top("c1", "first", reply("r1", "c1", "reply one"), reply("r2", "c1", "reply two")),
			top("c2", "second"),
		},
		TotalCount: 2,
		Pagination: Pagination{Page: 1, Limit: 20, TotalCount: 2, TotalPages: 1},
	}
	api.On("List", mock.Anything, lesson, PageQuery{Page: 1, Limit: 20}).Return(page, nil).Once()

	thread := NewThread(api, lesson, WithClock(clock.Now))
	require.NoError(t, thread.Load(context.Background()))
	return thread, api, clock
}

func ids(comments []*models.Comment) []string {
	out := make([]string, 0, len(comments))
	for _, c := range comments {
		out = append(out, c.ID)
	}
	return out
}

func TestThread_LoadAndLoadMore(t *testing.T) {
	api := &mockAPI{}
	api.On("List", mock.Anything, lesson, PageQuery{Page: 1, Limit: 2, Sort: "oldest"}).Return(&Page{
		Comments:   []*models.Comment{top("a", "a"), top("b", "b")},
		TotalCount: 3,
		Pagination: Pagination{Page: 1, Limit: 2, TotalCount: 3, TotalPages: 2, HasMore: true},
	}, nil).Once()
	api.On("List", mock.Anything, lesson, PageQuery{Page: 2, Limit: 2, Sort: "oldest"}).Return(&Page{
		Comments:   []*models.Comment{top("c", "c")},
		TotalCount: 3,
		Pagination: Pagination{Page: 2, Limit: 2, TotalCount: 3, TotalPages: 2},
	}, nil).Once()

	thread := NewThread(api, lesson, WithPageSize(2), WithSort("oldest"))
	ctx := context.Background()

	require.NoError(t, thread.Load(ctx))
	assert.Equal(t, []string{"a", "b"}, ids(thread.Snapshot()))
	assert.True(t, thread.HasMore())

	require.NoError(t, thread.LoadMore(ctx))
	assert.Equal(t, []string{"a", "b", "c"}, ids(thread.Snapshot()))
	assert.False(t, thread.HasMore())
	assert.Equal(t, int64(3), thread.TotalCount())

	// No further page: no request is made.
	require.NoError(t, thread.LoadMore(ctx))
	api.AssertExpectations(t)
}

func TestThread_CreateSplices(t *testing.T) {
	thread, api, _ := loadedThread(t)
	ctx := context.Background()

	api.On("Create", mock.Anything, lesson, "new top", (*string)(nil)).Return(top("c3", "new top"), nil).Once()
	created, err := thread.Create(ctx, "new top", nil)
	require.NoError(t, err)
	assert.Equal(t, "c3", created.ID)
	assert.Equal(t, []string{"c3", "c1", "c2"}, ids(thread.Snapshot()))
	assert.Equal(t, int64(3), thread.TotalCount())

	parent := strPtr("c2")
	api.On("Create", mock.Anything, lesson, "answer", parent).Return(reply("r3", "c2", "answer"), nil).Once()
	_, err = thread.Create(ctx, "answer", parent)
	require.NoError(t, err)

	snap := thread.Snapshot()
	require.Len(t, snap[2].Replies, 1)
	assert.Equal(t, "r3", snap[2].Replies[0].ID)
	assert.Equal(t, 1, snap[2].RepliesCount)

	// The echo of our own reply over the socket is deduplicated by id.
	changed := thread.Apply(Event{Type: models.EventCommentCreated, Room: lesson.Room(), Comment: reply("r3", "c2", "answer")})
	assert.False(t, changed)
	assert.Equal(t, 1, thread.Snapshot()[2].RepliesCount)

	// A remote reply appends at the end of the parent's replies.
	assert.True(t, thread.Apply(Event{Type: models.EventCommentCreated, Room: lesson.Room(), Comment: reply("r4", "c1", "remote")}))
	assert.Equal(t, []string{"r1", "r2", "r4"}, ids(thread.Snapshot()[1].Replies))
	assert.Equal(t, 3, thread.Snapshot()[1].RepliesCount)
	api.AssertExpectations(t)
}

func TestThread_UpdateKeepsReplies(t *testing.T) {
	thread, api, _ := loadedThread(t)

	edited := top("c1", "first (edited)")
	edited.IsEdited = true
	edited.RepliesCount = 2
	api.On("Update", mock.Anything, "c1", "first (edited)").Return(edited, nil).Once()

	_, err := thread.Update(context.Background(), "c1", "first (edited)")
	require.NoError(t, err)

	c1 := thread.Snapshot()[0]
	assert.Equal(t, "first (edited)", c1.Content)
	assert.True(t, c1.IsEdited)
	assert.Equal(t, []string{"r1", "r2"}, ids(c1.Replies))

	remote := reply("r2", "c1", "reply two (edited)")
	remote.IsEdited = true
	assert.True(t, thread.Apply(Event{Type: models.EventCommentUpdated, Comment: remote}))
	assert.Equal(t, "reply two (edited)", thread.Snapshot()[0].Replies[1].Content)
	api.AssertExpectations(t)
}

func TestThread_DeleteAndSuppression(t *testing.T) {
	thread, api, clock := loadedThread(t)
	ctx := context.Background()

	t.Run("unknown comment fails without a request", func(t *testing.T) {
		assert.ErrorIs(t, thread.Delete(ctx, "missing"), ErrUnknownComment)
		api.AssertNotCalled(t, "Delete", mock.Anything, "missing")
	})

	api.On("Delete", mock.Anything, "r1").Return(nil).Once()
	require.NoError(t, thread.Delete(ctx, "r1"))

	c1 := thread.Snapshot()[0]
	assert.True(t, c1.Replies[0].IsDeleted)
	assert.Equal(t, models.DeletedCommentPlaceholder, c1.Replies[0].Content)
	assert.Equal(t, 1, c1.RepliesCount)

	t.Run("echo inside the window is ignored", func(t *testing.T) {
		clock.Advance(500 * time.Millisecond)
		assert.False(t, thread.Apply(Event{Type: models.EventCommentDeleted, CommentID: "r1"}))
		assert.Equal(t, 1, thread.Snapshot()[0].RepliesCount)
	})

	t.Run("late echo does not decrement again", func(t *testing.T) {
		clock.Advance(time.Second)
		assert.False(t, thread.Apply(Event{Type: models.EventCommentDeleted, CommentID: "r1"}))
		assert.Equal(t, 1, thread.Snapshot()[0].RepliesCount)
	})

	t.Run("already deleted fails without a request", func(t *testing.T) {
		assert.ErrorIs(t, thread.Delete(ctx, "r1"), ErrCommentDeleted)
	})

	t.Run("remote delete decrements with a floor of zero", func(t *testing.T) {
		assert.True(t, thread.Apply(Event{Type: models.EventCommentDeleted, CommentID: "r2"}))
		assert.Equal(t, 0, thread.Snapshot()[0].RepliesCount)
	})

	t.Run("deleted comments cannot be liked", func(t *testing.T) {
		_, err := thread.ToggleLike(ctx, "r2")
		assert.ErrorIs(t, err, ErrCommentDeleted)
	})

	api.AssertExpectations(t)
}

func TestThread_ToggleLikeAndRemoteLike(t *testing.T) {
	thread, api, _ := loadedThread(t)

	api.On("ToggleLike", mock.Anything, "c2").Return(LikeState{IsLiked: true, LikesCount: 4}, nil).Once()
	state, err := thread.ToggleLike(context.Background(), "c2")
	require.NoError(t, err)
	assert.Equal(t, LikeState{IsLiked: true, LikesCount: 4}, state)

	c2 := thread.Snapshot()[1]
	assert.Equal(t, 4, c2.LikesCount)
	assert.True(t, c2.IsLikedByCurrentUser)

	// Remote likes carry another user's state; only the counter changes.
	assert.True(t, thread.Apply(Event{Type: models.EventCommentLiked, CommentID: "c2", LikesCount: 5}))
	c2 = thread.Snapshot()[1]
	assert.Equal(t, 5, c2.LikesCount)
	assert.True(t, c2.IsLikedByCurrentUser)
	api.AssertExpectations(t)
}

func TestThread_RemoteUpdateKeepsViewerLike(t *testing.T) {
	thread, api, _ := loadedThread(t)

	api.On("ToggleLike", mock.Anything, "c2").Return(LikeState{IsLiked: true, LikesCount: 1}, nil).Once()
	_, err := thread.ToggleLike(context.Background(), "c2")
	require.NoError(t, err)

	remote := top("c2", "second (edited)")
	remote.IsEdited = true
	remote.LikesCount = 1
	require.True(t, thread.Apply(Event{Type: models.EventCommentUpdated, Comment: remote}))

	c2 := thread.Snapshot()[1]
	assert.Equal(t, "second (edited)", c2.Content)
	assert.True(t, c2.IsLikedByCurrentUser, "an edit by someone else keeps this viewer's like")

	liked := reply("r1", "c1", "reply one")
	liked.IsLikedByCurrentUser = true
	require.True(t, thread.Apply(Event{Type: models.EventCommentUpdated, Comment: liked}))
	assert.False(t, thread.Snapshot()[0].Replies[0].IsLikedByCurrentUser)
	api.AssertExpectations(t)
}

func TestThread_NetworkFailureLeavesStateUntouched(t *testing.T) {
	thread, api, _ := loadedThread(t)
	ctx := context.Background()
	before := thread.Snapshot()
	boom := errors.New("connection refused")

	api.On("Create", mock.Anything, lesson, "x", (*string)(nil)).Return(nil, boom).Once()
	api.On("Update", mock.Anything, "c1", "x").Return(nil, boom).Once()
	api.On("Delete", mock.Anything, "r1").Return(boom).Once()
	api.On("ToggleLike", mock.Anything, "c2").Return(LikeState{}, boom).Once()
	api.On("List", mock.Anything, lesson, PageQuery{Page: 1, Limit: 20}).Return(nil, boom).Once()

	_, err := thread.Create(ctx, "x", nil)
	assert.ErrorIs(t, err, boom)
	_, err = thread.Update(ctx, "c1", "x")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, thread.Delete(ctx, "r1"), boom)
	_, err = thread.ToggleLike(ctx, "c2")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, thread.Load(ctx), boom)

	assert.Equal(t, before, thread.Snapshot())
	api.AssertExpectations(t)
}

func TestThread_ApplyIgnoresOtherRooms(t *testing.T) {
	thread, _, _ := loadedThread(t)
	other := ThreadKey{EntityType: models.EntityCourse, EntityID: 7}.Room()

	assert.False(t, thread.Apply(Event{Type: models.EventCommentCreated, Room: other, Comment: top("x", "x")}))
	assert.False(t, thread.Apply(Event{Type: models.EventCommentDeleted, Room: other, CommentID: "c1"}))
	assert.False(t, thread.Apply(Event{Type: models.EventCommentReply, Room: lesson.Room(), CommentID: "c1"}))
	assert.Len(t, thread.Snapshot(), 2)
}

func TestThread_SnapshotIsDeepCopy(t *testing.T) {
	thread, _, _ := loadedThread(t)

	snap := thread.Snapshot()
	snap[0].Content = "mutated"
	snap[0].Replies[0].Content = "mutated"

	fresh := thread.Snapshot()
	assert.Equal(t, "first", fresh[0].Content)
	assert.Equal(t, "reply one", fresh[0].Replies[0].Content)
}
