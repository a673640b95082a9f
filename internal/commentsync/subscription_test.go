package commentsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"campus/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHub accepts subscriptions for lesson 7 only and lets the test push frames.
type fakeHub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
	ready chan *websocket.Conn

	// beforeAck runs after an accepted subscribe and before its ack is written.
	beforeAck func(conn *websocket.Conn, room string)
}

func newFakeHub(t *testing.T) (*fakeHub, string) {
	t.Helper()
	hub := &fakeHub{ready: make(chan *websocket.Conn, 1)}
	srv := httptest.NewServer(http.HandlerFunc(hub.serve))
	t.Cleanup(func() {
		hub.mu.Lock()
		for _, c := range hub.conns {
			_ = c.Close()
		}
		hub.mu.Unlock()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/comments"
}

func (h *fakeHub) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer good" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.mu.Unlock()

	for {
		var cmd struct {
			Type       string `json:"type"`
			EntityType string `json:"entityType"`
			EntityID   uint   `json:"entityId"`
		}
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		room := models.RoomKey(models.EntityType(cmd.EntityType), cmd.EntityID)
		switch {
		case cmd.Type == "subscribe" && room == lesson.Room():
			h.mu.Lock()
			beforeAck := h.beforeAck
			h.mu.Unlock()
			if beforeAck != nil {
				beforeAck(conn, room)
			}
			_ = conn.WriteJSON(models.RealtimeEnvelope{Type: "subscribed", Room: room})
			h.ready <- conn
		case cmd.Type == "subscribe":
			_ = conn.WriteJSON(models.RealtimeEnvelope{
				Type:    "error",
				Room:    room,
				Payload: json.RawMessage(`{"message":"You do not have access to this discussion"}`),
			})
		case cmd.Type == "unsubscribe":
			_ = conn.WriteJSON(models.RealtimeEnvelope{Type: "unsubscribed", Room: room})
		}
	}
}

func push(t *testing.T, conn *websocket.Conn, event, room string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.RealtimeEnvelope{Type: event, Room: room, Payload: raw}))
}

func TestSubscription_EndToEnd(t *testing.T) {
	hub, url := newFakeHub(t)
	thread, _, _ := loadedThread(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu      sync.Mutex
		replies []Event
	)
	sub, err := Dial(ctx, url, "good", OnEvent(func(ev Event) {
		if ev.Type == models.EventCommentReply {
			mu.Lock()
			replies = append(replies, ev)
			mu.Unlock()
		}
	}))
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.NoError(t, sub.Subscribe(ctx, thread))
	conn := <-hub.ready

	push(t, conn, models.EventCommentCreated, lesson.Room(), top("c9", "from another tab"))
	push(t, conn, models.EventCommentLiked, lesson.Room(), models.LikeEventPayload{CommentID: "c1", LikesCount: 2})
	push(t, conn, models.EventCommentDeleted, lesson.Room(), "r1")
	push(t, conn, models.EventCommentCreated, "comments:course:1", top("elsewhere", "x"))
	push(t, conn, models.EventCommentReply, "", models.ReplyEventPayload{CommentID: "r5", ParentCommentID: "c1"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(replies) == 1
	}, 3*time.Second, 10*time.Millisecond)

	snap := thread.Snapshot()
	assert.Equal(t, []string{"c9", "c1", "c2"}, ids(snap))
	assert.Equal(t, 2, snap[1].LikesCount)
	assert.True(t, snap[1].Replies[0].IsDeleted)
	assert.Equal(t, 1, snap[1].RepliesCount)

	mu.Lock()
	assert.Equal(t, "c1", replies[0].ParentCommentID)
	mu.Unlock()

	require.NoError(t, sub.Unsubscribe(thread))
}

func TestSubscription_EventBeforeAckReachesThread(t *testing.T) {
	hub, url := newFakeHub(t)
	hub.mu.Lock()
	hub.beforeAck = func(conn *websocket.Conn, room string) {
		raw, _ := json.Marshal(top("early", "posted while joining"))
		_ = conn.WriteJSON(models.RealtimeEnvelope{Type: models.EventCommentCreated, Room: room, Payload: raw})
	}
	hub.mu.Unlock()

	thread, _, _ := loadedThread(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := Dial(ctx, url, "good")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.NoError(t, sub.Subscribe(ctx, thread))
	<-hub.ready
	assert.Equal(t, []string{"early", "c1", "c2"}, ids(thread.Snapshot()))
}

func TestSubscription_SubscribeRefused(t *testing.T) {
	_, url := newFakeHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := Dial(ctx, url, "good")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	course := NewThread(&mockAPI{}, ThreadKey{EntityType: models.EntityCourse, EntityID: 3})
	err = sub.Subscribe(ctx, course)

	var refused *SubscribeError
	require.ErrorAs(t, err, &refused)
	assert.Equal(t, "comments:course:3", refused.Room)
	assert.Equal(t, "You do not have access to this discussion", refused.Message)

	sub.mu.Lock()
	_, routed := sub.threads["comments:course:3"]
	sub.mu.Unlock()
	assert.False(t, routed, "a refused room gets no events")
}

func TestSubscription_DialUnauthorized(t *testing.T) {
	_, url := newFakeHub(t)

	_, err := Dial(context.Background(), url, "bad")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestSubscription_ReportsDisconnect(t *testing.T) {
	hub, url := newFakeHub(t)
	thread, _, _ := loadedThread(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := Dial(ctx, url, "good")
	require.NoError(t, err)
	require.NoError(t, sub.Subscribe(ctx, thread))
	assert.NoError(t, sub.Err())

	conn := <-hub.ready
	_ = conn.Close()

	select {
	case <-sub.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("disconnect was not reported")
	}
	require.Error(t, sub.Err())
	assert.NotErrorIs(t, sub.Err(), ErrClosed)
}

func TestSubscription_Close(t *testing.T) {
	_, url := newFakeHub(t)

	sub, err := Dial(context.Background(), url, "good")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	<-sub.Done()
	assert.ErrorIs(t, sub.Err(), ErrClosed)
}
