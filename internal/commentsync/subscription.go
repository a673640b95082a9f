package commentsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// ErrClosed is reported by a Subscription closed with Close.
var ErrClosed = errors.New("subscription closed")

// SubscribeError is a subscribe request refused by the server.
type SubscribeError struct {
	Room    string
	Message string
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe %s: %s", e.Room, e.Message)
}

// SubscriptionOption configures a Subscription.
type SubscriptionOption func(*Subscription)

// OnEvent registers fn to observe every decoded frame after it was routed to its thread.
// fn runs on the read goroutine.
func OnEvent(fn func(Event)) SubscriptionOption {
	return func(s *Subscription) { s.onEvent = fn }
}

type pendingSubscribe struct {
	thread *Thread
	prev   *Thread
	ack    chan Event
}

// Subscription is one websocket connection to the comment hub. Events are routed to the
// Thread subscribed to their room. After a disconnect Done is closed and Err reports the
// cause; callers resync their threads with Load on a new Subscription.
type Subscription struct {
	conn    *websocket.Conn
	onEvent func(Event)

	writeMu sync.Mutex

	mu      sync.Mutex
	threads map[string]*Thread
	pending map[string]pendingSubscribe
	closed  bool
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the comments socket at url. A non-empty token is sent as a bearer
// header; a ticket can be passed in the url instead.
func Dial(ctx context.Context, url, token string, opts ...SubscriptionOption) (*Subscription, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("dial comments socket: %w", err)
	}

	s := &Subscription{
		conn:    conn,
		threads: make(map[string]*Thread),
		pending: make(map[string]pendingSubscribe),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.readLoop()
	return s, nil
}

// Subscribe joins the room of t and waits for the server to acknowledge it.
func (s *Subscription) Subscribe(ctx context.Context, t *Thread) error {
	key := t.Key()
	room := key.Room()
	ack := make(chan Event, 1)

	// The server joins the room before it acks, so events can precede the ack.
	s.mu.Lock()
	s.pending[room] = pendingSubscribe{thread: t, prev: s.threads[room], ack: ack}
	s.threads[room] = t
	s.mu.Unlock()

	err := s.write(map[string]any{
		"type":       "subscribe",
		"entityType": key.EntityType,
		"entityId":   key.EntityID,
	})
	if err != nil {
		s.dropPending(room)
		return err
	}

	select {
	case ev := <-ack:
		if ev.Type == "error" {
			return &SubscribeError{Room: room, Message: ev.Message}
		}
		return nil
	case <-ctx.Done():
		s.dropPending(room)
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

// Unsubscribe leaves the room of t. Events already in flight are dropped.
func (s *Subscription) Unsubscribe(t *Thread) error {
	key := t.Key()
	s.mu.Lock()
	delete(s.threads, key.Room())
	s.mu.Unlock()

	return s.write(map[string]any{
		"type":       "unsubscribe",
		"entityType": key.EntityType,
		"entityId":   key.EntityID,
	})
}

// Done is closed when the connection ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns why the connection ended, or nil while it is open.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the connection.
func (s *Subscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	_ = s.conn.Close()
	<-s.done
	return nil
}

func (s *Subscription) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *Subscription) dropPending(room string) {
	s.mu.Lock()
	if p, ok := s.pending[room]; ok {
		delete(s.pending, room)
		s.restoreLocked(room, p)
	}
	s.mu.Unlock()
}

// restoreLocked undoes the routing added for a subscribe request that did not succeed.
func (s *Subscription) restoreLocked(room string, p pendingSubscribe) {
	if s.threads[room] != p.thread {
		return
	}
	if p.prev != nil {
		s.threads[room] = p.prev
		return
	}
	delete(s.threads, room)
}

func (s *Subscription) readLoop() {
	defer s.closeOnce.Do(func() {
		_ = s.conn.Close()
		close(s.done)
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if s.closed {
				s.err = ErrClosed
			} else {
				s.err = fmt.Errorf("comments socket disconnected: %w", err)
			}
			s.mu.Unlock()
			return
		}

		ev, err := DecodeEvent(frame)
		if err != nil {
			continue
		}
		s.route(ev)
		if s.onEvent != nil {
			s.onEvent(ev)
		}
	}
}

func (s *Subscription) route(ev Event) {
	s.mu.Lock()
	switch ev.Type {
	case "subscribed", "error":
		p, ok := s.pending[ev.Room]
		if !ok {
			s.mu.Unlock()
			return
		}
		delete(s.pending, ev.Room)
		if ev.Type == "error" {
			s.restoreLocked(ev.Room, p)
		}
		s.mu.Unlock()
		p.ack <- ev
		return
	}
	thread := s.threads[ev.Room]
	s.mu.Unlock()

	if thread != nil {
		thread.Apply(ev)
	}
}
