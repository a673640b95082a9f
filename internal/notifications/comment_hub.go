// Package notifications provides realtime delivery of comment events over websockets.
package notifications

import (
	"context"
	"errors"
	"sync"

	"campus/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	defaultMaxConnsPerUser = 12
	defaultMaxTotalConns   = 10000
)

var (
	ErrUserConnLimit   = errors.New("user connection limit reached")
	ErrServerConnLimit = errors.New("server connection limit reached")
	ErrHubClosed       = errors.New("hub is shutting down")
)

// HubLimits caps websocket connections. Zero values use the defaults.
type HubLimits struct {
	MaxConnsPerUser int
	MaxTotalConns   int
}

// CommentHub routes comment events to the websocket clients subscribed to each room.
// A client may be subscribed to any number of rooms.
type CommentHub struct {
	mu sync.RWMutex

	// room -> subscribed clients
	rooms map[string]map[*Client]struct{}

	// client -> rooms it joined, for cleanup on disconnect
	clientRooms map[*Client]map[string]struct{}

	// userID -> live clients (multi-device)
	userConns map[uint]map[*Client]struct{}

	totalConns int
	limits     HubLimits
	closed     bool
	log        *observability.WSLogger
}

// NewCommentHub creates an empty hub.
func NewCommentHub(limits HubLimits) *CommentHub {
	if limits.MaxConnsPerUser <= 0 {
		limits.MaxConnsPerUser = defaultMaxConnsPerUser
	}
	if limits.MaxTotalConns <= 0 {
		limits.MaxTotalConns = defaultMaxTotalConns
	}
	h := &CommentHub{
		rooms:       make(map[string]map[*Client]struct{}),
		clientRooms: make(map[*Client]map[string]struct{}),
		userConns:   make(map[uint]map[*Client]struct{}),
		limits:      limits,
	}
	h.log = observability.NewWSLogger(h.Name())
	return h
}

// Name returns a human-readable identifier for this hub.
func (h *CommentHub) Name() string { return "comment hub" }

// Register adds a connection for userID, enforcing per-user and server-wide limits.
func (h *CommentHub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if h.totalConns >= h.limits.MaxTotalConns {
		return nil, ErrServerConnLimit
	}
	conns := h.userConns[userID]
	if len(conns) >= h.limits.MaxConnsPerUser {
		return nil, ErrUserConnLimit
	}
	if conns == nil {
		conns = make(map[*Client]struct{})
		h.userConns[userID] = conns
	}

	client := NewClient(h, conn, userID)
	conns[client] = struct{}{}
	h.totalConns++
	observability.WebSocketConnectionsTotal.Inc()
	h.log.LogConnect(context.Background(), userID)
	return client, nil
}

// UnregisterClient removes the client and all of its room subscriptions. Safe to call twice.
func (h *CommentHub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.userConns[client.UserID]
	if !ok {
		return
	}
	if _, exists := conns[client]; !exists {
		return
	}
	delete(conns, client)
	if len(conns) == 0 {
		delete(h.userConns, client.UserID)
	}
	h.totalConns--
	observability.WebSocketConnectionsTotal.Dec()

	for room := range h.clientRooms[client] {
		h.leaveLocked(client, room)
	}
	delete(h.clientRooms, client)
	client.closeSend(nil)
	h.log.LogDisconnect(context.Background(), client.UserID, "unregistered")
}

// Subscribe adds client to room. It reports false when the client already was a member
// or is no longer registered.
func (h *CommentHub) Subscribe(client *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.userConns[client.UserID][client]; !ok {
		return false
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	if _, ok := members[client]; ok {
		return false
	}
	members[client] = struct{}{}

	joined := h.clientRooms[client]
	if joined == nil {
		joined = make(map[string]struct{})
		h.clientRooms[client] = joined
	}
	joined[room] = struct{}{}

	observability.RoomSubscriptions.Inc()
	h.log.LogSubscription(context.Background(), client.UserID, room, true)
	return true
}

// Unsubscribe removes client from room.
func (h *CommentHub) Unsubscribe(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.leaveLocked(client, room) {
		delete(h.clientRooms[client], room)
		if len(h.clientRooms[client]) == 0 {
			delete(h.clientRooms, client)
		}
	}
}

func (h *CommentHub) leaveLocked(client *Client, room string) bool {
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[client]; !ok {
		return false
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	observability.RoomSubscriptions.Dec()
	h.log.LogSubscription(context.Background(), client.UserID, room, false)
	return true
}

// BroadcastToRoom delivers data to every client in room and returns how many accepted it.
func (h *CommentHub) BroadcastToRoom(room string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.rooms[room] {
		if c.TrySend(data) {
			delivered++
		}
	}
	return delivered
}

// SendToUser delivers data to every connection of userID on this instance.
func (h *CommentHub) SendToUser(userID uint, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.userConns[userID] {
		if c.TrySend(data) {
			delivered++
		}
	}
	return delivered
}

// RoomSize returns the number of clients subscribed to room.
func (h *CommentHub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// StartWiring connects the Notifier to this hub: frames published to comment rooms and user
// channels on any instance are delivered to the matching local clients.
func (h *CommentHub) StartWiring(ctx context.Context, n *Notifier) error {
	if err := n.StartRoomSubscriber(ctx, func(room, payload string) {
		h.BroadcastToRoom(room, []byte(payload))
	}); err != nil {
		return err
	}
	return n.StartUserSubscriber(ctx, func(userID uint, payload string) {
		h.SendToUser(userID, []byte(payload))
	})
}

// Shutdown closes every client's send queue, so each WritePump sends a going-away close
// frame, and forgets all clients.
func (h *CommentHub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	for _, conns := range h.userConns {
		for client := range conns {
			client.closeSend(shutdownFrame)
		}
	}

	observability.WebSocketConnectionsTotal.Sub(float64(h.totalConns))
	subscriptions := 0
	for _, members := range h.rooms {
		subscriptions += len(members)
	}
	observability.RoomSubscriptions.Sub(float64(subscriptions))

	h.rooms = make(map[string]map[*Client]struct{})
	h.clientRooms = make(map[*Client]map[string]struct{})
	h.userConns = make(map[uint]map[*Client]struct{})
	h.totalConns = 0
	return nil
}
