package notifications

import (
	"context"
	"errors"
	"sync"
	"time"

	"campus/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Subscribe frames are tiny; anything larger is a misbehaving client.
	maxMessageSize = 4096

	sendBufferSize = 256
)

var (
	dropNotice    = []byte(`{"type":"messages_dropped","payload":{"reason":"buffer_full"}}`)
	shutdownFrame = websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")
)

// WSHub is implemented by hubs that own Clients.
type WSHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client is one websocket connection of a user.
type Client struct {
	Hub WSHub

	// The websocket connection. Nil in tests that only exercise routing.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	UserID uint

	// IncomingHandler receives every text frame read from the peer.
	IncomingHandler func(*Client, []byte)

	closeOnce  sync.Once
	closeFrame []byte
}

// NewClient creates a new Client instance
func NewClient(hub WSHub, conn *websocket.Conn, userID uint) *Client {
	return &Client{
		Hub:    hub,
		Conn:   conn,
		UserID: userID,
		Send:   make(chan []byte, sendBufferSize),
	}
}

// ReadPump reads frames until the peer goes away, then unregisters the client.
func (c *Client) ReadPump() {
	wsLog := observability.NewWSLogger(c.Hub.Name())
	defer func() {
		c.Hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				wsLog.LogError(context.Background(), c.UserID, "", err, "read")
			}
			return
		}

		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump is the only writer of the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, c.closeFrame)
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// closeSend closes the send queue once. WritePump then writes frame as the close
// message and exits; later TrySend calls report false.
func (c *Client) closeSend(frame []byte) {
	c.closeOnce.Do(func() {
		c.closeFrame = frame
		close(c.Send)
	})
}

// TrySend queues message without blocking. A full buffer drops the message and queues a
// messages_dropped notice when there is room for it, so the peer knows to re-fetch.
func (c *Client) TrySend(message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "closed").Inc()
		}
	}()

	select {
	case c.Send <- message:
		return true
	default:
	}

	observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "full").Inc()
	observability.NewWSLogger(c.Hub.Name()).LogError(context.Background(), c.UserID, "", errBufferFull, "send")

	select {
	case c.Send <- dropNotice:
	default:
	}
	return false
}

var errBufferFull = errors.New("send buffer full, message dropped")
