package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"campus/internal/cache"
	"campus/internal/middleware"
	"campus/internal/models"
	"campus/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const subscribeCheckTimeout = 5 * time.Second

// IssueWSTicket mints a short-lived single-use ticket for the websocket upgrade.
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	if s.redis == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			&models.AppError{Code: models.CodeInternal, Message: "Websocket tickets are unavailable"})
	}

	userID, role := currentUser(c)
	ticket := uuid.NewString()
	ttl := s.config.WSTicketTTL()
	value := fmt.Sprintf("%d:%s", userID, role)
	if err := s.redis.Set(c.UserContext(), cache.WSTicketKey(ticket), value, ttl).Err(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to store websocket ticket",
			slog.String("error", err.Error()))
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}

	return c.JSON(fiber.Map{
		"ticket":     ticket,
		"expires_in": int(ttl.Seconds()),
	})
}

// wsCommand is a frame sent by a client on the comments socket.
type wsCommand struct {
	Type       string `json:"type"`
	EntityType string `json:"entityType"`
	EntityID   uint   `json:"entityId"`
}

type wsErrorPayload struct {
	Message string `json:"message"`
}

func wsReply(frameType, room string, payload any) []byte {
	if payload == nil {
		frame, _ := json.Marshal(models.RealtimeEnvelope{Type: frameType, Room: room})
		return frame
	}
	frame, err := notifications.EncodeEnvelope(frameType, room, payload)
	if err != nil {
		return []byte(`{"type":"error","payload":{"message":"internal error"}}`)
	}
	return frame
}

func wsError(message string) []byte {
	return wsReply("error", "", wsErrorPayload{Message: message})
}

// CommentsWebSocketHandler upgrades the connection and serves the room subscription protocol.
func (s *Server) CommentsWebSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, ok := conn.Locals("userID").(uint)
		if !ok || userID == 0 {
			_ = conn.WriteMessage(websocket.TextMessage, wsError("unauthorized"))
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			middleware.Logger.Warn("websocket registration rejected",
				slog.Uint64("user_id", uint64(userID)),
				slog.String("error", err.Error()),
			)
			_ = conn.WriteMessage(websocket.TextMessage, wsError(err.Error()))
			_ = conn.Close()
			return
		}

		client.IncomingHandler = func(c *notifications.Client, message []byte) {
			s.handleCommentCommand(s.shutdownCtx, c, message)
		}

		go client.WritePump()
		client.ReadPump()
	})
}

// handleCommentCommand processes one subscribe/unsubscribe frame. Replies are queued on
// the client's send buffer.
func (s *Server) handleCommentCommand(ctx context.Context, client *notifications.Client, message []byte) {
	var cmd wsCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		client.TrySend(wsError("invalid message"))
		return
	}

	switch cmd.Type {
	case "subscribe", "unsubscribe":
	case "ping":
		client.TrySend(wsReply("pong", "", nil))
		return
	default:
		client.TrySend(wsError("unknown message type"))
		return
	}

	entityType, ok := models.ParseEntityType(cmd.EntityType)
	if !ok || cmd.EntityID == 0 {
		client.TrySend(wsError("invalid entity"))
		return
	}
	room := models.RoomKey(entityType, cmd.EntityID)

	if cmd.Type == "unsubscribe" {
		s.hub.Unsubscribe(client, room)
		client.TrySend(wsReply("unsubscribed", room, nil))
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, subscribeCheckTimeout)
	defer cancel()
	allowed, err := s.accessGuard.CanAccessComments(checkCtx, client.UserID, entityType, cmd.EntityID)
	if err != nil {
		middleware.Logger.ErrorContext(checkCtx, "subscribe access check failed",
			slog.Uint64("user_id", uint64(client.UserID)),
			slog.String("room", room),
			slog.String("error", err.Error()),
		)
		allowed = false
	}
	if !allowed {
		client.TrySend(wsReply("error", room, wsErrorPayload{Message: "You do not have access to this discussion"}))
		return
	}

	s.hub.Subscribe(client, room)
	client.TrySend(wsReply("subscribed", room, nil))
}
