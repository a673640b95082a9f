package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"campus/internal/models"
	"campus/internal/observability"
)

const publishTimeout = 2 * time.Second

// EncodeEnvelope builds the frame written to subscribers.
func EncodeEnvelope(event, room string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(models.RealtimeEnvelope{Type: event, Room: room, Payload: raw})
}

// RoomBroadcaster emits comment events to rooms. With Redis it only publishes, and the
// room subscriber started by CommentHub.StartWiring delivers on every instance, this one
// included. Without Redis it delivers to the local hub directly.
type RoomBroadcaster struct {
	hub      *CommentHub
	notifier *Notifier
}

// NewRoomBroadcaster creates a broadcaster. notifier may be nil.
func NewRoomBroadcaster(hub *CommentHub, notifier *Notifier) *RoomBroadcaster {
	return &RoomBroadcaster{hub: hub, notifier: notifier}
}

// Emit never blocks on slow subscribers and never fails the caller.
func (b *RoomBroadcaster) Emit(ctx context.Context, room, event string, payload any) {
	frame, err := EncodeEnvelope(event, room, payload)
	if err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "failed to encode realtime event",
			slog.String("room", room),
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}
	observability.RealtimeEventsTotal.WithLabelValues(event).Inc()

	if b.notifier.Enabled() {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		err := b.notifier.PublishRoom(pubCtx, room, string(frame))
		if err == nil {
			return
		}
		observability.GlobalLogger.WarnContext(ctx, "redis publish failed, delivering locally",
			slog.String("room", room),
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}

	if b.hub != nil {
		b.hub.BroadcastToRoom(room, frame)
	}
}

// CommentLookup loads a comment by id.
type CommentLookup interface {
	GetByID(ctx context.Context, id string) (*models.Comment, error)
}

// ReplyDispatcher tells the author of a parent comment about a new reply on their sockets.
type ReplyDispatcher struct {
	comments CommentLookup
	hub      *CommentHub
	notifier *Notifier
}

// NewReplyDispatcher creates a dispatcher. notifier may be nil.
func NewReplyDispatcher(comments CommentLookup, hub *CommentHub, notifier *Notifier) *ReplyDispatcher {
	return &ReplyDispatcher{comments: comments, hub: hub, notifier: notifier}
}

// SendCommentReplyNotification delivers a comment:reply frame to the parent's author.
func (d *ReplyDispatcher) SendCommentReplyNotification(ctx context.Context, commentID, parentCommentID string) error {
	parent, err := d.comments.GetByID(ctx, parentCommentID)
	if err != nil {
		return fmt.Errorf("load parent comment %s: %w", parentCommentID, err)
	}

	frame, err := EncodeEnvelope(models.EventCommentReply, "", models.ReplyEventPayload{
		CommentID:       commentID,
		ParentCommentID: parentCommentID,
	})
	if err != nil {
		return err
	}

	if d.notifier.Enabled() {
		return d.notifier.PublishUser(ctx, parent.AuthorID, string(frame))
	}
	if d.hub != nil {
		d.hub.SendToUser(parent.AuthorID, frame)
	}
	return nil
}
