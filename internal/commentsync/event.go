package commentsync

import (
	"encoding/json"
	"fmt"

	"campus/internal/models"
)

// Event is a decoded realtime frame for one thread.
type Event struct {
	Type string
	Room string
	// Comment is set for comment:created and comment:updated.
	Comment *models.Comment
	// CommentID is set for comment:deleted, comment:liked and comment:reply.
	CommentID string
	// LikesCount is set for comment:liked.
	LikesCount int
	// ParentCommentID is set for comment:reply.
	ParentCommentID string
	// Message is set for error frames.
	Message string
}

// DecodeEvent parses one websocket frame.
func DecodeEvent(frame []byte) (Event, error) {
	var env models.RealtimeEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	ev := Event{Type: env.Type, Room: env.Room}
	if len(env.Payload) == 0 {
		return ev, nil
	}

	var err error
	switch env.Type {
	case models.EventCommentCreated, models.EventCommentUpdated:
		ev.Comment = &models.Comment{}
		err = json.Unmarshal(env.Payload, ev.Comment)
	case models.EventCommentDeleted:
		err = json.Unmarshal(env.Payload, &ev.CommentID)
	case models.EventCommentLiked:
		var p models.LikeEventPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			ev.CommentID = p.CommentID
			ev.LikesCount = p.LikesCount
		}
	case models.EventCommentReply:
		var p models.ReplyEventPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			ev.CommentID = p.CommentID
			ev.ParentCommentID = p.ParentCommentID
		}
	case "error":
		var p struct {
			Message string `json:"message"`
		}
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			ev.Message = p.Message
		}
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return ev, nil
}
