package models

import "encoding/json"

// Realtime event types fanned out to comment rooms.
const (
	EventCommentCreated = "comment:created"
	EventCommentUpdated = "comment:updated"
	EventCommentDeleted = "comment:deleted"
	EventCommentLiked   = "comment:liked"
	// EventCommentReply is delivered to the author of the parent comment only.
	EventCommentReply = "comment:reply"
)

// RealtimeEnvelope is the JSON frame written to websocket subscribers.
type RealtimeEnvelope struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LikeEventPayload is the payload of comment:liked.
type LikeEventPayload struct {
	CommentID  string `json:"commentId"`
	LikesCount int    `json:"likesCount"`
	IsLiked    bool   `json:"isLiked"`
}

// ReplyEventPayload is the payload of comment:reply.
type ReplyEventPayload struct {
	CommentID       string `json:"commentId"`
	ParentCommentID string `json:"parentCommentId"`
}
