// Package models contains data structures for the application's domain models.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// MaxCommentLength is the maximum number of characters allowed in a comment body.
	MaxCommentLength = 5000
	// EditWindow is how long after creation the author may still edit a comment.
	EditWindow = 5 * time.Minute
	// DeletedCommentPlaceholder replaces the content of soft-deleted comments on every surface.
	DeletedCommentPlaceholder = "[This comment has been deleted]"
)

// EntityType identifies the kind of entity a comment thread is attached to.
type EntityType string

// Supported comment entity types.
const (
	EntityLesson       EntityType = "lesson"
	EntityCourse       EntityType = "course"
	EntityAssignment   EntityType = "assignment"
	EntityStudyGroup   EntityType = "study_group"
	EntityAnnouncement EntityType = "announcement"
)

// EntityTypes lists every entity type that accepts comments.
var EntityTypes = []EntityType{
	EntityLesson,
	EntityCourse,
	EntityAssignment,
	EntityStudyGroup,
	EntityAnnouncement,
}

// Valid reports whether t is one of the supported entity types.
func (t EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEntityType normalizes raw into an EntityType.
func ParseEntityType(raw string) (EntityType, bool) {
	t := EntityType(strings.ToLower(strings.TrimSpace(raw)))
	return t, t.Valid()
}

// RoomKey returns the realtime room that receives events for a thread.
func RoomKey(entityType EntityType, entityID uint) string {
	return fmt.Sprintf("comments:%s:%d", entityType, entityID)
}

// Comment is a single entry in a threaded discussion attached to an entity.
type Comment struct {
	ID         string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AuthorID   uint       `gorm:"not null;index" json:"authorId"`
	Author     *User      `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	EntityType EntityType `gorm:"type:varchar(32);not null;index:idx_comments_thread,priority:1" json:"entityType"`
	EntityID   uint       `gorm:"not null;index:idx_comments_thread,priority:2" json:"entityId"`
	Content    string     `gorm:"type:text;not null" json:"content"`
	ParentID   *string    `gorm:"type:varchar(36);index" json:"parentCommentId"`

	LikesCount   int `gorm:"not null;default:0" json:"likesCount"`
	RepliesCount int `gorm:"not null;default:0" json:"repliesCount"`

	IsEdited  bool       `gorm:"not null;default:false" json:"isEdited"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	IsDeleted bool       `gorm:"not null;default:false;index" json:"isDeleted"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	DeletedBy *uint      `json:"deletedBy,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// IsLikedByCurrentUser is computed per request
	IsLikedByCurrentUser bool `gorm:"-" json:"isLikedByCurrentUser"`
	// Replies is populated for top-level comments when a thread is listed
	Replies []*Comment `gorm:"-" json:"replies,omitempty"`
}

// TableName specifies the table name for GORM.
func (Comment) TableName() string {
	return "comments"
}

// BeforeCreate assigns a UUID when the caller did not.
func (c *Comment) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// IsReply reports whether the comment has a parent.
func (c *Comment) IsReply() bool {
	return c.ParentID != nil && *c.ParentID != ""
}

// Redacted applies the deleted-content convention in place and returns c.
func (c *Comment) Redacted() *Comment {
	if c.IsDeleted {
		c.Content = DeletedCommentPlaceholder
	}
	for _, reply := range c.Replies {
		reply.Redacted()
	}
	return c
}

// Clone returns a deep copy of the comment including its replies.
func (c *Comment) Clone() *Comment {
	if c == nil {
		return nil
	}
	out := *c
	if c.ParentID != nil {
		parent := *c.ParentID
		out.ParentID = &parent
	}
	if c.EditedAt != nil {
		t := *c.EditedAt
		out.EditedAt = &t
	}
	if c.DeletedAt != nil {
		t := *c.DeletedAt
		out.DeletedAt = &t
	}
	if c.DeletedBy != nil {
		by := *c.DeletedBy
		out.DeletedBy = &by
	}
	if c.Author != nil {
		author := *c.Author
		out.Author = &author
	}
	if c.Replies != nil {
		out.Replies = make([]*Comment, len(c.Replies))
		for i, reply := range c.Replies {
			out.Replies[i] = reply.Clone()
		}
	}
	return &out
}

// CommentLike records that a user liked a comment. The pair is unique.
type CommentLike struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CommentID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_comment_likes_pair" json:"commentId"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_comment_likes_pair;index" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName specifies the table name for GORM.
func (CommentLike) TableName() string {
	return "comment_likes"
}
