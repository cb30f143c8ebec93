package models

import "time"

// Comment types.
const (
	CommentText  = "text"
	CommentImage = "image"
	CommentFile  = "file"
	CommentAudio = "audio"
	CommentVideo = "video"
)

// Comment is a durable message in a room. Comments are ordered by
// (CreatedAt, ID); both are assigned by the store.
type Comment struct {
	ID          int64       `db:"id" json:"id"`
	RoomID      int64       `db:"room_id" json:"room_id"`
	AuthorID    string      `db:"author_id" json:"author_id"`
	Author      Participant `db:"author" json:"author"`
	Type        string      `db:"type" json:"type"`
	Text        string      `db:"text" json:"text"`
	Attachments Attachments `db:"attachments" json:"attachments"`
	ClientToken string      `db:"client_token" json:"client_token,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// NewComment is the input to an idempotent append. Token rows created before
// TokenNotBefore are expired and do not deduplicate.
type NewComment struct {
	RoomID         int64
	AuthorID       string
	Type           string
	Text           string
	Attachments    Attachments
	Token          string
	TokenNotBefore time.Time
}

// AppendResult carries the committed comment and whether it was an earlier
// commit returned for a repeated token.
type AppendResult struct {
	Comment  Comment
	Replayed bool
}

// CommentPage is one window of a room's history, newest first. Total is the
// room's comment count at read time and is only a hint for callers.
type CommentPage struct {
	Comments []Comment `json:"comments"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// Comment event types.
const (
	EventCommentCreated = "comment.created"
	EventCommentUpdated = "comment.updated"
)

// CommentEvent is pushed to websocket subscribers and published to the event bus.
type CommentEvent struct {
	Type    string  `json:"type"`
	RoomID  int64   `json:"room_id"`
	Comment Comment `json:"comment"`
}
