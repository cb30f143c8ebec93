// Package chatclient is the client side of room comment delivery: an HTTP
// API client, the reconciliation engine that keeps the visible list free of
// duplicates, an asynchronous sender and a history pager.
package chatclient

import (
	"sort"
	"time"
)

// Attachment mirrors the server attachment shape.
type Attachment struct {
	URL          string `json:"url"`
	Type         string `json:"type"`
	Name         string `json:"name,omitempty"`
	Size         int64  `json:"size,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Comment is a durable server comment.
type Comment struct {
	ID          int64        `json:"id"`
	RoomID      int64        `json:"room_id"`
	AuthorID    string       `json:"author_id"`
	Type        string       `json:"type"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
	ClientToken string       `json:"client_token,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Page is one window of history, newest first.
type Page struct {
	Comments []Comment `json:"comments"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// Draft is what the user composed.
type Draft struct {
	RoomID      int64
	AuthorID    string
	Type        string
	Text        string
	Attachments []Attachment
}

// Status of a visible item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Item is one row of the visible list. TempID is empty for comments that
// did not originate from this client.
type Item struct {
	TempID    string
	Token     string
	Status    Status
	Draft     Draft
	CreatedAt time.Time
	Comment   *Comment
	Err       error
}

func attachmentURLs(atts []Attachment) []string {
	urls := make([]string, 0, len(atts))
	for _, a := range atts {
		urls = append(urls, a.URL)
	}
	sort.Strings(urls)
	return urls
}

func sameURLSet(a, b []Attachment) bool {
	if len(a) != len(b) {
		return false
	}
	ua, ub := attachmentURLs(a), attachmentURLs(b)
	for i := range ua {
		if ua[i] != ub[i] {
			return false
		}
	}
	return true
}
