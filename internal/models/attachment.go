package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// Attachment kinds accepted for uploads and sends.
const (
	AttachmentImage    = "IMAGE"
	AttachmentVideo    = "VIDEO"
	AttachmentDocument = "DOCUMENT"
)

// Attachment references an uploaded object.
type Attachment struct {
	URL          string `json:"url" validate:"required,url,max=2048"`
	Kind         string `json:"type" validate:"required,oneof=IMAGE VIDEO DOCUMENT"`
	Name         string `json:"name,omitempty" validate:"max=255"`
	Size         int64  `json:"size,omitempty" validate:"gte=0"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Attachments is the stored form of a comment's attachment list. Older rows
// may hold bare URL strings or NULL; Scan normalises them so nothing above
// the store sees anything but []Attachment.
type Attachments []Attachment

// Value implements driver.Valuer. The array is sent as text so the driver
// does not encode it as bytea.
func (a Attachments) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]Attachment(a))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *Attachments) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = Attachments{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("attachments: unsupported source %T", src)
	}
	out, err := ParseAttachments(raw)
	if err != nil {
		return err
	}
	*a = out
	return nil
}

// MarshalJSON always renders a JSON array.
func (a Attachments) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Attachment(a))
}

// ParseAttachments decodes a stored attachment array. Elements may be
// objects or plain URL strings.
func ParseAttachments(raw []byte) (Attachments, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Attachments{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		return nil, fmt.Errorf("attachments: %w", err)
	}
	out := make(Attachments, 0, len(items))
	for _, item := range items {
		var url string
		if err := json.Unmarshal(item, &url); err == nil {
			if url == "" {
				continue
			}
			out = append(out, Attachment{URL: url, Kind: KindFromName(url), Name: path.Base(url)})
			continue
		}
		var att Attachment
		if err := json.Unmarshal(item, &att); err != nil {
			return nil, fmt.Errorf("attachments: %w", err)
		}
		if att.Kind == "" {
			att.Kind = KindFromName(att.URL)
		}
		out = append(out, att)
	}
	return out, nil
}

// KindFromName guesses an attachment kind from a file name or URL extension.
func KindFromName(name string) string {
	ext := strings.ToLower(path.Ext(strings.SplitN(name, "?", 2)[0]))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return AttachmentImage
	case ".mp4", ".avi", ".mov", ".wmv", ".webm":
		return AttachmentVideo
	default:
		return AttachmentDocument
	}
}

// URLs returns the attachment URLs in order.
func (a Attachments) URLs() []string {
	urls := make([]string, 0, len(a))
	for _, att := range a {
		urls = append(urls, att.URL)
	}
	return urls
}
