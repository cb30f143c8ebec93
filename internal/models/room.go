package models

import "time"

// Role values are opaque to the store; these are the conventional ones.
const (
	RoleOperator = 1
	RoleMember   = 2
)

// Participant is a global contact identity that can join rooms.
type Participant struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Role int    `db:"role" json:"role"`
}

// Room groups participants and their comments. Participants are ordered by
// join time.
type Room struct {
	ID           int64         `db:"id" json:"id"`
	Name         string        `db:"name" json:"name"`
	ImageURL     *string       `db:"image_url" json:"image_url,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	Participants []Participant `db:"-" json:"participants"`
}

// HasParticipant reports whether id is a member of the room.
func (r Room) HasParticipant(id string) bool {
	for _, p := range r.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}
