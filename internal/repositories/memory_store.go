package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"room-chat-service/internal/apperr"
	"room-chat-service/internal/models"
)

type memRoom struct {
	room    models.Room
	members []string
}

type tokenKey struct {
	roomID   int64
	authorID string
	token    string
}

type memToken struct {
	commentID int64
	createdAt time.Time
}

// MemoryStore keeps rooms, participants and comments in process memory. It
// implements both RoomRepository and CommentRepository and is used when no
// database is configured.
type MemoryStore struct {
	mu           sync.RWMutex
	now          func() time.Time
	participants map[string]models.Participant
	rooms        map[int64]*memRoom
	comments     map[int64]models.Comment
	byRoom       map[int64][]int64
	tokens       map[tokenKey]memToken
	nextRoom     int64
	nextComment  int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:          time.Now,
		participants: make(map[string]models.Participant),
		rooms:        make(map[int64]*memRoom),
		comments:     make(map[int64]models.Comment),
		byRoom:       make(map[int64][]int64),
		tokens:       make(map[tokenKey]memToken),
	}
}

// SetClock replaces the time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

var (
	_ RoomRepository    = (*MemoryStore)(nil)
	_ CommentRepository = (*MemoryStore)(nil)
)

// CreateRoom stores a room with the given members and returns it.
func (s *MemoryStore) CreateRoom(ctx context.Context, name string, imageURL *string, participantIDs []string) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range participantIDs {
		if _, ok := s.participants[id]; !ok {
			return models.Room{}, apperr.NotFound("participant %s not found", id)
		}
	}
	s.nextRoom++
	r := &memRoom{room: models.Room{ID: s.nextRoom, Name: name, ImageURL: imageURL, CreatedAt: s.now()}}
	for _, id := range participantIDs {
		if !containsString(r.members, id) {
			r.members = append(r.members, id)
		}
	}
	s.rooms[r.room.ID] = r
	return s.roomLocked(r), nil
}

// GetRoom returns ErrRoomNotFound for unknown ids.
func (s *MemoryStore) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}
	return s.roomLocked(r), nil
}

// AddParticipant adds a known participant to the room. Adding an existing
// member is a no-op.
func (s *MemoryStore) AddParticipant(ctx context.Context, roomID int64, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if _, ok := s.participants[participantID]; !ok {
		return apperr.NotFound("participant %s not found", participantID)
	}
	if !containsString(r.members, participantID) {
		r.members = append(r.members, participantID)
	}
	return nil
}

// IsParticipant reports whether participantID is a member of the room.
func (s *MemoryStore) IsParticipant(ctx context.Context, roomID int64, participantID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return false, nil
	}
	return containsString(r.members, participantID), nil
}

// UpsertParticipant inserts or replaces a participant record.
func (s *MemoryStore) UpsertParticipant(ctx context.Context, p models.Participant) (models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.ID] = p
	return p, nil
}

// GetParticipant returns ErrParticipantNotFound for unknown ids.
func (s *MemoryStore) GetParticipant(ctx context.Context, participantID string) (models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[participantID]
	if !ok {
		return models.Participant{}, ErrParticipantNotFound
	}
	return p, nil
}

// ListParticipants returns all participants except excludeIDs, ordered by name.
func (s *MemoryStore) ListParticipants(ctx context.Context, excludeIDs ...string) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Participant{}
	for _, p := range s.participants {
		if containsString(excludeIDs, p.ID) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// FindDirectRoom returns the two-member room shared by a and b, or ErrRoomNotFound.
func (s *MemoryStore) FindDirectRoom(ctx context.Context, a, b string) (models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r := s.directRoomLocked(a, b); r != nil {
		return s.roomLocked(r), nil
	}
	return models.Room{}, ErrRoomNotFound
}

// FindOrCreateDirectRoom returns the room shared by a and b, creating it under
// the store lock so concurrent callers get the same room.
func (s *MemoryStore) FindOrCreateDirectRoom(ctx context.Context, name string, a, b string) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range []string{a, b} {
		if _, ok := s.participants[id]; !ok {
			return models.Room{}, apperr.NotFound("participant %s not found", id)
		}
	}
	if r := s.directRoomLocked(a, b); r != nil {
		return s.roomLocked(r), nil
	}
	s.nextRoom++
	r := &memRoom{room: models.Room{ID: s.nextRoom, Name: name, CreatedAt: s.now()}, members: []string{a, b}}
	s.rooms[r.room.ID] = r
	return s.roomLocked(r), nil
}

// AppendComment appends a comment, replaying the stored comment when the
// author repeats an unexpired token.
func (s *MemoryStore) AppendComment(ctx context.Context, in models.NewComment) (models.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return models.AppendResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[in.RoomID]
	if !ok {
		return models.AppendResult{}, ErrRoomNotFound
	}
	if _, ok := s.participants[in.AuthorID]; !ok {
		return models.AppendResult{}, apperr.NotFound("participant %s not found", in.AuthorID)
	}
	if !containsString(r.members, in.AuthorID) {
		return models.AppendResult{}, ErrNotParticipant
	}

	key := tokenKey{roomID: in.RoomID, authorID: in.AuthorID, token: in.Token}
	if in.Token != "" {
		if t, ok := s.tokens[key]; ok {
			if !t.createdAt.Before(in.TokenNotBefore) {
				return models.AppendResult{Comment: s.commentLocked(t.commentID), Replayed: true}, nil
			}
			delete(s.tokens, key)
		}
	}

	now := s.now()
	if ids := s.byRoom[in.RoomID]; len(ids) > 0 {
		// keep (created_at, id) monotonic within a room when the clock stalls
		if last := s.comments[ids[len(ids)-1]].CreatedAt; now.Before(last) {
			now = last
		}
	}
	s.nextComment++
	c := models.Comment{
		ID:          s.nextComment,
		RoomID:      in.RoomID,
		AuthorID:    in.AuthorID,
		Type:        in.Type,
		Text:        in.Text,
		Attachments: copyAttachments(in.Attachments),
		ClientToken: in.Token,
		CreatedAt:   now,
	}
	s.comments[c.ID] = c
	s.byRoom[in.RoomID] = append(s.byRoom[in.RoomID], c.ID)
	if in.Token != "" {
		s.tokens[key] = memToken{commentID: c.ID, createdAt: now}
	}
	return models.AppendResult{Comment: s.commentLocked(c.ID)}, nil
}

// GetComment returns ErrCommentNotFound for unknown ids.
func (s *MemoryStore) GetComment(ctx context.Context, commentID int64) (models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.comments[commentID]; !ok {
		return models.Comment{}, ErrCommentNotFound
	}
	return s.commentLocked(commentID), nil
}

// ListComments returns a newest-first page and the room total from the same
// locked snapshot.
func (s *MemoryStore) ListComments(ctx context.Context, roomID int64, limit, offset int) ([]models.Comment, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.rooms[roomID]; !ok {
		return nil, 0, ErrRoomNotFound
	}
	ids := s.byRoom[roomID]
	all := make([]models.Comment, 0, len(ids))
	for _, id := range ids {
		all = append(all, s.commentLocked(id))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	total := len(all)
	if offset >= total {
		return []models.Comment{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// AppendAttachment adds att to an existing comment and returns the updated comment.
func (s *MemoryStore) AppendAttachment(ctx context.Context, commentID int64, att models.Attachment) (models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[commentID]
	if !ok {
		return models.Comment{}, ErrCommentNotFound
	}
	c.Attachments = append(copyAttachments(c.Attachments), att)
	s.comments[commentID] = c
	return s.commentLocked(commentID), nil
}

// PurgeSendTokens drops token records created before the cutoff.
func (s *MemoryStore) PurgeSendTokens(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, t := range s.tokens {
		if t.createdAt.Before(before) {
			delete(s.tokens, key)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) roomLocked(r *memRoom) models.Room {
	room := r.room
	room.Participants = make([]models.Participant, 0, len(r.members))
	for _, id := range r.members {
		room.Participants = append(room.Participants, s.participants[id])
	}
	return room
}

func (s *MemoryStore) directRoomLocked(a, b string) *memRoom {
	var found *memRoom
	for _, r := range s.rooms {
		if len(r.members) != 2 || !containsString(r.members, a) || !containsString(r.members, b) {
			continue
		}
		if found == nil || r.room.ID < found.room.ID {
			found = r
		}
	}
	return found
}

func (s *MemoryStore) commentLocked(id int64) models.Comment {
	c := s.comments[id]
	c.Author = s.participants[c.AuthorID]
	c.Attachments = copyAttachments(c.Attachments)
	return c
}

func copyAttachments(in models.Attachments) models.Attachments {
	out := make(models.Attachments, len(in))
	copy(out, in)
	return out
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
