package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"room-chat-service/internal/apperr"
	"room-chat-service/internal/models"
	"room-chat-service/internal/repositories"
)

// RoomServiceConfig holds paging limits and the system participant identity.
type RoomServiceConfig struct {
	DefaultPageSize   int
	MaxPageSize       int
	SystemParticipant models.Participant
}

// RoomService owns room, membership and history operations.
type RoomService struct {
	rooms    repositories.RoomRepository
	comments repositories.CommentRepository
	cfg      RoomServiceConfig
	validate *validator.Validate
}

// NewRoomService constructs a RoomService. Zero page sizes fall back to defaults.
func NewRoomService(rooms repositories.RoomRepository, comments repositories.CommentRepository, cfg RoomServiceConfig) *RoomService {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 50
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = cfg.DefaultPageSize
	}
	if cfg.SystemParticipant.Role == 0 {
		cfg.SystemParticipant.Role = models.RoleOperator
	}
	return &RoomService{rooms: rooms, comments: comments, cfg: cfg, validate: newValidator()}
}

// CreateRoomInput is the payload of createRoom.
type CreateRoomInput struct {
	Name           string   `validate:"required,max=255"`
	ImageURL       *string  `validate:"omitempty,url,max=2048"`
	ParticipantIDs []string `validate:"required,min=1,max=500,dive,required,max=255"`
}

type participantInput struct {
	ID   string `validate:"required,max=255"`
	Name string `validate:"required,max=255"`
	Role int    `validate:"gte=0"`
}

// SystemParticipant returns the configured operator identity.
func (s *RoomService) SystemParticipant() models.Participant {
	return s.cfg.SystemParticipant
}

// EnsureParticipant creates the participant or refreshes its name and role.
// Calling it repeatedly with the same value is a no-op.
func (s *RoomService) EnsureParticipant(ctx context.Context, p models.Participant) (models.Participant, error) {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	if p.Role == 0 {
		p.Role = models.RoleMember
	}
	if err := s.validate.Struct(participantInput{ID: p.ID, Name: p.Name, Role: p.Role}); err != nil {
		return models.Participant{}, validationError(err)
	}
	return s.rooms.UpsertParticipant(ctx, p)
}

// EnsureSystemParticipant provisions the operator identity. Run once at startup.
func (s *RoomService) EnsureSystemParticipant(ctx context.Context) (models.Participant, error) {
	return s.EnsureParticipant(ctx, s.cfg.SystemParticipant)
}

// CreateRoom creates a room with at least one existing participant. Duplicate
// ids collapse to one membership; order of first appearance is the join order.
func (s *RoomService) CreateRoom(ctx context.Context, in CreateRoomInput) (models.Room, error) {
	in.Name = strings.TrimSpace(in.Name)
	ids := make([]string, 0, len(in.ParticipantIDs))
	seen := make(map[string]struct{}, len(in.ParticipantIDs))
	for _, id := range in.ParticipantIDs {
		id = strings.TrimSpace(id)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	in.ParticipantIDs = ids
	if in.ImageURL != nil && strings.TrimSpace(*in.ImageURL) == "" {
		in.ImageURL = nil
	}
	if err := s.validate.Struct(in); err != nil {
		return models.Room{}, validationError(err)
	}
	return s.rooms.CreateRoom(ctx, in.Name, in.ImageURL, in.ParticipantIDs)
}

// GetRoom returns the room with its participants.
func (s *RoomService) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	return s.rooms.GetRoom(ctx, roomID)
}

// AddParticipant adds an existing participant to a room. Idempotent.
func (s *RoomService) AddParticipant(ctx context.Context, roomID int64, participantID string) error {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return apperr.Validation("participant_id is required")
	}
	return s.rooms.AddParticipant(ctx, roomID, participantID)
}

// ProvisionParticipant ensures the participant exists and has a personal room
// with the system participant.
func (s *RoomService) ProvisionParticipant(ctx context.Context, p models.Participant) (models.Participant, models.Room, error) {
	if strings.TrimSpace(p.ID) == s.cfg.SystemParticipant.ID {
		return models.Participant{}, models.Room{}, apperr.Validation("participant id %s is reserved", p.ID)
	}
	participant, err := s.EnsureParticipant(ctx, p)
	if err != nil {
		return models.Participant{}, models.Room{}, err
	}
	room, err := s.PersonalRoom(ctx, participant.ID)
	if err != nil {
		return models.Participant{}, models.Room{}, err
	}
	return participant, room, nil
}

// ListParticipants returns the directory without the system participant.
func (s *RoomService) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	return s.rooms.ListParticipants(ctx, s.cfg.SystemParticipant.ID)
}

// PersonalRoom finds or creates the two-member room between the system
// participant and participantID.
func (s *RoomService) PersonalRoom(ctx context.Context, participantID string) (models.Room, error) {
	participant, err := s.personalCounterpart(ctx, participantID)
	if err != nil {
		return models.Room{}, err
	}
	name := fmt.Sprintf("Personal: %s & %s", s.cfg.SystemParticipant.Name, participant.Name)
	return s.rooms.FindOrCreateDirectRoom(ctx, name, s.cfg.SystemParticipant.ID, participant.ID)
}

// FindPersonalRoom returns the personal room when it exists.
func (s *RoomService) FindPersonalRoom(ctx context.Context, participantID string) (models.Room, bool, error) {
	participant, err := s.personalCounterpart(ctx, participantID)
	if err != nil {
		return models.Room{}, false, err
	}
	room, err := s.rooms.FindDirectRoom(ctx, s.cfg.SystemParticipant.ID, participant.ID)
	if errors.Is(err, repositories.ErrRoomNotFound) {
		return models.Room{}, false, nil
	}
	if err != nil {
		return models.Room{}, false, err
	}
	return room, true, nil
}

func (s *RoomService) personalCounterpart(ctx context.Context, participantID string) (models.Participant, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return models.Participant{}, apperr.Validation("participant id is required")
	}
	if participantID == s.cfg.SystemParticipant.ID {
		return models.Participant{}, apperr.Validation("system participant has no personal room")
	}
	return s.rooms.GetParticipant(ctx, participantID)
}

// ListComments returns one page of history, newest first. A zero limit
// selects the default page size.
func (s *RoomService) ListComments(ctx context.Context, roomID int64, limit, offset int) (models.CommentPage, error) {
	if limit < 0 || offset < 0 {
		return models.CommentPage{}, apperr.Validation("limit and offset must not be negative")
	}
	if limit == 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}
	comments, total, err := s.comments.ListComments(ctx, roomID, limit, offset)
	if err != nil {
		return models.CommentPage{}, err
	}
	return models.CommentPage{Comments: comments, Total: total, Limit: limit, Offset: offset}, nil
}

// GetComment fetches a single comment.
func (s *RoomService) GetComment(ctx context.Context, commentID int64) (models.Comment, error) {
	return s.comments.GetComment(ctx, commentID)
}
