package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"room-chat-service/internal/apperr"
	"room-chat-service/internal/models"
)

// RoomRepository abstracts rooms, participants and membership.
type RoomRepository interface {
	CreateRoom(ctx context.Context, name string, imageURL *string, participantIDs []string) (models.Room, error)
	GetRoom(ctx context.Context, roomID int64) (models.Room, error)
	AddParticipant(ctx context.Context, roomID int64, participantID string) error
	IsParticipant(ctx context.Context, roomID int64, participantID string) (bool, error)
	UpsertParticipant(ctx context.Context, p models.Participant) (models.Participant, error)
	GetParticipant(ctx context.Context, participantID string) (models.Participant, error)
	ListParticipants(ctx context.Context, excludeIDs ...string) ([]models.Participant, error)
	FindDirectRoom(ctx context.Context, a, b string) (models.Room, error)
	FindOrCreateDirectRoom(ctx context.Context, name string, a, b string) (models.Room, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// CreateRoom creates a room and its initial memberships atomically. Every
// participant must already exist.
func (r *RoomRepo) CreateRoom(ctx context.Context, name string, imageURL *string, participantIDs []string) (models.Room, error) {
	var room models.Room
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		var found []string
		if err := tx.SelectContext(ctx, &found, `SELECT id FROM participants WHERE id = ANY($1)`, pq.Array(participantIDs)); err != nil {
			return err
		}
		if missing := firstMissing(participantIDs, found); missing != "" {
			return apperr.NotFound("participant %s not found", missing)
		}

		var roomID int64
		if err := tx.QueryRowxContext(ctx, `INSERT INTO rooms (name, image_url) VALUES ($1, $2) RETURNING id`, name, imageURL).Scan(&roomID); err != nil {
			return err
		}
		for _, id := range participantIDs {
			if _, err := tx.ExecContext(ctx, `INSERT INTO room_participants (room_id, participant_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, roomID, id); err != nil {
				return err
			}
		}

		var err error
		room, err = loadRoom(ctx, tx, roomID)
		return err
	})
	if err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// GetRoom fetches a room with its participants.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	room, err := loadRoom(ctx, r.db, roomID)
	if err != nil {
		return models.Room{}, classify(err)
	}
	return room, nil
}

// AddParticipant adds an existing participant to a room. Adding a current
// member is a no-op.
func (r *RoomRepo) AddParticipant(ctx context.Context, roomID int64, participantID string) error {
	return withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if err := ensureRoom(ctx, tx, roomID); err != nil {
			return err
		}
		if err := ensureParticipant(ctx, tx, participantID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO room_participants (room_id, participant_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, roomID, participantID)
		return err
	})
}

// IsParticipant checks membership.
func (r *RoomRepo) IsParticipant(ctx context.Context, roomID int64, participantID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM room_participants WHERE room_id=$1 AND participant_id=$2)`, roomID, participantID)
	return exists, classify(err)
}

// UpsertParticipant creates the participant or refreshes its name and role.
func (r *RoomRepo) UpsertParticipant(ctx context.Context, p models.Participant) (models.Participant, error) {
	var out models.Participant
	err := r.db.GetContext(ctx, &out, `INSERT INTO participants (id, name, role) VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role
        RETURNING id, name, role`, p.ID, p.Name, p.Role)
	if err != nil {
		return models.Participant{}, classify(err)
	}
	return out, nil
}

// GetParticipant fetches a single participant.
func (r *RoomRepo) GetParticipant(ctx context.Context, participantID string) (models.Participant, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p, `SELECT id, name, role FROM participants WHERE id=$1`, participantID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, ErrParticipantNotFound
	}
	return p, classify(err)
}

// ListParticipants returns the participant directory ordered by name.
func (r *RoomRepo) ListParticipants(ctx context.Context, excludeIDs ...string) ([]models.Participant, error) {
	if excludeIDs == nil {
		excludeIDs = []string{}
	}
	participants := []models.Participant{}
	err := r.db.SelectContext(ctx, &participants, `SELECT id, name, role FROM participants WHERE NOT (id = ANY($1)) ORDER BY name ASC, id ASC`, pq.Array(excludeIDs))
	return participants, classify(err)
}

const directRoomQuery = `SELECT r.id FROM rooms r
        WHERE EXISTS (SELECT 1 FROM room_participants WHERE room_id = r.id AND participant_id = $1)
          AND EXISTS (SELECT 1 FROM room_participants WHERE room_id = r.id AND participant_id = $2)
          AND (SELECT COUNT(*) FROM room_participants WHERE room_id = r.id) = 2
        ORDER BY r.id ASC LIMIT 1`

// FindDirectRoom returns the oldest room whose members are exactly a and b.
func (r *RoomRepo) FindDirectRoom(ctx context.Context, a, b string) (models.Room, error) {
	var roomID int64
	err := r.db.GetContext(ctx, &roomID, directRoomQuery, a, b)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, classify(err)
	}
	return r.GetRoom(ctx, roomID)
}

// FindOrCreateDirectRoom returns the direct room of a and b, creating it when
// none exists. Concurrent callers for the same pair serialise on an advisory
// lock so exactly one room is created.
func (r *RoomRepo) FindOrCreateDirectRoom(ctx context.Context, name string, a, b string) (models.Room, error) {
	var room models.Room
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		pair := []string{a, b}
		sort.Strings(pair)
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "direct:"+pair[0]+"|"+pair[1]); err != nil {
			return err
		}
		if err := ensureParticipant(ctx, tx, a); err != nil {
			return err
		}
		if err := ensureParticipant(ctx, tx, b); err != nil {
			return err
		}

		var roomID int64
		err := tx.GetContext(ctx, &roomID, directRoomQuery, a, b)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if err := tx.QueryRowxContext(ctx, `INSERT INTO rooms (name) VALUES ($1) RETURNING id`, name).Scan(&roomID); err != nil {
				return err
			}
			for _, id := range []string{a, b} {
				if _, err := tx.ExecContext(ctx, `INSERT INTO room_participants (room_id, participant_id) VALUES ($1, $2)`, roomID, id); err != nil {
					return err
				}
			}
		case err != nil:
			return err
		}

		room, err = loadRoom(ctx, tx, roomID)
		return err
	})
	if err != nil {
		return models.Room{}, err
	}
	return room, nil
}

func loadRoom(ctx context.Context, q sqlx.QueryerContext, roomID int64) (models.Room, error) {
	var room models.Room
	err := sqlx.GetContext(ctx, q, &room, `SELECT id, name, image_url, created_at FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, err
	}

	room.Participants = []models.Participant{}
	err = sqlx.SelectContext(ctx, q, &room.Participants, `SELECT p.id, p.name, p.role
        FROM room_participants rp
        INNER JOIN participants p ON p.id = rp.participant_id
        WHERE rp.room_id=$1
        ORDER BY rp.joined_at ASC, p.id ASC`, roomID)
	if err != nil {
		return models.Room{}, err
	}
	return room, nil
}

func ensureRoom(ctx context.Context, q sqlx.QueryerContext, roomID int64) error {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS(SELECT 1 FROM rooms WHERE id=$1)`, roomID); err != nil {
		return err
	}
	if !exists {
		return ErrRoomNotFound
	}
	return nil
}

func ensureParticipant(ctx context.Context, q sqlx.QueryerContext, participantID string) error {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS(SELECT 1 FROM participants WHERE id=$1)`, participantID); err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound("participant %s not found", participantID)
	}
	return nil
}

func firstMissing(want, found []string) string {
	have := make(map[string]struct{}, len(found))
	for _, id := range found {
		have[id] = struct{}{}
	}
	for _, id := range want {
		if _, ok := have[id]; !ok {
			return id
		}
	}
	return ""
}
