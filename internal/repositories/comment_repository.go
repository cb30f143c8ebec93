package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"room-chat-service/internal/apperr"
	"room-chat-service/internal/models"
)

// CommentRepository abstracts comment persistence and send-token bookkeeping.
type CommentRepository interface {
	AppendComment(ctx context.Context, in models.NewComment) (models.AppendResult, error)
	GetComment(ctx context.Context, commentID int64) (models.Comment, error)
	ListComments(ctx context.Context, roomID int64, limit, offset int) ([]models.Comment, int, error)
	AppendAttachment(ctx context.Context, commentID int64, att models.Attachment) (models.Comment, error)
	PurgeSendTokens(ctx context.Context, before time.Time) (int64, error)
}

// CommentRepo is a sqlx implementation of CommentRepository.
type CommentRepo struct {
	db *sqlx.DB
}

// NewCommentRepo constructs a CommentRepo.
func NewCommentRepo(db *sqlx.DB) *CommentRepo {
	return &CommentRepo{db: db}
}

const commentColumns = `c.id, c.room_id, c.author_id, c.type, c.text, c.attachments, c.client_token, c.created_at,
        p.id AS "author.id", p.name AS "author.name", p.role AS "author.role"`

const commentFrom = ` FROM comments c INNER JOIN participants p ON p.id = c.author_id`

// AppendComment commits a comment at most once per (room, author, token).
//
// The token row is claimed with INSERT ... ON CONFLICT DO NOTHING. A
// concurrent transaction holding the same key blocks on the primary key
// until the first one finishes; it then sees the committed row and returns
// the comment bound to it instead of inserting a second one.
func (r *CommentRepo) AppendComment(ctx context.Context, in models.NewComment) (models.AppendResult, error) {
	var result models.AppendResult
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if err := ensureRoom(ctx, tx, in.RoomID); err != nil {
			return err
		}
		if err := ensureParticipant(ctx, tx, in.AuthorID); err != nil {
			return err
		}
		var member bool
		if err := tx.GetContext(ctx, &member, `SELECT EXISTS(SELECT 1 FROM room_participants WHERE room_id=$1 AND participant_id=$2)`, in.RoomID, in.AuthorID); err != nil {
			return err
		}
		if !member {
			return ErrNotParticipant
		}

		if in.Token != "" {
			if _, err := tx.ExecContext(ctx, `DELETE FROM send_tokens WHERE room_id=$1 AND author_id=$2 AND token=$3 AND created_at < $4`,
				in.RoomID, in.AuthorID, in.Token, in.TokenNotBefore); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `INSERT INTO send_tokens (room_id, author_id, token) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
				in.RoomID, in.AuthorID, in.Token)
			if err != nil {
				return err
			}
			claimed, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if claimed == 0 {
				var commentID sql.NullInt64
				if err := tx.GetContext(ctx, &commentID, `SELECT comment_id FROM send_tokens WHERE room_id=$1 AND author_id=$2 AND token=$3`,
					in.RoomID, in.AuthorID, in.Token); err != nil {
					if errors.Is(err, sql.ErrNoRows) {
						return apperr.Conflict(err, "send token released concurrently, retry")
					}
					return err
				}
				if !commentID.Valid {
					return apperr.Conflict(nil, "send still in progress, retry")
				}
				existing, err := getComment(ctx, tx, commentID.Int64)
				if err != nil {
					return err
				}
				result = models.AppendResult{Comment: existing, Replayed: true}
				return nil
			}
		}

		var commentID int64
		if err := tx.QueryRowxContext(ctx, `INSERT INTO comments (room_id, author_id, type, text, attachments, client_token)
            VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			in.RoomID, in.AuthorID, in.Type, in.Text, in.Attachments, in.Token).Scan(&commentID); err != nil {
			return err
		}
		if in.Token != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE send_tokens SET comment_id=$4 WHERE room_id=$1 AND author_id=$2 AND token=$3`,
				in.RoomID, in.AuthorID, in.Token, commentID); err != nil {
				return err
			}
		}

		created, err := getComment(ctx, tx, commentID)
		if err != nil {
			return err
		}
		result = models.AppendResult{Comment: created}
		return nil
	})
	if err != nil {
		return models.AppendResult{}, err
	}
	return result, nil
}

// GetComment fetches a single comment.
func (r *CommentRepo) GetComment(ctx context.Context, commentID int64) (models.Comment, error) {
	c, err := getComment(ctx, r.db, commentID)
	return c, classify(err)
}

// ListComments returns one page of a room's comments, newest first, and the
// room's total. Both reads share one snapshot.
func (r *CommentRepo) ListComments(ctx context.Context, roomID int64, limit, offset int) ([]models.Comment, int, error) {
	comments := []models.Comment{}
	var total int
	err := withTx(ctx, r.db, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, func(tx *sqlx.Tx) error {
		if err := ensureRoom(ctx, tx, roomID); err != nil {
			return err
		}
		if err := tx.GetContext(ctx, &total, `SELECT COUNT(*) FROM comments WHERE room_id=$1`, roomID); err != nil {
			return err
		}
		return tx.SelectContext(ctx, &comments, `SELECT `+commentColumns+commentFrom+`
            WHERE c.room_id=$1
            ORDER BY c.created_at DESC, c.id DESC
            LIMIT $2 OFFSET $3`, roomID, limit, offset)
	})
	if err != nil {
		return nil, 0, err
	}
	return comments, total, nil
}

// AppendAttachment adds an attachment to a comment in a single statement.
func (r *CommentRepo) AppendAttachment(ctx context.Context, commentID int64, att models.Attachment) (models.Comment, error) {
	var c models.Comment
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE comments SET attachments = attachments || $2::jsonb WHERE id=$1`,
			commentID, models.Attachments{att})
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrCommentNotFound
		}
		c, err = getComment(ctx, tx, commentID)
		return err
	})
	if err != nil {
		return models.Comment{}, err
	}
	return c, nil
}

// PurgeSendTokens removes token rows created before the cutoff.
func (r *CommentRepo) PurgeSendTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM send_tokens WHERE created_at < $1`, before)
	if err != nil {
		return 0, classify(err)
	}
	n, err := res.RowsAffected()
	return n, classify(err)
}

func getComment(ctx context.Context, q sqlx.QueryerContext, commentID int64) (models.Comment, error) {
	var c models.Comment
	err := sqlx.GetContext(ctx, q, &c, `SELECT `+commentColumns+commentFrom+` WHERE c.id=$1`, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Comment{}, ErrCommentNotFound
	}
	if err != nil {
		return models.Comment{}, err
	}
	return c, nil
}
