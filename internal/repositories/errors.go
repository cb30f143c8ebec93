package repositories

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"room-chat-service/internal/apperr"
)

var (
	ErrRoomNotFound        = apperr.NotFound("room not found")
	ErrParticipantNotFound = apperr.NotFound("participant not found")
	ErrCommentNotFound     = apperr.NotFound("comment not found")
	ErrNotParticipant      = apperr.Forbidden("author is not a participant of the room")
)

// classify maps driver failures onto the retryable kinds. Errors that are
// already typed pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{apperr.ErrValidation, apperr.ErrNotFound, apperr.ErrForbidden, apperr.ErrConflict, apperr.ErrTransient} {
		if errors.Is(err, kind) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return apperr.Transient(err, "storage unavailable")
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			return apperr.Conflict(err, "concurrent update, retry")
		case "23505":
			return apperr.Conflict(err, "duplicate write, retry")
		}
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return apperr.Transient(err, "storage unavailable")
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Transient(err, "storage unavailable")
	}
	return err
}

// withTx runs fn in a transaction and commits when it returns nil.
func withTx(ctx context.Context, db *sqlx.DB, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		err = classify(err)
		return err
	}
	if err = tx.Commit(); err != nil {
		err = classify(err)
		return err
	}
	return nil
}
