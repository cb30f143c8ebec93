// Package apperr defines the error kinds shared by the store, the send
// pipeline and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrTransient  = errors.New("transient failure")
	ErrStorage    = errors.New("object storage failure")
)

type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	return e.msg
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}

func (e *kindError) Unwrap() error {
	return e.cause
}

func newKind(kind, cause error, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// Validation reports malformed input.
func Validation(format string, args ...any) error {
	return newKind(ErrValidation, nil, format, args...)
}

// NotFound reports a missing room, participant or comment.
func NotFound(format string, args ...any) error {
	return newKind(ErrNotFound, nil, format, args...)
}

// Forbidden reports a non-member acting on a room.
func Forbidden(format string, args ...any) error {
	return newKind(ErrForbidden, nil, format, args...)
}

// Conflict wraps a concurrent-transaction failure. Retrying the same request
// resolves to the same outcome.
func Conflict(cause error, format string, args ...any) error {
	return newKind(ErrConflict, cause, format, args...)
}

// Transient wraps a storage or network failure that may succeed on retry.
func Transient(cause error, format string, args ...any) error {
	return newKind(ErrTransient, cause, format, args...)
}

// Storage wraps an object storage failure.
func Storage(cause error, format string, args ...any) error {
	return newKind(ErrStorage, cause, format, args...)
}

// Retryable reports whether the caller may retry with the same idempotency token.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrTransient)
}

// Code returns the wire code for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}
