package repositories

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"room-chat-service/internal/apperr"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind error
	}{
		{"serialization failure", &pq.Error{Code: "40001"}, apperr.ErrConflict},
		{"deadlock", &pq.Error{Code: "40P01"}, apperr.ErrConflict},
		{"unique violation", &pq.Error{Code: "23505"}, apperr.ErrConflict},
		{"connection failure", &pq.Error{Code: "08006"}, apperr.ErrTransient},
		{"too many connections", &pq.Error{Code: "53300"}, apperr.ErrTransient},
		{"admin shutdown", &pq.Error{Code: "57P01"}, apperr.ErrTransient},
		{"bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), apperr.ErrTransient},
		{"deadline", context.DeadlineExceeded, apperr.ErrTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, errors.Is(classify(tc.err), tc.kind))
		})
	}
}

func TestClassifyPassThrough(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.Same(t, ErrRoomNotFound, classify(ErrRoomNotFound))

	syntax := &pq.Error{Code: "42601"}
	assert.Equal(t, error(syntax), classify(syntax))
	assert.False(t, apperr.Retryable(classify(syntax)))

	assert.ErrorIs(t, classify(context.Canceled), context.Canceled)
}
