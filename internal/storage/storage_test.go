package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"room-chat-service/internal/config"
)

type flakyStore struct {
	calls int
	err   error
}

func (f *flakyStore) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.example.com/" + key, nil
}

func TestAttachmentKey(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, "messages/42/1700000000123-report_final.pdf", AttachmentKey(42, "report final.pdf", at))
	assert.Equal(t, "messages/1/1700000000123-passwd", AttachmentKey(1, "../../etc/passwd", at))
	assert.Equal(t, "messages/1/1700000000123-evil.png", AttachmentKey(1, `C:\tmp\evil.png`, at))
}

func TestSanitizeNameFallback(t *testing.T) {
	assert.Equal(t, "file", SanitizeName(""))
	assert.Equal(t, "file", SanitizeName("..."))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyStore{err: errors.New("503 slow down")}
	store := NewBreakerStore(inner, "test", 2, time.Minute, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := store.Put(ctx, "k", "image/png", strings.NewReader("x"), 1)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, store.State())

	_, err := store.Put(ctx, "k", "image/png", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, inner.calls)
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	store := NewBreakerStore(&flakyStore{}, "test", 2, time.Minute, zap.NewNop())

	url, err := store.Put(context.Background(), "messages/1/a.png", "image/png", strings.NewReader("x"), 1)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/messages/1/a.png", url)
}

func TestNewWithoutBackendIsDisabled(t *testing.T) {
	store, err := New(context.Background(), config.StorageConfig{Backend: "none"}, zap.NewNop())
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "k", "text/plain", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrDisabled)
}
