package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"room-chat-service/internal/config"
)

// ObjectStore persists uploaded attachment bytes and returns their public URL.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

// ErrDisabled is returned when no storage backend is configured.
var ErrDisabled = errors.New("object storage is not configured")

type disabledStore struct{}

func (disabledStore) Put(context.Context, string, string, io.Reader, int64) (string, error) {
	return "", ErrDisabled
}

// New builds the configured backend wrapped in a circuit breaker.
func New(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (ObjectStore, error) {
	var (
		store ObjectStore
		err   error
	)
	switch cfg.Backend {
	case "s3":
		store, err = NewS3Store(ctx, cfg)
	case "gcs":
		store, err = NewGCSStore(ctx, cfg)
	default:
		logger.Info("object storage disabled")
		return disabledStore{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("init %s storage: %w", cfg.Backend, err)
	}
	logger.Info("object storage configured", zap.String("backend", cfg.Backend), zap.String("bucket", cfg.Bucket))
	return NewBreakerStore(store, cfg.Backend, cfg.BreakerFailures, cfg.BreakerTimeout, logger), nil
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// AttachmentKey builds messages/<comment id>/<unix ms>-<file name>.
func AttachmentKey(commentID int64, fileName string, at time.Time) string {
	return fmt.Sprintf("messages/%d/%d-%s", commentID, at.UnixMilli(), SanitizeName(fileName))
}

// SanitizeName keeps the base name and replaces anything outside
// [A-Za-z0-9._-] with an underscore.
func SanitizeName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = unsafeNameChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		return "file"
	}
	return base
}

func publicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
