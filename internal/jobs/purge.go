package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"room-chat-service/internal/observability"
)

// TypePurgeSendTokens is the task type of the token purge job.
const TypePurgeSendTokens = "delivery:purge_send_tokens"

// TokenStore deletes idempotency tokens older than a cutoff.
type TokenStore interface {
	PurgeSendTokens(ctx context.Context, before time.Time) (int64, error)
}

// TokenPurger removes send tokens that fell out of the retention window.
// Comments are never touched; a purged token only stops deduplicating.
type TokenPurger struct {
	store     TokenStore
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewTokenPurger constructs a TokenPurger that drops tokens older than retention.
func NewTokenPurger(store TokenStore, retention time.Duration, logger *zap.Logger) *TokenPurger {
	return &TokenPurger{store: store, retention: retention, logger: logger, now: time.Now}
}

// Purge runs one pass and returns the number of tokens removed.
func (p *TokenPurger) Purge(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PurgeSendTokens(ctx, cutoff)
	if err != nil {
		p.logger.Warn("send token purge failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0, err
	}
	observability.AddTokensPurged(n)
	if n > 0 {
		p.logger.Info("send tokens purged", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// RunTicker purges every interval until ctx is done. Used when no redis
// is configured for the scheduler.
func (p *TokenPurger) RunTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = p.Purge(ctx)
		}
	}
}
