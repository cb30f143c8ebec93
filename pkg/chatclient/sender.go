package chatclient

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// SendAPI is the transport the Sender delivers through.
type SendAPI interface {
	Send(ctx context.Context, roomID int64, token string, req SendRequest) (Comment, error)
}

// SenderConfig bounds retries of one logical send.
type SenderConfig struct {
	MaxRetries      uint64
	AttemptTimeout  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Sender delivers engine entries asynchronously. Retries reuse the entry's
// token; once an entry is failed only Resend sends it again, under a new token.
type Sender struct {
	engine *Engine
	api    SendAPI
	cfg    SenderConfig
	wg     sync.WaitGroup
}

// NewSender constructs a Sender that records outcomes on engine.
func NewSender(engine *Engine, api SendAPI, cfg SenderConfig) *Sender {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 4
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 250 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	return &Sender{engine: engine, api: api, cfg: cfg}
}

// Submit adds draft as a pending entry and delivers it in the background.
// done, if set, receives the entry's terminal state.
func (s *Sender) Submit(ctx context.Context, d Draft, done func(Item)) Item {
	entry := s.engine.Add(d)
	s.start(ctx, entry, done)
	return entry
}

// Resend retries a failed entry under a new token.
func (s *Sender) Resend(ctx context.Context, tempID string, done func(Item)) (Item, error) {
	entry, err := s.engine.Resend(tempID)
	if err != nil {
		return Item{}, err
	}
	s.start(ctx, entry, done)
	return entry, nil
}

// Wait blocks until every background delivery has finished.
func (s *Sender) Wait() {
	s.wg.Wait()
}

func (s *Sender) start(ctx context.Context, entry Item, done func(Item)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(ctx, entry)
		if done != nil {
			final, _ := s.engine.Entry(entry.TempID)
			done(final)
		}
	}()
}

func (s *Sender) deliver(ctx context.Context, entry Item) {
	req := SendRequest{
		AuthorID:    entry.Draft.AuthorID,
		Type:        entry.Draft.Type,
		Text:        entry.Draft.Text,
		Attachments: entry.Draft.Attachments,
	}

	var comment Comment
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		defer cancel()
		c, err := s.api.Send(attemptCtx, entry.Draft.RoomID, entry.Token, req)
		if err == nil {
			comment = c
			return nil
		}
		if ctx.Err() == nil && retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.InitialInterval
	policy.MaxInterval = s.cfg.MaxInterval
	policy.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, s.cfg.MaxRetries), ctx))
	if err != nil {
		_ = s.engine.MarkFailed(entry.TempID, err)
		return
	}
	_ = s.engine.MarkDelivered(entry.TempID, comment)
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
