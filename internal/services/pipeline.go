package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"room-chat-service/internal/apperr"
	"room-chat-service/internal/models"
	"room-chat-service/internal/observability"
	"room-chat-service/internal/repositories"
)

// Broadcaster pushes comment events to live subscribers of a room.
type Broadcaster interface {
	BroadcastComment(roomID int64, event models.CommentEvent)
}

// EventPublisher publishes events to the message bus.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// SendRequest is one logical send. Token identifies the send across retries
// and is scoped to (RoomID, AuthorID).
type SendRequest struct {
	RoomID      int64               `validate:"gt=0"`
	AuthorID    string              `validate:"required,max=255"`
	Type        string              `validate:"omitempty,oneof=text image file audio video"`
	Text        string              `validate:"max=4000"`
	Attachments []models.Attachment `validate:"max=10,dive"`
	Token       string              `validate:"required,max=128"`
}

// PipelineConfig tunes token retention, conflict retries and how long a
// background event publish may take.
type PipelineConfig struct {
	TokenRetention  time.Duration
	ConflictRetries uint64
	ConflictBackoff time.Duration
	PublishTimeout  time.Duration
}

// SendPipeline commits comments at most once per token and fans the fresh
// ones out to subscribers and the event bus.
type SendPipeline struct {
	comments    repositories.CommentRepository
	broadcaster Broadcaster
	publisher   EventPublisher
	logger      *zap.Logger
	validate    *validator.Validate
	cfg         PipelineConfig
	now         func() time.Time
	publishing  sync.WaitGroup
}

// NewSendPipeline constructs a SendPipeline. broadcaster and publisher may
// be nil.
func NewSendPipeline(comments repositories.CommentRepository, broadcaster Broadcaster, publisher EventPublisher, logger *zap.Logger, cfg PipelineConfig) *SendPipeline {
	if cfg.TokenRetention <= 0 {
		cfg.TokenRetention = 24 * time.Hour
	}
	if cfg.ConflictBackoff <= 0 {
		cfg.ConflictBackoff = 25 * time.Millisecond
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &SendPipeline{
		comments:    comments,
		broadcaster: broadcaster,
		publisher:   publisher,
		logger:      logger,
		validate:    newValidator(),
		cfg:         cfg,
		now:         time.Now,
	}
}

// Send validates req and commits it. A request whose token was already
// committed within the retention window returns that comment unchanged.
func (p *SendPipeline) Send(ctx context.Context, req SendRequest) (models.Comment, error) {
	ctx, span := otel.Tracer("room-chat-service/pipeline").Start(ctx, "pipeline.send")
	defer span.End()
	span.SetAttributes(attribute.Int64("room.id", req.RoomID), attribute.String("author.id", req.AuthorID))
	start := time.Now()

	if err := p.check(&req); err != nil {
		observability.ObserveSend(apperr.Code(err), time.Since(start))
		return models.Comment{}, err
	}

	in := models.NewComment{
		RoomID:         req.RoomID,
		AuthorID:       req.AuthorID,
		Type:           req.Type,
		Text:           req.Text,
		Attachments:    models.Attachments(req.Attachments),
		Token:          req.Token,
		TokenNotBefore: p.now().Add(-p.cfg.TokenRetention),
	}

	var result models.AppendResult
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			observability.IncSendConflictRetry()
		}
		r, err := p.comments.AppendComment(ctx, in)
		if err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = r
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.cfg.ConflictBackoff), p.cfg.ConflictRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.Code(err))
		observability.ObserveSend(apperr.Code(err), time.Since(start))
		if !errors.Is(err, apperr.ErrForbidden) && !errors.Is(err, apperr.ErrNotFound) {
			p.logger.Warn("send failed",
				zap.Int64("room_id", req.RoomID),
				zap.String("author_id", req.AuthorID),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
		}
		return models.Comment{}, err
	}

	comment := result.Comment
	span.SetAttributes(attribute.Int64("comment.id", comment.ID), attribute.Bool("send.replayed", result.Replayed))
	if result.Replayed {
		observability.ObserveSend("replayed", time.Since(start))
		p.logger.Debug("send replayed", zap.Int64("comment_id", comment.ID), zap.Int64("room_id", comment.RoomID))
		return comment, nil
	}

	observability.ObserveSend("created", time.Since(start))
	p.fanOut(ctx, models.CommentEvent{Type: models.EventCommentCreated, RoomID: comment.RoomID, Comment: comment})
	return comment, nil
}

// check normalises and validates req in place.
func (p *SendPipeline) check(req *SendRequest) error {
	req.AuthorID = strings.TrimSpace(req.AuthorID)
	req.Token = strings.TrimSpace(req.Token)
	if err := p.validate.Struct(req); err != nil {
		return validationError(err)
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		return apperr.Validation("message must have text or at least one attachment")
	}
	if req.Type == "" {
		req.Type = inferType(req.Text, req.Attachments)
	}
	return nil
}

// fanOut publishes in the background on a context detached from the
// request, so a slow broker never holds the response.
func (p *SendPipeline) fanOut(ctx context.Context, event models.CommentEvent) {
	if p.broadcaster != nil {
		p.broadcaster.BroadcastComment(event.RoomID, event)
	}
	if p.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.PublishTimeout)
	p.publishing.Add(1)
	go func() {
		defer p.publishing.Done()
		defer cancel()
		if err := p.publisher.Publish(pubCtx, event.Type, event); err != nil {
			p.logger.Warn("comment event publish failed", zap.Int64("comment_id", event.Comment.ID), zap.Error(err))
		}
	}()
}

// Drain waits for background publishes to finish.
func (p *SendPipeline) Drain() {
	p.publishing.Wait()
}

func inferType(text string, atts []models.Attachment) string {
	if strings.TrimSpace(text) != "" || len(atts) == 0 {
		return models.CommentText
	}
	switch atts[0].Kind {
	case models.AttachmentImage:
		return models.CommentImage
	case models.AttachmentVideo:
		return models.CommentVideo
	default:
		return models.CommentFile
	}
}
