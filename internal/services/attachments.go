package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"room-chat-service/internal/apperr"
	"room-chat-service/internal/models"
	"room-chat-service/internal/observability"
	"room-chat-service/internal/repositories"
	"room-chat-service/internal/storage"
)

var allowedContentTypes = map[string][]string{
	models.AttachmentImage:    {"image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp"},
	models.AttachmentVideo:    {"video/mp4", "video/avi", "video/quicktime", "video/x-ms-wmv", "video/webm"},
	models.AttachmentDocument: {"application/pdf", "application/msword", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
}

const thumbnailWidth = 320

// UploadInput describes one uploaded file for a comment.
type UploadInput struct {
	CommentID   int64
	Kind        string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// AttachmentService stores files in object storage and appends them to
// existing comments. Storage failures never touch the comment.
type AttachmentService struct {
	comments    repositories.CommentRepository
	store       storage.ObjectStore
	broadcaster Broadcaster
	logger      *zap.Logger
	maxBytes    int64
	now         func() time.Time
}

// NewAttachmentService constructs an AttachmentService. broadcaster may be nil.
func NewAttachmentService(comments repositories.CommentRepository, store storage.ObjectStore, broadcaster Broadcaster, logger *zap.Logger, maxBytes int64) *AttachmentService {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &AttachmentService{comments: comments, store: store, broadcaster: broadcaster, logger: logger, maxBytes: maxBytes, now: time.Now}
}

// Upload validates the file, stores it and appends the attachment.
func (s *AttachmentService) Upload(ctx context.Context, in UploadInput) (models.Comment, models.Attachment, error) {
	ctx, span := otel.Tracer("room-chat-service/attachments").Start(ctx, "attachments.upload")
	defer span.End()
	span.SetAttributes(attribute.Int64("comment.id", in.CommentID), attribute.String("attachment.kind", in.Kind))

	in.Kind = strings.ToUpper(strings.TrimSpace(in.Kind))
	in.ContentType = strings.ToLower(strings.TrimSpace(strings.SplitN(in.ContentType, ";", 2)[0]))
	if err := s.check(in); err != nil {
		observability.IncUpload(in.Kind, apperr.Code(err))
		return models.Comment{}, models.Attachment{}, err
	}

	if _, err := s.comments.GetComment(ctx, in.CommentID); err != nil {
		observability.IncUpload(in.Kind, apperr.Code(err))
		return models.Comment{}, models.Attachment{}, err
	}

	data, err := io.ReadAll(io.LimitReader(in.Body, s.maxBytes+1))
	if err != nil {
		return models.Comment{}, models.Attachment{}, apperr.Validation("read upload: %v", err)
	}
	if int64(len(data)) > s.maxBytes {
		observability.IncUpload(in.Kind, "validation")
		return models.Comment{}, models.Attachment{}, apperr.Validation("file exceeds %d bytes", s.maxBytes)
	}

	key := storage.AttachmentKey(in.CommentID, in.FileName, s.now())
	url, err := s.store.Put(ctx, key, in.ContentType, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		span.RecordError(err)
		observability.IncUpload(in.Kind, "storage")
		s.logger.Warn("attachment upload failed", zap.Int64("comment_id", in.CommentID), zap.String("key", key), zap.Error(err))
		return models.Comment{}, models.Attachment{}, apperr.Storage(err, "failed to store attachment")
	}

	att := models.Attachment{URL: url, Kind: in.Kind, Name: storage.SanitizeName(in.FileName), Size: int64(len(data))}
	if in.Kind == models.AttachmentImage {
		att.ThumbnailURL = s.thumbnail(ctx, key, data)
	}

	comment, err := s.comments.AppendAttachment(ctx, in.CommentID, att)
	if err != nil {
		observability.IncUpload(in.Kind, apperr.Code(err))
		return models.Comment{}, models.Attachment{}, err
	}
	observability.IncUpload(in.Kind, "stored")

	if s.broadcaster != nil {
		s.broadcaster.BroadcastComment(comment.RoomID, models.CommentEvent{Type: models.EventCommentUpdated, RoomID: comment.RoomID, Comment: comment})
	}
	return comment, att, nil
}

func (s *AttachmentService) check(in UploadInput) error {
	if in.CommentID <= 0 {
		return apperr.Validation("invalid comment id")
	}
	allowed, ok := allowedContentTypes[in.Kind]
	if !ok {
		return apperr.Validation("type must be one of IMAGE, VIDEO, DOCUMENT")
	}
	if !containsType(allowed, in.ContentType) {
		return apperr.Validation("content type %q is not allowed for %s", in.ContentType, in.Kind)
	}
	if in.Size > s.maxBytes {
		return apperr.Validation("file exceeds %d bytes", s.maxBytes)
	}
	if in.Body == nil {
		return apperr.Validation("file is required")
	}
	return nil
}

// thumbnail stores a downscaled JPEG next to the original. Failures only
// cost the thumbnail.
func (s *AttachmentService) thumbnail(ctx context.Context, key string, data []byte) string {
	thumb, err := generateThumbnail(data)
	if err != nil {
		s.logger.Debug("thumbnail skipped", zap.String("key", key), zap.Error(err))
		return ""
	}
	url, err := s.store.Put(ctx, key+"_thumb.jpg", "image/jpeg", bytes.NewReader(thumb), int64(len(thumb)))
	if err != nil {
		s.logger.Warn("thumbnail upload failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	return url
}

func generateThumbnail(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Dx() <= thumbnailWidth {
		return nil, errors.New("image already small")
	}
	thumb := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func containsType(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
