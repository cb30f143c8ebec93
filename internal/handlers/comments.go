package handlers

import (
	"context"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"room-chat-service/internal/models"
	"room-chat-service/internal/observability"
	"room-chat-service/internal/services"
	"room-chat-service/internal/telemetry"
)

const headerIdempotencyKey = "Idempotency-Key"

// Sender commits comments idempotently.
type Sender interface {
	Send(ctx context.Context, req services.SendRequest) (models.Comment, error)
}

// Uploader stores files and appends them to comments.
type Uploader interface {
	Upload(ctx context.Context, in services.UploadInput) (models.Comment, models.Attachment, error)
}

// CommentHandler manages comment sends and attachment uploads.
type CommentHandler struct {
	rooms    RoomService
	sender   Sender
	uploader Uploader
	audit    *telemetry.AuditEmitter
}

// NewCommentHandler constructs a CommentHandler.
func NewCommentHandler(rooms RoomService, sender Sender, uploader Uploader, audit *telemetry.AuditEmitter) *CommentHandler {
	return &CommentHandler{rooms: rooms, sender: sender, uploader: uploader, audit: audit}
}

type sendCommentRequest struct {
	AuthorID         string              `json:"author_id"`
	Type             string              `json:"type"`
	Text             string              `json:"text"`
	Attachments      []models.Attachment `json:"attachments"`
	IdempotencyToken string              `json:"idempotency_token"`
}

func (r sendCommentRequest) token(c *gin.Context) string {
	if t := strings.TrimSpace(r.IdempotencyToken); t != "" {
		return t
	}
	return strings.TrimSpace(c.GetHeader(headerIdempotencyKey))
}

// PostComment handles POST /rooms/:room_id/comments.
func (h *CommentHandler) PostComment(c *gin.Context) {
	roomID, ok := parseID(c, "room_id")
	if !ok {
		return
	}
	var req sendCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload", &roomID)
		badRequest(c, err.Error())
		return
	}
	authorID := req.AuthorID
	if authorID == "" {
		authorID = observability.ParticipantIDFromRequest(c.Request)
	}

	comment, err := h.sender.Send(c.Request.Context(), services.SendRequest{
		RoomID:      roomID,
		AuthorID:    authorID,
		Type:        req.Type,
		Text:        req.Text,
		Attachments: req.Attachments,
		Token:       req.token(c),
	})
	if err != nil {
		h.emitAudit(c, "ERROR", "comment send failed", &roomID)
		writeError(c, err)
		return
	}
	h.emitAudit(c, "INFO", "Comment sent", &roomID)
	c.JSON(http.StatusCreated, comment)
}

// PostPersonalComment handles POST /personal/:participant_id/comments. The
// system participant is the author; the personal room is created on demand.
func (h *CommentHandler) PostPersonalComment(c *gin.Context) {
	var req sendCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	room, err := h.rooms.PersonalRoom(c.Request.Context(), c.Param("participant_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	comment, err := h.sender.Send(c.Request.Context(), services.SendRequest{
		RoomID:      room.ID,
		AuthorID:    h.rooms.SystemParticipant().ID,
		Type:        req.Type,
		Text:        req.Text,
		Attachments: req.Attachments,
		Token:       req.token(c),
	})
	if err != nil {
		h.emitAudit(c, "ERROR", "personal comment send failed", &room.ID)
		writeError(c, err)
		return
	}
	h.emitAudit(c, "INFO", "Personal comment sent", &room.ID)
	c.JSON(http.StatusCreated, comment)
}

// UploadAttachment handles POST /comments/:comment_id/attachments.
func (h *CommentHandler) UploadAttachment(c *gin.Context) {
	commentID, ok := parseID(c, "comment_id")
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	file, err := fh.Open()
	if err != nil {
		badRequest(c, "unreadable file")
		return
	}
	defer file.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(fh.Filename))); byExt != "" {
			contentType = byExt
		}
	}
	kind := c.PostForm("type")
	if kind == "" {
		kind = models.KindFromName(fh.Filename)
	}

	comment, att, err := h.uploader.Upload(c.Request.Context(), services.UploadInput{
		CommentID:   commentID,
		Kind:        kind,
		FileName:    fh.Filename,
		ContentType: contentType,
		Size:        fh.Size,
		Body:        file,
	})
	if err != nil {
		h.emitAudit(c, "ERROR", "attachment upload failed", nil)
		writeError(c, err)
		return
	}
	h.emitAudit(c, "INFO", "Attachment uploaded", &comment.RoomID)
	c.JSON(http.StatusCreated, gin.H{"comment": comment, "attachment": att})
}

func (h *CommentHandler) emitAudit(c *gin.Context, level, text string, roomID *int64) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), participantIDFromContext(c), roomID)
}
