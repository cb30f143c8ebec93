package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"room-chat-service/internal/models"
	"room-chat-service/internal/services"
	"room-chat-service/internal/telemetry"
)

// RoomService is the room and history surface the handlers need.
type RoomService interface {
	SystemParticipant() models.Participant
	CreateRoom(ctx context.Context, in services.CreateRoomInput) (models.Room, error)
	GetRoom(ctx context.Context, roomID int64) (models.Room, error)
	AddParticipant(ctx context.Context, roomID int64, participantID string) error
	ProvisionParticipant(ctx context.Context, p models.Participant) (models.Participant, models.Room, error)
	ListParticipants(ctx context.Context) ([]models.Participant, error)
	PersonalRoom(ctx context.Context, participantID string) (models.Room, error)
	FindPersonalRoom(ctx context.Context, participantID string) (models.Room, bool, error)
	ListComments(ctx context.Context, roomID int64, limit, offset int) (models.CommentPage, error)
	GetComment(ctx context.Context, commentID int64) (models.Comment, error)
}

// RoomHandler manages rooms, participants and history.
type RoomHandler struct {
	rooms RoomService
	audit *telemetry.AuditEmitter
}

// NewRoomHandler constructs a RoomHandler.
func NewRoomHandler(rooms RoomService, audit *telemetry.AuditEmitter) *RoomHandler {
	return &RoomHandler{rooms: rooms, audit: audit}
}

// CreateRoom handles POST /rooms.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req struct {
		Name           string   `json:"name" binding:"required"`
		ImageURL       *string  `json:"image_url"`
		ParticipantIDs []string `json:"participant_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload", nil)
		badRequest(c, err.Error())
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), services.CreateRoomInput{
		Name:           req.Name,
		ImageURL:       req.ImageURL,
		ParticipantIDs: req.ParticipantIDs,
	})
	if err != nil {
		h.emitAudit(c, "ERROR", "room create failed", nil)
		writeError(c, err)
		return
	}

	h.emitAudit(c, "INFO", "Room created", &room.ID)
	c.JSON(http.StatusCreated, room)
}

// GetRoom handles GET /rooms/:room_id.
func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID, ok := parseID(c, "room_id")
	if !ok {
		return
	}
	room, err := h.rooms.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// AddParticipant handles POST /rooms/:room_id/participants.
func (h *RoomHandler) AddParticipant(c *gin.Context) {
	roomID, ok := parseID(c, "room_id")
	if !ok {
		return
	}
	var req struct {
		ParticipantID string `json:"participant_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.rooms.AddParticipant(c.Request.Context(), roomID, req.ParticipantID); err != nil {
		h.emitAudit(c, "ERROR", "add participant failed", &roomID)
		writeError(c, err)
		return
	}
	h.emitAudit(c, "INFO", "Participant added", &roomID)
	c.Status(http.StatusNoContent)
}

// ListComments handles GET /rooms/:room_id/comments.
func (h *RoomHandler) ListComments(c *gin.Context) {
	roomID, ok := parseID(c, "room_id")
	if !ok {
		return
	}
	limit, offset, ok := parsePaging(c)
	if !ok {
		return
	}
	page, err := h.rooms.ListComments(c.Request.Context(), roomID, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetComment handles GET /comments/:comment_id.
func (h *RoomHandler) GetComment(c *gin.Context) {
	commentID, ok := parseID(c, "comment_id")
	if !ok {
		return
	}
	comment, err := h.rooms.GetComment(c.Request.Context(), commentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, comment)
}

// ProvisionParticipant handles POST /participants.
func (h *RoomHandler) ProvisionParticipant(c *gin.Context) {
	var req struct {
		ID   string `json:"id" binding:"required"`
		Name string `json:"name" binding:"required"`
		Role int    `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	participant, room, err := h.rooms.ProvisionParticipant(c.Request.Context(), models.Participant{ID: req.ID, Name: req.Name, Role: req.Role})
	if err != nil {
		writeError(c, err)
		return
	}
	h.emitAudit(c, "INFO", "Participant provisioned", &room.ID)
	c.JSON(http.StatusCreated, gin.H{"participant": participant, "room": room})
}

// ListParticipants handles GET /participants.
func (h *RoomHandler) ListParticipants(c *gin.Context) {
	list, err := h.rooms.ListParticipants(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": list})
}

// ListPersonalComments handles GET /personal/:participant_id/comments.
func (h *RoomHandler) ListPersonalComments(c *gin.Context) {
	limit, offset, ok := parsePaging(c)
	if !ok {
		return
	}
	room, found, err := h.rooms.FindPersonalRoom(c.Request.Context(), c.Param("participant_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"room": nil, "comments": []models.Comment{}, "total": 0, "limit": limit, "offset": offset})
		return
	}
	page, err := h.rooms.ListComments(c.Request.Context(), room.ID, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "comments": page.Comments, "total": page.Total, "limit": page.Limit, "offset": page.Offset})
}

func (h *RoomHandler) emitAudit(c *gin.Context, level, text string, roomID *int64) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), participantIDFromContext(c), roomID)
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		switch param {
		case "comment_id":
			badRequest(c, "invalid comment id")
		default:
			badRequest(c, "invalid room id")
		}
		return 0, false
	}
	return id, true
}

func parsePaging(c *gin.Context) (int, int, bool) {
	limit, offset := 0, 0
	var err error
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			badRequest(c, "invalid limit")
			return 0, 0, false
		}
	}
	if v := c.Query("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			badRequest(c, "invalid offset")
			return 0, 0, false
		}
	}
	return limit, offset, true
}
