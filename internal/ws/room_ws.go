package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"room-chat-service/internal/apperr"
	"room-chat-service/internal/observability"
)

// MembershipChecker reports room membership.
type MembershipChecker interface {
	IsParticipant(ctx context.Context, roomID int64, participantID string) (bool, error)
}

// RoomWebSocketHandler upgrades room members to a live comment feed.
type RoomWebSocketHandler struct {
	hub   *Hub
	rooms MembershipChecker
}

// NewRoomWebSocketHandler constructs a RoomWebSocketHandler.
func NewRoomWebSocketHandler(hub *Hub, rooms MembershipChecker) *RoomWebSocketHandler {
	return &RoomWebSocketHandler{hub: hub, rooms: rooms}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers the client.
func (h *RoomWebSocketHandler) Handle(c *gin.Context) {
	roomID, err := strconv.ParseInt(c.Param("room_id"), 10, 64)
	if err != nil || roomID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id", "code": "validation"})
		return
	}

	ctx, span := otel.Tracer("room-chat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	participantID := strings.TrimSpace(c.Query("participant_id"))
	if participantID == "" {
		participantID = observability.ParticipantIDFromRequest(c.Request)
	}
	if participantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participant_id is required", "code": "validation"})
		return
	}
	span.SetAttributes(attribute.Int64("room.id", roomID), attribute.String("participant.id", participantID))

	member, err := h.rooms.IsParticipant(ctx, roomID, participantID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found", "code": "not_found"})
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "membership check failed", "code": apperr.Code(err)})
		return
	case !member:
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of room", "code": "forbidden"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:        uuid.NewString(),
		ParticipantID: participantID,
		DeviceID:      observability.DeviceIDFromRequest(c.Request),
		IP:            observability.IPFromRequest(c.Request),
		RequestID:     observability.RequestIDFromRequest(c.Request),
		TraceID:       span.SpanContext().TraceID().String(),
		ConnectedAt:   time.Now(),
	}
	h.hub.AddClient(roomID, conn, info)
	observability.IncWSActive()
	h.hub.publishWSEvent(context.Background(), "ws_connect", roomID, info, "")

	// inbound frames are ignored; the read loop only detects close
	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveClient(roomID, conn)
			observability.DecWSActive()
			h.hub.publishWSEvent(context.Background(), "ws_disconnect", roomID, info, closeReason)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.hub.publishWSEvent(context.Background(), "ws_error", roomID, info, closeReason)
				}
				return
			}
		}
	}()
}
