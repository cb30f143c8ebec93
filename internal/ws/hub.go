package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"room-chat-service/internal/models"
	"room-chat-service/internal/observability"
)

const (
	wsRoutingKey = "ws_events.rooms"
	writeTimeout = 5 * time.Second
)

// EventPublisher receives connection lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type client struct {
	conn *websocket.Conn
	info ConnInfo
	// gorilla connections allow one concurrent writer
	writeMu sync.Mutex
}

// Hub maintains live subscribers per room.
type Hub struct {
	rooms     map[int64]map[*websocket.Conn]*client
	mu        sync.RWMutex
	publisher EventPublisher
	logger    *zap.Logger
}

// NewHub creates an empty hub. publisher may be nil.
func NewHub(publisher EventPublisher, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:     make(map[int64]map[*websocket.Conn]*client),
		publisher: publisher,
		logger:    logger,
	}
}

// AddClient registers a websocket connection to a room.
func (h *Hub) AddClient(roomID int64, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*websocket.Conn]*client)
	}
	h.rooms[roomID][conn] = &client{conn: conn, info: info}
}

// RemoveClient removes a websocket connection. Unknown connections are ignored.
func (h *Hub) RemoveClient(roomID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[roomID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// ClientCount returns the number of subscribers of roomID.
func (h *Hub) ClientCount(roomID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// BroadcastComment writes event to every subscriber of roomID. Subscribers
// that fail the write are dropped. Safe on a nil hub.
func (h *Hub) BroadcastComment(roomID int64, event models.CommentEvent) {
	if h == nil {
		return
	}
	h.mu.RLock()
	clients := make([]*client, 0, len(h.rooms[roomID]))
	for _, c := range h.rooms[roomID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	if len(clients) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encode websocket event", zap.Int64("room_id", roomID), zap.Error(err))
		return
	}
	for _, c := range clients {
		if err := c.write(payload); err != nil {
			h.logger.Warn("websocket write error", zap.Int64("room_id", roomID), zap.String("conn_id", c.info.ConnID), zap.Error(err))
			_ = c.conn.Close()
			h.RemoveClient(roomID, c.conn)
			h.publishWSEvent(context.Background(), "ws_error", roomID, c.info, err.Error())
		}
	}
}

func (c *client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (h *Hub) publishWSEvent(ctx context.Context, name string, roomID int64, info ConnInfo, reason string) {
	observability.IncWSEvent(name)
	if h.publisher == nil {
		return
	}
	var duration int64
	if name != "ws_connect" {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	envelope := observability.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"room_id":     roomID,
				"event":       name,
				"conn_id":     info.ConnID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"participant_id": info.ParticipantID,
				"device_id":      info.DeviceID,
				"ip":             info.IP,
			},
		},
	}
	ctx = observability.WithRequestID(ctx, info.RequestID)
	if err := h.publisher.Publish(ctx, wsRoutingKey, envelope); err != nil {
		h.logger.Debug("ws event publish failed", zap.String("event", name), zap.Error(err))
	}
}
