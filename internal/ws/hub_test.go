package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"room-chat-service/internal/models"
	"room-chat-service/internal/observability"
	"room-chat-service/internal/repositories"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []observability.EventEnvelope
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if env, ok := event.(observability.EventEnvelope); ok {
		p.events = append(p.events, env)
	}
	return nil
}

func (p *capturePublisher) connIDs(name string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for _, env := range p.events {
		if env.EventName != name {
			continue
		}
		payload := env.Payload.(map[string]interface{})
		ws := payload["ws"].(map[string]interface{})
		ids = append(ids, ws["conn_id"].(string))
	}
	return ids
}

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())

	hub.AddClient(1, nil, ConnInfo{ConnID: "c1"})
	if hub.ClientCount(1) != 1 {
		t.Fatalf("expected room to be created")
	}

	hub.RemoveClient(1, nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected room to be removed")
	}
	hub.RemoveClient(1, nil)
}

func TestNilHubBroadcastIsNoop(t *testing.T) {
	var hub *Hub
	hub.BroadcastComment(1, models.CommentEvent{Type: models.EventCommentCreated})
}

func setupWSServer(t *testing.T) (*Hub, *repositories.MemoryStore, models.Room, *httptest.Server) {
	t.Helper()
	return setupWSServerWithPublisher(t, nil)
}

func setupWSServerWithPublisher(t *testing.T, publisher EventPublisher) (*Hub, *repositories.MemoryStore, models.Room, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	store := repositories.NewMemoryStore()
	for _, p := range []models.Participant{{ID: "A", Name: "Alice", Role: 2}, {ID: "C", Name: "Carol", Role: 2}} {
		_, err := store.UpsertParticipant(ctx, p)
		require.NoError(t, err)
	}
	room, err := store.CreateRoom(ctx, "general", nil, []string{"A"})
	require.NoError(t, err)

	hub := NewHub(publisher, zap.NewNop())
	router := gin.New()
	router.GET("/ws/rooms/:room_id", NewRoomWebSocketHandler(hub, store).Handle)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return hub, store, room, srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestRoomWebSocketReceivesBroadcast(t *testing.T) {
	hub, _, room, srv := setupWSServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/rooms/1?participant_id=A"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount(room.ID) == 1 }, time.Second, 10*time.Millisecond)

	hub.BroadcastComment(room.ID, models.CommentEvent{
		Type:    models.EventCommentCreated,
		RoomID:  room.ID,
		Comment: models.Comment{ID: 9, RoomID: room.ID, AuthorID: "A", Text: "hi"},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var got models.CommentEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, models.EventCommentCreated, got.Type)
	assert.Equal(t, int64(9), got.Comment.ID)
	assert.Equal(t, "hi", got.Comment.Text)

	// other rooms are not delivered to this subscriber
	hub.BroadcastComment(room.ID+1, models.CommentEvent{Type: models.EventCommentCreated, RoomID: room.ID + 1})

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount(room.ID) == 0 }, time.Second, 10*time.Millisecond)
}

func TestRoomWebSocketRejectsNonMembers(t *testing.T) {
	_, _, _, srv := setupWSServer(t)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"bad room id", "/ws/rooms/abc?participant_id=A", http.StatusBadRequest},
		{"missing participant", "/ws/rooms/1", http.StatusBadRequest},
		{"non member", "/ws/rooms/1?participant_id=C", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, tt.path), nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestRoomWebSocketPublishesConnectionEvents(t *testing.T) {
	publisher := &capturePublisher{}
	hub, _, room, srv := setupWSServerWithPublisher(t, publisher)

	first, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/rooms/1?participant_id=A"), nil)
	require.NoError(t, err)
	second, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/rooms/1?participant_id=A"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount(room.ID) == 2 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(publisher.connIDs("ws_connect")) == 2 }, time.Second, 10*time.Millisecond)

	ids := publisher.connIDs("ws_connect")
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
	for _, id := range ids {
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
	}

	first.Close()
	second.Close()
	require.Eventually(t, func() bool { return len(publisher.connIDs("ws_disconnect")) == 2 }, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, ids, publisher.connIDs("ws_disconnect"))
}
