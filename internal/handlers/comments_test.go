package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"room-chat-service/internal/apperr"
	"room-chat-service/internal/mocks"
	"room-chat-service/internal/models"
	"room-chat-service/internal/repositories"
	"room-chat-service/internal/services"
	"room-chat-service/internal/telemetry"
)

func setupCommentRouter(handler *CommentHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/rooms/:room_id/comments", handler.PostComment)
	r.POST("/personal/:participant_id/comments", handler.PostPersonalComment)
	r.POST("/comments/:comment_id/attachments", handler.UploadAttachment)
	return r
}

func postJSON(router http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPostCommentUsesIdempotencyHeader(t *testing.T) {
	sender := new(mocks.SenderMock)
	router := setupCommentRouter(NewCommentHandler(new(mocks.RoomServiceMock), sender, nil, nil))

	sender.On("Send", mock.Anything, services.SendRequest{RoomID: 2, AuthorID: "A", Text: "hi", Token: "T1"}).
		Return(models.Comment{ID: 1, RoomID: 2, AuthorID: "A", Text: "hi"}, nil).Once()

	rec := postJSON(router, "/rooms/2/comments", `{"author_id":"A","text":"hi"}`, map[string]string{headerIdempotencyKey: "T1"})

	require.Equal(t, http.StatusCreated, rec.Code)
	var comment models.Comment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&comment))
	assert.Equal(t, int64(1), comment.ID)
	sender.AssertExpectations(t)
}

func TestPostCommentEmitsAudit(t *testing.T) {
	sender := new(mocks.SenderMock)
	pub := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(pub, "audit", "room-chat-service", "test", zap.NewNop())
	router := setupCommentRouter(NewCommentHandler(new(mocks.RoomServiceMock), sender, nil, audit))

	sender.On("Send", mock.Anything, mock.Anything).Return(models.Comment{ID: 1, RoomID: 2}, nil).Once()
	pub.On("Publish", mock.Anything, "audit", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Level == "INFO" && env.Payload.Text == "Comment sent" &&
			env.Payload.RoomID != nil && *env.Payload.RoomID == 2 &&
			env.ParticipantID != nil && *env.ParticipantID == "A"
	})).Return(nil).Once()

	rec := postJSON(router, "/rooms/2/comments", `{"author_id":"A","text":"hi","idempotency_token":"T1"}`,
		map[string]string{"X-Participant-ID": "A"})

	require.Equal(t, http.StatusCreated, rec.Code)
	sender.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestPostCommentBodyTokenWinsAndHeaderAuthor(t *testing.T) {
	sender := new(mocks.SenderMock)
	router := setupCommentRouter(NewCommentHandler(new(mocks.RoomServiceMock), sender, nil, nil))

	sender.On("Send", mock.Anything, services.SendRequest{RoomID: 2, AuthorID: "B", Text: "yo", Token: "body"}).
		Return(models.Comment{ID: 3}, nil).Once()

	rec := postJSON(router, "/rooms/2/comments", `{"text":"yo","idempotency_token":"body"}`,
		map[string]string{headerIdempotencyKey: "header", "X-Participant-ID": "B"})

	require.Equal(t, http.StatusCreated, rec.Code)
	sender.AssertExpectations(t)
}

func TestPostCommentErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", apperr.Validation("message must have text or at least one attachment"), http.StatusBadRequest, "validation"},
		{"forbidden", apperr.Forbidden("not a participant"), http.StatusForbidden, "forbidden"},
		{"conflict", apperr.Conflict(nil, "send in progress"), http.StatusConflict, "conflict"},
		{"transient", apperr.Transient(assert.AnError, "database unavailable"), http.StatusServiceUnavailable, "transient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := new(mocks.SenderMock)
			router := setupCommentRouter(NewCommentHandler(new(mocks.RoomServiceMock), sender, nil, nil))
			sender.On("Send", mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			rec := postJSON(router, "/rooms/2/comments", `{"author_id":"A","text":"","idempotency_token":"T"}`, nil)

			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec)["code"])
			if tt.status == http.StatusConflict {
				assert.Equal(t, conflictRetryAfter, rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestPostPersonalCommentAuthoredBySystem(t *testing.T) {
	svc := new(mocks.RoomServiceMock)
	sender := new(mocks.SenderMock)
	router := setupCommentRouter(NewCommentHandler(svc, sender, nil, nil))

	svc.On("PersonalRoom", mock.Anything, "u1").Return(models.Room{ID: 8}, nil).Once()
	svc.On("SystemParticipant").Return(models.Participant{ID: "agent@mail.com"}).Once()
	sender.On("Send", mock.Anything, services.SendRequest{RoomID: 8, AuthorID: "agent@mail.com", Text: "welcome", Token: "T"}).
		Return(models.Comment{ID: 1, RoomID: 8}, nil).Once()

	rec := postJSON(router, "/personal/u1/comments", `{"text":"welcome","idempotency_token":"T"}`, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	svc.AssertExpectations(t)
	sender.AssertExpectations(t)
}

func multipartUpload(t *testing.T, fileName, contentType, kind string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if kind != "" {
		require.NoError(t, w.WriteField("type", kind))
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/comments/4/attachments", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadAttachmentSuccess(t *testing.T) {
	uploader := new(mocks.UploaderMock)
	router := setupCommentRouter(NewCommentHandler(new(mocks.RoomServiceMock), nil, uploader, nil))

	att := models.Attachment{URL: "https://cdn/a.pdf", Kind: models.AttachmentDocument, Name: "a.pdf", Size: 4}
	uploader.On("Upload", mock.Anything, mock.MatchedBy(func(in services.UploadInput) bool {
		return in.CommentID == 4 && in.Kind == "DOCUMENT" && in.FileName == "a.pdf" && in.ContentType == "application/pdf" && in.Size == 4
	})).Return(models.Comment{ID: 4, RoomID: 1, Attachments: models.Attachments{att}}, att, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartUpload(t, "a.pdf", "application/pdf", "", []byte("%PDF")))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Attachment models.Attachment `json:"attachment"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, att, resp.Attachment)
	uploader.AssertExpectations(t)
}

func TestUploadAttachmentStorageFailure(t *testing.T) {
	uploader := new(mocks.UploaderMock)
	router := setupCommentRouter(NewCommentHandler(new(mocks.RoomServiceMock), nil, uploader, nil))
	uploader.On("Upload", mock.Anything, mock.Anything).Return(nil, nil, apperr.Storage(assert.AnError, "failed to store attachment")).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartUpload(t, "a.png", "image/png", "IMAGE", []byte("png")))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "storage", decodeError(t, rec)["code"])
}

func TestUploadAttachmentMissingFile(t *testing.T) {
	router := setupCommentRouter(NewCommentHandler(new(mocks.RoomServiceMock), nil, new(mocks.UploaderMock), nil))

	req := httptest.NewRequest(http.MethodPost, "/comments/4/attachments", bytes.NewBufferString("type=IMAGE"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// Full request path against the in-memory store.
func TestSendAndListOverHTTP(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMemoryStore()
	for _, p := range []models.Participant{{ID: "A", Name: "Alice", Role: 2}, {ID: "B", Name: "Bob", Role: 2}} {
		_, err := store.UpsertParticipant(ctx, p)
		require.NoError(t, err)
	}
	room, err := store.CreateRoom(ctx, "general", nil, []string{"A", "B"})
	require.NoError(t, err)

	rooms := services.NewRoomService(store, store, services.RoomServiceConfig{})
	pipeline := services.NewSendPipeline(store, nil, nil, zap.NewNop(), services.PipelineConfig{})
	router := setupCommentRouter(NewCommentHandler(rooms, pipeline, nil, nil))
	roomHandler := NewRoomHandler(rooms, nil)
	router.GET("/rooms/:room_id/comments", roomHandler.ListComments)

	first := postJSON(router, "/rooms/1/comments", `{"author_id":"A","text":"hi","idempotency_token":"T1"}`, nil)
	require.Equal(t, http.StatusCreated, first.Code)
	retry := postJSON(router, "/rooms/1/comments", `{"author_id":"A","text":"hi","idempotency_token":"T1"}`, nil)
	require.Equal(t, http.StatusCreated, retry.Code)
	second := postJSON(router, "/rooms/1/comments", `{"author_id":"B","text":"hello","idempotency_token":"T2"}`, nil)
	require.Equal(t, http.StatusCreated, second.Code)
	empty := postJSON(router, "/rooms/1/comments", `{"author_id":"A","text":"","idempotency_token":"T3"}`, nil)
	require.Equal(t, http.StatusBadRequest, empty.Code)

	var c1, c1again models.Comment
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &c1))
	require.NoError(t, json.Unmarshal(retry.Body.Bytes(), &c1again))
	assert.Equal(t, c1.ID, c1again.ID)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/1/comments?limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var page models.CommentPage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Comments, 2)
	assert.Equal(t, []int64{2, 1}, []int64{page.Comments[0].ID, page.Comments[1].ID})
	assert.Equal(t, room.ID, page.Comments[0].RoomID)
}
