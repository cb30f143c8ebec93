package services_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"room-chat-service/internal/apperr"
	"room-chat-service/internal/mocks"
	"room-chat-service/internal/models"
	"room-chat-service/internal/services"
)

func seedComment(t *testing.T) (*services.SendPipeline, models.Comment, func() (models.Comment, error)) {
	t.Helper()
	store, room := seedRoom(t)
	pipeline := services.NewSendPipeline(store, nil, nil, zap.NewNop(), services.PipelineConfig{})
	c, err := pipeline.Send(context.Background(), services.SendRequest{RoomID: room.ID, AuthorID: "A", Text: "see file", Token: "T"})
	require.NoError(t, err)
	return pipeline, c, func() (models.Comment, error) { return store.GetComment(context.Background(), c.ID) }
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestUploadAppendsAttachmentAndBroadcasts(t *testing.T) {
	store, room := seedRoom(t)
	pipeline := services.NewSendPipeline(store, nil, nil, zap.NewNop(), services.PipelineConfig{})
	c, err := pipeline.Send(context.Background(), services.SendRequest{RoomID: room.ID, AuthorID: "A", Text: "see file", Token: "T"})
	require.NoError(t, err)

	objects := new(mocks.ObjectStoreMock)
	objects.On("Put", mock.Anything, mock.MatchedBy(func(k string) bool { return strings.HasSuffix(k, "-report.pdf") }), "application/pdf", mock.Anything, int64(4)).
		Return("https://cdn.example.com/report.pdf", nil).Once()
	broadcaster := new(mocks.BroadcasterMock)
	broadcaster.On("BroadcastComment", room.ID, mock.MatchedBy(func(e models.CommentEvent) bool {
		return e.Type == models.EventCommentUpdated && len(e.Comment.Attachments) == 1
	})).Once()

	svc := services.NewAttachmentService(store, objects, broadcaster, zap.NewNop(), 1024)
	updated, att, err := svc.Upload(context.Background(), services.UploadInput{
		CommentID:   c.ID,
		Kind:        "document",
		FileName:    "report.pdf",
		ContentType: "application/pdf; charset=binary",
		Size:        4,
		Body:        strings.NewReader("%PDF"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.Attachment{URL: "https://cdn.example.com/report.pdf", Kind: models.AttachmentDocument, Name: "report.pdf", Size: 4}, att)
	assert.Equal(t, models.Attachments{att}, updated.Attachments)

	objects.AssertExpectations(t)
	broadcaster.AssertExpectations(t)
}

func TestUploadStorageFailureLeavesCommentUntouched(t *testing.T) {
	_, c, reload := seedComment(t)
	store := new(mocks.CommentRepositoryMock)
	store.On("GetComment", mock.Anything, c.ID).Return(c, nil).Once()
	objects := new(mocks.ObjectStoreMock)
	objects.On("Put", mock.Anything, mock.Anything, "application/pdf", mock.Anything, int64(4)).Return("", errors.New("bucket unreachable")).Once()

	svc := services.NewAttachmentService(store, objects, nil, zap.NewNop(), 1024)
	_, _, err := svc.Upload(context.Background(), services.UploadInput{
		CommentID: c.ID, Kind: "DOCUMENT", FileName: "a.pdf", ContentType: "application/pdf", Size: 4, Body: strings.NewReader("%PDF"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrStorage))
	store.AssertNotCalled(t, "AppendAttachment", mock.Anything, mock.Anything, mock.Anything)

	stored, err := reload()
	require.NoError(t, err)
	assert.Empty(t, stored.Attachments)
}

func TestUploadValidation(t *testing.T) {
	_, c, _ := seedComment(t)
	objects := new(mocks.ObjectStoreMock)
	comments := new(mocks.CommentRepositoryMock)
	comments.On("GetComment", mock.Anything, c.ID).Return(c, nil)
	comments.On("GetComment", mock.Anything, int64(999)).Return(nil, apperr.NotFound("comment not found"))
	svc := services.NewAttachmentService(comments, objects, nil, zap.NewNop(), 8)

	tests := []struct {
		name string
		in   services.UploadInput
		kind error
	}{
		{"unknown kind", services.UploadInput{CommentID: c.ID, Kind: "AUDIO", ContentType: "audio/mpeg", Body: strings.NewReader("x")}, apperr.ErrValidation},
		{"content type mismatch", services.UploadInput{CommentID: c.ID, Kind: "IMAGE", ContentType: "application/pdf", Body: strings.NewReader("x")}, apperr.ErrValidation},
		{"declared too large", services.UploadInput{CommentID: c.ID, Kind: "DOCUMENT", ContentType: "application/pdf", Size: 9, Body: strings.NewReader("x")}, apperr.ErrValidation},
		{"body too large", services.UploadInput{CommentID: c.ID, Kind: "DOCUMENT", ContentType: "application/pdf", Body: strings.NewReader("123456789")}, apperr.ErrValidation},
		{"missing body", services.UploadInput{CommentID: c.ID, Kind: "DOCUMENT", ContentType: "application/pdf"}, apperr.ErrValidation},
		{"unknown comment", services.UploadInput{CommentID: 999, Kind: "DOCUMENT", ContentType: "application/pdf", Body: strings.NewReader("x")}, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Upload(context.Background(), tt.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), err.Error())
		})
	}
	objects.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadImageStoresThumbnail(t *testing.T) {
	_, c, _ := seedComment(t)
	comments := new(mocks.CommentRepositoryMock)
	comments.On("GetComment", mock.Anything, c.ID).Return(c, nil).Once()
	comments.On("AppendAttachment", mock.Anything, c.ID, mock.MatchedBy(func(a models.Attachment) bool {
		return a.Kind == models.AttachmentImage && a.ThumbnailURL == "https://cdn/thumb.jpg"
	})).Return(c, nil).Once()

	objects := new(mocks.ObjectStoreMock)
	objects.On("Put", mock.Anything, mock.MatchedBy(func(k string) bool { return strings.HasSuffix(k, "photo.png") }), "image/png", mock.Anything, mock.Anything).
		Return("https://cdn/photo.png", nil).Once()
	objects.On("Put", mock.Anything, mock.MatchedBy(func(k string) bool { return strings.HasSuffix(k, "_thumb.jpg") }), "image/jpeg", mock.Anything, mock.Anything).
		Return("https://cdn/thumb.jpg", nil).Once()

	data := pngBytes(t, 640, 10)
	svc := services.NewAttachmentService(comments, objects, nil, zap.NewNop(), 1<<20)
	_, att, err := svc.Upload(context.Background(), services.UploadInput{
		CommentID: c.ID, Kind: "IMAGE", FileName: "photo.png", ContentType: "image/png", Size: int64(len(data)), Body: bytes.NewReader(data),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/photo.png", att.URL)
	assert.Equal(t, "https://cdn/thumb.jpg", att.ThumbnailURL)
	objects.AssertExpectations(t)
	comments.AssertExpectations(t)
}
