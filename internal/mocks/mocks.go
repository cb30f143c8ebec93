package mocks

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"room-chat-service/internal/models"
	"room-chat-service/internal/repositories"
	"room-chat-service/internal/storage"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) CreateRoom(ctx context.Context, name string, imageURL *string, participantIDs []string) (models.Room, error) {
	args := m.Called(ctx, name, imageURL, participantIDs)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) AddParticipant(ctx context.Context, roomID int64, participantID string) error {
	args := m.Called(ctx, roomID, participantID)
	return args.Error(0)
}

func (m *RoomRepositoryMock) IsParticipant(ctx context.Context, roomID int64, participantID string) (bool, error) {
	args := m.Called(ctx, roomID, participantID)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) UpsertParticipant(ctx context.Context, p models.Participant) (models.Participant, error) {
	args := m.Called(ctx, p)
	var out models.Participant
	if val := args.Get(0); val != nil {
		out = val.(models.Participant)
	}
	return out, args.Error(1)
}

func (m *RoomRepositoryMock) GetParticipant(ctx context.Context, participantID string) (models.Participant, error) {
	args := m.Called(ctx, participantID)
	var out models.Participant
	if val := args.Get(0); val != nil {
		out = val.(models.Participant)
	}
	return out, args.Error(1)
}

func (m *RoomRepositoryMock) ListParticipants(ctx context.Context, excludeIDs ...string) ([]models.Participant, error) {
	args := m.Called(ctx, excludeIDs)
	var list []models.Participant
	if val := args.Get(0); val != nil {
		list = val.([]models.Participant)
	}
	return list, args.Error(1)
}

func (m *RoomRepositoryMock) FindDirectRoom(ctx context.Context, a, b string) (models.Room, error) {
	args := m.Called(ctx, a, b)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) FindOrCreateDirectRoom(ctx context.Context, name string, a, b string) (models.Room, error) {
	args := m.Called(ctx, name, a, b)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

type CommentRepositoryMock struct {
	mock.Mock
}

func (m *CommentRepositoryMock) AppendComment(ctx context.Context, in models.NewComment) (models.AppendResult, error) {
	args := m.Called(ctx, in)
	var res models.AppendResult
	if val := args.Get(0); val != nil {
		res = val.(models.AppendResult)
	}
	return res, args.Error(1)
}

func (m *CommentRepositoryMock) GetComment(ctx context.Context, commentID int64) (models.Comment, error) {
	args := m.Called(ctx, commentID)
	var c models.Comment
	if val := args.Get(0); val != nil {
		c = val.(models.Comment)
	}
	return c, args.Error(1)
}

func (m *CommentRepositoryMock) ListComments(ctx context.Context, roomID int64, limit, offset int) ([]models.Comment, int, error) {
	args := m.Called(ctx, roomID, limit, offset)
	var list []models.Comment
	if val := args.Get(0); val != nil {
		list = val.([]models.Comment)
	}
	return list, args.Int(1), args.Error(2)
}

func (m *CommentRepositoryMock) AppendAttachment(ctx context.Context, commentID int64, att models.Attachment) (models.Comment, error) {
	args := m.Called(ctx, commentID, att)
	var c models.Comment
	if val := args.Get(0); val != nil {
		c = val.(models.Comment)
	}
	return c, args.Error(1)
}

func (m *CommentRepositoryMock) PurgeSendTokens(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type ObjectStoreMock struct {
	mock.Mock
}

func (m *ObjectStoreMock) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	args := m.Called(ctx, key, contentType, body, size)
	return args.String(0), args.Error(1)
}

type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) BroadcastComment(roomID int64, event models.CommentEvent) {
	m.Called(roomID, event)
}

var _ repositories.RoomRepository = (*RoomRepositoryMock)(nil)
var _ repositories.CommentRepository = (*CommentRepositoryMock)(nil)
var _ storage.ObjectStore = (*ObjectStoreMock)(nil)
