package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"room-chat-service/internal/models"
	"room-chat-service/internal/services"
)

type RoomServiceMock struct {
	mock.Mock
}

func (m *RoomServiceMock) SystemParticipant() models.Participant {
	args := m.Called()
	return args.Get(0).(models.Participant)
}

func (m *RoomServiceMock) CreateRoom(ctx context.Context, in services.CreateRoomInput) (models.Room, error) {
	args := m.Called(ctx, in)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomServiceMock) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomServiceMock) AddParticipant(ctx context.Context, roomID int64, participantID string) error {
	args := m.Called(ctx, roomID, participantID)
	return args.Error(0)
}

func (m *RoomServiceMock) ProvisionParticipant(ctx context.Context, p models.Participant) (models.Participant, models.Room, error) {
	args := m.Called(ctx, p)
	var participant models.Participant
	if val := args.Get(0); val != nil {
		participant = val.(models.Participant)
	}
	var room models.Room
	if val := args.Get(1); val != nil {
		room = val.(models.Room)
	}
	return participant, room, args.Error(2)
}

func (m *RoomServiceMock) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	args := m.Called(ctx)
	var list []models.Participant
	if val := args.Get(0); val != nil {
		list = val.([]models.Participant)
	}
	return list, args.Error(1)
}

func (m *RoomServiceMock) PersonalRoom(ctx context.Context, participantID string) (models.Room, error) {
	args := m.Called(ctx, participantID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomServiceMock) FindPersonalRoom(ctx context.Context, participantID string) (models.Room, bool, error) {
	args := m.Called(ctx, participantID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Bool(1), args.Error(2)
}

func (m *RoomServiceMock) ListComments(ctx context.Context, roomID int64, limit, offset int) (models.CommentPage, error) {
	args := m.Called(ctx, roomID, limit, offset)
	var page models.CommentPage
	if val := args.Get(0); val != nil {
		page = val.(models.CommentPage)
	}
	return page, args.Error(1)
}

func (m *RoomServiceMock) GetComment(ctx context.Context, commentID int64) (models.Comment, error) {
	args := m.Called(ctx, commentID)
	var c models.Comment
	if val := args.Get(0); val != nil {
		c = val.(models.Comment)
	}
	return c, args.Error(1)
}

type SenderMock struct {
	mock.Mock
}

func (m *SenderMock) Send(ctx context.Context, req services.SendRequest) (models.Comment, error) {
	args := m.Called(ctx, req)
	var c models.Comment
	if val := args.Get(0); val != nil {
		c = val.(models.Comment)
	}
	return c, args.Error(1)
}

type UploaderMock struct {
	mock.Mock
}

func (m *UploaderMock) Upload(ctx context.Context, in services.UploadInput) (models.Comment, models.Attachment, error) {
	args := m.Called(ctx, in)
	var c models.Comment
	if val := args.Get(0); val != nil {
		c = val.(models.Comment)
	}
	var att models.Attachment
	if val := args.Get(1); val != nil {
		att = val.(models.Attachment)
	}
	return c, att, args.Error(2)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

var _ services.EventPublisher = (*PublisherMock)(nil)
var _ services.Broadcaster = (*BroadcasterMock)(nil)
