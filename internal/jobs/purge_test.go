package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"room-chat-service/internal/mocks"
	"room-chat-service/internal/models"
	"room-chat-service/internal/repositories"
)

func TestPurgeUsesRetentionCutoff(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := new(mocks.CommentRepositoryMock)
	repo.On("PurgeSendTokens", mock.Anything, now.Add(-24*time.Hour)).Return(int64(3), nil).Once()

	purger := NewTokenPurger(repo, 24*time.Hour, zap.NewNop())
	purger.now = func() time.Time { return now }

	n, err := purger.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	repo.AssertExpectations(t)
}

func TestPurgePropagatesErrors(t *testing.T) {
	repo := new(mocks.CommentRepositoryMock)
	repo.On("PurgeSendTokens", mock.Anything, mock.Anything).Return(int64(0), errors.New("db down")).Once()

	_, err := NewTokenPurger(repo, time.Hour, zap.NewNop()).Purge(context.Background())
	require.Error(t, err)
	repo.AssertExpectations(t)
}

func TestPurgeKeepsCommentsAndFreesToken(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMemoryStore()
	_, err := store.UpsertParticipant(ctx, models.Participant{ID: "A", Name: "Alice", Role: 2})
	require.NoError(t, err)
	room, err := store.CreateRoom(ctx, "general", nil, []string{"A"})
	require.NoError(t, err)

	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return start })
	first, err := store.AppendComment(ctx, models.NewComment{RoomID: room.ID, AuthorID: "A", Type: models.CommentText, Text: "hi", Token: "T1", TokenNotBefore: start.Add(-time.Hour)})
	require.NoError(t, err)

	purger := NewTokenPurger(store, time.Hour, zap.NewNop())
	purger.now = func() time.Time { return start.Add(2 * time.Hour) }
	n, err := purger.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.GetComment(ctx, first.Comment.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Text)
}

func TestRunTickerStopsOnCancel(t *testing.T) {
	repo := new(mocks.CommentRepositoryMock)
	called := make(chan struct{}, 1)
	repo.On("PurgeSendTokens", mock.Anything, mock.Anything).Return(int64(0), nil).Run(func(mock.Arguments) {
		select {
		case called <- struct{}{}:
		default:
		}
	})
	purger := NewTokenPurger(repo, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		purger.RunTicker(ctx, 5*time.Millisecond)
		close(done)
	}()
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("purge never ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ticker did not stop")
	}
}

func TestNewAsynqRunnerRejectsBadURL(t *testing.T) {
	_, err := NewAsynqRunner("not-a-url", NewTokenPurger(nil, time.Hour, zap.NewNop()), time.Hour, zap.NewNop())
	require.Error(t, err)
}
