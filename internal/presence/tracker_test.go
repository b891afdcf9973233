package presence

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ciphertalk/internal/mocks"
	"ciphertalk/internal/models"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestTracker(repo *mocks.PresenceRepositoryMock) *Tracker {
	tr := NewTracker(repo, zerolog.Nop())
	tr.now = func() time.Time { return now }
	return tr
}

func TestSetOnlineAndOffline(t *testing.T) {
	repo := new(mocks.PresenceRepositoryMock)
	tr := newTestTracker(repo)

	repo.On("SetOnline", mock.Anything, int64(1), true, now).Return(nil).Once()
	repo.On("SetOnline", mock.Anything, int64(1), false, now).Return(assert.AnError).Once()

	require.NoError(t, tr.SetOnline(context.Background(), 1, true))
	require.ErrorIs(t, tr.SetOnline(context.Background(), 1, false), assert.AnError)
	repo.AssertExpectations(t)
}

func TestSetTyping(t *testing.T) {
	repo := new(mocks.PresenceRepositoryMock)
	tr := newTestTracker(repo)

	room := int64(4)
	repo.On("SetTyping", mock.Anything, int64(1), &room, now).Return(nil).Once()
	repo.On("SetTyping", mock.Anything, int64(1), (*int64)(nil), now).Return(nil).Once()

	require.NoError(t, tr.SetTyping(context.Background(), 1, &room))
	require.NoError(t, tr.SetTyping(context.Background(), 1, nil))
	repo.AssertExpectations(t)
}

func TestIsOnline(t *testing.T) {
	repo := new(mocks.PresenceRepositoryMock)
	tr := newTestTracker(repo)

	repo.On("Get", mock.Anything, int64(1)).Return(models.Presence{UserID: 1, Online: true}, nil).Once()
	repo.On("Get", mock.Anything, int64(2)).Return(models.Presence{UserID: 2}, nil).Once()

	online, err := tr.IsOnline(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, online)

	online, err = tr.IsOnline(context.Background(), 2)
	require.NoError(t, err)
	require.False(t, online)
}

func TestExpireStaleSkipsFailuresAndRaces(t *testing.T) {
	repo := new(mocks.PresenceRepositoryMock)
	tr := newTestTracker(repo)
	cutoff := now.Add(-5 * time.Minute)

	repo.On("ListStale", mock.Anything, cutoff, staleBatch).Return([]int64{1, 2, 3}, nil).Once()
	repo.On("SetOfflineIfStale", mock.Anything, int64(1), cutoff).Return(true, nil).Once()
	repo.On("SetOfflineIfStale", mock.Anything, int64(2), cutoff).Return(false, assert.AnError).Once()
	// 3 reconnected after listing.
	repo.On("SetOfflineIfStale", mock.Anything, int64(3), cutoff).Return(false, nil).Once()

	n, err := tr.ExpireStale(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	repo.AssertExpectations(t)
}

func TestExpireStaleListFailure(t *testing.T) {
	repo := new(mocks.PresenceRepositoryMock)
	tr := newTestTracker(repo)

	repo.On("ListStale", mock.Anything, mock.Anything, staleBatch).Return(nil, assert.AnError).Once()
	_, err := tr.ExpireStale(context.Background(), time.Minute)
	require.Error(t, err)
}
