package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ciphertalk/internal/mocks"
	"ciphertalk/internal/models"
)

type onlineSet map[int64]bool

func (s onlineSet) IsOnline(_ context.Context, userID int64) (bool, error) {
	if userID == 99 {
		return false, assert.AnError
	}
	return s[userID], nil
}

var (
	room   = models.Room{ID: 10, Name: "general"}
	sender = models.Identity{UserID: 1, Username: "alice"}
)

func TestNotifyOfflineSkipsSenderAndOnline(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	pub := new(mocks.PublisherMock)
	n := NewNotifier(rooms, onlineSet{2: true}, pub, false, zerolog.Nop())

	rooms.On("ListParticipants", mock.Anything, int64(10)).Return([]int64{1, 2, 3, 99}, nil).Once()
	pub.On("Publish", mock.Anything, RoutingKey, mock.MatchedBy(func(e Envelope) bool {
		return e.RecipientID == 3 && e.Room == "general" && e.SenderUsername == "alice" && e.MessageID == 7 && e.Preview == PlaceholderPreview
	}), map[string]string(nil)).Return(nil).Once()

	n.NotifyOffline(context.Background(), room, sender, models.Message{ID: 7}, "secret text")

	rooms.AssertExpectations(t)
	pub.AssertExpectations(t)
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestNotifyOfflineIncludesPreviewWhenEnabled(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	pub := new(mocks.PublisherMock)
	n := NewNotifier(rooms, onlineSet{}, pub, true, zerolog.Nop())

	rooms.On("ListParticipants", mock.Anything, int64(10)).Return([]int64{1, 2}, nil).Once()
	pub.On("Publish", mock.Anything, RoutingKey, mock.MatchedBy(func(e Envelope) bool {
		return e.Preview == "hello bob"
	}), map[string]string(nil)).Return(assert.AnError).Once()

	n.NotifyOffline(context.Background(), room, sender, models.Message{ID: 8}, "hello bob")
	pub.AssertExpectations(t)
}

func TestNotifyOfflineParticipantLookupFails(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	pub := new(mocks.PublisherMock)
	n := NewNotifier(rooms, onlineSet{}, pub, false, zerolog.Nop())

	rooms.On("ListParticipants", mock.Anything, int64(10)).Return(nil, assert.AnError).Once()
	n.NotifyOffline(context.Background(), room, sender, models.Message{ID: 9}, "x")
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPreview(t *testing.T) {
	require.Equal(t, "short", Preview("short"))

	long := strings.Repeat("é", 70)
	got := Preview(long)
	require.Equal(t, strings.Repeat("é", 64)+"…", got)
}
