package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"ciphertalk/internal/models"
	"ciphertalk/internal/repositories"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) GetActiveRoomByName(ctx context.Context, name string) (models.Room, error) {
	args := m.Called(ctx, name)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) GetRoomByID(ctx context.Context, roomID int64) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) IsParticipant(ctx context.Context, roomID int64, userID int64) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) ListParticipants(ctx context.Context, roomID int64) ([]int64, error) {
	args := m.Called(ctx, roomID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Insert(ctx context.Context, msg repositories.NewMessage) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) GetInRoom(ctx context.Context, messageID int64, roomID int64) (models.Message, error) {
	args := m.Called(ctx, messageID, roomID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListRoomMessages(ctx context.Context, roomID int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, messageID int64, roomID int64) error {
	args := m.Called(ctx, messageID, roomID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) SoftDelete(ctx context.Context, messageID int64, tombstone string) error {
	args := m.Called(ctx, messageID, tombstone)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Message, error) {
	args := m.Called(ctx, now, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type PresenceRepositoryMock struct {
	mock.Mock
}

func (m *PresenceRepositoryMock) SetOnline(ctx context.Context, userID int64, online bool, at time.Time) error {
	args := m.Called(ctx, userID, online, at)
	return args.Error(0)
}

func (m *PresenceRepositoryMock) SetTyping(ctx context.Context, userID int64, roomID *int64, at time.Time) error {
	args := m.Called(ctx, userID, roomID, at)
	return args.Error(0)
}

func (m *PresenceRepositoryMock) Touch(ctx context.Context, userID int64, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

func (m *PresenceRepositoryMock) Get(ctx context.Context, userID int64) (models.Presence, error) {
	args := m.Called(ctx, userID)
	var p models.Presence
	if val := args.Get(0); val != nil {
		p = val.(models.Presence)
	}
	return p, args.Error(1)
}

func (m *PresenceRepositoryMock) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	args := m.Called(ctx, cutoff, limit)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *PresenceRepositoryMock) SetOfflineIfStale(ctx context.Context, userID int64, cutoff time.Time) (bool, error) {
	args := m.Called(ctx, userID, cutoff)
	return args.Bool(0), args.Error(1)
}

type RoomKeyRepositoryMock struct {
	mock.Mock
}

func (m *RoomKeyRepositoryMock) GetWrappedKey(ctx context.Context, roomID int64) (string, error) {
	args := m.Called(ctx, roomID)
	return args.String(0), args.Error(1)
}

func (m *RoomKeyRepositoryMock) InsertWrappedKey(ctx context.Context, roomID int64, wrapped string) error {
	args := m.Called(ctx, roomID, wrapped)
	return args.Error(0)
}

var _ repositories.RoomRepository = (*RoomRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.PresenceRepository = (*PresenceRepositoryMock)(nil)
var _ repositories.RoomKeyRepository = (*RoomKeyRepositoryMock)(nil)
