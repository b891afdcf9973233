package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"ciphertalk/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomRepository is the read side of the room/membership directory.
type RoomRepository interface {
	GetActiveRoomByName(ctx context.Context, name string) (models.Room, error)
	GetRoomByID(ctx context.Context, roomID int64) (models.Room, error)
	IsParticipant(ctx context.Context, roomID int64, userID int64) (bool, error)
	ListParticipants(ctx context.Context, roomID int64) ([]int64, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// GetActiveRoomByName fetches an active room. Inactive rooms are reported as not found.
func (r *RoomRepo) GetActiveRoomByName(ctx context.Context, name string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT id, name, room_type, is_active, created_at FROM chat_rooms WHERE name=$1 AND is_active = TRUE`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// GetRoomByID fetches a room regardless of its active flag.
func (r *RoomRepo) GetRoomByID(ctx context.Context, roomID int64) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT id, name, room_type, is_active, created_at FROM chat_rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// IsParticipant checks membership.
func (r *RoomRepo) IsParticipant(ctx context.Context, roomID int64, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_room_participants WHERE room_id=$1 AND user_id=$2)`, roomID, userID)
	return exists, err
}

// ListParticipants returns the member ids of a room.
func (r *RoomRepo) ListParticipants(ctx context.Context, roomID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM chat_room_participants WHERE room_id=$1 ORDER BY user_id`, roomID)
	return ids, err
}
