package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

var ErrRoomKeyNotFound = errors.New("room key not found")

// RoomKeyRepository stores per-room symmetric keys in wrapped form.
type RoomKeyRepository interface {
	GetWrappedKey(ctx context.Context, roomID int64) (string, error)
	// InsertWrappedKey stores the key unless one already exists for the room.
	InsertWrappedKey(ctx context.Context, roomID int64, wrapped string) error
}

// RoomKeyRepo is a sqlx-backed RoomKeyRepository.
type RoomKeyRepo struct {
	db *sqlx.DB
}

// NewRoomKeyRepo constructs a RoomKeyRepo.
func NewRoomKeyRepo(db *sqlx.DB) *RoomKeyRepo {
	return &RoomKeyRepo{db: db}
}

func (r *RoomKeyRepo) GetWrappedKey(ctx context.Context, roomID int64) (string, error) {
	var wrapped string
	err := r.db.GetContext(ctx, &wrapped, `SELECT wrapped_key FROM chat_room_keys WHERE room_id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRoomKeyNotFound
	}
	return wrapped, err
}

func (r *RoomKeyRepo) InsertWrappedKey(ctx context.Context, roomID int64, wrapped string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO chat_room_keys (room_id, wrapped_key) VALUES ($1, $2)
        ON CONFLICT (room_id) DO NOTHING`, roomID, wrapped)
	return err
}
