package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"ciphertalk/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, room_id, sender_id, encrypted_content, iv, message_type, timestamp, edited_at,
        is_read, is_deleted, is_edited, self_destruct, destroy_after, reply_to, file_name, file_size`

// NewMessage is the insert shape of a message; content is already encrypted.
type NewMessage struct {
	RoomID           int64
	SenderID         int64
	EncryptedContent string
	Kind             models.MessageKind
	ReplyTo          *int64
	SelfDestruct     bool
	DestroyAfter     *time.Time
	FileName         *string
	FileSize         *int64
}

// MessageRepository defines persistence for chat messages.
type MessageRepository interface {
	Insert(ctx context.Context, msg NewMessage) (models.Message, error)
	GetInRoom(ctx context.Context, messageID int64, roomID int64) (models.Message, error)
	ListRoomMessages(ctx context.Context, roomID int64, limit int) ([]models.Message, error)
	MarkRead(ctx context.Context, messageID int64, roomID int64) error
	SoftDelete(ctx context.Context, messageID int64, tombstone string) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Insert stores a message and returns it with its id and timestamp.
func (r *MessageRepo) Insert(ctx context.Context, msg NewMessage) (models.Message, error) {
	var out models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO chat_messages
        (room_id, sender_id, encrypted_content, iv, message_type, reply_to, self_destruct, destroy_after, file_name, file_size)
        VALUES ($1, $2, $3, '', $4, $5, $6, $7, $8, $9)
        RETURNING `+messageColumns,
		msg.RoomID, msg.SenderID, msg.EncryptedContent, msg.Kind, msg.ReplyTo, msg.SelfDestruct, msg.DestroyAfter, msg.FileName, msg.FileSize).
		StructScan(&out)
	return out, err
}

// GetInRoom fetches a message only if it belongs to roomID.
func (r *MessageRepo) GetInRoom(ctx context.Context, messageID int64, roomID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM chat_messages WHERE id=$1 AND room_id=$2`, messageID, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListRoomMessages returns the newest non-deleted messages of a room, oldest first.
func (r *MessageRepo) ListRoomMessages(ctx context.Context, roomID int64, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT * FROM (
            SELECT `+messageColumns+` FROM chat_messages
            WHERE room_id=$1 AND is_deleted = FALSE
            ORDER BY timestamp DESC, id DESC
            LIMIT $2
        ) recent ORDER BY timestamp ASC, id ASC`, roomID, limit)
	return msgs, err
}

// MarkRead sets is_read. Re-marking a read message is not an error.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID int64, roomID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_messages SET is_read = TRUE WHERE id=$1 AND room_id=$2`, messageID, roomID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SoftDelete marks a message deleted and overwrites its content in one statement.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID int64, tombstone string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_messages SET is_deleted = TRUE, encrypted_content = $2, iv = '' WHERE id=$1`, messageID, tombstone)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListExpired returns live self-destructing messages whose expiry is at or before now.
func (r *MessageRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM chat_messages
        WHERE self_destruct = TRUE AND is_deleted = FALSE AND destroy_after IS NOT NULL AND destroy_after <= $1
        ORDER BY destroy_after ASC
        LIMIT $2`, now, limit)
	return msgs, err
}

func requireRow(res sql.Result) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}
