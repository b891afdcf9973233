package models

import "time"

// MessageKind is the content kind of a message.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindFile   MessageKind = "file"
	KindImage  MessageKind = "image"
	KindSystem MessageKind = "system"
)

// Valid reports whether k is a known kind.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindFile, KindImage, KindSystem:
		return true
	}
	return false
}

// Tombstone replaces the content of a deleted message.
const Tombstone = "[deleted]"

// Message is a persisted, encrypted chat message.
type Message struct {
	ID               int64       `db:"id" json:"id"`
	RoomID           int64       `db:"room_id" json:"room_id"`
	SenderID         int64       `db:"sender_id" json:"sender_id"`
	EncryptedContent string      `db:"encrypted_content" json:"encrypted_content"`
	IV               string      `db:"iv" json:"-"`
	Kind             MessageKind `db:"message_type" json:"message_type"`
	Timestamp        time.Time   `db:"timestamp" json:"timestamp"`
	EditedAt         *time.Time  `db:"edited_at" json:"edited_at,omitempty"`
	IsRead           bool        `db:"is_read" json:"is_read"`
	IsDeleted        bool        `db:"is_deleted" json:"is_deleted"`
	IsEdited         bool        `db:"is_edited" json:"is_edited"`
	SelfDestruct     bool        `db:"self_destruct" json:"self_destruct"`
	DestroyAfter     *time.Time  `db:"destroy_after" json:"destroy_after,omitempty"`
	ReplyTo          *int64      `db:"reply_to" json:"reply_to,omitempty"`
	FileName         *string     `db:"file_name" json:"file_name,omitempty"`
	FileSize         *int64      `db:"file_size" json:"file_size,omitempty"`
}

// IsExpired reports whether a self-destructing message is past its expiry.
func (m Message) IsExpired(now time.Time) bool {
	return m.SelfDestruct && m.DestroyAfter != nil && now.After(*m.DestroyAfter)
}
