package models

import "time"

// RoomKind distinguishes one-to-one rooms from group rooms.
type RoomKind string

const (
	RoomPrivate RoomKind = "private"
	RoomGroup   RoomKind = "group"
)

// Room is a named chat room. Rooms and their participants are managed outside
// this service; the gateway only reads them.
type Room struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Kind      RoomKind  `db:"room_type" json:"room_type"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// GroupKey is the broadcast group name used for a room.
func (r Room) GroupKey() string {
	return "chat_" + r.Name
}
