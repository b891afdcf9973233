package ws

import (
	"context"

	"github.com/rs/zerolog"

	"ciphertalk/internal/models"
)

// RoomLookup resolves a room by id.
type RoomLookup interface {
	GetRoomByID(ctx context.Context, roomID int64) (models.Room, error)
}

// ExpiryAnnouncer tells live room members that a message self-destructed.
type ExpiryAnnouncer struct {
	hub    *Hub
	rooms  RoomLookup
	logger zerolog.Logger
}

func NewExpiryAnnouncer(hub *Hub, rooms RoomLookup, logger zerolog.Logger) *ExpiryAnnouncer {
	return &ExpiryAnnouncer{hub: hub, rooms: rooms, logger: logger}
}

func (a *ExpiryAnnouncer) MessageExpired(ctx context.Context, msg models.Message) {
	room, err := a.rooms.GetRoomByID(ctx, msg.RoomID)
	if err != nil {
		a.logger.Warn().Err(err).Int64("room_id", msg.RoomID).Msg("expired message room lookup failed")
		return
	}
	if err := a.hub.Broadcast(ctx, room.GroupKey(), models.NewDeletedEvent(msg.ID)); err != nil {
		a.logger.Warn().Err(err).Int64("message_id", msg.ID).Msg("message_deleted broadcast failed")
	}
}
