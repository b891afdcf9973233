package ws

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"ciphertalk/internal/models"
)

func TestExpiryAnnouncerBroadcastsDeletion(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	sub := &fakeSub{}
	hub.Join("chat_general", sub)

	rooms := &memRooms{rooms: map[string]models.Room{
		"general": {ID: 10, Name: "general", IsActive: true},
	}}
	a := NewExpiryAnnouncer(hub, rooms, zerolog.Nop())

	a.MessageExpired(context.Background(), models.Message{ID: 5, RoomID: 10})
	a.MessageExpired(context.Background(), models.Message{ID: 6, RoomID: 99})

	got := sub.received()
	require.Len(t, got, 1)
	require.JSONEq(t, `{"type":"message_deleted","message_id":5}`, string(got[0]))
}
