// Package notify signals the external notification sink when a message is
// sent to a room participant who is not online. Delivery and formatting are
// the sink's concern.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ciphertalk/internal/models"
	"ciphertalk/internal/telemetry"
)

const (
	RoutingKey         = "notifications.message"
	PlaceholderPreview = "You have a new encrypted message"
	previewRunes       = 64
)

// ParticipantLister yields the member ids of a room.
type ParticipantLister interface {
	ListParticipants(ctx context.Context, roomID int64) ([]int64, error)
}

// OnlineChecker reports whether a user is currently online.
type OnlineChecker interface {
	IsOnline(ctx context.Context, userID int64) (bool, error)
}

type Envelope struct {
	SchemaVersion  int    `json:"schema_version"`
	EventType      string `json:"event_type"`
	OccurredAt     string `json:"occurred_at"`
	RecipientID    int64  `json:"recipient_id"`
	Room           string `json:"room"`
	SenderID       int64  `json:"sender_id"`
	SenderUsername string `json:"sender_username"`
	MessageID      int64  `json:"message_id"`
	Preview        string `json:"preview"`
}

type Notifier struct {
	participants   ParticipantLister
	presence       OnlineChecker
	publisher      telemetry.Publisher
	includePreview bool
	logger         zerolog.Logger
}

func NewNotifier(participants ParticipantLister, presence OnlineChecker, publisher telemetry.Publisher, includePreview bool, logger zerolog.Logger) *Notifier {
	return &Notifier{
		participants:   participants,
		presence:       presence,
		publisher:      publisher,
		includePreview: includePreview,
		logger:         logger.With().Str("component", "notify").Logger(),
	}
}

// NotifyOffline publishes one envelope per offline participant other than
// the sender. Failures are logged and never reach the sender.
func (n *Notifier) NotifyOffline(ctx context.Context, room models.Room, sender models.Identity, msg models.Message, plaintext string) {
	ids, err := n.participants.ListParticipants(ctx, room.ID)
	if err != nil {
		n.logger.Warn().Err(err).Int64("room_id", room.ID).Msg("list participants failed")
		return
	}

	preview := PlaceholderPreview
	if n.includePreview {
		preview = Preview(plaintext)
	}

	for _, id := range ids {
		if id == sender.UserID {
			continue
		}
		online, err := n.presence.IsOnline(ctx, id)
		if err != nil {
			n.logger.Warn().Err(err).Int64("user_id", id).Msg("presence lookup failed")
			continue
		}
		if online {
			continue
		}

		envelope := Envelope{
			SchemaVersion:  1,
			EventType:      "message_notification",
			OccurredAt:     time.Now().UTC().Format(time.RFC3339Nano),
			RecipientID:    id,
			Room:           room.Name,
			SenderID:       sender.UserID,
			SenderUsername: sender.Username,
			MessageID:      msg.ID,
			Preview:        preview,
		}
		if err := n.publisher.Publish(ctx, RoutingKey, envelope, nil); err != nil {
			n.logger.Warn().Err(err).Int64("recipient_id", id).Msg("notification publish failed")
		}
	}
}

// Preview returns the first runes of a message for the notification body.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes]) + "…"
}
