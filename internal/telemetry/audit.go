package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Publisher is the subset of the AMQP publisher the emitters need.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      zerolog.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

// AuditAction names an audited change to room content.
type AuditAction string

const (
	AuditMessageDeleted AuditAction = "message_deleted"
	AuditRoomKeyShared  AuditAction = "room_key_shared"
)

type AuditPayload struct {
	Level     string      `json:"level"`
	Action    AuditAction `json:"action"`
	Room      string      `json:"room"`
	RoomID    int64       `json:"room_id"`
	MessageID *int64      `json:"message_id,omitempty"`
}

// AuditTarget is the room resource an action touched. MessageID is nil for
// room-wide actions.
type AuditTarget struct {
	Room      string
	RoomID    int64
	MessageID *int64
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger zerolog.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger.With().Str("component", "audit").Logger(),
	}
}

// Emit publishes an audit_log envelope. Publish failures are logged, never returned.
func (e *AuditEmitter) Emit(ctx context.Context, level string, action AuditAction, target AuditTarget, requestID string, userID *string) {
	if e == nil || e.publisher == nil {
		return
	}

	e.logger.Debug().Str("level", level).Str("request_id", requestID).Str("action", string(action)).Str("room", target.Room).Msg("audit emit")
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level:     level,
			Action:    action,
			Room:      target.Room,
			RoomID:    target.RoomID,
			MessageID: target.MessageID,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope, BuildHeaders(requestID, "")); err != nil {
		e.logger.Warn().Err(err).Msg("audit publish failed")
	}
}
