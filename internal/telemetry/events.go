package telemetry

import (
	"context"

	"github.com/rs/zerolog"
)

// Websocket lifecycle event names.
const (
	WSConnect    = "ws_connect"
	WSDisconnect = "ws_disconnect"
	WSError      = "ws_error"
	WSRejected   = "ws_rejected"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// WSEvent describes one lifecycle transition of a websocket session.
type WSEvent struct {
	Event      string
	Room       string
	ConnID     string
	DurationMs int64
	Reason     string
	Code       int
	UserID     int64
	DeviceID   string
	IP         string
	RequestID  string
	TraceID    string
}

// WSEventEmitter publishes websocket lifecycle envelopes.
type WSEventEmitter struct {
	publisher  Publisher
	routingKey string
	logger     zerolog.Logger
}

func NewWSEventEmitter(publisher Publisher, routingKey string, logger zerolog.Logger) *WSEventEmitter {
	return &WSEventEmitter{publisher: publisher, routingKey: routingKey, logger: logger}
}

func (e *WSEventEmitter) Emit(ctx context.Context, ev WSEvent) {
	if e == nil || e.publisher == nil {
		return
	}

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "room",
			"resource_id": ev.Room,
			"event":       ev.Event,
			"conn_id":     ev.ConnID,
			"duration_ms": ev.DurationMs,
			"reason":      ev.Reason,
			"close_code":  ev.Code,
		},
		"identity": map[string]interface{}{
			"user_id":   ev.UserID,
			"device_id": ev.DeviceID,
			"ip":        ev.IP,
		},
	}

	err := e.publisher.Publish(ctx, e.routingKey, EventEnvelope{
		EventType: "ws_events",
		EventName: ev.Event,
		Payload:   payload,
	}, BuildHeaders(ev.RequestID, ev.TraceID))
	if err != nil {
		e.logger.Warn().Err(err).Str("event", ev.Event).Msg("ws event publish failed")
	}
}
