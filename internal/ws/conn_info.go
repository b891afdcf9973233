package ws

import (
	"time"

	"ciphertalk/internal/telemetry"
)

type ConnInfo struct {
	ConnID      string
	Room        string
	UserID      int64
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) event(name, reason string, code int) telemetry.WSEvent {
	var duration int64
	if name != telemetry.WSConnect {
		duration = time.Since(i.ConnectedAt).Milliseconds()
	}
	return telemetry.WSEvent{
		Event:      name,
		Room:       i.Room,
		ConnID:     i.ConnID,
		DurationMs: duration,
		Reason:     reason,
		Code:       code,
		UserID:     i.UserID,
		DeviceID:   i.DeviceID,
		IP:         i.IP,
		RequestID:  i.RequestID,
		TraceID:    i.TraceID,
	}
}
