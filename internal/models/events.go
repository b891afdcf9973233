package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Inbound event types.
const (
	TypeChatMessage = "chat_message"
	TypeTypingStart = "typing_start"
	TypeTypingStop  = "typing_stop"
	TypeMessageRead = "message_read"
)

// Outbound-only event types.
const (
	TypeUserJoined      = "user_joined"
	TypeUserLeft        = "user_left"
	TypeTypingIndicator = "typing_indicator"
	TypeMessageDeleted  = "message_deleted"
	TypeError           = "error"
)

// ErrMalformedEvent is returned when an inbound frame is not a decodable event.
var ErrMalformedEvent = errors.New("malformed event")

// Inbound is a client-to-server event. The set of implementations is closed.
type Inbound interface {
	inbound()
}

// ChatMessageIn asks the server to persist and broadcast a message.
type ChatMessageIn struct {
	Message        string `json:"message"`
	ReplyTo        *int64 `json:"reply_to,omitempty"`
	SelfDestruct   bool   `json:"self_destruct,omitempty"`
	DestroyMinutes int    `json:"destroy_minutes,omitempty"`
}

// TypingStartIn signals the sender started typing.
type TypingStartIn struct{}

// TypingStopIn signals the sender stopped typing.
type TypingStopIn struct{}

// MessageReadIn is a read receipt.
type MessageReadIn struct {
	MessageID int64 `json:"message_id"`
}

func (ChatMessageIn) inbound() {}
func (TypingStartIn) inbound() {}
func (TypingStopIn) inbound()  {}
func (MessageReadIn) inbound() {}

// DecodeInbound parses a websocket frame. A frame without a type is a chat
// message. Unknown types decode to (nil, nil) and should be ignored.
func DecodeInbound(data []byte) (Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch head.Type {
	case "", TypeChatMessage:
		var ev ChatMessageIn
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return ev, nil
	case TypeTypingStart:
		return TypingStartIn{}, nil
	case TypeTypingStop:
		return TypingStopIn{}, nil
	case TypeMessageRead:
		var ev MessageReadIn
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return ev, nil
	default:
		return nil, nil
	}
}

// Outbound is a server-to-client event.
type Outbound interface {
	EventType() string
}

// ChatMessageEvent carries a persisted message to room members. The absolute
// expiry is deliberately absent; clients only learn that the message will vanish.
type ChatMessageEvent struct {
	Type             string      `json:"type"`
	MessageID        int64       `json:"message_id"`
	SenderID         int64       `json:"sender_id"`
	SenderUsername   string      `json:"sender_username"`
	EncryptedContent string      `json:"encrypted_content"`
	MessageType      MessageKind `json:"message_type"`
	Timestamp        string      `json:"timestamp"`
	ReplyTo          *int64      `json:"reply_to"`
	SelfDestruct     bool        `json:"self_destruct"`
}

// NewChatMessageEvent builds the broadcast form of msg.
func NewChatMessageEvent(msg Message, senderUsername string) ChatMessageEvent {
	return ChatMessageEvent{
		Type:             TypeChatMessage,
		MessageID:        msg.ID,
		SenderID:         msg.SenderID,
		SenderUsername:   senderUsername,
		EncryptedContent: msg.EncryptedContent,
		MessageType:      msg.Kind,
		Timestamp:        FormatTime(msg.Timestamp),
		ReplyTo:          msg.ReplyTo,
		SelfDestruct:     msg.SelfDestruct,
	}
}

// MembershipEvent is user_joined or user_left.
type MembershipEvent struct {
	Type      string `json:"type"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

// NewUserJoined builds a user_joined event.
func NewUserJoined(who Identity, at time.Time) MembershipEvent {
	return MembershipEvent{Type: TypeUserJoined, UserID: who.UserID, Username: who.Username, Timestamp: FormatTime(at)}
}

// NewUserLeft builds a user_left event.
func NewUserLeft(who Identity, at time.Time) MembershipEvent {
	return MembershipEvent{Type: TypeUserLeft, UserID: who.UserID, Username: who.Username, Timestamp: FormatTime(at)}
}

// TypingEvent is a typing_indicator.
type TypingEvent struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

// NewTypingEvent builds a typing_indicator event.
func NewTypingEvent(who Identity, typing bool) TypingEvent {
	return TypingEvent{Type: TypeTypingIndicator, UserID: who.UserID, Username: who.Username, Typing: typing}
}

// ReadEvent is a message_read receipt.
type ReadEvent struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
}

// NewReadEvent builds a message_read event.
func NewReadEvent(messageID int64, reader Identity) ReadEvent {
	return ReadEvent{Type: TypeMessageRead, MessageID: messageID, UserID: reader.UserID, Username: reader.Username}
}

// DeletedEvent tells members a message was soft-deleted.
type DeletedEvent struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
}

// NewDeletedEvent builds a message_deleted event.
func NewDeletedEvent(messageID int64) DeletedEvent {
	return DeletedEvent{Type: TypeMessageDeleted, MessageID: messageID}
}

// ErrorEvent is sent only to the connection that caused it.
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewErrorEvent builds an error event.
func NewErrorEvent(msg string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Error: msg}
}

func (e ChatMessageEvent) EventType() string { return e.Type }
func (e MembershipEvent) EventType() string  { return e.Type }
func (e TypingEvent) EventType() string      { return e.Type }
func (e ReadEvent) EventType() string        { return e.Type }
func (e DeletedEvent) EventType() string     { return e.Type }
func (e ErrorEvent) EventType() string       { return e.Type }

// Encode serialises an outbound event.
func Encode(ev Outbound) ([]byte, error) {
	return json.Marshal(ev)
}

// FormatTime renders timestamps the way they appear on the wire.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
