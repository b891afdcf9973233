package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"type":"chat_message","message":"hi","reply_to":4,"self_destruct":true,"destroy_minutes":1}`))
	require.NoError(t, err)
	msg, ok := ev.(ChatMessageIn)
	require.True(t, ok)
	require.Equal(t, "hi", msg.Message)
	require.NotNil(t, msg.ReplyTo)
	require.EqualValues(t, 4, *msg.ReplyTo)
	require.True(t, msg.SelfDestruct)
	require.Equal(t, 1, msg.DestroyMinutes)

	ev, err = DecodeInbound([]byte(`{"message":"untyped"}`))
	require.NoError(t, err)
	require.Equal(t, ChatMessageIn{Message: "untyped"}, ev)

	ev, err = DecodeInbound([]byte(`{"type":"typing_start"}`))
	require.NoError(t, err)
	require.IsType(t, TypingStartIn{}, ev)

	ev, err = DecodeInbound([]byte(`{"type":"typing_stop"}`))
	require.NoError(t, err)
	require.IsType(t, TypingStopIn{}, ev)

	ev, err = DecodeInbound([]byte(`{"type":"message_read","message_id":9}`))
	require.NoError(t, err)
	require.Equal(t, MessageReadIn{MessageID: 9}, ev)
}

func TestDecodeInboundUnknownTypeIgnored(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"type":"dance"}`))
	require.NoError(t, err)
	require.Nil(t, ev)
}

func TestDecodeInboundMalformed(t *testing.T) {
	for _, frame := range []string{`{not json`, `[1,2]`, `{"type":"message_read","message_id":"x"}`, `{"type":"chat_message","message":5}`} {
		_, err := DecodeInbound([]byte(frame))
		require.ErrorIs(t, err, ErrMalformedEvent, frame)
	}
}

func TestChatMessageEventOmitsExpiry(t *testing.T) {
	expiry := time.Now().Add(time.Minute)
	ev := NewChatMessageEvent(Message{
		ID:               3,
		SenderID:         1,
		EncryptedContent: "blob",
		Kind:             KindText,
		Timestamp:        time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		SelfDestruct:     true,
		DestroyAfter:     &expiry,
	}, "alice")

	data, err := Encode(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "chat_message", decoded["type"])
	require.Equal(t, "blob", decoded["encrypted_content"])
	require.Equal(t, "2024-01-02T03:04:05Z", decoded["timestamp"])
	require.Equal(t, true, decoded["self_destruct"])
	require.Contains(t, decoded, "reply_to")
	require.Nil(t, decoded["reply_to"])
	require.NotContains(t, decoded, "destroy_after")
}

func TestMessageIsExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)

	require.False(t, Message{}.IsExpired(now))
	require.False(t, Message{SelfDestruct: true}.IsExpired(now))
	require.False(t, Message{SelfDestruct: true, DestroyAfter: &future}.IsExpired(now))
	require.False(t, Message{SelfDestruct: false, DestroyAfter: &past}.IsExpired(now))
	require.True(t, Message{SelfDestruct: true, DestroyAfter: &past}.IsExpired(now))
	require.False(t, Message{SelfDestruct: true, DestroyAfter: &now}.IsExpired(now))
}
