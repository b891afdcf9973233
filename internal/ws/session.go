package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"ciphertalk/internal/crypto"
	"ciphertalk/internal/messages"
	"ciphertalk/internal/models"
	"ciphertalk/internal/observability"
	"ciphertalk/internal/repositories"
	"ciphertalk/internal/telemetry"
)

type sessionState int

const (
	stateConnecting sessionState = iota
	stateAuthenticated
	stateJoined
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthenticated:
		return "authenticated"
	case stateJoined:
		return "joined"
	default:
		return "closed"
	}
}

// session is one live connection. Admission runs on the HTTP handler
// goroutine; after that the session is owned by the goroutine running run.
type session struct {
	gw       *Gateway
	conn     *websocket.Conn
	client   *Client
	info     ConnInfo
	base     context.Context
	identity models.Identity
	room     models.Room
	roomKey  string
	state    sessionState
	logger   zerolog.Logger

	closeOnce sync.Once
}

func newSession(gw *Gateway, conn *websocket.Conn, info ConnInfo, sc trace.SpanContext) *session {
	return &session{
		gw:     gw,
		conn:   conn,
		info:   info,
		base:   trace.ContextWithSpanContext(context.Background(), sc),
		state:  stateConnecting,
		logger: gw.Logger.With().Str("conn_id", info.ConnID).Logger(),
	}
}

// admit walks Connecting -> Authenticated -> Joined. On refusal nothing has
// been registered anywhere.
func (s *session) admit(ctx context.Context, rawRoom, token string) *AdmissionError {
	if token == "" {
		return refuse(CloseUnauthenticated, "authentication required")
	}
	identity, err := s.gw.Identities.Authenticate(ctx, token)
	if err != nil {
		s.logger.Debug().Err(err).Msg("authentication failed")
		return refuse(CloseUnauthenticated, "authentication failed")
	}
	s.identity = identity
	s.info.UserID = identity.UserID
	s.state = stateAuthenticated

	name, err := DecodeRoomName(rawRoom)
	if err != nil {
		return refuse(CloseGenericFailure, "malformed room name")
	}
	s.info.Room = name
	s.logger = s.logger.With().Str("room", name).Int64("user_id", identity.UserID).Logger()

	room, err := s.gw.Rooms.GetActiveRoomByName(ctx, name)
	if errors.Is(err, repositories.ErrRoomNotFound) {
		return refuse(CloseRoomNotFound, "room not found")
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("room lookup failed")
		return refuse(CloseGenericFailure, "room lookup failed")
	}

	member, err := s.gw.Rooms.IsParticipant(ctx, room.ID, identity.UserID)
	if err != nil {
		s.logger.Error().Err(err).Msg("membership check failed")
		return refuse(CloseGenericFailure, "membership check failed")
	}
	if !member {
		return refuse(CloseNotAParticipant, "not a participant")
	}
	s.room = room
	s.roomKey = room.GroupKey()

	s.client = newClient(s.conn, s.touch)
	s.gw.Hub.Join(s.roomKey, s.client)
	if err := s.gw.Presence.SetOnline(ctx, identity.UserID, true); err != nil {
		s.gw.Hub.Leave(s.roomKey, s.client)
		s.logger.Error().Err(err).Msg("presence update failed")
		return refuse(CloseGenericFailure, "presence update failed")
	}
	s.state = stateJoined

	observability.IncWSActive()
	s.gw.Events.Emit(ctx, s.info.event(telemetry.WSConnect, "", 0))
	if err := s.gw.Hub.BroadcastExcept(ctx, s.roomKey, models.NewUserJoined(identity, time.Now()), s.client); err != nil {
		s.logger.Warn().Err(err).Msg("user_joined broadcast failed")
	}
	s.logger.Info().Msg("session joined")
	return nil
}

func (s *session) reject(ctx context.Context, adm *AdmissionError) {
	s.logger.Info().Int("code", adm.Code).Str("reason", adm.Reason).Str("state", s.state.String()).Msg("connection refused")
	s.state = stateClosed
	observability.IncWSRejected(adm.Code)
	s.gw.Events.Emit(ctx, s.info.event(telemetry.WSRejected, adm.Reason, adm.Code))

	msg := websocket.FormatCloseMessage(adm.Code, adm.Reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = s.conn.Close()
}

// run pumps inbound frames until the connection ends, then cleans up.
func (s *session) run() {
	reason := "closed"
	defer func() { s.onClose(reason) }()

	go s.client.writePump()

	for {
		data, err := s.client.read()
		if err != nil {
			reason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.gw.Events.Emit(s.base, s.info.event(telemetry.WSError, reason, 0))
			}
			return
		}
		s.touch()
		s.dispatch(data)
	}
}

// onClose is the single exit path for a joined session: leave the hub, go
// offline (which clears typing) and tell the remaining members.
func (s *session) onClose(reason string) {
	s.closeOnce.Do(func() {
		if s.state != stateJoined {
			s.state = stateClosed
			return
		}
		s.state = stateClosed

		ctx, cancel := s.opContext()
		defer cancel()

		s.gw.Hub.Leave(s.roomKey, s.client)
		s.client.Close()
		if err := s.gw.Presence.SetOnline(ctx, s.identity.UserID, false); err != nil {
			s.logger.Error().Err(err).Msg("presence offline failed")
		}
		if err := s.gw.Hub.Broadcast(ctx, s.roomKey, models.NewUserLeft(s.identity, time.Now())); err != nil {
			s.logger.Warn().Err(err).Msg("user_left broadcast failed")
		}

		observability.DecWSActive()
		s.gw.Events.Emit(ctx, s.info.event(telemetry.WSDisconnect, reason, 0))
		s.logger.Info().Str("reason", reason).Msg("session closed")
	})
}

func (s *session) dispatch(data []byte) {
	ev, err := models.DecodeInbound(data)
	if err != nil {
		observability.IncWSEvent("in", "malformed")
		s.sendError("invalid message format")
		return
	}
	if ev == nil {
		return
	}

	switch ev := ev.(type) {
	case models.ChatMessageIn:
		observability.IncWSEvent("in", models.TypeChatMessage)
		s.handleChat(ev)
	case models.TypingStartIn:
		observability.IncWSEvent("in", models.TypeTypingStart)
		s.handleTyping(true)
	case models.TypingStopIn:
		observability.IncWSEvent("in", models.TypeTypingStop)
		s.handleTyping(false)
	case models.MessageReadIn:
		observability.IncWSEvent("in", models.TypeMessageRead)
		s.handleRead(ev)
	}
}

func (s *session) handleChat(ev models.ChatMessageIn) {
	text := messages.Normalize(ev.Message)
	if text == "" {
		return
	}

	ctx, cancel := s.opContext()
	defer cancel()

	msg, err := s.gw.Messages.Create(ctx, messages.CreateParams{
		RoomID:         s.room.ID,
		SenderID:       s.identity.UserID,
		Plaintext:      text,
		Kind:           models.KindText,
		ReplyTo:        ev.ReplyTo,
		SelfDestruct:   ev.SelfDestruct,
		DestroyMinutes: ev.DestroyMinutes,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("message create failed")
		switch {
		case errors.Is(err, crypto.ErrCrypto):
			s.sendError("failed to encrypt message")
		case errors.Is(err, messages.ErrPersistence):
			s.sendError("failed to save message")
		default:
			s.sendError("failed to send message")
		}
		return
	}

	if err := s.gw.Hub.Broadcast(ctx, s.roomKey, models.NewChatMessageEvent(msg, s.identity.Username)); err != nil {
		s.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("chat_message broadcast failed")
		return
	}

	if s.gw.Notifier != nil {
		s.gw.Notifier.NotifyOffline(ctx, s.room, s.identity, msg, text)
	}
}

func (s *session) handleTyping(typing bool) {
	ctx, cancel := s.opContext()
	defer cancel()

	var target *int64
	if typing {
		id := s.room.ID
		target = &id
	}
	if err := s.gw.Presence.SetTyping(ctx, s.identity.UserID, target); err != nil {
		s.logger.Warn().Err(err).Msg("typing update failed")
	}
	if err := s.gw.Hub.BroadcastExcept(ctx, s.roomKey, models.NewTypingEvent(s.identity, typing), s.client); err != nil {
		s.logger.Warn().Err(err).Msg("typing broadcast failed")
	}
}

// handleRead only announces receipts for messages that belong to this room.
func (s *session) handleRead(ev models.MessageReadIn) {
	if ev.MessageID <= 0 {
		return
	}
	ctx, cancel := s.opContext()
	defer cancel()

	err := s.gw.Messages.MarkRead(ctx, ev.MessageID, s.room.ID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("message_id", ev.MessageID).Msg("mark read failed")
		s.sendError("failed to mark message read")
		return
	}
	if err := s.gw.Hub.Broadcast(ctx, s.roomKey, models.NewReadEvent(ev.MessageID, s.identity)); err != nil {
		s.logger.Warn().Err(err).Msg("message_read broadcast failed")
	}
}

func (s *session) touch() {
	ctx, cancel := s.opContext()
	defer cancel()
	if err := s.gw.Presence.Touch(ctx, s.identity.UserID); err != nil {
		s.logger.Debug().Err(err).Msg("presence touch failed")
	}
}

func (s *session) sendError(text string) {
	payload, err := models.Encode(models.NewErrorEvent(text))
	if err != nil {
		return
	}
	observability.IncWSEvent("out", models.TypeError)
	s.client.Send(payload)
}

func (s *session) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.base, s.gw.opTimeout)
}
