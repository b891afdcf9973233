package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"ciphertalk/internal/messages"
	"ciphertalk/internal/models"
	"ciphertalk/internal/observability"
	"ciphertalk/internal/repositories"
	"ciphertalk/internal/telemetry"
)

// IdentityProvider resolves a bearer token to the caller's identity.
type IdentityProvider interface {
	Authenticate(ctx context.Context, token string) (models.Identity, error)
}

// MessageStore is the part of messages.Store a session uses.
type MessageStore interface {
	Create(ctx context.Context, p messages.CreateParams) (models.Message, error)
	MarkRead(ctx context.Context, messageID, roomID int64) error
}

// PresenceTracker is the part of presence.Tracker a session uses.
type PresenceTracker interface {
	SetOnline(ctx context.Context, userID int64, online bool) error
	SetTyping(ctx context.Context, userID int64, roomID *int64) error
	Touch(ctx context.Context, userID int64) error
}

// OfflineNotifier is signalled after a message is broadcast.
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, room models.Room, sender models.Identity, msg models.Message, plaintext string)
}

// Deps are the collaborators of a Gateway. Notifier and Events are optional.
type Deps struct {
	Hub        *Hub
	Rooms      repositories.RoomRepository
	Messages   MessageStore
	Presence   PresenceTracker
	Identities IdentityProvider
	Notifier   OfflineNotifier
	Events     *telemetry.WSEventEmitter
	Logger     zerolog.Logger
}

// Gateway admits websocket connections into rooms and runs their sessions.
type Gateway struct {
	Deps
	upgrader  websocket.Upgrader
	sessions  sync.WaitGroup
	opTimeout time.Duration
}

func NewGateway(deps Deps) *Gateway {
	deps.Logger = deps.Logger.With().Str("component", "gateway").Logger()
	return &Gateway{
		Deps: deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		opTimeout: 10 * time.Second,
	}
}

// Register mounts the websocket route. The router must keep path values
// escaped (UseRawPath, !UnescapePathValues) so room names decode exactly once.
func (g *Gateway) Register(r gin.IRoutes) {
	r.GET("/ws/chat/:room_name", g.Handle)
}

// Handle upgrades the connection, runs admission and starts the session.
// Refusals are reported with a close frame so browser clients can read the code.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("ciphertalk/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.Logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	s := newSession(g, conn, info, span.SpanContext())

	if adm := s.admit(ctx, c.Param("room_name"), bearerToken(c.Request)); adm != nil {
		span.SetAttributes(attribute.Int("ws.close_code", adm.Code))
		s.reject(ctx, adm)
		return
	}
	span.SetAttributes(attribute.String("ws.room", s.room.Name), attribute.Int64("user.id", s.identity.UserID))

	g.sessions.Add(1)
	go func() {
		defer g.sessions.Done()
		s.run()
	}()
}

// Wait blocks until every running session has finished its cleanup or ctx ends.
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
