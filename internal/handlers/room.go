package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ciphertalk/internal/crypto"
	"ciphertalk/internal/messages"
	"ciphertalk/internal/middleware"
	"ciphertalk/internal/models"
	"ciphertalk/internal/repositories"
	"ciphertalk/internal/telemetry"
	"ciphertalk/internal/ws"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// MessageService is the part of messages.Store the REST surface uses.
type MessageService interface {
	History(ctx context.Context, roomID int64, limit int) ([]models.Message, error)
	DeleteBySender(ctx context.Context, messageID, roomID, senderID int64) (models.Message, error)
}

// KeySharer hands out the room key wrapped for a client public key.
type KeySharer interface {
	ShareWith(ctx context.Context, roomID int64, publicPEM []byte) (string, error)
}

// Broadcaster pushes an event to everyone connected to a room.
type Broadcaster interface {
	Broadcast(ctx context.Context, room string, ev models.Outbound) error
}

// RoomHandler serves message history, sender deletes and key distribution.
type RoomHandler struct {
	rooms    repositories.RoomRepository
	messages MessageService
	keys     KeySharer
	hub      Broadcaster
	audit    *telemetry.AuditEmitter
	logger   zerolog.Logger
}

// NewRoomHandler builds a RoomHandler. audit may be nil.
func NewRoomHandler(rooms repositories.RoomRepository, msgs MessageService, keys KeySharer, hub Broadcaster, audit *telemetry.AuditEmitter, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{
		rooms:    rooms,
		messages: msgs,
		keys:     keys,
		hub:      hub,
		audit:    audit,
		logger:   logger.With().Str("component", "rooms").Logger(),
	}
}

// Register mounts the room routes behind authMiddleware.
func (h *RoomHandler) Register(r gin.IRoutes, authMiddleware gin.HandlerFunc) {
	r.GET("/rooms/:room_name/messages", authMiddleware, h.GetMessages)
	r.DELETE("/rooms/:room_name/messages/:message_id", authMiddleware, h.DeleteMessage)
	r.POST("/rooms/:room_name/key-share", authMiddleware, h.ShareKey)
}

type messageResponse struct {
	ID               int64              `json:"id"`
	SenderID         int64              `json:"sender_id"`
	EncryptedContent string             `json:"encrypted_content"`
	MessageType      models.MessageKind `json:"message_type"`
	Timestamp        string             `json:"timestamp"`
	IsRead           bool               `json:"is_read"`
	IsEdited         bool               `json:"is_edited"`
	SelfDestruct     bool               `json:"self_destruct"`
	DestroyAfter     *string            `json:"destroy_after,omitempty"`
	ReplyTo          *int64             `json:"reply_to,omitempty"`
}

// GetMessages returns the live history of a room to a participant.
func (h *RoomHandler) GetMessages(c *gin.Context) {
	room, _, ok := h.participantRoom(c)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	msgs, err := h.messages.History(c.Request.Context(), room.ID, limit)
	if err != nil {
		h.logger.Error().Err(err).Int64("room_id", room.ID).Msg("history failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		item := messageResponse{
			ID:               m.ID,
			SenderID:         m.SenderID,
			EncryptedContent: m.EncryptedContent,
			MessageType:      m.Kind,
			Timestamp:        models.FormatTime(m.Timestamp),
			IsRead:           m.IsRead,
			IsEdited:         m.IsEdited,
			SelfDestruct:     m.SelfDestruct,
			ReplyTo:          m.ReplyTo,
		}
		if m.DestroyAfter != nil {
			at := models.FormatTime(*m.DestroyAfter)
			item.DestroyAfter = &at
		}
		resp = append(resp, item)
	}
	c.JSON(http.StatusOK, gin.H{"room": room.Name, "messages": resp})
}

// DeleteMessage soft-deletes one of the caller's own messages and tells the room.
func (h *RoomHandler) DeleteMessage(c *gin.Context) {
	room, identity, ok := h.participantRoom(c)
	if !ok {
		return
	}

	messageID, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil || messageID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	ctx := c.Request.Context()
	msg, err := h.messages.DeleteBySender(ctx, messageID, room.ID, identity.UserID)
	switch {
	case errors.Is(err, repositories.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	case errors.Is(err, messages.ErrNotSender):
		c.JSON(http.StatusForbidden, gin.H{"error": "only the sender can delete this message"})
		return
	case errors.Is(err, messages.ErrAlreadyDeleted):
		c.JSON(http.StatusConflict, gin.H{"error": "message already deleted"})
		return
	case err != nil:
		h.logger.Error().Err(err).Int64("message_id", messageID).Msg("delete failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete message"})
		return
	}

	if err := h.hub.Broadcast(ctx, room.GroupKey(), models.NewDeletedEvent(msg.ID)); err != nil {
		h.logger.Warn().Err(err).Int64("message_id", msg.ID).Msg("message_deleted broadcast failed")
	}
	h.audit.Emit(ctx, "INFO", telemetry.AuditMessageDeleted, telemetry.AuditTarget{Room: room.Name, RoomID: room.ID, MessageID: &msg.ID}, requestIDFromContext(c), userIDFromContext(c))

	c.JSON(http.StatusOK, gin.H{"message_id": msg.ID, "deleted": true})
}

type keyShareRequest struct {
	PublicKey string `json:"public_key" binding:"required"`
}

// ShareKey returns the room key wrapped for the caller's RSA public key.
func (h *RoomHandler) ShareKey(c *gin.Context) {
	room, _, ok := h.participantRoom(c)
	if !ok {
		return
	}

	var req keyShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "public_key is required"})
		return
	}
	if _, err := crypto.ParsePublicKey([]byte(req.PublicKey)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid public key"})
		return
	}

	ctx := c.Request.Context()
	wrapped, err := h.keys.ShareWith(ctx, room.ID, []byte(req.PublicKey))
	if err != nil {
		h.logger.Error().Err(err).Int64("room_id", room.ID).Msg("key share failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to share room key"})
		return
	}
	h.audit.Emit(ctx, "INFO", telemetry.AuditRoomKeyShared, telemetry.AuditTarget{Room: room.Name, RoomID: room.ID}, requestIDFromContext(c), userIDFromContext(c))

	c.JSON(http.StatusOK, gin.H{
		"room":        room.Name,
		"wrapped_key": wrapped,
		"algorithm":   "RSA-OAEP-SHA256",
		"issued_at":   models.FormatTime(time.Now()),
	})
}

// participantRoom resolves :room_name and checks that the caller belongs to it.
// It writes the error response itself and reports false on failure.
func (h *RoomHandler) participantRoom(c *gin.Context) (models.Room, models.Identity, bool) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return models.Room{}, models.Identity{}, false
	}

	name, err := ws.DecodeRoomName(c.Param("room_name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room name"})
		return models.Room{}, models.Identity{}, false
	}

	ctx := c.Request.Context()
	room, err := h.rooms.GetActiveRoomByName(ctx, name)
	if errors.Is(err, repositories.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return models.Room{}, models.Identity{}, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return models.Room{}, models.Identity{}, false
	}

	member, err := h.rooms.IsParticipant(ctx, room.ID, identity.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check membership"})
		return models.Room{}, models.Identity{}, false
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return models.Room{}, models.Identity{}, false
	}
	return room, identity, true
}
