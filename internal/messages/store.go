// Package messages creates and mutates encrypted chat messages. Every online
// request and the expiry sweeper go through the same Store so the tombstone
// and read-flag rules hold uniformly.
package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"ciphertalk/internal/crypto"
	"ciphertalk/internal/models"
	"ciphertalk/internal/observability"
	"ciphertalk/internal/repositories"
)

// MaxDestroyMinutes caps the self-destruct delay a client may request (one year).
const MaxDestroyMinutes = 365 * 24 * 60

var (
	// ErrPersistence means the message store could not durably record a change.
	ErrPersistence = errors.New("persistence error")
	// ErrNotSender is returned when someone other than the sender deletes a message.
	ErrNotSender      = errors.New("only the sender may delete a message")
	ErrInvalidKind    = errors.New("invalid message kind")
	ErrAlreadyDeleted = errors.New("message already deleted")
)

// KeySource yields the symmetric key of a room.
type KeySource interface {
	RoomKey(ctx context.Context, roomID int64) ([]byte, error)
}

// CreateParams describes a send request. Plaintext is encrypted before it is stored.
type CreateParams struct {
	RoomID         int64
	SenderID       int64
	Plaintext      string
	Kind           models.MessageKind
	ReplyTo        *int64
	SelfDestruct   bool
	DestroyMinutes int
	FileName       *string
	FileSize       *int64
}

type Store struct {
	repo   repositories.MessageRepository
	engine *crypto.Engine
	keys   KeySource
	now    func() time.Time
	logger zerolog.Logger
}

type Option func(*Store)

// WithClock overrides the time source used for timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(repo repositories.MessageRepository, engine *crypto.Engine, keys KeySource, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		engine: engine,
		keys:   keys,
		now:    time.Now,
		logger: logger.With().Str("component", "messages").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create encrypts and persists a message. A reply_to that does not name a
// message in the same room is dropped. The returned message is only ever
// broadcast after this call succeeds.
func (s *Store) Create(ctx context.Context, p CreateParams) (models.Message, error) {
	ctx, span := otel.Tracer("ciphertalk/messages").Start(ctx, "messages.create")
	defer span.End()
	span.SetAttributes(attribute.Int64("room.id", p.RoomID), attribute.Int64("sender.id", p.SenderID))

	kind := p.Kind
	if kind == "" {
		kind = models.KindText
	}
	if !kind.Valid() {
		return models.Message{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	replyTo, err := s.resolveReply(ctx, p.RoomID, p.ReplyTo)
	if err != nil {
		return models.Message{}, err
	}

	var destroyAfter *time.Time
	if p.SelfDestruct && p.DestroyMinutes > 0 {
		at := s.now().Add(time.Duration(min(p.DestroyMinutes, MaxDestroyMinutes)) * time.Minute)
		destroyAfter = &at
	}

	key, err := s.keys.RoomKey(ctx, p.RoomID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, crypto.ErrCrypto) {
			observability.IncCryptoError("room_key")
			return models.Message{}, err
		}
		return models.Message{}, fmt.Errorf("%w: room key: %v", ErrPersistence, err)
	}

	blob, err := s.engine.Encrypt(p.Plaintext, key)
	if err != nil {
		span.RecordError(err)
		observability.IncCryptoError("encrypt")
		return models.Message{}, err
	}

	msg, err := s.repo.Insert(ctx, repositories.NewMessage{
		RoomID:           p.RoomID,
		SenderID:         p.SenderID,
		EncryptedContent: blob,
		Kind:             kind,
		ReplyTo:          replyTo,
		SelfDestruct:     p.SelfDestruct,
		DestroyAfter:     destroyAfter,
		FileName:         p.FileName,
		FileSize:         p.FileSize,
	})
	if err != nil {
		span.RecordError(err)
		return models.Message{}, fmt.Errorf("%w: insert: %v", ErrPersistence, err)
	}

	observability.IncMessagesPersisted()
	span.SetAttributes(attribute.Int64("message.id", msg.ID))
	return msg, nil
}

func (s *Store) resolveReply(ctx context.Context, roomID int64, replyTo *int64) (*int64, error) {
	if replyTo == nil {
		return nil, nil
	}
	parent, err := s.repo.GetInRoom(ctx, *replyTo, roomID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		s.logger.Debug().Int64("reply_to", *replyTo).Int64("room_id", roomID).Msg("dropping unresolved reply_to")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: resolve reply: %v", ErrPersistence, err)
	}
	id := parent.ID
	return &id, nil
}

// MarkRead flags a message read. Marking twice is not an error; a message in
// another room reports repositories.ErrMessageNotFound.
func (s *Store) MarkRead(ctx context.Context, messageID, roomID int64) error {
	err := s.repo.MarkRead(ctx, messageID, roomID)
	if err == nil || errors.Is(err, repositories.ErrMessageNotFound) {
		return err
	}
	return fmt.Errorf("%w: mark read: %v", ErrPersistence, err)
}

// SoftDelete irreversibly replaces the content of msg with the tombstone.
func (s *Store) SoftDelete(ctx context.Context, msg models.Message) error {
	err := s.repo.SoftDelete(ctx, msg.ID, models.Tombstone)
	if err == nil || errors.Is(err, repositories.ErrMessageNotFound) {
		return err
	}
	return fmt.Errorf("%w: soft delete: %v", ErrPersistence, err)
}

// DeleteBySender soft-deletes a message on behalf of its sender.
func (s *Store) DeleteBySender(ctx context.Context, messageID, roomID, senderID int64) (models.Message, error) {
	msg, err := s.repo.GetInRoom(ctx, messageID, roomID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, err
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: load: %v", ErrPersistence, err)
	}
	if msg.SenderID != senderID {
		return models.Message{}, ErrNotSender
	}
	if msg.IsDeleted {
		return models.Message{}, ErrAlreadyDeleted
	}
	if err := s.SoftDelete(ctx, msg); err != nil {
		return models.Message{}, err
	}
	msg.IsDeleted = true
	msg.EncryptedContent = models.Tombstone
	msg.IV = ""
	return msg, nil
}

// IsExpired reports whether msg should be swept at now.
func (s *Store) IsExpired(msg models.Message, now time.Time) bool {
	return msg.IsExpired(now)
}

// History returns up to limit live messages of a room, oldest first.
func (s *Store) History(ctx context.Context, roomID int64, limit int) ([]models.Message, error) {
	msgs, err := s.repo.ListRoomMessages(ctx, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: history: %v", ErrPersistence, err)
	}
	return msgs, nil
}

// Expired lists messages whose self-destruct time has passed.
func (s *Store) Expired(ctx context.Context, now time.Time, limit int) ([]models.Message, error) {
	msgs, err := s.repo.ListExpired(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list expired: %v", ErrPersistence, err)
	}
	return msgs, nil
}

// Normalize trims a chat message; an empty result means nothing should be sent.
func Normalize(text string) string {
	return strings.TrimSpace(text)
}
