// Package sweeper periodically soft-deletes expired self-destructing messages
// and forces stale presence records offline.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"ciphertalk/internal/models"
	"ciphertalk/internal/observability"
)

const expiredBatch = 500

// MessageStore is the subset of messages.Store the sweeper mutates through.
type MessageStore interface {
	Expired(ctx context.Context, now time.Time, limit int) ([]models.Message, error)
	IsExpired(msg models.Message, now time.Time) bool
	SoftDelete(ctx context.Context, msg models.Message) error
}

// PresenceExpirer forces idle users offline.
type PresenceExpirer interface {
	ExpireStale(ctx context.Context, staleAfter time.Duration) (int, error)
}

// DeletionNotifier is told about each message the sweeper deleted.
type DeletionNotifier interface {
	MessageExpired(ctx context.Context, msg models.Message)
}

type Result struct {
	ExpiredMessages int
	StalePresence   int
}

type Sweeper struct {
	messages   MessageStore
	presence   PresenceExpirer
	notifier   DeletionNotifier
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// New builds a Sweeper. notifier may be nil.
func New(messages MessageStore, presence PresenceExpirer, notifier DeletionNotifier, interval, staleAfter time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		messages:   messages,
		presence:   presence,
		notifier:   notifier,
		interval:   interval,
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     logger.With().Str("component", "sweeper").Logger(),
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Dur("stale_after", s.staleAfter).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			res, err := s.RunOnce(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("sweep failed")
			}
			if res.ExpiredMessages > 0 || res.StalePresence > 0 {
				s.logger.Info().Int("expired_messages", res.ExpiredMessages).Int("stale_presence", res.StalePresence).Msg("sweep completed")
			}
		}
	}
}

// RunOnce performs both passes. Failures on individual records are skipped;
// the returned error reports a pass that could not run at all.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	now := s.now()

	expired, errMessages := s.sweepMessages(ctx, now)
	res.ExpiredMessages = expired

	stale, errPresence := s.presence.ExpireStale(ctx, s.staleAfter)
	res.StalePresence = stale

	err := errors.Join(errMessages, errPresence)
	observability.ObserveSweep(res.ExpiredMessages, res.StalePresence, err)
	return res, err
}

func (s *Sweeper) sweepMessages(ctx context.Context, now time.Time) (int, error) {
	msgs, err := s.messages.Expired(ctx, now, expiredBatch)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, msg := range msgs {
		// Stop between records, never in the middle of one.
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if !s.messages.IsExpired(msg, now) {
			continue
		}
		if err := s.messages.SoftDelete(ctx, msg); err != nil {
			s.logger.Warn().Err(err).Int64("message_id", msg.ID).Msg("expire message failed")
			continue
		}
		deleted++
		if s.notifier != nil {
			s.notifier.MessageExpired(ctx, msg)
		}
	}
	return deleted, nil
}
