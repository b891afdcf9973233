package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ciphertalk/internal/repositories"
)

const staleBatch = 500

// Tracker owns the online/typing state of users. Updates for one user are
// last-write-wins; updates for different users never interact.
type Tracker struct {
	repo   repositories.PresenceRepository
	now    func() time.Time
	logger zerolog.Logger
}

func NewTracker(repo repositories.PresenceRepository, logger zerolog.Logger) *Tracker {
	return &Tracker{repo: repo, now: time.Now, logger: logger.With().Str("component", "presence").Logger()}
}

// SetOnline flips the online flag. Going offline also clears the typing target.
func (t *Tracker) SetOnline(ctx context.Context, userID int64, online bool) error {
	if err := t.repo.SetOnline(ctx, userID, online, t.now()); err != nil {
		return fmt.Errorf("presence: set online=%t for %d: %w", online, userID, err)
	}
	return nil
}

// SetTyping records the room a user is typing in; nil clears it.
func (t *Tracker) SetTyping(ctx context.Context, userID int64, roomID *int64) error {
	if err := t.repo.SetTyping(ctx, userID, roomID, t.now()); err != nil {
		return fmt.Errorf("presence: set typing for %d: %w", userID, err)
	}
	return nil
}

func (t *Tracker) IsOnline(ctx context.Context, userID int64) (bool, error) {
	p, err := t.repo.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("presence: get %d: %w", userID, err)
	}
	return p.Online, nil
}

// Touch refreshes last activity for a live session.
func (t *Tracker) Touch(ctx context.Context, userID int64) error {
	if err := t.repo.Touch(ctx, userID, t.now()); err != nil {
		return fmt.Errorf("presence: touch %d: %w", userID, err)
	}
	return nil
}

// ExpireStale forces offline every online user idle for longer than staleAfter.
// A user who becomes active between listing and update is left alone. Per-user
// failures are logged and skipped; the returned error is only for the listing.
func (t *Tracker) ExpireStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := t.now().Add(-staleAfter)
	ids, err := t.repo.ListStale(ctx, cutoff, staleBatch)
	if err != nil {
		return 0, fmt.Errorf("presence: list stale: %w", err)
	}

	expired := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		changed, err := t.repo.SetOfflineIfStale(ctx, id, cutoff)
		if err != nil {
			t.logger.Warn().Err(err).Int64("user_id", id).Msg("stale presence update failed")
			continue
		}
		if changed {
			expired++
		}
	}
	return expired, nil
}
