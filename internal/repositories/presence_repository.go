package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"ciphertalk/internal/models"
)

// PresenceRepository persists one presence row per user. Rows are created on
// first write through upserts keyed on user_id.
type PresenceRepository interface {
	SetOnline(ctx context.Context, userID int64, online bool, at time.Time) error
	SetTyping(ctx context.Context, userID int64, roomID *int64, at time.Time) error
	Touch(ctx context.Context, userID int64, at time.Time) error
	Get(ctx context.Context, userID int64) (models.Presence, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)
	SetOfflineIfStale(ctx context.Context, userID int64, cutoff time.Time) (bool, error)
}

// PresenceRepo is a sqlx-backed PresenceRepository.
type PresenceRepo struct {
	db *sqlx.DB
}

// NewPresenceRepo constructs a PresenceRepo.
func NewPresenceRepo(db *sqlx.DB) *PresenceRepo {
	return &PresenceRepo{db: db}
}

// SetOnline records the online flag. Going offline always clears typing_in.
func (r *PresenceRepo) SetOnline(ctx context.Context, userID int64, online bool, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO user_presence (user_id, online_status, last_seen, typing_in)
        VALUES ($1, $2, $3, NULL)
        ON CONFLICT (user_id) DO UPDATE SET
            online_status = EXCLUDED.online_status,
            last_seen = EXCLUDED.last_seen,
            typing_in = CASE WHEN EXCLUDED.online_status THEN user_presence.typing_in ELSE NULL END`,
		userID, online, at)
	return err
}

// SetTyping records the room the user is typing in, or clears it when roomID is nil.
func (r *PresenceRepo) SetTyping(ctx context.Context, userID int64, roomID *int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO user_presence (user_id, online_status, last_seen, typing_in)
        VALUES ($1, TRUE, $2, $3)
        ON CONFLICT (user_id) DO UPDATE SET
            last_seen = EXCLUDED.last_seen,
            typing_in = CASE WHEN user_presence.online_status THEN EXCLUDED.typing_in ELSE NULL END`,
		userID, at, roomID)
	return err
}

// Touch refreshes last_seen without changing any other field.
func (r *PresenceRepo) Touch(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE user_presence SET last_seen = $2 WHERE user_id = $1`, userID, at)
	return err
}

// Get returns the presence row. Users never seen are reported offline.
func (r *PresenceRepo) Get(ctx context.Context, userID int64) (models.Presence, error) {
	var p models.Presence
	err := r.db.GetContext(ctx, &p, `SELECT user_id, online_status, last_seen, typing_in FROM user_presence WHERE user_id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Presence{UserID: userID}, nil
	}
	return p, err
}

// ListStale returns online users whose last activity is at or before cutoff.
func (r *PresenceRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM user_presence
        WHERE online_status = TRUE AND last_seen <= $1
        ORDER BY last_seen ASC
        LIMIT $2`, cutoff, limit)
	return ids, err
}

// SetOfflineIfStale flips a user offline (clearing typing_in) only if they
// have not been active since cutoff. It reports whether the row changed.
func (r *PresenceRepo) SetOfflineIfStale(ctx context.Context, userID int64, cutoff time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE user_presence SET online_status = FALSE, typing_in = NULL
        WHERE user_id = $1 AND online_status = TRUE AND last_seen <= $2`, userID, cutoff)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
