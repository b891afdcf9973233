package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ciphertalk/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	expired  []models.Message
	listErr  error
	failOn   map[int64]bool
	deleted  []int64
	listings int
}

func (f *fakeStore) Expired(_ context.Context, _ time.Time, _ int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings++
	return f.expired, f.listErr
}

func (f *fakeStore) IsExpired(msg models.Message, now time.Time) bool {
	return msg.SelfDestruct && msg.DestroyAfter != nil && now.After(*msg.DestroyAfter)
}

func (f *fakeStore) SoftDelete(_ context.Context, msg models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[msg.ID] {
		return errors.New("db down")
	}
	f.deleted = append(f.deleted, msg.ID)
	return nil
}

func (f *fakeStore) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listings
}

type fakePresence struct {
	expired int
	err     error
	calls   int
}

func (f *fakePresence) ExpireStale(_ context.Context, _ time.Duration) (int, error) {
	f.calls++
	return f.expired, f.err
}

type recordingNotifier struct {
	ids []int64
}

func (r *recordingNotifier) MessageExpired(_ context.Context, msg models.Message) {
	r.ids = append(r.ids, msg.ID)
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func selfDestructing(id int64, at time.Time) models.Message {
	return models.Message{ID: id, RoomID: 10, SelfDestruct: true, DestroyAfter: &at}
}

func newTestSweeper(store MessageStore, presence PresenceExpirer, notifier DeletionNotifier) *Sweeper {
	s := New(store, presence, notifier, time.Minute, 5*time.Minute, zerolog.Nop())
	s.now = func() time.Time { return now }
	return s
}

func TestRunOnceDeletesExpiredMessages(t *testing.T) {
	store := &fakeStore{expired: []models.Message{
		selfDestructing(1, now.Add(-time.Second)),
		selfDestructing(2, now),
		selfDestructing(3, now.Add(-time.Hour)),
	}}
	presence := &fakePresence{expired: 2}
	notifier := &recordingNotifier{}

	res, err := newTestSweeper(store, presence, notifier).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3}, store.deleted, "a message is not expired at exactly destroy_after")
	assert.Equal(t, []int64{1, 3}, notifier.ids)
	assert.Equal(t, Result{ExpiredMessages: 2, StalePresence: 2}, res)
}

func TestRunOnceSkipsFailedRecords(t *testing.T) {
	store := &fakeStore{
		expired: []models.Message{
			selfDestructing(1, now.Add(-time.Minute)),
			selfDestructing(2, now.Add(-time.Minute)),
		},
		failOn: map[int64]bool{1: true},
	}
	notifier := &recordingNotifier{}

	res, err := newTestSweeper(store, &fakePresence{}, notifier).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, store.deleted)
	assert.Equal(t, []int64{2}, notifier.ids)
	assert.Equal(t, 1, res.ExpiredMessages)
}

func TestRunOnceListingErrorStillRunsPresencePass(t *testing.T) {
	listErr := errors.New("list failed")
	presenceErr := errors.New("presence failed")
	store := &fakeStore{listErr: listErr}
	presence := &fakePresence{err: presenceErr}

	_, err := newTestSweeper(store, presence, nil).RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, listErr)
	assert.ErrorIs(t, err, presenceErr)
	assert.Equal(t, 1, presence.calls)
}

func TestRunOnceStopsBetweenRecordsOnCancel(t *testing.T) {
	store := &fakeStore{expired: []models.Message{selfDestructing(1, now.Add(-time.Minute))}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestSweeper(store, &fakePresence{}, nil).RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.deleted)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	s := New(store, &fakePresence{}, nil, 10*time.Millisecond, time.Minute, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return store.listCount() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
