package keyring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ciphertalk/internal/crypto"
	"ciphertalk/internal/repositories"
)

type memKeyRepo struct {
	mu      sync.Mutex
	keys    map[int64]string
	inserts int
	reads   int
	// gates hold reads of a room until the channel is closed.
	gates map[int64]chan struct{}
	// beforeInsert runs ahead of the conflict check, like a concurrent writer.
	beforeInsert func(roomID int64)
}

func newMemKeyRepo() *memKeyRepo {
	return &memKeyRepo{keys: map[int64]string{}, gates: map[int64]chan struct{}{}}
}

func (r *memKeyRepo) GetWrappedKey(ctx context.Context, roomID int64) (string, error) {
	r.mu.Lock()
	gate := r.gates[roomID]
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	wrapped, ok := r.keys[roomID]
	if !ok {
		return "", repositories.ErrRoomKeyNotFound
	}
	return wrapped, nil
}

func (r *memKeyRepo) InsertWrappedKey(_ context.Context, roomID int64, wrapped string) error {
	if r.beforeInsert != nil {
		r.beforeInsert(roomID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserts++
	if _, ok := r.keys[roomID]; !ok {
		r.keys[roomID] = wrapped
	}
	return nil
}

func newKeyring(t *testing.T, repo repositories.RoomKeyRepository) (*Keyring, *crypto.Engine, crypto.KeyPair) {
	t.Helper()
	engine := crypto.NewEngine()
	pair, err := engine.GenerateKeyPair()
	require.NoError(t, err)
	k, err := New(engine, repo, pair.PrivatePEM)
	require.NoError(t, err)
	return k, engine, pair
}

func TestRoomKeyCreatedOnceAndCached(t *testing.T) {
	repo := newMemKeyRepo()
	k, _, _ := newKeyring(t, repo)

	first, err := k.RoomKey(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, first, crypto.KeySize)

	second, err := k.RoomKey(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, repo.inserts)

	other, err := k.RoomKey(context.Background(), 2)
	require.NoError(t, err)
	require.NotEqual(t, first, other)
}

func TestRoomKeySurvivesRestart(t *testing.T) {
	repo := newMemKeyRepo()
	engine := crypto.NewEngine()
	pair, err := engine.GenerateKeyPair()
	require.NoError(t, err)

	k1, err := New(engine, repo, pair.PrivatePEM)
	require.NoError(t, err)
	key, err := k1.RoomKey(context.Background(), 7)
	require.NoError(t, err)

	blob, err := engine.Encrypt("persisted", key)
	require.NoError(t, err)

	k2, err := New(engine, repo, pair.PrivatePEM)
	require.NoError(t, err)
	reloaded, err := k2.RoomKey(context.Background(), 7)
	require.NoError(t, err)

	plain, err := engine.Decrypt(blob, reloaded)
	require.NoError(t, err)
	require.Equal(t, "persisted", plain)
}

func TestRoomKeyLosesRaceToOtherNode(t *testing.T) {
	repo := newMemKeyRepo()
	k, engine, pair := newKeyring(t, repo)

	winner, err := engine.GenerateKey()
	require.NoError(t, err)
	wrapped, err := engine.WrapKey(winner, pair.PublicPEM)
	require.NoError(t, err)

	repo.beforeInsert = func(roomID int64) {
		repo.mu.Lock()
		repo.keys[roomID] = wrapped
		repo.mu.Unlock()
	}

	got, err := k.RoomKey(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, winner, got)
	require.Equal(t, 1, repo.inserts)
}

func TestSlowRoomDoesNotBlockOtherRooms(t *testing.T) {
	repo := newMemKeyRepo()
	k, _, _ := newKeyring(t, repo)

	ready, err := k.RoomKey(context.Background(), 2)
	require.NoError(t, err)

	gate := make(chan struct{})
	repo.mu.Lock()
	repo.gates[1] = gate
	repo.mu.Unlock()

	slow := make(chan error, 1)
	go func() {
		_, err := k.RoomKey(context.Background(), 1)
		slow <- err
	}()

	done := make(chan []byte, 1)
	go func() {
		key, _ := k.RoomKey(context.Background(), 2)
		done <- key
	}()
	select {
	case key := <-done:
		require.Equal(t, ready, key)
	case <-time.After(time.Second):
		t.Fatal("room 2 blocked behind room 1")
	}

	close(gate)
	require.NoError(t, <-slow)
}

func TestConcurrentFirstUseSharesOneLoad(t *testing.T) {
	repo := newMemKeyRepo()
	k, _, _ := newKeyring(t, repo)

	gate := make(chan struct{})
	repo.gates[4] = gate

	const callers = 8
	keys := make(chan []byte, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := k.RoomKey(context.Background(), 4)
			if err == nil {
				keys <- key
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(keys)

	var first []byte
	count := 0
	for key := range keys {
		if first == nil {
			first = key
		}
		require.Equal(t, first, key)
		count++
	}
	require.Equal(t, callers, count)
	require.Equal(t, 1, repo.inserts)
}

func TestRoomKeyHonoursCallerCancellation(t *testing.T) {
	repo := newMemKeyRepo()
	k, _, _ := newKeyring(t, repo)

	gate := make(chan struct{})
	repo.gates[6] = gate
	defer close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := k.RoomKey(ctx, 6)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShareWith(t *testing.T) {
	k, engine, _ := newKeyring(t, newMemKeyRepo())
	member, err := engine.GenerateKeyPair()
	require.NoError(t, err)

	share, err := k.ShareWith(context.Background(), 5, member.PublicPEM)
	require.NoError(t, err)

	unwrapped, err := engine.UnwrapKey(share, member.PrivatePEM)
	require.NoError(t, err)

	key, err := k.RoomKey(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, key, unwrapped)

	_, err = k.ShareWith(context.Background(), 5, []byte("nope"))
	require.ErrorIs(t, err, crypto.ErrCrypto)
}

func TestNewRejectsBadPrivateKey(t *testing.T) {
	_, err := New(crypto.NewEngine(), newMemKeyRepo(), []byte("not a key"))
	require.ErrorIs(t, err, crypto.ErrCrypto)
}
