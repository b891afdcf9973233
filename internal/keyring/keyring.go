// Package keyring provisions one symmetric key per room. Keys are generated on
// first use, stored wrapped under the server key pair and cached once unwrapped.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ciphertalk/internal/crypto"
	"ciphertalk/internal/repositories"
)

// loadTimeout bounds a shared key load once it no longer follows any single caller.
const loadTimeout = 10 * time.Second

// Keyring resolves room keys. It is safe for concurrent use: the cache lock is
// never held across storage or RSA work, and concurrent misses for the same
// room share one load.
type Keyring struct {
	engine     *crypto.Engine
	repo       repositories.RoomKeyRepository
	privatePEM []byte
	publicPEM  []byte

	flight singleflight.Group
	mu     sync.RWMutex
	cache  map[int64][]byte
}

// New builds a Keyring around the server's RSA private key.
func New(engine *crypto.Engine, repo repositories.RoomKeyRepository, privatePEM []byte) (*Keyring, error) {
	publicPEM, err := crypto.PublicFromPrivate(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("keyring: %w", err)
	}
	return &Keyring{
		engine:     engine,
		repo:       repo,
		privatePEM: privatePEM,
		publicPEM:  publicPEM,
		cache:      make(map[int64][]byte),
	}, nil
}

// RoomKey returns the symmetric key of a room, creating it if the room has none yet.
func (k *Keyring) RoomKey(ctx context.Context, roomID int64) ([]byte, error) {
	if key, ok := k.cached(roomID); ok {
		return key, nil
	}

	// The load outlives a cancelled caller so the other waiters still get a result.
	loadCtx := context.WithoutCancel(ctx)
	ch := k.flight.DoChan(strconv.FormatInt(roomID, 10), func() (interface{}, error) {
		if key, ok := k.cached(roomID); ok {
			return key, nil
		}
		opCtx, cancel := context.WithTimeout(loadCtx, loadTimeout)
		defer cancel()

		key, err := k.load(opCtx, roomID)
		if errors.Is(err, repositories.ErrRoomKeyNotFound) {
			key, err = k.create(opCtx, roomID)
		}
		if err != nil {
			return nil, err
		}
		k.mu.Lock()
		k.cache[roomID] = key
		k.mu.Unlock()
		return key, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// ShareWith wraps the room key for the holder of publicPEM.
func (k *Keyring) ShareWith(ctx context.Context, roomID int64, publicPEM []byte) (string, error) {
	key, err := k.RoomKey(ctx, roomID)
	if err != nil {
		return "", err
	}
	return k.engine.WrapKey(key, publicPEM)
}

func (k *Keyring) cached(roomID int64) ([]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.cache[roomID]
	return key, ok
}

func (k *Keyring) load(ctx context.Context, roomID int64) ([]byte, error) {
	wrapped, err := k.repo.GetWrappedKey(ctx, roomID)
	if err != nil {
		return nil, err
	}
	key, err := k.engine.UnwrapKey(wrapped, k.privatePEM)
	if err != nil {
		return nil, fmt.Errorf("keyring: room %d: %w", roomID, err)
	}
	return key, nil
}

// create generates and stores a key. Another node may win the insert, so the
// stored key is always re-read.
func (k *Keyring) create(ctx context.Context, roomID int64) ([]byte, error) {
	key, err := k.engine.GenerateKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := k.engine.WrapKey(key, k.publicPEM)
	if err != nil {
		return nil, err
	}
	if err := k.repo.InsertWrappedKey(ctx, roomID, wrapped); err != nil {
		return nil, fmt.Errorf("keyring: store room key: %w", err)
	}
	return k.load(ctx, roomID)
}
