// Package lock provides an in-process implementation of domain.LockManager
// for single-instance deployments.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

type entry struct {
	token   uint64
	expires time.Time
}

// Keyed is a map of exclusive per-key locks with a TTL, mirroring the
// semantics of the Redis lock: Acquire never blocks and an expired holder
// loses the key to the next caller.
type Keyed struct {
	mu    sync.Mutex
	held  map[string]entry
	seq   uint64
	nowFn func() time.Time
}

// NewKeyed creates an empty lock table.
func NewKeyed() *Keyed {
	return &Keyed{held: make(map[string]entry), nowFn: time.Now}
}

// Acquire takes the lock for key. It returns domain.ErrLockHeld if another
// holder has it and its TTL has not lapsed. The returned unlock function is
// idempotent and only releases the lock it acquired.
func (k *Keyed) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	now := k.nowFn()
	if e, ok := k.held[key]; ok && now.Before(e.expires) {
		k.mu.Unlock()
		return nil, domain.ErrLockHeld
	}
	k.seq++
	token := k.seq
	k.held[key] = entry{token: token, expires: now.Add(ttl)}
	k.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			if e, ok := k.held[key]; ok && e.token == token {
				delete(k.held, key)
			}
			k.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently locked.
func (k *Keyed) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.held[key]
	return ok && k.nowFn().Before(e.expires)
}

var _ domain.LockManager = (*Keyed)(nil)
