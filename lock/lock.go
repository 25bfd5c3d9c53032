/*
Package lock serializes work per key.

PURPOSE:
  Checking availability and committing a payout is a read-modify-write on
  one entitlement. Two payouts against the same entitlement must never
  interleave, while payouts against different entitlements run freely.

IMPLEMENTATIONS:
  - KeyedMutex:  in-process, one semaphore per key (single server)
  - RedisLocker: SET NX with a random token (several servers sharing a DB)

The optimistic version check in the store still runs underneath either
lock, so a lock that expires early degrades to a retryable conflict rather
than an overpayment.

SEE ALSO:
  - commission/payout.go: acquires "entitlement:<id>" around each payout
*/
package lock

import (
	"context"
	"sync"
)

// Locker acquires an exclusive lock on key. The returned func releases it
// and is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

var (
	_ Locker = (*KeyedMutex)(nil)
	_ Locker = (*RedisLocker)(nil)
)

// EntitlementKey is the lock key for one entitlement.
func EntitlementKey(id string) string {
	return "entitlement:" + id
}

// =============================================================================
// KEYED MUTEX
// =============================================================================

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// KeyedMutex is an in-process Locker. Entries are reference counted and
// removed once nobody holds or waits for them.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.unref(key, e)
		})
	}, nil
}

func (k *KeyedMutex) unref(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// held returns the number of keys currently tracked.
func (k *KeyedMutex) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
