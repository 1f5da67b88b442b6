// Package gate serializes resolve-or-create room resolution per canonical
// key. Room creation is a check-then-act sequence against both the local
// store and the external provider; without per-key mutual exclusion two
// concurrent requests for the same pair of users produce two rooms and two
// remote channels.
package gate

import (
	"context"
	"sync"
)

// Gate runs fn while holding an exclusive lock on key. At most one
// execution per key is in flight across the process group.
type Gate interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// LocalGate is an in-process gate: a mutex per key. Sufficient for a single
// replica and for tests; multi-replica deployments use RedisGate.
type LocalGate struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocalGate creates a new in-process gate.
func NewLocalGate() *LocalGate {
	return &LocalGate{locks: make(map[string]*keyLock)}
}

// WithLock runs fn holding the per-key mutex.
func (g *LocalGate) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	kl, ok := g.locks[key]
	if !ok {
		kl = &keyLock{}
		g.locks[key] = kl
	}
	kl.refs++
	g.mu.Unlock()

	kl.mu.Lock()
	defer func() {
		kl.mu.Unlock()
		g.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(g.locks, key)
		}
		g.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
