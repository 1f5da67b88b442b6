package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lease could not be acquired within
// the gate's wait window.
var ErrNotAcquired = errors.New("lock not acquired within wait window")

// ReleaseScript deletes the lock only if the caller still holds it, so an
// expired holder cannot release a lock re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// redisClient is the slice of *redis.Client the gate uses.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// RedisGate is a lease-based distributed gate. The lease TTL bounds how
// long a crashed holder can block other processes; the wait window bounds
// how long a contending caller polls before giving up.
type RedisGate struct {
	client        redisClient
	lease         time.Duration
	wait          time.Duration
	retryInterval time.Duration
}

// NewRedisGate creates a gate backed by a Redis lease lock.
func NewRedisGate(client *redis.Client, lease, wait time.Duration) *RedisGate {
	if lease <= 0 {
		lease = 15 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisGate{
		client:        client,
		lease:         lease,
		wait:          wait,
		retryInterval: 50 * time.Millisecond,
	}
}

// WithLock acquires the lease for key, runs fn, and releases the lease.
// Acquisition polls until the wait window elapses or ctx is cancelled.
func (g *RedisGate) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockKey := "chatroom:lock:" + key
	token := uuid.NewString()

	deadline := time.NewTimer(g.wait)
	defer deadline.Stop()

	for {
		ok, err := g.client.SetNX(ctx, lockKey, token, g.lease).Result()
		if err != nil {
			return fmt.Errorf("acquire lock for key: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrNotAcquired
		case <-time.After(g.retryInterval):
		}
	}

	defer func() {
		// Best effort: an unreleased lease expires on its own.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, g.client, []string{lockKey}, token).Err()
	}()

	return fn(ctx)
}
