package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis holds lock state in memory and answers the narrow command
// surface the gate uses.
type fakeRedis struct {
	mu   sync.Mutex
	held map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{held: make(map[string]string)}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.held[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.held[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) release(keys []string, args []interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := keys[0]
	if f.held[key] == args[0].(string) {
		delete(f.held, key)
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.release(keys, args)
}

func (f *fakeRedis) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.release(keys, args)
}

func (f *fakeRedis) EvalRO(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.release(keys, args)
}

func (f *fakeRedis) EvalShaRO(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.release(keys, args)
}

func (f *fakeRedis) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	exists := make([]bool, len(hashes))
	return redis.NewBoolSliceResult(exists, nil)
}

func (f *fakeRedis) ScriptLoad(_ context.Context, _ string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

func newTestRedisGate(client redisClient, wait time.Duration) *RedisGate {
	return &RedisGate{
		client:        client,
		lease:         time.Second,
		wait:          wait,
		retryInterval: time.Millisecond,
	}
}

func TestRedisGate_AcquiresAndReleases(t *testing.T) {
	fake := newFakeRedis()
	g := newTestRedisGate(fake, 100*time.Millisecond)

	ran := false
	err := g.WithLock(context.Background(), "direct:a:b", func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock failed: %v", err)
	}
	if !ran {
		t.Fatal("fn did not run")
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.held) != 0 {
		t.Errorf("lock still held after release: %v", fake.held)
	}
}

func TestRedisGate_WaitWindowBoundsAcquisition(t *testing.T) {
	fake := newFakeRedis()
	fake.held["chatroom:lock:direct:a:b"] = "other-holder"

	g := newTestRedisGate(fake, 20*time.Millisecond)

	start := time.Now()
	err := g.WithLock(context.Background(), "direct:a:b", func(ctx context.Context) error {
		t.Error("fn ran while the lease was held elsewhere")
		return nil
	})
	if !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("error = %v, want ErrNotAcquired", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("acquisition polled for %v, want it bounded by the wait window", elapsed)
	}
}

func TestRedisGate_ContextCancelStopsPolling(t *testing.T) {
	fake := newFakeRedis()
	fake.held["chatroom:lock:group:x"] = "other-holder"

	g := newTestRedisGate(fake, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := g.WithLock(ctx, "group:x", func(ctx context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
}
