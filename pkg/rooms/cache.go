package rooms

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache maps canonical keys to room ids to short-circuit repeated lookups.
// Entries are keyed by the full canonical key only; keying by participants
// plus the requesting tenant returns the wrong room when the same pair of
// users asks again from a different shared tenant.
type Cache interface {
	Get(ctx context.Context, canonicalKey string) (uuid.UUID, bool)
	Set(ctx context.Context, canonicalKey string, roomID uuid.UUID)
	Delete(ctx context.Context, canonicalKey string)
}

const cachePrefix = "chatroom:room:"

// RedisCache is a Redis-backed Cache with a bounded TTL. Cache failures are
// logged and treated as misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache creates a Redis-backed room cache.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached room id for a canonical key.
func (c *RedisCache) Get(ctx context.Context, canonicalKey string) (uuid.UUID, bool) {
	value, err := c.client.Get(ctx, cachePrefix+canonicalKey).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("room cache read failed", "error", err)
		}
		return uuid.Nil, false
	}
	roomID, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, false
	}
	return roomID, true
}

// Set stores a canonical key to room id mapping.
func (c *RedisCache) Set(ctx context.Context, canonicalKey string, roomID uuid.UUID) {
	if err := c.client.Set(ctx, cachePrefix+canonicalKey, roomID.String(), c.ttl).Err(); err != nil {
		c.logger.Warn("room cache write failed", "error", err)
	}
}

// Delete drops a cached mapping.
func (c *RedisCache) Delete(ctx context.Context, canonicalKey string) {
	if err := c.client.Del(ctx, cachePrefix+canonicalKey).Err(); err != nil {
		c.logger.Warn("room cache delete failed", "error", err)
	}
}
