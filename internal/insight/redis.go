package insight

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clinsight/platform/internal/shared/errors"
)

const redisKeyPrefix = "insight:"

// RedisCache implements Cache on Redis, letting the TTL handle expiry
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a Redis-backed insight cache
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns the unexpired entry for the fingerprint, or nil
func (c *RedisCache) Get(ctx context.Context, fingerprint string) (*CachedInsight, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+fingerprint).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.PersistenceUnavailable(err)
	}

	var entry CachedInsight
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, errors.Wrap(err, "failed to decode cached insight")
	}
	// Redis TTL should have evicted it, but trust the stored expiry
	if entry.Expired(time.Now().UTC()) {
		return nil, nil
	}
	return &entry, nil
}

// Put stores an entry with its remaining time-to-live
func (c *RedisCache) Put(ctx context.Context, entry CachedInsight) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to encode cached insight")
	}
	if err := c.client.Set(ctx, redisKeyPrefix+entry.Fingerprint, raw, ttl).Err(); err != nil {
		return errors.PersistenceUnavailable(err)
	}
	return nil
}
