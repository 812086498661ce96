package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// ListCache caches listing responses as JSON. A miss is loaded under a
// distributed lock so concurrent misses hit the database once.
type ListCache struct {
	redisClient RedisClient
	locks       *DistributedLockService
	ttl         time.Duration
	log         *slog.Logger
}

// NewListCache builds a cache; locks may be nil.
func NewListCache(client RedisClient, locks *DistributedLockService, ttl time.Duration, log *slog.Logger) *ListCache {
	return &ListCache{redisClient: client, locks: locks, ttl: ttl, log: log}
}

func (c *ListCache) GetOrLoad(ctx context.Context, key string, dest interface{}, load func() (interface{}, error)) error {
	hit, err := c.get(ctx, key, dest)
	if err != nil {
		return err
	}
	if hit {
		return nil
	}

	fill := func() error {
		// another holder may have filled it while we waited
		if hit, err := c.get(ctx, key, dest); err == nil && hit {
			return nil
		}
		version, err := readVersion(ctx, c.redisClient, key)
		if err != nil {
			c.log.Warn("list cache version read failed", "key", key, "error", err)
			return c.loadAndStore(ctx, key, dest, load, -1)
		}
		return c.loadAndStore(ctx, key, dest, load, version)
	}

	if c.locks == nil {
		return fill()
	}
	err = c.locks.WithLock(ctx, "cache_lock:"+key, 5*time.Second, fill)
	if errors.Is(err, ErrLockNotAcquired) {
		c.log.Warn("list cache lock busy, loading without cache", "key", key)
		return c.loadAndStore(ctx, key, dest, load, -1)
	}
	return err
}

// Invalidate drops keys. Loads that started before the call will not store.
func (c *ListCache) Invalidate(ctx context.Context, keys ...string) error {
	return invalidateVersioned(ctx, c.redisClient, c.ttl, keys...)
}

func (c *ListCache) get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redisClient.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.log.Warn("dropping undecodable cache entry", "key", key, "error", err)
		if err := c.redisClient.Del(ctx, key).Err(); err != nil {
			c.log.Warn("list cache delete failed", "key", key, "error", err)
		}
		return false, nil
	}
	return true, nil
}

// loadAndStore loads the value and, when version is not negative, caches it
// under that version.
func (c *ListCache) loadAndStore(ctx context.Context, key string, dest interface{}, load func() (interface{}, error), version int64) error {
	value, err := load()
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if version >= 0 {
		stored, err := setIfVersion(ctx, c.redisClient, key, version, data, jitter(c.ttl))
		switch {
		case err != nil:
			c.log.Warn("list cache write failed", "key", key, "error", err)
		case !stored:
			c.log.Debug("list invalidated while loading, not caching", "key", key)
		}
	}
	return json.Unmarshal(data, dest)
}

// jitter spreads expiries by up to a tenth of ttl.
func jitter(ttl time.Duration) time.Duration {
	if spread := int64(ttl / 10); spread > 0 {
		return ttl + time.Duration(rand.Int63n(spread))
	}
	return ttl
}
