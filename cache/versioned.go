package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cached values derived from the database are written with a version guard:
// a loader reads the version before querying the store and the write only
// lands if no invalidation bumped the version in between. Without it a slow
// loader can put back a value older than the write that invalidated it.

// setIfVersionScript sets KEYS[1] to ARGV[2] with a PX of ARGV[3] while the
// counter at KEYS[2] still equals ARGV[1]. A missing counter reads as "0".
const setIfVersionScript = `
local current = redis.call("GET", KEYS[2])
if not current then
    current = "0"
end
if current ~= ARGV[1] then
    return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`

const minVersionTTL = time.Hour

func versionKey(key string) string { return key + ":version" }

// versionTTL keeps a version counter alive well past the value it guards.
func versionTTL(ttl time.Duration) time.Duration {
	if 2*ttl > minVersionTTL {
		return 2 * ttl
	}
	return minVersionTTL
}

func readVersion(ctx context.Context, client RedisClient, key string) (int64, error) {
	v, err := client.Get(ctx, versionKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func setIfVersion(ctx context.Context, client RedisClient, key string, version int64, data []byte, ttl time.Duration) (bool, error) {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		ms = minVersionTTL.Milliseconds()
	}
	res, err := client.Eval(ctx, setIfVersionScript,
		[]string{key, versionKey(key)},
		strconv.FormatInt(version, 10), data, ms,
	).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// invalidateVersioned bumps the version of every key and deletes the values.
func invalidateVersioned(ctx context.Context, client RedisClient, ttl time.Duration, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := client.TxPipeline()
	for _, key := range keys {
		vk := versionKey(key)
		pipe.Incr(ctx, vk)
		pipe.Expire(ctx, vk, versionTTL(ttl))
	}
	pipe.Del(ctx, keys...)
	_, err := pipe.Exec(ctx)
	return err
}
