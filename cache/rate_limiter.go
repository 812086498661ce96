package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether one more request for key may pass.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// tokenBucketScript refills at rate tokens per second with millisecond
// precision and spends one token when available.
const tokenBucketScript = `
local tokens_key = KEYS[1] .. ":tokens"
local ts_key = KEYS[1] .. ":ts"
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local tokens = tonumber(redis.call("get", tokens_key))
if tokens == nil then
	tokens = burst
end
local last = tonumber(redis.call("get", ts_key))
if last == nil then
	last = now
end

local elapsed = math.max(0, now - last) / 1000
tokens = math.min(burst, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call("set", tokens_key, tostring(tokens), "EX", ttl)
redis.call("set", ts_key, tostring(now), "EX", ttl)
return allowed
`

// TokenBucketRateLimiter keeps its buckets in Redis so every instance shares them.
type TokenBucketRateLimiter struct {
	redisClient RedisClient
	prefix      string
	rate        int
	burst       int
	now         func() time.Time
}

func NewTokenBucketRateLimiter(client RedisClient, prefix string, ratePerSecond, burst int) *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		redisClient: client,
		prefix:      fmt.Sprintf("rate_limit:%s", prefix),
		rate:        ratePerSecond,
		burst:       burst,
		now:         time.Now,
	}
}

func (l *TokenBucketRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.redisClient == nil {
		return false, ErrRedisNotAvailable
	}
	ttl := 1
	if l.rate > 0 {
		ttl = 2*l.burst/l.rate + 1
	}
	res, err := l.redisClient.Eval(ctx, tokenBucketScript,
		[]string{l.prefix + ":" + key},
		l.now().UnixMilli(), l.rate, l.burst, ttl,
	).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

const maxLocalBuckets = 10000

// LocalRateLimiter is the in-process fallback used when Redis is absent.
type LocalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewLocalRateLimiter(ratePerSecond, burst int) *LocalRateLimiter {
	return &LocalRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(ratePerSecond),
		burst:    burst,
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxLocalBuckets {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow(), nil
}

// FallbackRateLimiter asks primary first and falls back to secondary when
// primary errors, so a Redis outage never blocks traffic outright.
type FallbackRateLimiter struct {
	primary   RateLimiter
	secondary RateLimiter
}

func NewFallbackRateLimiter(primary, secondary RateLimiter) *FallbackRateLimiter {
	return &FallbackRateLimiter{primary: primary, secondary: secondary}
}

func (l *FallbackRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.primary != nil {
		ok, err := l.primary.Allow(ctx, key)
		if err == nil {
			return ok, nil
		}
	}
	return l.secondary.Allow(ctx, key)
}
