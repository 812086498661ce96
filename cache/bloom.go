package cache

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	PollBloomKey = "bloom:polls"

	defaultBloomBits   = 1 << 24
	defaultBloomHashes = 5
)

// markReadyScript sets the ready marker KEYS[1] only while the generation
// counter KEYS[2] still equals ARGV[1].
const markReadyScript = `
local current = redis.call("GET", KEYS[2])
if not current then
    current = "0"
end
if current ~= ARGV[1] then
    return 0
end
redis.call("SET", KEYS[1], "1")
return 1
`

// BloomFilter is a Redis bitmap bloom filter. A negative answer is only
// meaningful once the filter has been marked ready, i.e. after every
// existing id has been added.
//
// Every Reset bumps a generation counter. A warm-up reads the generation
// before listing ids and MarkReady refuses a stale one, so a reset that
// races a warm-up keeps the filter untrusted.
type BloomFilter struct {
	redisClient RedisClient
	key         string
	readyKey    string
	genKey      string
	hashCount   int
	bits        uint64
}

func NewBloomFilter(client RedisClient, key string, hashCount int, bits uint64) *BloomFilter {
	if hashCount <= 0 {
		hashCount = defaultBloomHashes
	}
	if bits == 0 {
		bits = defaultBloomBits
	}
	return &BloomFilter{
		redisClient: client,
		key:         key,
		readyKey:    key + ":ready",
		genKey:      key + ":gen",
		hashCount:   hashCount,
		bits:        bits,
	}
}

// NewPollBloomFilter returns the filter guarding poll lookups.
func NewPollBloomFilter(client RedisClient) *BloomFilter {
	return NewBloomFilter(client, PollBloomKey, defaultBloomHashes, defaultBloomBits)
}

func (bf *BloomFilter) Add(ctx context.Context, item string) error {
	if bf.redisClient == nil {
		return ErrRedisNotAvailable
	}
	pipe := bf.redisClient.Pipeline()
	for i := 0; i < bf.hashCount; i++ {
		pipe.SetBit(ctx, bf.key, bf.hash(item, i), 1)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// MightContain reports false only when item was definitely never added.
func (bf *BloomFilter) MightContain(ctx context.Context, item string) (bool, error) {
	if bf.redisClient == nil {
		return false, ErrRedisNotAvailable
	}
	pipe := bf.redisClient.Pipeline()
	cmds := make([]*redis.IntCmd, 0, bf.hashCount)
	for i := 0; i < bf.hashCount; i++ {
		cmds = append(cmds, pipe.GetBit(ctx, bf.key, bf.hash(item, i)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	for _, cmd := range cmds {
		if cmd.Val() == 0 {
			return false, nil
		}
	}
	return true, nil
}

func (bf *BloomFilter) Ready(ctx context.Context) bool {
	if bf.redisClient == nil {
		return false
	}
	n, err := bf.redisClient.Exists(ctx, bf.readyKey).Result()
	return err == nil && n == 1
}

// Generation identifies the current fill of the filter; see MarkReady.
func (bf *BloomFilter) Generation(ctx context.Context) (int64, error) {
	if bf.redisClient == nil {
		return 0, ErrRedisNotAvailable
	}
	gen, err := bf.redisClient.Get(ctx, bf.genKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// MarkReady trusts the filter if no Reset happened since gen was read. It
// reports whether the marker was set.
func (bf *BloomFilter) MarkReady(ctx context.Context, gen int64) (bool, error) {
	if bf.redisClient == nil {
		return false, ErrRedisNotAvailable
	}
	res, err := bf.redisClient.Eval(ctx, markReadyScript,
		[]string{bf.readyKey, bf.genKey}, strconv.FormatInt(gen, 10),
	).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Reset drops the ready marker and starts a new generation. The bits are kept
// and topped up on the next warm.
func (bf *BloomFilter) Reset(ctx context.Context) error {
	if bf.redisClient == nil {
		return ErrRedisNotAvailable
	}
	pipe := bf.redisClient.TxPipeline()
	pipe.Incr(ctx, bf.genKey)
	pipe.Del(ctx, bf.readyKey)
	_, err := pipe.Exec(ctx)
	return err
}

func (bf *BloomFilter) hash(key string, seed int) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	h.Write([]byte{byte(seed)})
	return int64(h.Sum64() % bf.bits)
}
