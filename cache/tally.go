package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"student-polling-backend/models"

	"github.com/redis/go-redis/v9"
)

func resultsKey(pollID string) string { return fmt.Sprintf("poll:%s:results", pollID) }
func votersKey(pollID string) string  { return fmt.Sprintf("poll:%s:voters", pollID) }

// ResultsCache stores the latest results snapshot per poll.
type ResultsCache struct {
	redisClient RedisClient
	ttl         time.Duration
}

func NewResultsCache(client RedisClient, ttl time.Duration) *ResultsCache {
	return &ResultsCache{redisClient: client, ttl: ttl}
}

// Get returns nil without error on a miss.
func (c *ResultsCache) Get(ctx context.Context, pollID string) (*models.PollResults, error) {
	data, err := c.redisClient.Get(ctx, resultsKey(pollID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r models.PollResults
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Version returns the counter that Invalidate bumps. Read it before loading
// the results from the store and pass it to SetIfVersion.
func (c *ResultsCache) Version(ctx context.Context, pollID string) (int64, error) {
	return readVersion(ctx, c.redisClient, resultsKey(pollID))
}

// SetIfVersion stores r unless the poll was invalidated since version was read.
func (c *ResultsCache) SetIfVersion(ctx context.Context, r *models.PollResults, version int64) (bool, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return false, err
	}
	return setIfVersion(ctx, c.redisClient, resultsKey(r.PollID), version, data, c.ttl)
}

func (c *ResultsCache) Invalidate(ctx context.Context, pollID string) error {
	return invalidateVersioned(ctx, c.redisClient, c.ttl, resultsKey(pollID))
}

// VoterSet remembers who voted on each poll. It is a hint only; the votes
// table stays authoritative.
type VoterSet struct {
	redisClient RedisClient
	ttl         time.Duration
}

func NewVoterSet(client RedisClient, ttl time.Duration) *VoterSet {
	return &VoterSet{redisClient: client, ttl: ttl}
}

func (s *VoterSet) MarkVoted(ctx context.Context, pollID, voterID string) error {
	key := votersKey(pollID)
	pipe := s.redisClient.TxPipeline()
	pipe.SAdd(ctx, key, voterID)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *VoterSet) HasVoted(ctx context.Context, pollID, voterID string) (bool, error) {
	return s.redisClient.SIsMember(ctx, votersKey(pollID), voterID).Result()
}

func (s *VoterSet) Forget(ctx context.Context, pollID string) error {
	return s.redisClient.Del(ctx, votersKey(pollID)).Err()
}
