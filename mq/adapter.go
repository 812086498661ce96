package mq

import (
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// NewQueue picks the Redis queue when a client is available and the
// in-memory queue otherwise.
func NewQueue(client *redis.Client, opts Options, log *slog.Logger) Queue {
	if client == nil {
		log.Warn("redis unavailable, vote events use the in-memory queue")
		return NewMemoryQueue(1024, opts, log)
	}
	return NewRedisMQ(client, opts, log)
}
