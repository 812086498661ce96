package handlers

import (
	"context"
	"log/slog"
	"time"

	"student-polling-backend/cache"
	"student-polling-backend/mq"
	"student-polling-backend/service"
)

// Pinger checks a backing store.
type Pinger func(ctx context.Context) error

// FilterResetter forgets the poll existence filter so it is rebuilt.
type FilterResetter interface {
	Reset(ctx context.Context) error
}

// Deps are the collaborators of the HTTP handlers. Redis, Filter, Queue,
// Limiter and the pingers are optional.
type Deps struct {
	Polls     *service.PollService
	Posts     *service.PostService
	Recorder  *service.VoteRecorder
	Queue     mq.Queue
	Redis     cache.RedisClient
	Filter    FilterResetter
	Limiter   *RateLimiter
	PingDB    Pinger
	PingRedis Pinger
	Log       *slog.Logger
}

type Handler struct {
	polls     *service.PollService
	posts     *service.PostService
	recorder  *service.VoteRecorder
	queue     mq.Queue
	redis     cache.RedisClient
	filter    FilterResetter
	limiter   *RateLimiter
	pingDB    Pinger
	pingRedis Pinger
	log       *slog.Logger
	startTime time.Time
}

func New(d Deps) *Handler {
	return &Handler{
		polls:     d.Polls,
		posts:     d.Posts,
		recorder:  d.Recorder,
		queue:     d.Queue,
		redis:     d.Redis,
		filter:    d.Filter,
		limiter:   d.Limiter,
		pingDB:    d.PingDB,
		pingRedis: d.PingRedis,
		log:       d.Log,
		startTime: time.Now(),
	}
}
