package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"student-polling-backend/cache"
	"student-polling-backend/config"
	"student-polling-backend/database"
	"student-polling-backend/handlers"
	"student-polling-backend/metrics"
	"student-polling-backend/models"
	"student-polling-backend/mq"
	"student-polling-backend/repository"
	"student-polling-backend/routes"
	"student-polling-backend/service"
	"student-polling-backend/websocket"

	"github.com/redis/go-redis/v9"
)

const (
	resultsTTL    = 10 * time.Minute
	voterSetTTL   = 7 * 24 * time.Hour
	voteBackoff   = 50 * time.Millisecond
	shutdownGrace = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

// redisDeps holds the Redis-backed components. Interface fields stay nil when
// Redis is unavailable so callers see a true nil, not a typed nil pointer.
type redisDeps struct {
	client    cache.RedisClient
	filter    repository.ExistenceFilter
	resetter  handlers.FilterResetter
	lists     repository.ListCache
	results   service.ResultsCache
	voters    service.VoterHint
	locks     *cache.DistributedLockService
	limiter   cache.RateLimiter
	userLimit cache.RateLimiter
	ping      handlers.Pinger
}

func newRedisDeps(cfg config.Config, client *redis.Client, log *slog.Logger) redisDeps {
	var d redisDeps
	if client == nil {
		return d
	}
	bloom := cache.NewPollBloomFilter(client)
	d.client = client
	d.filter = bloom
	d.resetter = bloom
	d.locks = cache.NewLockService(client)
	d.lists = cache.NewListCache(client, d.locks, cfg.ListCacheTTL, log)
	d.results = cache.NewResultsCache(client, resultsTTL)
	d.voters = cache.NewVoterSet(client, voterSetTTL)
	d.limiter = cache.NewTokenBucketRateLimiter(client, "global_api", cfg.RateLimit.GlobalRate, cfg.RateLimit.GlobalBurst)
	d.userLimit = cache.NewTokenBucketRateLimiter(client, "user_api", cfg.RateLimit.UserRate, cfg.RateLimit.UserBurst)
	d.ping = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return d
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg, log)
	if err != nil {
		return err
	}
	defer database.Close(db, log)
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	rdb, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Warn("running without redis", "error", err)
		rdb = nil
	} else {
		defer rdb.Close()
		log.Info("redis connected", "addr", cfg.Redis.Addr)
	}
	rd := newRedisDeps(cfg, rdb, log)

	m := metrics.New()

	pollRepo := repository.NewCachedPollRepository(repository.NewGormPollRepository(db), rd.filter, rd.lists, log)
	postRepo := repository.NewCachedPostRepository(repository.NewGormPostRepository(db), rd.lists, log)

	hub := websocket.NewHub(log)
	go hub.Run(ctx)
	sse := handlers.NewSSEBroker(log)

	polls := service.NewPollService(pollRepo, rd.results, rd.voters, service.Broadcasters{hub, sse}, log)
	posts := service.NewPostService(postRepo, log)

	queue := mq.NewQueue(rdb, mq.Options{MaxRetries: cfg.Vote.MaxRetries}, log)
	err = queue.Start(func(ctx context.Context, e models.VoteRecorded) error {
		err := polls.HandleVoteRecorded(ctx, e)
		if err != nil {
			m.VoteEventFailed()
		}
		return err
	})
	if err != nil {
		return err
	}
	defer queue.Stop()

	recorder := service.NewVoteRecorder(pollRepo,
		service.WithRetry(cfg.Vote.MaxRetries, voteBackoff),
		service.WithAttemptTimeout(cfg.Vote.StoreTimeout),
		service.WithPublisher(queue),
		service.WithResultsCache(rd.results),
		service.WithListInvalidator(pollRepo),
		service.WithObserver(m),
		service.WithRecorderLogger(log),
	)

	limiter := handlers.NewRateLimiter(cfg.RateLimit,
		cache.NewFallbackRateLimiter(rd.limiter, cache.NewLocalRateLimiter(cfg.RateLimit.GlobalRate, cfg.RateLimit.GlobalBurst)),
		cache.NewFallbackRateLimiter(rd.userLimit, cache.NewLocalRateLimiter(cfg.RateLimit.UserRate, cfg.RateLimit.UserBurst)),
		m,
	)

	h := handlers.New(handlers.Deps{
		Polls:     polls,
		Posts:     posts,
		Recorder:  recorder,
		Queue:     queue,
		Redis:     rd.client,
		Filter:    rd.resetter,
		Limiter:   limiter,
		PingDB:    sqlDB.PingContext,
		PingRedis: rd.ping,
		Log:       log,
	})

	router := routes.SetupRouter(routes.RouterDeps{
		Config:    cfg,
		Handler:   h,
		WebSocket: websocket.NewHandler(hub, polls, cfg.CORSOrigins, log),
		SSE:       sse,
		Results:   polls,
		Metrics:   m,
		Limiter:   limiter,
		Log:       log,
	})

	sweeper := &routes.Sweeper{
		Interval: cfg.SweepInterval,
		Polls:    polls,
		Filter:   pollRepo,
		Locks:    rd.locks,
		Metrics:  m,
		Log:      log,
	}
	go sweeper.Run(ctx)

	srv, errc := routes.StartServer(cfg, router, log)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
