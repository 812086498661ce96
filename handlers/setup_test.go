package handlers

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"student-polling-backend/cache"
	"student-polling-backend/config"
	"student-polling-backend/database"
	"student-polling-backend/mq"
	"student-polling-backend/repository"
	"student-polling-backend/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testAdminKey = "test-admin-key"

type testEnv struct {
	router  *gin.Engine
	db      *gorm.DB
	mr      *miniredis.Miniredis
	polls   *service.PollService
	queue   mq.Queue
	limiter *RateLimiter
}

type envOption func(*config.RateLimitConfig)

func withRateLimit(userRate, userBurst int) envOption {
	return func(c *config.RateLimitConfig) {
		c.Enabled = true
		c.UserRate = userRate
		c.UserBurst = userBurst
	}
}

// SetupTestEnvironment wires the handlers against sqlite in a temp dir and a
// miniredis instance, the same way main does.
func SetupTestEnvironment(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := gorm.Open(sqlite.Open(database.SQLiteDSN(filepath.Join(t.TempDir(), "handlers.db"))), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	lists := cache.NewListCache(client, cache.NewLockService(client), time.Minute, log)
	filter := cache.NewPollBloomFilter(client)
	pollRepo := repository.NewCachedPollRepository(repository.NewGormPollRepository(db), filter, lists, log)
	postRepo := repository.NewCachedPostRepository(repository.NewGormPostRepository(db), lists, log)
	results := cache.NewResultsCache(client, time.Minute)

	polls := service.NewPollService(pollRepo, results, cache.NewVoterSet(client, time.Hour), nil, log)
	queue := mq.NewQueue(client, mq.Options{RetryDelay: 10 * time.Millisecond}, log)
	require.NoError(t, queue.Start(polls.HandleVoteRecorded))
	t.Cleanup(queue.Stop)

	recorder := service.NewVoteRecorder(pollRepo,
		service.WithPublisher(queue),
		service.WithResultsCache(results),
		service.WithListInvalidator(pollRepo),
		service.WithRetry(1, time.Millisecond),
		service.WithRecorderLogger(log),
	)

	rlCfg := config.RateLimitConfig{GlobalRate: 1000, GlobalBurst: 1000, UserRate: 100, UserBurst: 100}
	for _, o := range opts {
		o(&rlCfg)
	}
	limiter := NewRateLimiter(rlCfg,
		cache.NewLocalRateLimiter(rlCfg.GlobalRate, rlCfg.GlobalBurst),
		cache.NewLocalRateLimiter(rlCfg.UserRate, rlCfg.UserBurst),
		nil,
	)

	h := New(Deps{
		Polls:    polls,
		Posts:    service.NewPostService(postRepo, log),
		Recorder: recorder,
		Queue:    queue,
		Redis:    client,
		Filter:   filter,
		Limiter:  limiter,
		PingDB: func(ctx context.Context) error {
			return sqlDB.PingContext(ctx)
		},
		PingRedis: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		Log:       log,
	})

	router := gin.New()
	api := router.Group("/api")
	api.Use(limiter.Middleware())
	h.RegisterPublic(api)
	h.RegisterAdmin(api.Group("/admin", AdminAuth(testAdminKey, log)))

	return &testEnv{router: router, db: db, mr: mr, polls: polls, queue: queue, limiter: limiter}
}
