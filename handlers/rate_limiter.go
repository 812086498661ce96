package handlers

import (
	"net/http"
	"sort"
	"sync"

	"student-polling-backend/cache"
	"student-polling-backend/config"

	"github.com/gin-gonic/gin"
)

const globalLimiterKey = "global"

// RejectionRecorder is told about every rejected request.
type RejectionRecorder interface {
	RateLimited(scope string)
}

type RateLimiterConfig struct {
	Enabled     bool `json:"enabled"`
	GlobalRate  int  `json:"globalRate"`
	GlobalBurst int  `json:"globalBurst"`
	UserRate    int  `json:"userRate"`
	UserBurst   int  `json:"userBurst"`
}

type RateLimiterStats struct {
	TotalRequests    int64             `json:"totalRequests"`
	AllowedRequests  int64             `json:"allowedRequests"`
	RejectedRequests int64             `json:"rejectedRequests"`
	TopRejectedUsers map[string]int64  `json:"topRejectedUsers"`
	Config           RateLimiterConfig `json:"config"`
}

const (
	maxTrackedUsers     = 20
	maxRejectedUserKeys = 1000
)

// RateLimiter applies a global bucket to every request and a per-user bucket
// to requests carrying X-User-ID.
type RateLimiter struct {
	cfg      RateLimiterConfig
	global   cache.RateLimiter
	user     cache.RateLimiter
	recorder RejectionRecorder

	mu       sync.RWMutex
	total    int64
	allowed  int64
	rejected int64
	byUser   map[string]int64
}

// NewRateLimiter builds the limiter. global and user are typically a
// FallbackRateLimiter so they keep working without Redis. recorder may be nil.
func NewRateLimiter(cfg config.RateLimitConfig, global, user cache.RateLimiter, recorder RejectionRecorder) *RateLimiter {
	return &RateLimiter{
		cfg: RateLimiterConfig{
			Enabled:     cfg.Enabled,
			GlobalRate:  cfg.GlobalRate,
			GlobalBurst: cfg.GlobalBurst,
			UserRate:    cfg.UserRate,
			UserBurst:   cfg.UserBurst,
		},
		global:   global,
		user:     user,
		recorder: recorder,
		byUser:   make(map[string]int64),
	}
}

func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.cfg.Enabled {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		if ok, err := l.global.Allow(ctx, globalLimiterKey); err != nil || !ok {
			l.reject(c, "global", "")
			return
		}
		if userID := c.GetHeader(userIDHeader); userID != "" && l.user != nil {
			if ok, err := l.user.Allow(ctx, userID); err != nil || !ok {
				l.reject(c, "user", userID)
				return
			}
		}

		l.mu.Lock()
		l.total++
		l.allowed++
		l.mu.Unlock()
		c.Next()
	}
}

func (l *RateLimiter) reject(c *gin.Context, scope, userID string) {
	l.mu.Lock()
	l.total++
	l.rejected++
	if userID != "" {
		if _, tracked := l.byUser[userID]; tracked || len(l.byUser) < maxRejectedUserKeys {
			l.byUser[userID]++
		}
	}
	l.mu.Unlock()

	if l.recorder != nil {
		l.recorder.RateLimited(scope)
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many requests, please slow down"})
}

func (l *RateLimiter) Stats() RateLimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	type entry struct {
		user  string
		count int64
	}
	entries := make([]entry, 0, len(l.byUser))
	for u, n := range l.byUser {
		entries = append(entries, entry{u, n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].user < entries[j].user
	})
	top := make(map[string]int64)
	for i := 0; i < len(entries) && i < maxTrackedUsers; i++ {
		top[entries[i].user] = entries[i].count
	}

	return RateLimiterStats{
		TotalRequests:    l.total,
		AllowedRequests:  l.allowed,
		RejectedRequests: l.rejected,
		TopRejectedUsers: top,
		Config:           l.cfg,
	}
}

// GetRateLimiterStats serves the counters for the admin API.
func (h *Handler) GetRateLimiterStats(c *gin.Context) {
	if h.limiter == nil {
		c.JSON(http.StatusOK, RateLimiterStats{TopRejectedUsers: map[string]int64{}})
		return
	}
	c.JSON(http.StatusOK, h.limiter.Stats())
}
