package handlers

import (
	"context"
	"net/http"
	"time"

	"student-polling-backend/cache"

	"github.com/gin-gonic/gin"
)

// CleanupCacheRequest optionally narrows the keys removed; by default every
// derived cache key is dropped.
type CleanupCacheRequest struct {
	Patterns []string `json:"patterns"`
}

// CleanupRedisCache removes cached data and forgets the poll filter so the
// next sweep rebuilds it from the database.
func (h *Handler) CleanupRedisCache(c *gin.Context) {
	if h.redis == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "redis is not configured"})
		return
	}
	var req CleanupCacheRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	patterns := req.Patterns
	if len(patterns) == 0 {
		patterns = cache.DerivedKeyPatterns
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	deleted, err := cache.CleanPatterns(ctx, h.redis, patterns)
	if err != nil {
		h.log.Error("cache cleanup failed", "error", err, "deleted", deleted)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "cache cleanup failed"})
		return
	}
	if h.filter != nil {
		if err := h.filter.Reset(ctx); err != nil {
			h.log.Warn("poll filter reset failed", "error", err)
		}
	}
	h.log.Info("cache cleaned", "deleted", deleted, "patterns", patterns, "admin", adminUser(c))
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "patterns": patterns})
}
