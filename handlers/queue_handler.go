package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) GetQueueStats(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "vote queue is not running"})
		return
	}
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		h.log.Warn("queue stats failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "queue stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) RetryDeadLetters(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "vote queue is not running"})
		return
	}
	n, err := h.queue.RetryDeadLetters(c.Request.Context())
	if err != nil {
		h.log.Error("dead letter retry failed", "error", err, "requeued", n)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "dead letter retry failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requeued": n})
}
