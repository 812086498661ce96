package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"student-polling-backend/mq"

	"github.com/gin-gonic/gin"
)

var version = "0.1.0" // overridden with -ldflags "-X student-polling-backend/handlers.version=..."

type SystemInfo struct {
	Status       string    `json:"status"`
	Version      string    `json:"version"`
	Uptime       string    `json:"uptime"`
	StartTime    time.Time `json:"start_time"`
	CurrentTime  time.Time `json:"current_time"`
	GoVersion    string    `json:"go_version"`
	NumGoroutine int       `json:"num_goroutine"`
	NumCPU       int       `json:"num_cpu"`
	DBStatus     string    `json:"db_status"`
	RedisStatus  string    `json:"redis_status"`
	Queue        *mq.Stats `json:"queue,omitempty"`
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// SystemStatus reports dependency health. A failing database degrades the
// status to 503; a missing or failing Redis does not.
func (h *Handler) SystemStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	info := SystemInfo{
		Status:       "ok",
		Version:      version,
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		StartTime:    h.startTime,
		CurrentTime:  time.Now(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		DBStatus:     pingStatus(ctx, h.pingDB),
		RedisStatus:  pingStatus(ctx, h.pingRedis),
	}
	if h.queue != nil {
		if stats, err := h.queue.Stats(ctx); err == nil {
			info.Queue = &stats
		}
	}

	status := http.StatusOK
	if info.DBStatus == "error" {
		info.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, info)
}

func pingStatus(ctx context.Context, ping Pinger) string {
	if ping == nil {
		return "disabled"
	}
	if err := ping(ctx); err != nil {
		return "error"
	}
	return "ok"
}
