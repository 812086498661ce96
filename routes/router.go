package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"student-polling-backend/config"
	"student-polling-backend/handlers"
	"student-polling-backend/metrics"
	"student-polling-backend/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Server wraps the HTTP server.
type Server struct {
	*http.Server
}

// RouterDeps are the pieces mounted on the router. Only Handler is required.
type RouterDeps struct {
	Config    config.Config
	Handler   *handlers.Handler
	WebSocket *websocket.Handler
	SSE       *handlers.SSEBroker
	Results   handlers.ResultsSource
	Metrics   *metrics.Metrics
	Limiter   *handlers.RateLimiter
	Log       *slog.Logger
}

func SetupRouter(d RouterDeps) *gin.Engine {
	if !d.Config.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(d.Log))
	if d.Metrics != nil {
		router.Use(d.Metrics.Middleware())
	}

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-Admin-Key", "X-Admin-User"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(d.Config.CORSOrigins) == 0 || d.Config.CORSOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = d.Config.CORSOrigins
		corsCfg.AllowCredentials = true
	}
	router.Use(cors.New(corsCfg))

	api := router.Group("/api")
	if d.Metrics != nil {
		api.GET("/metrics", d.Metrics.Handler())
	}

	limited := api.Group("")
	if d.Limiter != nil {
		limited.Use(d.Limiter.Middleware())
	}
	d.Handler.RegisterPublic(limited)
	if d.WebSocket != nil {
		api.GET("/polls/:id/ws", d.WebSocket.HandleWebSocketConnection)
	}
	if d.SSE != nil && d.Results != nil {
		api.GET("/polls/:id/live", d.SSE.Handler(d.Results))
	}

	admin := api.Group("/admin", handlers.AdminAuth(d.Config.AdminKey, d.Log))
	d.Handler.RegisterAdmin(admin)

	return router
}

// requestLogger logs one line per request; health checks are logged at debug.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			level = slog.LevelError
		case c.FullPath() == "/api/health" || c.FullPath() == "/api/metrics":
			level = slog.LevelDebug
		}
		log.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// StartServer listens in the background. errc receives a listen failure.
func StartServer(cfg config.Config, router *gin.Engine, log *slog.Logger) (*Server, <-chan error) {
	addr := ":" + cfg.ServerPort
	srv := &Server{&http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}}

	errc := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	return srv, errc
}
