package handlers

import "github.com/gin-gonic/gin"

// RegisterPublic mounts the unauthenticated endpoints on api.
func (h *Handler) RegisterPublic(api *gin.RouterGroup) {
	api.GET("/health", h.HealthCheck)
	api.GET("/status", h.SystemStatus)

	polls := api.Group("/polls")
	{
		polls.GET("", h.GetPolls)
		polls.GET("/:id", h.GetPoll)
		polls.GET("/:id/results", h.GetResults)
		polls.GET("/:id/voted", h.HasVoted)
		polls.POST("/:id/vote", h.SubmitVote)
	}

	posts := api.Group("/posts")
	{
		posts.GET("", h.GetPosts)
		posts.GET("/:id", h.GetPost)
	}
}

// RegisterAdmin mounts the admin endpoints on admin, which must already be
// guarded by AdminAuth.
func (h *Handler) RegisterAdmin(admin *gin.RouterGroup) {
	admin.POST("/polls", h.CreatePoll)
	admin.PATCH("/polls/:id", h.UpdatePoll)
	admin.POST("/polls/:id/activate", h.ActivatePoll)
	admin.POST("/polls/:id/deactivate", h.DeactivatePoll)
	admin.DELETE("/polls/:id", h.DeletePoll)

	admin.POST("/posts", h.CreatePost)
	admin.DELETE("/posts/:id", h.DeletePost)

	admin.POST("/cache/clean", h.CleanupRedisCache)
	admin.GET("/ratelimit/stats", h.GetRateLimiterStats)
	admin.GET("/queue/stats", h.GetQueueStats)
	admin.POST("/queue/retry-dead-letters", h.RetryDeadLetters)
}
