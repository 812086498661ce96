package handlers

import (
	"net/http"

	"student-polling-backend/models"
	"student-polling-backend/service"

	"github.com/gin-gonic/gin"
)

type CreatePostRequest struct {
	Title    string              `json:"title" binding:"required,max=200"`
	Content  string              `json:"content" binding:"required"`
	Category models.PostCategory `json:"category" binding:"required"`
}

// GetPosts lists posts newest first, optionally filtered by ?category=.
func (h *Handler) GetPosts(c *gin.Context) {
	posts, err := h.posts.ListPosts(c.Request.Context(), c.Query("category"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, posts)
}

func (h *Handler) GetPost(c *gin.Context) {
	post, err := h.posts.GetPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *Handler) CreatePost(c *gin.Context) {
	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	post, err := h.posts.CreatePost(c.Request.Context(), service.CreatePostInput{
		Title:    req.Title,
		Content:  req.Content,
		Category: req.Category,
	}, adminUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

func (h *Handler) DeletePost(c *gin.Context) {
	if err := h.posts.DeletePost(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
