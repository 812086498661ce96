package handlers

import (
	"net/http"
	"strconv"
	"time"

	"student-polling-backend/service"

	"github.com/gin-gonic/gin"
)

type CreatePollRequest struct {
	Title       string    `json:"title" binding:"required,max=200"`
	Description string    `json:"description" binding:"required"`
	EndDate     time.Time `json:"end_date" binding:"required"`
	Options     []string  `json:"options" binding:"required,min=2,dive,max=255"`
}

type UpdatePollRequest struct {
	Title       *string    `json:"title" binding:"omitempty,max=200"`
	Description *string    `json:"description"`
	EndDate     *time.Time `json:"end_date"`
	IsActive    *bool      `json:"is_active"`
}

// GetPolls lists polls; ?active=true keeps only those open for voting.
func (h *Handler) GetPolls(c *gin.Context) {
	onlyOpen := false
	if raw := c.Query("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		onlyOpen = v
	}
	polls, err := h.polls.ListPolls(c.Request.Context(), onlyOpen)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, polls)
}

func (h *Handler) GetPoll(c *gin.Context) {
	poll, err := h.polls.GetPoll(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

func (h *Handler) GetResults(c *gin.Context) {
	results, err := h.polls.Results(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// HasVoted answers GET /polls/:id/voted?voter_id=.
func (h *Handler) HasVoted(c *gin.Context) {
	voterID := c.Query("voter_id")
	if voterID == "" {
		voterID = c.GetHeader(userIDHeader)
	}
	voted, err := h.polls.HasVoted(c.Request.Context(), c.Param("id"), voterID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_voted": voted})
}

func (h *Handler) CreatePoll(c *gin.Context) {
	var req CreatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	poll, err := h.polls.CreatePoll(c.Request.Context(), service.CreatePollInput{
		Title:       req.Title,
		Description: req.Description,
		EndDate:     req.EndDate,
		Options:     req.Options,
	}, adminUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, poll)
}

func (h *Handler) UpdatePoll(c *gin.Context) {
	var req UpdatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	poll, err := h.polls.UpdatePoll(c.Request.Context(), c.Param("id"), service.UpdatePollInput{
		Title:       req.Title,
		Description: req.Description,
		EndDate:     req.EndDate,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

func (h *Handler) ActivatePoll(c *gin.Context)   { h.setActive(c, true) }
func (h *Handler) DeactivatePoll(c *gin.Context) { h.setActive(c, false) }

func (h *Handler) setActive(c *gin.Context, active bool) {
	poll, err := h.polls.SetActive(c.Request.Context(), c.Param("id"), active)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

func (h *Handler) DeletePoll(c *gin.Context) {
	if err := h.polls.DeletePoll(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
