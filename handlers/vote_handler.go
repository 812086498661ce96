package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const userIDHeader = "X-User-ID"

// VoteRequest is the body of POST /polls/:id/vote. The voter may instead be
// identified by the X-User-ID header.
type VoteRequest struct {
	VoterID  string `json:"voter_id" binding:"max=128"`
	OptionID string `json:"option_id" binding:"required,max=32"`
}

func (h *Handler) SubmitVote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	voterID := req.VoterID
	if voterID == "" {
		voterID = c.GetHeader(userIDHeader)
	}

	receipt, err := h.recorder.Record(c.Request.Context(), c.Param("id"), voterID, req.OptionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "vote recorded",
		"vote_id": receipt.VoteID,
		"results": receipt.Results,
	})
}
