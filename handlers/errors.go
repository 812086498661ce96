package handlers

import (
	"log/slog"
	"net/http"

	"student-polling-backend/service"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func statusFor(kind service.ErrorKind) int {
	switch kind {
	case service.KindInvalid:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindPollClosed:
		return http.StatusForbidden
	case service.KindAlreadyVoted:
		return http.StatusConflict
	case service.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps a service error to its status. Storage failures are
// logged and reported without their internal detail.
func RespondError(c *gin.Context, log *slog.Logger, err error) {
	kind := service.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	switch kind {
	case service.KindTransient:
		log.Warn("transient storage failure", "path", c.FullPath(), "error", err)
		msg = "storage temporarily unavailable, please retry"
	case service.KindPermanent:
		log.Error("request failed", "path", c.FullPath(), "error", err)
		msg = "internal server error"
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	RespondError(c, h.log, err)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
}
