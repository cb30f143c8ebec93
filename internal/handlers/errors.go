package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"room-chat-service/internal/apperr"
)

// conflictRetryAfter is the Retry-After hint, in seconds, for conflict responses.
const conflictRetryAfter = "1"

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrStorage):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error", "code"}. Unclassified errors are
// attached to the gin context for the request logger and never leak.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	if status == http.StatusConflict {
		c.Header("Retry-After", conflictRetryAfter)
	}
	c.JSON(status, gin.H{"error": msg, "code": apperr.Code(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "validation"})
}
