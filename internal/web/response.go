package web

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"melodia/internal/apperr"
)

// Response is the envelope of every API reply.
type Response struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Data    any      `json:"data,omitempty"`
	Error   string   `json:"error,omitempty"`
	Kind    string   `json:"kind,omitempty"`
	Details []string `json:"details,omitempty"`
}

func sendSuccess(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, Response{Success: true, Data: data})
}

// sendError writes err with the status of its kind. Errors without a kind are
// logged and reported as a generic internal error.
func sendError(c *gin.Context, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	message := apperr.MessageOf(err)
	if kind == apperr.KindInternal {
		message = "internal error"
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(c.Request.Context(), "Request failed", "kind", kind, "error", err)
	}

	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error:   message,
		Kind:    string(kind),
		Details: apperr.DetailsOf(err),
	})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindInvalidAmount:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindSignature:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindSubmission, apperr.KindPoll, apperr.KindPaymentCreation, apperr.KindProvider:
		return http.StatusBadGateway
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// bindJSON decodes the body into obj, reporting a validation error on failure.
func bindJSON(c *gin.Context, logger *slog.Logger, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		sendError(c, logger, apperr.Validation("invalid request body", []string{err.Error()}))
		return false
	}
	return true
}
