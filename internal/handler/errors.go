package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apperrors "github.com/yourusername/medqr-api/internal/pkg/errors"
	"github.com/yourusername/medqr-api/internal/service"
	"github.com/yourusername/medqr-api/pkg/auth"
)

// handleError maps service and store errors to {"error", "error_type"} responses.
// message, when set, is the user-facing text from the operation result.
func handleError(c *gin.Context, logger zerolog.Logger, err error, message string) {
	status, errorType, fallback := classifyError(err)
	if message == "" {
		message = fallback
	}

	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(err).
		Str("request_id", c.GetString("request_id")).
		Str("error_type", errorType).
		Int("status", status).
		Msg("request failed")

	c.JSON(status, gin.H{"error": message, "error_type": errorType})
}

func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest, "validation_error", "Invalid request data"
	case errors.Is(err, auth.ErrInvalidOperatorCredentials), errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "Invalid credentials"
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", "Unauthorized"
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden, "forbidden", "Access denied"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found", "Requested resource not found"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict", "Data conflict"
	case errors.Is(err, service.ErrTransport):
		return http.StatusServiceUnavailable, "provider_unavailable", "Identity provider unavailable"
	case errors.Is(err, service.ErrProviderRejected):
		if service.ProviderErrorKindOf(err) == service.ProviderErrorRateLimited {
			return http.StatusTooManyRequests, "rate_limited", "Too many attempts"
		}
		return http.StatusUnprocessableEntity, "provider_rejected", "Identity provider rejected the request"
	case errors.Is(err, apperrors.ErrPersistence):
		return http.StatusServiceUnavailable, "persistence_error", "Storage unavailable"
	default:
		return http.StatusInternalServerError, "internal_server_error", "Internal server error"
	}
}

// statusForFailure picks the HTTP status for a Success=false result that carries
// a provider error kind instead of an error.
func statusForFailure(kind string) int {
	switch service.ProviderErrorKind(kind) {
	case service.ProviderErrorTransport, service.ProviderErrorBadResponse:
		return http.StatusServiceUnavailable
	case service.ProviderErrorCredentialsMismatch:
		return http.StatusUnauthorized
	case service.ProviderErrorRateLimited:
		return http.StatusTooManyRequests
	case service.ProviderErrorUserDisabled:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}
