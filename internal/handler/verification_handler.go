package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yourusername/medqr-api/internal/handler/dto"
	"github.com/yourusername/medqr-api/internal/service"
)

// VerificationFlow is the orchestrator surface used by the HTTP layer
type VerificationFlow interface {
	RegisterWithLocalAccount(ctx context.Context, email, password string) (*service.RegistrationResult, error)
	ConfirmViaCode(ctx context.Context, code string) (*service.VerificationResult, error)
	ConfirmViaPoll(ctx context.Context, email, password string) (*service.VerificationResult, error)
	ResendVerification(ctx context.Context, email, password string) (*service.VerificationResult, error)
	OverrideSingle(ctx context.Context, email, operator string) (*service.OverrideResult, error)
	OverrideBulk(ctx context.Context, operator string) (*service.OverrideResult, error)
}

// VerificationHandler serves the public registration and verification endpoints
type VerificationHandler struct {
	flow   VerificationFlow
	logger zerolog.Logger
}

func NewVerificationHandler(flow VerificationFlow, logger zerolog.Logger) *VerificationHandler {
	return &VerificationHandler{
		flow:   flow,
		logger: logger.With().Str("component", "VerificationHandler").Logger(),
	}
}

// Register creates the local user and the remote account, then requests the verification email.
// A partial success (email not sent) is still 201 with email_sent=false.
func (h *VerificationHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "validation_error", "details": err.Error()})
		return
	}

	result, err := h.flow.RegisterWithLocalAccount(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		handleError(c, h.logger, err, messageOf(result))
		return
	}

	c.JSON(http.StatusCreated, result)
}

// ConfirmCode accepts the code as JSON body (POST) or as ?oobCode= from the mail link (GET).
func (h *VerificationHandler) ConfirmCode(c *gin.Context) {
	var req dto.ConfirmCodeRequest
	var bindErr error
	if c.Request.Method == http.MethodGet {
		bindErr = c.ShouldBindQuery(&req)
	} else {
		bindErr = c.ShouldBindJSON(&req)
	}
	if bindErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Verification code is required", "error_type": "validation_error"})
		return
	}

	result, err := h.flow.ConfirmViaCode(c.Request.Context(), req.OobCode)
	h.writeVerificationResult(c, result, err)
}

// Poll asks the provider whether the email has been verified yet.
func (h *VerificationHandler) Poll(c *gin.Context) {
	var req dto.CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "validation_error", "details": err.Error()})
		return
	}

	result, err := h.flow.ConfirmViaPoll(c.Request.Context(), req.Email, req.Password)
	h.writeVerificationResult(c, result, err)
}

// Resend sends the verification email again.
func (h *VerificationHandler) Resend(c *gin.Context) {
	var req dto.CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "validation_error", "details": err.Error()})
		return
	}

	result, err := h.flow.ResendVerification(c.Request.Context(), req.Email, req.Password)
	h.writeVerificationResult(c, result, err)
}

func (h *VerificationHandler) writeVerificationResult(c *gin.Context, result *service.VerificationResult, err error) {
	if err != nil {
		handleError(c, h.logger, err, messageOf(result))
		return
	}
	if !result.Success {
		c.JSON(statusForFailure(result.ErrorType), gin.H{
			"error":      result.Message,
			"error_type": result.ErrorType,
			"success":    false,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

func messageOf(result interface{}) string {
	switch r := result.(type) {
	case *service.RegistrationResult:
		if r != nil {
			return r.Message
		}
	case *service.VerificationResult:
		if r != nil {
			return r.Message
		}
	case *service.OverrideResult:
		if r != nil {
			return r.Message
		}
	}
	return ""
}
