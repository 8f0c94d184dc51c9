package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/yourusername/medqr-api/internal/handler/dto"
	"github.com/yourusername/medqr-api/internal/handler/helper"
	"github.com/yourusername/medqr-api/internal/middleware"
	"github.com/yourusername/medqr-api/internal/service"
)

// ContextKeyUserID is where ExtractUintParam stores the :id of the admin user routes.
const ContextKeyUserID = "userID"

// StatusReporter is the read-only reconciliation surface
type StatusReporter interface {
	StatusFor(ctx context.Context, email string) (*service.UserStatus, error)
	StatusByID(ctx context.Context, id uint) (*service.UserStatus, error)
	AllWithStatus(ctx context.Context) (*service.StatusReport, error)
}

// OperatorLogin issues operator console tokens
type OperatorLogin interface {
	Login(username, password string) (string, time.Time, error)
}

// OperatorHandler serves the operator console: login, status reports and overrides
type OperatorHandler struct {
	flow     VerificationFlow
	reporter StatusReporter
	login    OperatorLogin
	logger   zerolog.Logger
}

func NewOperatorHandler(flow VerificationFlow, reporter StatusReporter, login OperatorLogin, logger zerolog.Logger) *OperatorHandler {
	return &OperatorHandler{
		flow:     flow,
		reporter: reporter,
		login:    login,
		logger:   logger.With().Str("component", "OperatorHandler").Logger(),
	}
}

func (h *OperatorHandler) Login(c *gin.Context) {
	var req dto.OperatorLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "validation_error"})
		return
	}

	token, expiresAt, err := h.login.Login(req.Username, req.Password)
	if err != nil {
		h.logger.Warn().Str("username", req.Username).Str("ip", c.ClientIP()).Msg("operator login failed")
		handleError(c, h.logger, err, "")
		return
	}

	h.logger.Info().Str("operator", req.Username).Msg("operator logged in")
	c.JSON(http.StatusOK, dto.OperatorLoginResponse{Token: token, TokenType: "Bearer", ExpiresAt: expiresAt.Unix()})
}

// ListUsers returns every user with counts of verified and unverified.
func (h *OperatorHandler) ListUsers(c *gin.Context) {
	report, err := h.reporter.AllWithStatus(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, err, "")
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *OperatorHandler) StatusByEmail(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email query parameter is required", "error_type": "validation_error"})
		return
	}

	status, err := h.reporter.StatusFor(c.Request.Context(), email)
	if err != nil {
		handleError(c, h.logger, err, "")
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *OperatorHandler) StatusByID(c *gin.Context) {
	id := c.MustGet(ContextKeyUserID).(uint)

	status, err := h.reporter.StatusByID(c.Request.Context(), id)
	if err != nil {
		handleError(c, h.logger, err, "")
		return
	}
	c.JSON(http.StatusOK, status)
}

// VerifyUser marks one user verified without provider confirmation.
func (h *OperatorHandler) VerifyUser(c *gin.Context) {
	var req dto.OverrideSingleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "validation_error"})
		return
	}

	result, err := h.flow.OverrideSingle(c.Request.Context(), req.Email, middleware.OperatorFromContext(c))
	if err != nil {
		handleError(c, h.logger, err, messageOf(result))
		return
	}
	c.JSON(http.StatusOK, result)
}

// VerifyAll marks every unverified user verified.
func (h *OperatorHandler) VerifyAll(c *gin.Context) {
	result, err := h.flow.OverrideBulk(c.Request.Context(), middleware.OperatorFromContext(c))
	if err != nil {
		handleError(c, h.logger, err, messageOf(result))
		return
	}
	c.JSON(http.StatusOK, result)
}

// ExportUsers streams the status report as an XLSX workbook.
func (h *OperatorHandler) ExportUsers(c *gin.Context) {
	report, err := h.reporter.AllWithStatus(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, err, "")
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheetName = "Users"
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		h.exportFailed(c, err)
		return
	}

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		h.exportFailed(c, err)
		return
	}
	if err := sw.SetRow("A1", helper.ReportHeaders); err != nil {
		h.exportFailed(c, err)
		return
	}
	for i, u := range report.Users {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := sw.SetRow(cell, helper.ReportRow(u)); err != nil {
			h.exportFailed(c, err)
			return
		}
	}

	summaryRow := len(report.Users) + 3
	summaryCell, _ := excelize.CoordinatesToCellName(1, summaryRow)
	summary := []interface{}{"Total", report.Total, "Verified", report.VerifiedCount, "Unverified", report.UnverifiedCount}
	if err := sw.SetRow(summaryCell, summary); err != nil {
		h.exportFailed(c, err)
		return
	}
	if err := sw.Flush(); err != nil {
		h.exportFailed(c, err)
		return
	}

	filename := fmt.Sprintf("users_status_%s.xlsx", time.Now().Format("2006-01-02"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		h.logger.Error().Err(err).Msg("failed to write export to response")
	}
}

func (h *OperatorHandler) exportFailed(c *gin.Context, err error) {
	h.logger.Error().Err(err).Msg("failed to build export")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create Excel file", "error_type": "internal_server_error"})
}
