package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/yourusername/medqr-api/internal/domain/entity"
	"github.com/yourusername/medqr-api/internal/middleware"
	apperrors "github.com/yourusername/medqr-api/internal/pkg/errors"
	"github.com/yourusername/medqr-api/internal/service"
	"github.com/yourusername/medqr-api/pkg/auth"
)

func sampleReport() *service.StatusReport {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return &service.StatusReport{
		Total:           2,
		VerifiedCount:   1,
		UnverifiedCount: 1,
		Users: []service.UserStatus{
			{ID: 1, Email: "a@x.com", RemoteID: "R1", EmailVerified: true, State: entity.StateVerified, VerificationSource: entity.SourceProvider, VerifiedAt: &now, CreatedAt: now, UpdatedAt: now},
			{ID: 2, Email: "=b@x.com", State: entity.StateUnverified, CreatedAt: now, UpdatedAt: now},
		},
	}
}

func TestOperatorHandler_Login(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		login := new(MockOperatorLogin)
		expires := time.Now().Add(time.Hour)
		login.On("Login", "ops", "pw").Return("tok", expires, nil)
		h := NewOperatorHandler(nil, nil, login, zerolog.Nop())
		c, w := newTestGinContext(http.MethodPost, "/api/admin/login", map[string]string{"username": "ops", "password": "pw"})

		h.Login(c)

		assert.Equal(t, http.StatusOK, w.Code)
		resp := parseJSONResponse(t, w)
		assert.Equal(t, "tok", resp["token"])
		assert.Equal(t, "Bearer", resp["token_type"])
	})

	t.Run("bad credentials", func(t *testing.T) {
		login := new(MockOperatorLogin)
		login.On("Login", "ops", "bad").Return("", time.Time{}, auth.ErrInvalidOperatorCredentials)
		h := NewOperatorHandler(nil, nil, login, zerolog.Nop())
		c, w := newTestGinContext(http.MethodPost, "/api/admin/login", map[string]string{"username": "ops", "password": "bad"})

		h.Login(c)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "invalid_credentials", parseJSONResponse(t, w)["error_type"])
	})
}

func TestOperatorHandler_ListUsers(t *testing.T) {
	reporter := new(MockStatusReporter)
	reporter.On("AllWithStatus", mock.Anything).Return(sampleReport(), nil)
	h := NewOperatorHandler(nil, reporter, nil, zerolog.Nop())
	c, w := newTestGinContext(http.MethodGet, "/api/admin/users", nil)

	h.ListUsers(c)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := parseJSONResponse(t, w)
	assert.Equal(t, float64(2), resp["total"])
	assert.Equal(t, float64(1), resp["verified_count"])
	assert.Len(t, resp["users"], 2)
}

func TestOperatorHandler_StatusLookups(t *testing.T) {
	reporter := new(MockStatusReporter)
	reporter.On("StatusFor", mock.Anything, "a@x.com").Return(&sampleReport().Users[0], nil)
	reporter.On("StatusFor", mock.Anything, "ghost@x.com").Return(nil, apperrors.ErrNotFound)
	reporter.On("StatusByID", mock.Anything, uint(2)).Return(&sampleReport().Users[1], nil)
	h := NewOperatorHandler(nil, reporter, nil, zerolog.Nop())

	c, w := newTestGinContext(http.MethodGet, "/api/admin/users/status?email=a@x.com", nil)
	h.StatusByEmail(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "verified", parseJSONResponse(t, w)["state"])

	c, w = newTestGinContext(http.MethodGet, "/api/admin/users/status?email=ghost@x.com", nil)
	h.StatusByEmail(c)
	assert.Equal(t, http.StatusNotFound, w.Code)

	c, w = newTestGinContext(http.MethodGet, "/api/admin/users/status", nil)
	h.StatusByEmail(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestGinContext(http.MethodGet, "/api/admin/users/2", nil)
	c.Set(ContextKeyUserID, uint(2))
	h.StatusByID(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unverified", parseJSONResponse(t, w)["state"])
}

func TestOperatorHandler_VerifyUser(t *testing.T) {
	flow := new(MockVerificationFlow)
	flow.On("OverrideSingle", mock.Anything, "a@x.com", "ops").Return(&service.OverrideResult{
		Success: true, Count: 1, Users: []entity.User{{ID: 1, Email: "a@x.com", EmailVerified: true}},
	}, nil)
	flow.On("OverrideSingle", mock.Anything, "ghost@x.com", "ops").Return(
		&service.OverrideResult{Message: "user not found"}, fmt.Errorf("%w: no user", apperrors.ErrNotFound))
	h := NewOperatorHandler(flow, nil, nil, zerolog.Nop())

	c, w := newTestGinContext(http.MethodPost, "/api/admin/users/verify", map[string]string{"email": "a@x.com"})
	c.Set(middleware.ContextKeyOperator, "ops")
	h.VerifyUser(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), parseJSONResponse(t, w)["count"])

	c, w = newTestGinContext(http.MethodPost, "/api/admin/users/verify", map[string]string{"email": "ghost@x.com"})
	c.Set(middleware.ContextKeyOperator, "ops")
	h.VerifyUser(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "user not found", parseJSONResponse(t, w)["error"])
}

func TestOperatorHandler_VerifyAll(t *testing.T) {
	flow := new(MockVerificationFlow)
	flow.On("OverrideBulk", mock.Anything, "ops").Return(&service.OverrideResult{Success: true, Count: 0, Users: []entity.User{}}, nil)
	h := NewOperatorHandler(flow, nil, nil, zerolog.Nop())
	c, w := newTestGinContext(http.MethodPost, "/api/admin/users/verify-all", nil)
	c.Set(middleware.ContextKeyOperator, "ops")

	h.VerifyAll(c)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := parseJSONResponse(t, w)
	assert.Equal(t, float64(0), resp["count"])
	assert.Equal(t, true, resp["success"])
}

func TestOperatorHandler_ExportUsers(t *testing.T) {
	reporter := new(MockStatusReporter)
	reporter.On("AllWithStatus", mock.Anything).Return(sampleReport(), nil)
	h := NewOperatorHandler(nil, reporter, nil, zerolog.Nop())
	c, w := newTestGinContext(http.MethodGet, "/api/admin/users/export", nil)

	h.ExportUsers(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Users")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 3)
	assert.Equal(t, "Email", rows[0][1])
	assert.Equal(t, "a@x.com", rows[1][1])
	assert.Equal(t, "'=b@x.com", rows[2][1])
}

func TestOperatorHandler_ExportUsers_StoreFailure(t *testing.T) {
	reporter := new(MockStatusReporter)
	reporter.On("AllWithStatus", mock.Anything).Return(nil, fmt.Errorf("%w: db down", apperrors.ErrPersistence))
	h := NewOperatorHandler(nil, reporter, nil, zerolog.Nop())
	c, w := newTestGinContext(http.MethodGet, "/api/admin/users/export", nil)

	h.ExportUsers(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthHandler_Ready(t *testing.T) {
	up := PingFunc(func(ctx context.Context) error { return nil })
	down := PingFunc(func(ctx context.Context) error { return fmt.Errorf("refused") })

	r := gin.New()
	ok := NewHealthHandler(map[string]Pinger{"database": up, "identity_provider": up}, zerolog.Nop())
	bad := NewHealthHandler(map[string]Pinger{"database": up, "identity_provider": down}, zerolog.Nop())
	r.GET("/ok", ok.Ready)
	r.GET("/bad", bad.Ready)
	r.GET("/live", ok.Live)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bad", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := parseJSONResponse(t, w)
	checks := resp["checks"].(map[string]interface{})
	assert.Equal(t, "up", checks["database"])
	assert.Equal(t, "down", checks["identity_provider"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
