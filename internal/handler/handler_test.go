package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/medqr-api/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestGinContext creates a *gin.Context with an optional JSON body
func newTestGinContext(method, path string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()

	var req *http.Request
	if body != nil {
		bodyBytes, _ := json.Marshal(body)
		req, _ = http.NewRequest(method, path, bytes.NewReader(bodyBytes))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, path, nil)
	}

	c, _ := gin.CreateTestContext(w)
	c.Request = req
	return c, w
}

// parseJSONResponse decodes the recorder body as a JSON object
func parseJSONResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err, "Response body should be valid JSON: %s", w.Body.String())
	return resp
}

// MockVerificationFlow implements VerificationFlow
type MockVerificationFlow struct {
	mock.Mock
}

func (m *MockVerificationFlow) RegisterWithLocalAccount(ctx context.Context, email, password string) (*service.RegistrationResult, error) {
	args := m.Called(ctx, email, password)
	return args.Get(0).(*service.RegistrationResult), args.Error(1)
}

func (m *MockVerificationFlow) ConfirmViaCode(ctx context.Context, code string) (*service.VerificationResult, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(*service.VerificationResult), args.Error(1)
}

func (m *MockVerificationFlow) ConfirmViaPoll(ctx context.Context, email, password string) (*service.VerificationResult, error) {
	args := m.Called(ctx, email, password)
	return args.Get(0).(*service.VerificationResult), args.Error(1)
}

func (m *MockVerificationFlow) ResendVerification(ctx context.Context, email, password string) (*service.VerificationResult, error) {
	args := m.Called(ctx, email, password)
	return args.Get(0).(*service.VerificationResult), args.Error(1)
}

func (m *MockVerificationFlow) OverrideSingle(ctx context.Context, email, operator string) (*service.OverrideResult, error) {
	args := m.Called(ctx, email, operator)
	return args.Get(0).(*service.OverrideResult), args.Error(1)
}

func (m *MockVerificationFlow) OverrideBulk(ctx context.Context, operator string) (*service.OverrideResult, error) {
	args := m.Called(ctx, operator)
	return args.Get(0).(*service.OverrideResult), args.Error(1)
}

// MockStatusReporter implements StatusReporter
type MockStatusReporter struct {
	mock.Mock
}

func (m *MockStatusReporter) StatusFor(ctx context.Context, email string) (*service.UserStatus, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.UserStatus), args.Error(1)
}

func (m *MockStatusReporter) StatusByID(ctx context.Context, id uint) (*service.UserStatus, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.UserStatus), args.Error(1)
}

func (m *MockStatusReporter) AllWithStatus(ctx context.Context) (*service.StatusReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.StatusReport), args.Error(1)
}

// MockOperatorLogin implements OperatorLogin
type MockOperatorLogin struct {
	mock.Mock
}

func (m *MockOperatorLogin) Login(username, password string) (string, time.Time, error) {
	args := m.Called(username, password)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}
