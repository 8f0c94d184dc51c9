package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/medqr-api/internal/config"
	"github.com/yourusername/medqr-api/internal/metrics"
)

const (
	opCreateAccount = "create_account"
	opSignIn        = "sign_in"
	opLookup        = "lookup"
	opSendEmail     = "send_verification_email"
	opExchangeCode  = "exchange_code"
	opProbe         = "probe"

	maxProviderBody = 1 << 20
)

// IdentityProviderClient talks to the provider's REST API. It holds no per-user
// state; the API key and base URL come from the injected config.
type IdentityProviderClient struct {
	cfg        config.IdentityProviderConfig
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

func NewIdentityProviderClient(cfg config.IdentityProviderConfig, logger zerolog.Logger, m *metrics.Metrics) (*IdentityProviderClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("identity provider api key is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("identity provider base url is required")
	}
	if cfg.MutateTimeout <= 0 {
		cfg.MutateTimeout = config.DefaultProviderMutateTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = config.DefaultProviderProbeTimeout
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	return &IdentityProviderClient{
		cfg: cfg,
		// Deadlines are applied per call through the request context.
		httpClient: &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		logger:     logger.With().Str("component", "IdentityProviderClient").Logger(),
		metrics:    m,
	}, nil
}

type signUpRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type authResponse struct {
	LocalID string `json:"localId"`
	IDToken string `json:"idToken"`
	Email   string `json:"email"`
}

type lookupRequest struct {
	IDToken string `json:"idToken"`
}

type lookupResponse struct {
	Users []struct {
		LocalID       string `json:"localId"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"emailVerified"`
	} `json:"users"`
}

type sendOobCodeRequest struct {
	RequestType string `json:"requestType"`
	IDToken     string `json:"idToken"`
	ContinueURL string `json:"continueUrl,omitempty"`
}

type applyCodeRequest struct {
	OobCode string `json:"oobCode"`
}

type applyCodeResponse struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
}

type providerErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateAccount creates the remote account, falling back to SignIn when the email exists.
func (c *IdentityProviderClient) CreateAccount(ctx context.Context, email, password string) (*ProviderAccount, error) {
	var resp authResponse
	err := c.post(ctx, opCreateAccount, "accounts:signUp", c.cfg.MutateTimeout,
		signUpRequest{Email: email, Password: password, ReturnSecureToken: true}, &resp)
	if err != nil {
		if ProviderErrorKindOf(err) != ProviderErrorEmailExists {
			return nil, err
		}

		c.logger.Info().Str("email", email).Msg("account already exists, signing in instead")
		account, signInErr := c.SignIn(ctx, email, password)
		if signInErr != nil {
			if ProviderErrorKindOf(signInErr) == ProviderErrorCredentialsMismatch {
				return nil, newProviderError(ProviderErrorCredentialsMismatch, opCreateAccount, "credentials mismatch", signInErr)
			}
			return nil, signInErr
		}
		account.Existing = true
		return account, nil
	}

	if resp.LocalID == "" {
		return nil, newProviderError(ProviderErrorBadResponse, opCreateAccount, "localId missing in response", nil)
	}

	return &ProviderAccount{
		RemoteID:     resp.LocalID,
		Email:        firstNonEmpty(resp.Email, email),
		SessionToken: resp.IDToken,
	}, nil
}

// SignIn authenticates with the provider and reads the account's verification flag.
func (c *IdentityProviderClient) SignIn(ctx context.Context, email, password string) (*ProviderAccount, error) {
	var resp authResponse
	err := c.post(ctx, opSignIn, "accounts:signInWithPassword", c.cfg.MutateTimeout,
		signUpRequest{Email: email, Password: password, ReturnSecureToken: true}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.LocalID == "" || resp.IDToken == "" {
		return nil, newProviderError(ProviderErrorBadResponse, opSignIn, "localId or idToken missing in response", nil)
	}

	// Sign-in does not report emailVerified; the lookup call does.
	var lookup lookupResponse
	if err := c.post(ctx, opLookup, "accounts:lookup", c.cfg.MutateTimeout, lookupRequest{IDToken: resp.IDToken}, &lookup); err != nil {
		return nil, err
	}
	if len(lookup.Users) == 0 {
		return nil, newProviderError(ProviderErrorBadResponse, opLookup, "no user in lookup response", nil)
	}

	return &ProviderAccount{
		RemoteID:      resp.LocalID,
		Email:         firstNonEmpty(lookup.Users[0].Email, resp.Email, email),
		SessionToken:  resp.IDToken,
		EmailVerified: lookup.Users[0].EmailVerified,
	}, nil
}

// SendVerificationEmail asks the provider to mail the verification link.
func (c *IdentityProviderClient) SendVerificationEmail(ctx context.Context, sessionToken string) error {
	if strings.TrimSpace(sessionToken) == "" {
		return newProviderError(ProviderErrorNoSession, opSendEmail, "no session", nil)
	}
	req := sendOobCodeRequest{
		RequestType: "VERIFY_EMAIL",
		IDToken:     sessionToken,
		ContinueURL: c.cfg.ContinueURL,
	}
	return c.post(ctx, opSendEmail, "accounts:sendOobCode", c.cfg.MutateTimeout, req, nil)
}

// ExchangeVerificationCode applies the out-of-band code from the verification link.
func (c *IdentityProviderClient) ExchangeVerificationCode(ctx context.Context, code string) CodeExchangeResult {
	if strings.TrimSpace(code) == "" {
		return CodeExchangeResult{Failure: newProviderError(ProviderErrorInvalidInput, opExchangeCode, "empty code", nil)}
	}

	var resp applyCodeResponse
	if err := c.post(ctx, opExchangeCode, "accounts:update", c.cfg.MutateTimeout, applyCodeRequest{OobCode: code}, &resp); err != nil {
		var pe *ProviderError
		if !errors.As(err, &pe) {
			pe = newProviderError(ProviderErrorUnknown, opExchangeCode, "unexpected failure", err)
		}
		return CodeExchangeResult{Failure: pe}
	}
	if resp.Email == "" {
		return CodeExchangeResult{Failure: newProviderError(ProviderErrorBadResponse, opExchangeCode, "email missing in response", nil)}
	}
	if !resp.EmailVerified {
		return CodeExchangeResult{
			Email:   resp.Email,
			Failure: newProviderError(ProviderErrorBadResponse, opExchangeCode, "code accepted but email not reported verified", nil),
		}
	}

	return CodeExchangeResult{Success: true, Email: resp.Email, Verified: true}
}

// Probe checks that the provider host answers at all. Any HTTP status counts as reachable.
func (c *IdentityProviderClient) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL, nil)
	if err != nil {
		return newProviderError(ProviderErrorMisconfigured, opProbe, "failed to build request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.httpClient.CloseIdleConnections()
		c.metrics.ObserveProviderCall(opProbe, string(ProviderErrorTransport), time.Since(start))
		return newProviderError(ProviderErrorTransport, opProbe, transportMessage(ctx), err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProviderBody))
	resp.Body.Close()
	c.metrics.ObserveProviderCall(opProbe, "ok", time.Since(start))
	return nil
}

// post performs one JSON call bounded by timeout. out may be nil when the body is ignored.
func (c *IdentityProviderClient) post(ctx context.Context, operation, method string, timeout time.Duration, in, out interface{}) (err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		kind := "ok"
		if err != nil {
			kind = string(ProviderErrorKindOf(err))
		}
		c.metrics.ObserveProviderCall(operation, kind, time.Since(start))
	}()

	payload, err := json.Marshal(in)
	if err != nil {
		return newProviderError(ProviderErrorInvalidInput, operation, "failed to encode request", err)
	}

	endpoint := c.cfg.BaseURL + "/" + method + "?" + url.Values{"key": {c.cfg.APIKey}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return newProviderError(ProviderErrorMisconfigured, operation, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Drop pooled connections so a hung peer is not reused.
		c.httpClient.CloseIdleConnections()
		c.logger.Warn().Err(err).Str("operation", operation).Msg("provider request failed")
		return newProviderError(ProviderErrorTransport, operation, transportMessage(ctx), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		c.httpClient.CloseIdleConnections()
		return newProviderError(ProviderErrorTransport, operation, transportMessage(ctx), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeProviderError(operation, resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return newProviderError(ProviderErrorBadResponse, operation, "failed to parse response", err)
	}
	return nil
}

func (c *IdentityProviderClient) decodeProviderError(operation string, status int, body []byte) error {
	var envelope providerErrorEnvelope
	message := ""
	if err := json.Unmarshal(body, &envelope); err == nil {
		message = envelope.Error.Message
	}

	kind := classifyProviderMessage(message)
	if kind == ProviderErrorUnknown {
		switch {
		case status == http.StatusTooManyRequests:
			kind = ProviderErrorRateLimited
		case status >= 500:
			kind = ProviderErrorTransport
		case message == "":
			kind = ProviderErrorBadResponse
		}
	}
	if message == "" {
		message = fmt.Sprintf("status=%d body=%s", status, truncate(string(body), 256))
	}

	pe := newProviderError(kind, operation, message, nil)
	pe.StatusCode = status
	return pe
}

func transportMessage(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "timeout"
	}
	return "request failed"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
