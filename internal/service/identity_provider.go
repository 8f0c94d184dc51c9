package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// IdentityProvider is the external service of record for account existence,
// passwords and email verification.
type IdentityProvider interface {
	// CreateAccount creates the remote account. When the email is already registered it
	// signs in instead, so a retried registration with the same password is idempotent.
	CreateAccount(ctx context.Context, email, password string) (*ProviderAccount, error)
	SignIn(ctx context.Context, email, password string) (*ProviderAccount, error)
	SendVerificationEmail(ctx context.Context, sessionToken string) error
	// ExchangeVerificationCode never returns an error; failures are reported in the result.
	ExchangeVerificationCode(ctx context.Context, code string) CodeExchangeResult
	Probe(ctx context.Context) error
}

// ProviderAccount is the outcome of account creation or sign-in.
// SessionToken is short lived and is only used to authorize SendVerificationEmail.
type ProviderAccount struct {
	RemoteID      string
	Email         string
	SessionToken  string
	EmailVerified bool
	// Existing is true when CreateAccount resolved through the sign-in fallback.
	Existing bool
}

// CodeExchangeResult is the structured outcome of an out-of-band code exchange.
type CodeExchangeResult struct {
	Success  bool
	Email    string
	Verified bool
	Failure  *ProviderError
}

// ProviderErrorKind is the closed set of provider failure kinds.
type ProviderErrorKind string

const (
	ProviderErrorTransport           ProviderErrorKind = "transport"
	ProviderErrorEmailExists         ProviderErrorKind = "email_exists"
	ProviderErrorCredentialsMismatch ProviderErrorKind = "credentials_mismatch"
	ProviderErrorInvalidCode         ProviderErrorKind = "invalid_code"
	ProviderErrorNoSession           ProviderErrorKind = "no_session"
	ProviderErrorInvalidSession      ProviderErrorKind = "invalid_session"
	ProviderErrorRateLimited         ProviderErrorKind = "rate_limited"
	ProviderErrorUserDisabled        ProviderErrorKind = "user_disabled"
	ProviderErrorInvalidInput        ProviderErrorKind = "invalid_input"
	ProviderErrorMisconfigured       ProviderErrorKind = "misconfigured"
	ProviderErrorBadResponse         ProviderErrorKind = "bad_response"
	ProviderErrorUnknown             ProviderErrorKind = "unknown"
)

// ProviderError wraps provider failures with a normalized kind.
type ProviderError struct {
	Kind       ProviderErrorKind
	Operation  string
	Message    string
	StatusCode int
	Underlying error
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("identity provider %s [%s]: %s: %v", e.Operation, e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("identity provider %s [%s]: %s", e.Operation, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// IsTransport reports whether the provider never gave a usable answer
// (network failure, timeout, 5xx, unparseable body).
func (e *ProviderError) IsTransport() bool {
	return e.Kind == ProviderErrorTransport || e.Kind == ProviderErrorBadResponse
}

// Is lets callers match the taxonomy sentinels: transport failures match ErrTransport,
// structured provider answers match ErrProviderRejected.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.IsTransport()
	case ErrProviderRejected:
		return !e.IsTransport()
	case ErrInvalidCredentials:
		return e.Kind == ProviderErrorCredentialsMismatch
	}
	return false
}

func newProviderError(kind ProviderErrorKind, operation, message string, underlying error) *ProviderError {
	return &ProviderError{Kind: kind, Operation: operation, Message: message, Underlying: underlying}
}

// ProviderErrorKindOf extracts the kind from an error chain.
func ProviderErrorKindOf(err error) ProviderErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) && pe != nil {
		return pe.Kind
	}
	return ProviderErrorUnknown
}

// providerMessageKinds maps machine-matchable markers in the provider's
// error.message to kinds. Order matters: the first matching prefix wins.
var providerMessageKinds = []struct {
	marker string
	kind   ProviderErrorKind
}{
	{"EMAIL_EXISTS", ProviderErrorEmailExists},
	{"INVALID_PASSWORD", ProviderErrorCredentialsMismatch},
	{"INVALID_LOGIN_CREDENTIALS", ProviderErrorCredentialsMismatch},
	{"EMAIL_NOT_FOUND", ProviderErrorCredentialsMismatch},
	{"INVALID_OOB_CODE", ProviderErrorInvalidCode},
	{"EXPIRED_OOB_CODE", ProviderErrorInvalidCode},
	{"INVALID_ID_TOKEN", ProviderErrorInvalidSession},
	{"TOKEN_EXPIRED", ProviderErrorInvalidSession},
	{"USER_NOT_FOUND", ProviderErrorInvalidSession},
	{"TOO_MANY_ATTEMPTS_TRY_LATER", ProviderErrorRateLimited},
	{"USER_DISABLED", ProviderErrorUserDisabled},
	{"WEAK_PASSWORD", ProviderErrorInvalidInput},
	{"INVALID_EMAIL", ProviderErrorInvalidInput},
	{"MISSING_PASSWORD", ProviderErrorInvalidInput},
	{"MISSING_EMAIL", ProviderErrorInvalidInput},
	{"API_KEY_INVALID", ProviderErrorMisconfigured},
	{"OPERATION_NOT_ALLOWED", ProviderErrorMisconfigured},
}

// classifyProviderMessage is the only place that pattern-matches provider messages.
// Messages look like "WEAK_PASSWORD : Password should be at least 6 characters".
func classifyProviderMessage(message string) ProviderErrorKind {
	normalized := strings.ToUpper(strings.TrimSpace(message))
	for _, m := range providerMessageKinds {
		if strings.HasPrefix(normalized, m.marker) {
			return m.kind
		}
	}
	if strings.Contains(normalized, "ALREADY EXISTS") || strings.Contains(normalized, "ALREADY_EXISTS") {
		return ProviderErrorEmailExists
	}
	return ProviderErrorUnknown
}
