package service

import "errors"

// Verification flow errors used by handlers for stable error_type mapping.
var (
	ErrRegistrationFailed = errors.New("registration_failed")
	ErrTransport          = errors.New("provider_transport_error")
	ErrProviderRejected   = errors.New("provider_rejected")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInternal           = errors.New("internal_error")
)
