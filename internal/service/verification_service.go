package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/yourusername/medqr-api/internal/domain/entity"
	"github.com/yourusername/medqr-api/internal/domain/repository"
	"github.com/yourusername/medqr-api/internal/metrics"
	apperrors "github.com/yourusername/medqr-api/internal/pkg/errors"
)

const internalFailureMessage = "internal error, please try again later"

// RegisterInput is supplied by the registration intake.
type RegisterInput struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
	LocalID  uint   `validate:"gt=0"`
}

type credentialsInput struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

// RegistrationResult is the outcome of Register. Success with EmailSent=false is a
// partial success: the remote account and local mapping exist, the mail did not go out.
type RegistrationResult struct {
	Success       bool                     `json:"success"`
	EmailSent     bool                     `json:"email_sent"`
	RemoteID      string                   `json:"remote_id,omitempty"`
	LocalID       uint                     `json:"local_id,omitempty"`
	EmailVerified bool                     `json:"email_verified"`
	State         entity.VerificationState `json:"state,omitempty"`
	Message       string                   `json:"message,omitempty"`
}

// VerificationResult is the outcome of ConfirmViaCode, ConfirmViaPoll and ResendVerification.
// ErrorType carries the provider error kind when Success is false.
type VerificationResult struct {
	Success       bool                     `json:"success"`
	Email         string                   `json:"email,omitempty"`
	EmailVerified bool                     `json:"email_verified"`
	EmailSent     bool                     `json:"email_sent,omitempty"`
	State         entity.VerificationState `json:"state,omitempty"`
	Message       string                   `json:"message,omitempty"`
	ErrorType     string                   `json:"error_type,omitempty"`
}

// OverrideResult is the outcome of an operator override.
type OverrideResult struct {
	Success bool          `json:"success"`
	Count   int           `json:"count"`
	Users   []entity.User `json:"users"`
	Message string        `json:"message,omitempty"`
}

// VerificationService drives users through Unverified -> PendingVerification -> Verified.
// It holds no locks; same-email races are settled by the store's atomic updates.
type VerificationService struct {
	userRepo repository.UserRepository
	provider IdentityProvider
	notifier OverrideNotifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	validate *validator.Validate
}

func NewVerificationService(
	userRepo repository.UserRepository,
	provider IdentityProvider,
	notifier OverrideNotifier,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (*VerificationService, error) {
	if userRepo == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("identity provider is required")
	}
	if notifier == nil {
		notifier = &NoopOverrideNotifier{Logger: logger}
	}
	return &VerificationService{
		userRepo: userRepo,
		provider: provider,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With().Str("component", "VerificationService").Logger(),
		validate: validator.New(),
	}, nil
}

// RegisterWithLocalAccount creates the local user row (or reuses the row of a retried
// submit) and then runs Register with its id.
func (s *VerificationService) RegisterWithLocalAccount(ctx context.Context, email, password string) (result *RegistrationResult, err error) {
	defer guard(s, "register_local", &result, &err, registrationFailure)

	email = strings.TrimSpace(email)
	if err := s.validateInput(credentialsInput{Email: email, Password: password}); err != nil {
		return registrationFailure(err.Error()), err
	}

	user := &entity.User{Email: email}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			return registrationFailure("could not create local account"), err
		}
		existing, findErr := s.userRepo.FindByEmail(ctx, email)
		if findErr != nil {
			return registrationFailure("could not load local account"), findErr
		}
		user = existing
	}

	return s.Register(ctx, RegisterInput{Email: email, Password: password, LocalID: user.ID})
}

// Register creates or locates the remote account, persists the mapping and requests the
// verification email. Steps (a) and (b) abort on failure; step (c) only degrades the result.
func (s *VerificationService) Register(ctx context.Context, in RegisterInput) (result *RegistrationResult, err error) {
	defer guard(s, "register", &result, &err, registrationFailure)

	in.Email = strings.TrimSpace(in.Email)
	if err := s.validateInput(in); err != nil {
		s.metrics.ObserveRegistration("failed")
		return registrationFailure(err.Error()), err
	}
	log := s.logger.With().Str("email", in.Email).Uint("local_id", in.LocalID).Logger()

	owner, err := s.userRepo.GetByID(ctx, in.LocalID)
	if err != nil {
		s.metrics.ObserveRegistration("failed")
		return registrationFailure("local account not found"), fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}
	if !strings.EqualFold(owner.Email, in.Email) {
		s.metrics.ObserveRegistration("failed")
		err := fmt.Errorf("%w: local account %d does not belong to %s", apperrors.ErrValidation, in.LocalID, in.Email)
		log.Warn().Str("owner_email", owner.Email).Msg("registration email does not match local account")
		return registrationFailure("email does not match local account"), err
	}

	// (a) remote account
	account, err := s.provider.CreateAccount(ctx, in.Email, in.Password)
	if err != nil {
		s.metrics.ObserveRegistration("failed")
		log.Warn().Err(err).Str("kind", string(ProviderErrorKindOf(err))).Msg("provider account creation failed")
		return registrationFailure(providerFailureMessage(err)), fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}

	// (b) local mapping
	user, err := s.userRepo.SetRemoteID(ctx, in.LocalID, account.RemoteID)
	if err != nil {
		s.metrics.ObserveRegistration("failed")
		s.metrics.ObserveOrphanedRemoteAccount()
		log.Error().
			Err(err).
			Str("event", "remote_account_orphaned").
			Str("remote_id", account.RemoteID).
			Msg("remote account exists without local mapping, manual reconciliation required")
		return registrationFailure("account created with provider but could not be saved locally"),
			fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}

	result = &RegistrationResult{
		Success:       true,
		RemoteID:      user.RemoteID(),
		LocalID:       user.ID,
		EmailVerified: user.EmailVerified,
		State:         user.State(),
	}

	// Provider truth wins over a stale local flag.
	if account.EmailVerified && !user.EmailVerified {
		synced, syncErr := s.userRepo.MarkVerified(ctx, user.Email, entity.SourceProvider)
		if syncErr != nil {
			log.Warn().Err(syncErr).Msg("failed to sync provider verified flag")
		} else {
			s.metrics.ObserveVerified("register", 1)
			user = synced
			result.EmailVerified = true
			result.State = synced.State()
		}
	}

	if result.State == entity.StateVerified || account.EmailVerified {
		s.metrics.ObserveRegistration("success")
		result.Message = "email already verified"
		return result, nil
	}

	// (c) verification email
	if account.SessionToken == "" {
		s.metrics.ObserveRegistration("partial")
		log.Warn().Msg("provider returned no session, verification email not sent")
		result.Message = "registered; verification email not sent, request a resend"
		return result, nil
	}
	if sendErr := s.provider.SendVerificationEmail(ctx, account.SessionToken); sendErr != nil {
		s.metrics.ObserveRegistration("partial")
		log.Warn().Err(sendErr).Str("kind", string(ProviderErrorKindOf(sendErr))).Msg("verification email not sent")
		result.Message = "registered; verification email not sent, request a resend"
		return result, nil
	}

	s.metrics.ObserveRegistration("success")
	result.EmailSent = true
	result.Message = "verification email sent"
	log.Info().Str("remote_id", result.RemoteID).Bool("existing", account.Existing).Msg("registration completed")
	return result, nil
}

// ConfirmViaCode exchanges the out-of-band code and marks the user verified.
// Provider failures leave state unchanged and are reported in the result, not as errors.
func (s *VerificationService) ConfirmViaCode(ctx context.Context, code string) (result *VerificationResult, err error) {
	defer guard(s, "confirm_code", &result, &err, verificationFailure)

	code = strings.TrimSpace(code)
	if code == "" {
		err := fmt.Errorf("%w: verification code is required", apperrors.ErrValidation)
		return verificationFailure(err.Error()), err
	}

	exchange := s.provider.ExchangeVerificationCode(ctx, code)
	if !exchange.Success {
		kind := ProviderErrorUnknown
		message := providerFailureMessage(nil)
		if exchange.Failure != nil {
			kind = exchange.Failure.Kind
			message = providerFailureMessage(exchange.Failure)
		}
		s.logger.Info().Str("kind", string(kind)).Msg("verification code exchange failed")
		return &VerificationResult{
			Email:     exchange.Email,
			Message:   message,
			ErrorType: string(kind),
		}, nil
	}

	user, err := s.userRepo.MarkVerified(ctx, exchange.Email, entity.SourceProvider)
	if err != nil {
		s.logger.Error().Err(err).Str("email", exchange.Email).Msg("provider confirmed email but local update failed")
		res := verificationFailure("email confirmed by provider but local record could not be updated")
		res.Email = exchange.Email
		return res, err
	}

	s.metrics.ObserveVerified("code", 1)
	return &VerificationResult{
		Success:       true,
		Email:         user.Email,
		EmailVerified: true,
		State:         user.State(),
		Message:       "email verified",
	}, nil
}

// ConfirmViaPoll asks the provider whether the email is verified yet.
// "Not yet" and transient sign-in failures both resolve without an error.
func (s *VerificationService) ConfirmViaPoll(ctx context.Context, email, password string) (result *VerificationResult, err error) {
	defer guard(s, "confirm_poll", &result, &err, verificationFailure)

	email = strings.TrimSpace(email)
	if err := s.validateInput(credentialsInput{Email: email, Password: password}); err != nil {
		return verificationFailure(err.Error()), err
	}

	account, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return &VerificationResult{
			Email:     email,
			Message:   providerFailureMessage(err),
			ErrorType: string(ProviderErrorKindOf(err)),
		}, nil
	}

	if !account.EmailVerified {
		return &VerificationResult{
			Success:       true,
			Email:         email,
			EmailVerified: false,
			State:         entity.StatePendingVerification,
			Message:       "email not verified yet",
		}, nil
	}

	user, err := s.userRepo.MarkVerified(ctx, email, entity.SourceProvider)
	if err != nil {
		res := verificationFailure("email verified by provider but local record could not be updated")
		res.Email = email
		return res, err
	}

	s.metrics.ObserveVerified("poll", 1)
	return &VerificationResult{
		Success:       true,
		Email:         user.Email,
		EmailVerified: true,
		State:         user.State(),
		Message:       "email verified",
	}, nil
}

// ResendVerification is the manual resend offered after a partial registration.
// An account the provider already reports verified is synced and gets no mail.
func (s *VerificationService) ResendVerification(ctx context.Context, email, password string) (result *VerificationResult, err error) {
	defer guard(s, "resend", &result, &err, verificationFailure)

	email = strings.TrimSpace(email)
	if err := s.validateInput(credentialsInput{Email: email, Password: password}); err != nil {
		return verificationFailure(err.Error()), err
	}

	account, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return &VerificationResult{
			Email:     email,
			Message:   providerFailureMessage(err),
			ErrorType: string(ProviderErrorKindOf(err)),
		}, nil
	}

	if account.EmailVerified {
		user, err := s.userRepo.MarkVerified(ctx, email, entity.SourceProvider)
		if err != nil {
			res := verificationFailure("email verified by provider but local record could not be updated")
			res.Email = email
			return res, err
		}
		s.metrics.ObserveVerified("resend", 1)
		return &VerificationResult{
			Success:       true,
			Email:         user.Email,
			EmailVerified: true,
			State:         user.State(),
			Message:       "email already verified",
		}, nil
	}

	if err := s.provider.SendVerificationEmail(ctx, account.SessionToken); err != nil {
		res := verificationFailure(providerFailureMessage(err))
		res.Email = email
		res.ErrorType = string(ProviderErrorKindOf(err))
		return res, err
	}

	return &VerificationResult{
		Success:   true,
		Email:     email,
		EmailSent: true,
		State:     entity.StatePendingVerification,
		Message:   "verification email sent",
	}, nil
}

// OverrideSingle marks one user verified without provider confirmation.
func (s *VerificationService) OverrideSingle(ctx context.Context, email, operator string) (result *OverrideResult, err error) {
	defer guard(s, "override_single", &result, &err, overrideFailure)

	email = strings.TrimSpace(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		err = fmt.Errorf("%w: a valid email is required", apperrors.ErrValidation)
		return overrideFailure(err.Error()), err
	}

	user, err := s.userRepo.MarkVerified(ctx, email, entity.SourceOverride)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return overrideFailure("user not found"), err
		}
		return overrideFailure("could not update user"), err
	}

	s.metrics.ObserveVerified("override", 1)
	s.logger.Warn().
		Str("event", "operator_override").
		Str("operator", operator).
		Str("email", user.Email).
		Uint("local_id", user.ID).
		Msg("user marked verified by operator")
	s.notify(ctx, operator, []string{user.Email}, false)

	return &OverrideResult{Success: true, Count: 1, Users: []entity.User{*user}}, nil
}

// OverrideBulk promotes every unverified user. A second run affects nobody.
func (s *VerificationService) OverrideBulk(ctx context.Context, operator string) (result *OverrideResult, err error) {
	defer guard(s, "override_bulk", &result, &err, overrideFailure)

	users, err := s.userRepo.MarkAllUnverifiedAsVerified(ctx)
	if err != nil {
		return overrideFailure("could not update users"), err
	}

	s.metrics.ObserveVerified("bulk", len(users))
	emails := make([]string, 0, len(users))
	for _, u := range users {
		emails = append(emails, u.Email)
	}
	s.logger.Warn().
		Str("event", "operator_override_bulk").
		Str("operator", operator).
		Int("count", len(users)).
		Msg("unverified users marked verified by operator")
	if len(emails) > 0 {
		s.notify(ctx, operator, emails, true)
	}

	return &OverrideResult{Success: true, Count: len(users), Users: users}, nil
}

// notify is best effort: an override is never failed by the audit mail.
func (s *VerificationService) notify(ctx context.Context, operator string, emails []string, bulk bool) {
	notice := OverrideNotice{Operator: operator, Emails: emails, Bulk: bulk, At: time.Now()}
	if err := s.notifier.NotifyOverride(ctx, notice); err != nil {
		s.logger.Warn().Err(err).Str("operator", operator).Msg("override notification failed")
	}
}

func (s *VerificationService) validateInput(in interface{}) error {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: invalid %s", apperrors.ErrValidation, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	return nil
}

// guard converts a panic inside an operation into a failure result.
func guard[T any](s *VerificationService, op string, result **T, err *error, failure func(string) *T) {
	if r := recover(); r != nil {
		s.logger.Error().
			Str("operation", op).
			Interface("panic", r).
			Bytes("stack", debug.Stack()).
			Msg("recovered panic in verification flow")
		*result = failure(internalFailureMessage)
		*err = fmt.Errorf("%w: %s: %v", ErrInternal, op, r)
	}
}

func registrationFailure(message string) *RegistrationResult {
	return &RegistrationResult{Success: false, Message: message}
}

func verificationFailure(message string) *VerificationResult {
	return &VerificationResult{Success: false, Message: message}
}

func overrideFailure(message string) *OverrideResult {
	return &OverrideResult{Success: false, Users: []entity.User{}, Message: message}
}

// providerFailureMessage turns a provider error into a user-facing message.
func providerFailureMessage(err error) string {
	if err == nil {
		return "identity provider request failed"
	}
	switch ProviderErrorKindOf(err) {
	case ProviderErrorCredentialsMismatch:
		return "credentials mismatch"
	case ProviderErrorInvalidCode:
		return "verification link is invalid or expired"
	case ProviderErrorNoSession, ProviderErrorInvalidSession:
		return "no valid provider session"
	case ProviderErrorRateLimited:
		return "too many attempts, try again later"
	case ProviderErrorUserDisabled:
		return "account is disabled"
	case ProviderErrorInvalidInput:
		var pe *ProviderError
		if errors.As(err, &pe) && pe.Message != "" {
			return pe.Message
		}
		return "invalid input"
	case ProviderErrorTransport, ProviderErrorBadResponse:
		return "identity provider unavailable, try again later"
	default:
		return "identity provider request failed"
	}
}
