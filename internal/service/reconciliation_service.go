package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/medqr-api/internal/domain/entity"
	"github.com/yourusername/medqr-api/internal/domain/repository"
	apperrors "github.com/yourusername/medqr-api/internal/pkg/errors"
)

// UserStatus is the operator-facing view of one user.
type UserStatus struct {
	ID                 uint                      `json:"id"`
	Email              string                    `json:"email"`
	RemoteID           string                    `json:"remote_id,omitempty"`
	EmailVerified      bool                      `json:"email_verified"`
	State              entity.VerificationState  `json:"state"`
	VerificationSource entity.VerificationSource `json:"verification_source,omitempty"`
	VerifiedAt         *time.Time                `json:"verified_at,omitempty"`
	CreatedAt          time.Time                 `json:"created_at"`
	UpdatedAt          time.Time                 `json:"updated_at"`
}

// StatusReport summarizes verification status across all users.
// VerifiedCount + UnverifiedCount == Total.
type StatusReport struct {
	Total           int          `json:"total"`
	VerifiedCount   int          `json:"verified_count"`
	UnverifiedCount int          `json:"unverified_count"`
	Users           []UserStatus `json:"users"`
}

// ReconciliationService answers read-only status queries. It never mutates.
type ReconciliationService struct {
	userRepo repository.UserRepository
	logger   zerolog.Logger
}

func NewReconciliationService(userRepo repository.UserRepository, logger zerolog.Logger) *ReconciliationService {
	return &ReconciliationService{
		userRepo: userRepo,
		logger:   logger.With().Str("component", "ReconciliationService").Logger(),
	}
}

func (s *ReconciliationService) StatusFor(ctx context.Context, email string) (*UserStatus, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", apperrors.ErrValidation)
	}
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	status := toUserStatus(user)
	return &status, nil
}

func (s *ReconciliationService) StatusByID(ctx context.Context, id uint) (*UserStatus, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: id must be positive", apperrors.ErrValidation)
	}
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	status := toUserStatus(user)
	return &status, nil
}

// AllWithStatus lists every user ordered by id.
func (s *ReconciliationService) AllWithStatus(ctx context.Context) (*StatusReport, error) {
	users, err := s.userRepo.ListAllWithStatus(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list users")
		return nil, err
	}

	report := &StatusReport{
		Total: len(users),
		Users: make([]UserStatus, 0, len(users)),
	}
	for i := range users {
		if users[i].EmailVerified {
			report.VerifiedCount++
		} else {
			report.UnverifiedCount++
		}
		report.Users = append(report.Users, toUserStatus(&users[i]))
	}
	return report, nil
}

func toUserStatus(u *entity.User) UserStatus {
	return UserStatus{
		ID:                 u.ID,
		Email:              u.Email,
		RemoteID:           u.RemoteID(),
		EmailVerified:      u.EmailVerified,
		State:              u.State(),
		VerificationSource: u.VerificationSource,
		VerifiedAt:         u.VerifiedAt,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}
