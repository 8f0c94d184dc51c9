package repository

import (
	"context"

	"github.com/yourusername/medqr-api/internal/domain/entity"
)

// UserRepository is the narrow persistence boundary for user identities.
// Every write is a single atomic statement and refreshes updated_at.
type UserRepository interface {
	// Create inserts a new local user. A duplicate email yields apperrors.ErrConflict.
	Create(ctx context.Context, user *entity.User) error
	GetByID(ctx context.Context, id uint) (*entity.User, error)
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	// SetRemoteID binds the provider id to the user. Setting the same value again is a
	// no-op success; a different existing value yields apperrors.ErrConflict.
	SetRemoteID(ctx context.Context, localID uint, remoteID string) (*entity.User, error)
	// MarkVerified sets email_verified=true. It never clears the flag.
	MarkVerified(ctx context.Context, email string, source entity.VerificationSource) (*entity.User, error)
	// MarkAllUnverifiedAsVerified promotes every unverified user and returns the affected rows.
	MarkAllUnverifiedAsVerified(ctx context.Context) ([]entity.User, error)
	ListAllWithStatus(ctx context.Context) ([]entity.User, error)
	Ping(ctx context.Context) error
}
