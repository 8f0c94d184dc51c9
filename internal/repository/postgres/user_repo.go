package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/medqr-api/internal/domain/entity"
	apperrors "github.com/yourusername/medqr-api/internal/pkg/errors"
)

// UserRepo implements repository.UserRepository on top of gorm.
// Mutations are single UPDATE ... RETURNING statements so concurrent flows for the
// same email are serialized by Postgres row locks, never by application code.
type UserRepo struct {
	db *gorm.DB
}

// NewUserRepo creates a user repository
func NewUserRepo(db *gorm.DB) *UserRepo {
	return &UserRepo{db: db}
}

// Create inserts a new user
func (r *UserRepo) Create(ctx context.Context, user *entity.User) error {
	err := r.db.WithContext(ctx).Create(user).Error
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email %s already registered", apperrors.ErrConflict, user.Email)
		}
		return persistenceErr("create user", err)
	}
	return nil
}

// GetByID returns the user by local id
func (r *UserRepo) GetByID(ctx context.Context, id uint) (*entity.User, error) {
	var user entity.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, persistenceErr("get user by id", err)
	}
	return &user, nil
}

// FindByEmail returns the user by email, compared case-insensitively
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	var user entity.User
	err := r.db.WithContext(ctx).Where("LOWER(email) = LOWER(?)", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, persistenceErr("find user by email", err)
	}
	return &user, nil
}

// SetRemoteID binds remoteID to the user only while no remote id is stored yet.
func (r *UserRepo) SetRemoteID(ctx context.Context, localID uint, remoteID string) (*entity.User, error) {
	var updated []entity.User
	result := r.db.WithContext(ctx).
		Model(&updated).
		Clauses(clause.Returning{}).
		Where("id = ? AND remote_provider_id IS NULL", localID).
		Updates(map[string]interface{}{
			"remote_provider_id": remoteID,
			"updated_at":         time.Now(),
		})
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return nil, fmt.Errorf("%w: remote id %s is bound to another user", apperrors.ErrConflict, remoteID)
		}
		return nil, persistenceErr("set remote id", result.Error)
	}
	if result.RowsAffected > 0 && len(updated) > 0 {
		return &updated[0], nil
	}

	// Nothing updated: either the user is missing or a remote id is already stored.
	existing, err := r.GetByID(ctx, localID)
	if err != nil {
		return nil, err
	}
	if existing.RemoteID() == remoteID {
		return existing, nil
	}
	return nil, fmt.Errorf("%w: user %d already bound to remote id %s", apperrors.ErrConflict, localID, existing.RemoteID())
}

// MarkVerified sets email_verified. verified_at and verification_source keep their
// first values so a repeated call does not rewrite the audit trail.
func (r *UserRepo) MarkVerified(ctx context.Context, email string, source entity.VerificationSource) (*entity.User, error) {
	now := time.Now()
	var updated []entity.User
	result := r.db.WithContext(ctx).
		Model(&updated).
		Clauses(clause.Returning{}).
		Where("LOWER(email) = LOWER(?)", email).
		Updates(map[string]interface{}{
			"email_verified":      true,
			"verified_at":         gorm.Expr("COALESCE(verified_at, ?)", now),
			"verification_source": gorm.Expr("CASE WHEN email_verified THEN verification_source ELSE ? END", string(source)),
			"updated_at":          now,
		})
	if result.Error != nil {
		return nil, persistenceErr("mark verified", result.Error)
	}
	if result.RowsAffected == 0 || len(updated) == 0 {
		return nil, fmt.Errorf("%w: no user with email %s", apperrors.ErrNotFound, email)
	}
	return &updated[0], nil
}

// MarkAllUnverifiedAsVerified promotes every unverified user in one statement.
func (r *UserRepo) MarkAllUnverifiedAsVerified(ctx context.Context) ([]entity.User, error) {
	now := time.Now()
	var updated []entity.User
	result := r.db.WithContext(ctx).
		Model(&updated).
		Clauses(clause.Returning{}).
		Where("email_verified = ?", false).
		Updates(map[string]interface{}{
			"email_verified":      true,
			"verified_at":         now,
			"verification_source": string(entity.SourceOverride),
			"updated_at":          now,
		})
	if result.Error != nil {
		return nil, persistenceErr("bulk mark verified", result.Error)
	}
	if updated == nil {
		updated = []entity.User{}
	}
	return updated, nil
}

// ListAllWithStatus returns every user ordered by id
func (r *UserRepo) ListAllWithStatus(ctx context.Context) ([]entity.User, error) {
	var users []entity.User
	if err := r.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, persistenceErr("list users", err)
	}
	return users, nil
}

// Ping checks the underlying connection
func (r *UserRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return persistenceErr("get sql.DB", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return persistenceErr("ping", err)
	}
	return nil
}

func persistenceErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", apperrors.ErrPersistence, op, err)
}

// isUniqueViolation detects Postgres unique violation (23505) for pgconn and lib/pq drivers
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
