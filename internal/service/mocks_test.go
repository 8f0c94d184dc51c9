package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/yourusername/medqr-api/internal/domain/entity"
	apperrors "github.com/yourusername/medqr-api/internal/pkg/errors"
)

// ============================================================================
// Mocks
// ============================================================================

// MockUserRepository implements repository.UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *entity.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uint) (*entity.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

func (m *MockUserRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

func (m *MockUserRepository) SetRemoteID(ctx context.Context, localID uint, remoteID string) (*entity.User, error) {
	args := m.Called(ctx, localID, remoteID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

func (m *MockUserRepository) MarkVerified(ctx context.Context, email string, source entity.VerificationSource) (*entity.User, error) {
	args := m.Called(ctx, email, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

func (m *MockUserRepository) MarkAllUnverifiedAsVerified(ctx context.Context) ([]entity.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.User), args.Error(1)
}

func (m *MockUserRepository) ListAllWithStatus(ctx context.Context) ([]entity.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.User), args.Error(1)
}

func (m *MockUserRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockIdentityProvider implements IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) CreateAccount(ctx context.Context, email, password string) (*ProviderAccount, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProviderAccount), args.Error(1)
}

func (m *MockIdentityProvider) SignIn(ctx context.Context, email, password string) (*ProviderAccount, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProviderAccount), args.Error(1)
}

func (m *MockIdentityProvider) SendVerificationEmail(ctx context.Context, sessionToken string) error {
	args := m.Called(ctx, sessionToken)
	return args.Error(0)
}

func (m *MockIdentityProvider) ExchangeVerificationCode(ctx context.Context, code string) CodeExchangeResult {
	args := m.Called(ctx, code)
	return args.Get(0).(CodeExchangeResult)
}

func (m *MockIdentityProvider) Probe(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockOverrideNotifier implements OverrideNotifier
type MockOverrideNotifier struct {
	mock.Mock
}

func (m *MockOverrideNotifier) NotifyOverride(ctx context.Context, notice OverrideNotice) error {
	args := m.Called(ctx, notice)
	return args.Error(0)
}

// ============================================================================
// In-memory store
// ============================================================================

// memoryUserStore mirrors the atomic semantics of the postgres store: every
// method runs under one lock, as every postgres method runs as one statement.
type memoryUserStore struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]*entity.User
	writes int
}

func newMemoryUserStore() *memoryUserStore {
	return &memoryUserStore{nextID: 1, users: map[uint]*entity.User{}}
}

func (s *memoryUserStore) seed(email string) *entity.User {
	u := &entity.User{Email: email}
	if err := s.Create(context.Background(), u); err != nil {
		panic(err)
	}
	return u
}

func (s *memoryUserStore) snapshot(id uint) entity.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[id]
}

func (s *memoryUserStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *memoryUserStore) byEmail(email string) *entity.User {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u
		}
	}
	return nil
}

func (s *memoryUserStore) Create(ctx context.Context, user *entity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byEmail(user.Email) != nil {
		return fmt.Errorf("%w: email already registered", apperrors.ErrConflict)
	}
	now := time.Now()
	user.ID = s.nextID
	user.CreatedAt, user.UpdatedAt = now, now
	s.nextID++
	cp := *user
	s.users[user.ID] = &cp
	s.writes++
	return nil
}

func (s *memoryUserStore) GetByID(ctx context.Context, id uint) (*entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memoryUserStore) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.byEmail(email)
	if u == nil {
		return nil, apperrors.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memoryUserStore) SetRemoteID(ctx context.Context, localID uint, remoteID string) (*entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[localID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if u.RemoteProviderID != nil {
		if *u.RemoteProviderID != remoteID {
			return nil, fmt.Errorf("%w: remote id already bound", apperrors.ErrConflict)
		}
		cp := *u
		return &cp, nil
	}
	id := remoteID
	u.RemoteProviderID = &id
	u.UpdatedAt = time.Now()
	s.writes++
	cp := *u
	return &cp, nil
}

func (s *memoryUserStore) MarkVerified(ctx context.Context, email string, source entity.VerificationSource) (*entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.byEmail(email)
	if u == nil {
		return nil, apperrors.ErrNotFound
	}
	now := time.Now()
	if !u.EmailVerified {
		u.VerificationSource = source
		u.VerifiedAt = &now
	}
	u.EmailVerified = true
	u.UpdatedAt = now
	s.writes++
	cp := *u
	return &cp, nil
}

func (s *memoryUserStore) MarkAllUnverifiedAsVerified(ctx context.Context) ([]entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	affected := []entity.User{}
	for id := uint(1); id < s.nextID; id++ {
		u, ok := s.users[id]
		if !ok || u.EmailVerified {
			continue
		}
		u.EmailVerified = true
		u.VerificationSource = entity.SourceOverride
		u.VerifiedAt = &now
		u.UpdatedAt = now
		s.writes++
		affected = append(affected, *u)
	}
	return affected, nil
}

func (s *memoryUserStore) ListAllWithStatus(ctx context.Context) ([]entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.User, 0, len(s.users))
	for id := uint(1); id < s.nextID; id++ {
		if u, ok := s.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *memoryUserStore) Ping(ctx context.Context) error {
	return nil
}
