package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/medqr-api/internal/config"
)

const (
	operatorRole    = "operator"
	operatorIssuer  = "medqr-api"
	defaultTokenTTL = 8 * time.Hour
)

var (
	ErrInvalidOperatorCredentials = errors.New("invalid operator credentials")
	ErrInvalidToken               = errors.New("invalid token")
	ErrTokenExpired               = errors.New("token is expired")
)

// OperatorClaims are the claims carried by an operator console token.
type OperatorClaims struct {
	Operator string `json:"operator"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// OperatorAuthenticator checks the configured operator credentials and issues
// HS256 tokens for the admin routes.
type OperatorAuthenticator struct {
	username     string
	passwordHash []byte
	secret       []byte
	ttl          time.Duration
	now          func() time.Time
}

func NewOperatorAuthenticator(cfg config.OperatorConfig) (*OperatorAuthenticator, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("operator jwt secret is required")
	}
	if cfg.Username != "" {
		if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
			return nil, fmt.Errorf("operator password hash is not a bcrypt hash: %w", err)
		}
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &OperatorAuthenticator{
		username:     cfg.Username,
		passwordHash: []byte(cfg.PasswordHash),
		secret:       []byte(cfg.JWTSecret),
		ttl:          ttl,
		now:          time.Now,
	}, nil
}

// Login verifies the operator credentials and returns a signed token with its expiry.
// With no operator configured every login fails.
func (a *OperatorAuthenticator) Login(username, password string) (string, time.Time, error) {
	if a.username == "" || subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) != 1 {
		return "", time.Time{}, ErrInvalidOperatorCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidOperatorCredentials
	}
	return a.issue(username)
}

func (a *OperatorAuthenticator) issue(operator string) (string, time.Time, error) {
	now := a.now()
	expiresAt := now.Add(a.ttl)
	claims := &OperatorClaims{
		Operator: operator,
		Role:     operatorRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    operatorIssuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates the token signature, expiry and role.
func (a *OperatorAuthenticator) Parse(tokenString string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Role != operatorRole || claims.Operator == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
