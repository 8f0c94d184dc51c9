package entity

import (
	"strings"
	"time"
)

// VerificationState is the explicit state of a user in the email verification flow.
type VerificationState string

const (
	StateUnverified          VerificationState = "unverified"
	StatePendingVerification VerificationState = "pending_verification"
	StateVerified            VerificationState = "verified"
)

// VerificationSource records who confirmed the email.
type VerificationSource string

const (
	SourceNone     VerificationSource = ""
	SourceProvider VerificationSource = "provider"
	SourceOverride VerificationSource = "override"
)

// User is the local source of truth for a registered user's identity and
// verification status. The identity provider owns passwords; no credential is stored here.
type User struct {
	ID                 uint               `gorm:"primaryKey" json:"id"`
	Email              string             `gorm:"size:255;not null;uniqueIndex" json:"email"`
	RemoteProviderID   *string            `gorm:"size:128;uniqueIndex" json:"remote_provider_id,omitempty"`
	EmailVerified      bool               `gorm:"not null;default:false" json:"email_verified"`
	VerifiedAt         *time.Time         `gorm:"type:timestamptz" json:"verified_at,omitempty"`
	VerificationSource VerificationSource `gorm:"size:20;not null;default:''" json:"verification_source,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName sets the table name for GORM
func (User) TableName() string {
	return "users"
}

// HasRemoteAccount reports whether account creation with the provider has been recorded.
func (u *User) HasRemoteAccount() bool {
	return u.RemoteProviderID != nil && strings.TrimSpace(*u.RemoteProviderID) != ""
}

// RemoteID returns the remote provider id or an empty string.
func (u *User) RemoteID() string {
	if u.RemoteProviderID == nil {
		return ""
	}
	return *u.RemoteProviderID
}

// State derives the verification state from the stored columns.
// Verified wins over everything else: an operator override may verify
// a user that never got a remote account.
func (u *User) State() VerificationState {
	switch {
	case u.EmailVerified:
		return StateVerified
	case u.HasRemoteAccount():
		return StatePendingVerification
	default:
		return StateUnverified
	}
}
