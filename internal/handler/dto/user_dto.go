package dto

// RegisterRequest is the registration intake body
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}

// CredentialsRequest is used by poll and resend, both of which sign in with the provider
type CredentialsRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// ConfirmCodeRequest carries the out-of-band code from the verification link
type ConfirmCodeRequest struct {
	OobCode string `json:"oob_code" form:"oobCode" binding:"required"`
}

// OperatorLoginRequest is the operator console login body
type OperatorLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// OperatorLoginResponse returns the bearer token for the admin routes
type OperatorLoginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt int64  `json:"expires_at"`
}

// OverrideSingleRequest names the user to mark verified
type OverrideSingleRequest struct {
	Email string `json:"email" binding:"required,email"`
}
