package auth

import (
	"time"

	"license-server/internal/apperr"
)

// LoginRequest represents a login (or first-time registration) request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is returned by login and username change
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Username    string    `json:"username,omitempty"`
}

// UserResponse represents user data returned to the client
type UserResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	IsPremium bool      `json:"is_premium"`
	CreatedAt time.Time `json:"created_at"`
}

// UserSummary is one row of the user listing
type UserSummary struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	IsPremium bool   `json:"is_premium"`
}

// ChangePasswordRequest represents a password change request
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// ChangeUsernameRequest represents a rename request
type ChangeUsernameRequest struct {
	NewUsername string `json:"new_username" binding:"required"`
}

// DeleteAccountRequest carries the password confirming account removal
type DeleteAccountRequest struct {
	Password string `json:"password" binding:"required"`
}

// Config holds authentication configuration
type Config struct {
	JWTSecret           string
	AccessTokenDuration time.Duration
	BcryptCost          int
	Issuer              string
}

// DefaultConfig returns default authentication configuration
func DefaultConfig() Config {
	return Config{
		JWTSecret:           "", // Must be set
		AccessTokenDuration: 30 * time.Minute,
		BcryptCost:          DefaultBcryptCost,
	}
}

// TokenType is the token_type reported to clients
const TokenType = "bearer"

// Common authentication errors
var (
	ErrInvalidCredentials = apperr.New(apperr.KindUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials")
	ErrInvalidToken       = apperr.New(apperr.KindUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
	ErrTokenExpired       = apperr.New(apperr.KindUnauthorized, "TOKEN_EXPIRED", "Token has expired")
	ErrUserNotFound       = apperr.New(apperr.KindUnauthorized, "USER_NOT_FOUND", "User not found")
	ErrUnauthorized       = apperr.New(apperr.KindUnauthorized, "UNAUTHORIZED", "Not authenticated")
	ErrIncorrectPassword  = apperr.New(apperr.KindUnauthorized, "INCORRECT_PASSWORD", "Current password is incorrect")
	ErrUsernameTaken      = apperr.New(apperr.KindConflict, "USERNAME_TAKEN", "Username already taken")
	ErrSameUsername       = apperr.New(apperr.KindValidation, "SAME_USERNAME", "New username must differ from the current one")
	ErrPasswordMismatch   = apperr.New(apperr.KindValidation, "PASSWORD_MISMATCH", "New passwords do not match")
)
