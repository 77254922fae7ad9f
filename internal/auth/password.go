package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"license-server/internal/apperr"
)

const (
	// DefaultBcryptCost is the default bcrypt cost factor
	DefaultBcryptCost = 12

	// MinPasswordLength is the minimum password length
	MinPasswordLength = 4

	// MaxPasswordBytes is the bcrypt input limit
	MaxPasswordBytes = 72

	MinUsernameLength = 3
	MaxUsernameLength = 64
)

// PasswordManager handles password hashing and validation
type PasswordManager struct {
	bcryptCost int
}

// NewPasswordManager creates a new password manager
func NewPasswordManager(bcryptCost int) *PasswordManager {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = DefaultBcryptCost
	}
	return &PasswordManager{bcryptCost: bcryptCost}
}

// HashPassword hashes a password using bcrypt
func (p *PasswordManager) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), p.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(bytes), nil
}

// VerifyPassword verifies a password against a hash
func (p *PasswordManager) VerifyPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// ValidatePassword enforces the password policy: at least 4 characters with
// at least one digit.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return apperr.Validation(fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength))
	}
	if len(password) > MaxPasswordBytes {
		return apperr.Validation(fmt.Sprintf("Password must be at most %d bytes long", MaxPasswordBytes))
	}

	hasNumber := strings.IndexFunc(password, unicode.IsDigit) >= 0
	if !hasNumber {
		return apperr.Validation("Password must contain at least one number")
	}

	return nil
}

// ValidateUsername trims name and checks its length
func ValidateUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < MinUsernameLength {
		return "", apperr.Validation(fmt.Sprintf("Username must be at least %d characters long", MinUsernameLength))
	}
	if n > MaxUsernameLength {
		return "", apperr.Validation(fmt.Sprintf("Username must be at most %d characters long", MaxUsernameLength))
	}
	return name, nil
}
