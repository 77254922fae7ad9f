package license

import (
	"time"

	"license-server/internal/apperr"
	"license-server/internal/database"
)

const (
	DefaultLength = 16
	DefaultUses   = 1
	DefaultAmount = 1

	MinLength    = 4
	MaxLength    = 64
	MaxAmount    = 100
	MaxKeyLength = 128

	// MaxUses is the largest finite use count; 0 requests unlimited
	MaxUses = database.UnlimitedUses - 1

	// DefaultPrefix is prepended to keys of non-premium users
	DefaultPrefix = "auth.cc-"

	// DefaultFreeTierLimit is the license quota of non-premium users
	DefaultFreeTierLimit = 3
)

// Config holds license engine configuration
type Config struct {
	FreeTierLimit int
	Prefix        string
	// ConsumeUses makes every validation take one finite use
	ConsumeUses bool
}

// GenerateRequest describes a generation call. Nil fields take defaults;
// Uses 0 means unlimited.
type GenerateRequest struct {
	LicenseKey string `form:"license_key" json:"license_key"`
	Length     *int   `form:"length" json:"length"`
	Uses       *int   `form:"uses" json:"uses"`
	Amount     *int   `form:"amount" json:"amount"`
}

// GenerateResponse lists the keys created by one call
type GenerateResponse struct {
	LicenseKey  string   `json:"license_key"`
	LicenseKeys []string `json:"license_keys"`
}

// View is a license as listed to its owner
type View struct {
	LicenseKey string    `json:"license_key"`
	Uses       int       `json:"uses"`
	Unlimited  bool      `json:"unlimited"`
	CreatedAt  time.Time `json:"created_at"`
}

// ValidationResult is returned for a usable license. Uses is either the
// remaining count or the string "unlimited".
type ValidationResult struct {
	Valid  bool        `json:"valid"`
	Detail string      `json:"detail"`
	Uses   interface{} `json:"uses"`
}

// Unlimited is reported in place of the stored sentinel
const Unlimited = "unlimited"

var (
	ErrLicenseNotFound  = apperr.New(apperr.KindNotFound, "LICENSE_NOT_FOUND", "License not found")
	ErrNoUsesRemaining  = apperr.New(apperr.KindForbidden, "NO_USES_REMAINING", "License has no uses remaining")
	ErrLicenseExists    = apperr.New(apperr.KindConflict, "LICENSE_EXISTS", "License key already exists")
	ErrPremiumRequired  = apperr.New(apperr.KindForbidden, "PREMIUM_REQUIRED", "Generating more than one license at a time requires premium")
	ErrFreeTierExceeded = apperr.New(apperr.KindForbidden, "LICENSE_LIMIT_REACHED", "Free tier license limit reached, subscribe to premium for more")
	ErrKeyRequired      = apperr.Validation("license_key is required")
)
