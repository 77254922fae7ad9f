package database

import "time"

// UnlimitedUses is the stored uses value of a license without a use limit
const UnlimitedUses = 999999

// User represents an account
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsPremium    bool      `json:"is_premium"`
	CreatedAt    time.Time `json:"created_at"`
}

// License represents an issued license key owned by one user
type License struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	LicenseKey string    `json:"license_key"`
	Uses       int       `json:"uses"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsUnlimited reports whether the license carries the unlimited sentinel
func (l *License) IsUnlimited() bool {
	return l.Uses == UnlimitedUses
}

// GlobalStats is the platform-wide counter snapshot
type GlobalStats struct {
	TotalUsers              int64     `json:"total_users"`
	TotalLicensesCreated    int64     `json:"total_licenses_created"`
	TotalLicensesActive     int64     `json:"total_licenses_active"`
	TotalLicensesDeleted    int64     `json:"total_licenses_deleted"`
	TotalLicenseValidations int64     `json:"total_license_validations"`
	LastUpdated             time.Time `json:"last_updated"`
}

// StatsDelta is a set of counter increments applied atomically. Users and
// Active are floored at zero; the lifetime counters only grow.
type StatsDelta struct {
	Users       int64
	Created     int64
	Active      int64
	Deleted     int64
	Validations int64
}

// IsZero reports whether applying d would change nothing
func (d StatsDelta) IsZero() bool {
	return d == StatsDelta{}
}

// HistoryAction names an account history event
type HistoryAction string

const (
	ActionRegister        HistoryAction = "register"
	ActionLogin           HistoryAction = "login"
	ActionGenerateLicense HistoryAction = "generate_license"
	ActionDeleteLicense   HistoryAction = "delete_license"
	ActionChangeName      HistoryAction = "change_name"
	ActionResetPassword   HistoryAction = "reset_password"
	ActionUpgradePremium  HistoryAction = "upgrade_premium"
)

// HistoryEntry is one recorded account event
type HistoryEntry struct {
	ID        int64         `json:"id"`
	UserID    int64         `json:"user_id"`
	Action    HistoryAction `json:"action"`
	Details   string        `json:"details"`
	CreatedAt time.Time     `json:"created_at"`
}
