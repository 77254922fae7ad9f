package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServerConfig   ServerConfig   `envconfig:"SERVER"`
	LoggingConfig  LoggingConfig  `envconfig:"LOG"`
	DatabaseConfig DatabaseConfig `envconfig:"DB"`
	AuthConfig     AuthConfig     `envconfig:"AUTH"`
	LicenseConfig  LicenseConfig  `envconfig:"LICENSE"`
	HistoryConfig  HistoryConfig  `envconfig:"HISTORY"`
	VaultConfig    VaultConfig    `envconfig:"VAULT"`
	RedisConfig    RedisConfig    `envconfig:"REDIS"`
	MetricsConfig  MetricsConfig  `envconfig:"METRICS"`
}

type ServerConfig struct {
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"PORT" default:"8000"`
	ProductionMode  bool          `envconfig:"PRODUCTION" default:"false"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:"*"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

type LoggingConfig struct {
	Level       string `envconfig:"LEVEL" default:"info"`         // debug, info, warn, error
	Output      string `envconfig:"OUTPUT" default:"stdout"`      // stdout, stderr, or file path
	JSONFormat  bool   `envconfig:"JSON" default:"true"`          // console writer when false
	IncludeFile bool   `envconfig:"INCLUDE_FILE" default:"false"` // caller file:line
}

// DatabaseConfig selects the store. Driver is "sqlite" (embedded, default)
// or "pgx" for PostgreSQL.
type DatabaseConfig struct {
	Driver         string        `envconfig:"DRIVER" default:"sqlite"`
	DSN            string        `envconfig:"DSN" default:"file:license.db"`
	BusyTimeout    time.Duration `envconfig:"BUSY_TIMEOUT" default:"5s"`
	MaxOpenConns   int           `envconfig:"MAX_OPEN_CONNS" default:"8"`
	MigrateOnStart bool          `envconfig:"MIGRATE" default:"true"`
}

// AuthConfig holds token and password settings. SecretKey has no default:
// it must come from the environment or from Vault.
type AuthConfig struct {
	SecretKey                string `envconfig:"SECRET_KEY"`
	AccessTokenExpireMinutes int    `envconfig:"ACCESS_TOKEN_EXPIRE_MINUTES" default:"30"`
	BcryptCost               int    `envconfig:"BCRYPT_COST" default:"12"`
	Issuer                   string `envconfig:"ISSUER" default:"license-server"`
}

// AccessTokenDuration returns the configured token lifetime
func (c AuthConfig) AccessTokenDuration() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

type LicenseConfig struct {
	FreeTierLimit int    `envconfig:"FREE_TIER_LIMIT" default:"3"`
	Prefix        string `envconfig:"PREFIX" default:"auth.cc-"`
	ConsumeUses   bool   `envconfig:"CONSUME_USES" default:"false"`
}

type HistoryConfig struct {
	RetentionDays int `envconfig:"RETENTION_DAYS" default:"30"`
}

// Retention returns the history retention window
func (c HistoryConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

type VaultConfig struct {
	Enabled     bool   `envconfig:"ENABLED" default:"false"`
	Address     string `envconfig:"ADDR" default:"http://127.0.0.1:8200"`
	Token       string `envconfig:"TOKEN"`
	MountPath   string `envconfig:"MOUNT_PATH" default:"secret"`
	SecretPath  string `envconfig:"SECRET_PATH" default:"license-server"`
	SecretField string `envconfig:"SECRET_FIELD" default:"jwt_secret"`
	TLSEnabled  bool   `envconfig:"TLS_ENABLED" default:"false"`
	CACert      string `envconfig:"CA_CERT"`
}

type RedisConfig struct {
	Enabled  bool          `envconfig:"ENABLED" default:"false"`
	Address  string        `envconfig:"ADDR" default:"localhost:6379"`
	Password string        `envconfig:"PASSWORD"`
	DB       int           `envconfig:"DB" default:"0"`
	PoolSize int           `envconfig:"POOL_SIZE" default:"10"`
	StatsTTL time.Duration `envconfig:"STATS_TTL" default:"30s"`
}

type MetricsConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`
}

// Load reads the configuration from the environment. Every key is
// <SECTION>_<NAME>; envconfig also accepts the bare name, so SECRET_KEY and
// ACCESS_TOKEN_EXPIRE_MINUTES work unprefixed.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.DatabaseConfig.Driver = strings.ToLower(strings.TrimSpace(cfg.DatabaseConfig.Driver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations. The token secret is checked at
// startup after the Vault lookup, not here.
func (c *Config) Validate() error {
	switch c.DatabaseConfig.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want sqlite or pgx)", c.DatabaseConfig.Driver)
	}
	if c.DatabaseConfig.DSN == "" {
		return fmt.Errorf("DB_DSN must not be empty")
	}
	if c.ServerConfig.Port <= 0 || c.ServerConfig.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT %d", c.ServerConfig.Port)
	}
	if c.AuthConfig.AccessTokenExpireMinutes <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	if c.LicenseConfig.FreeTierLimit < 1 {
		return fmt.Errorf("LICENSE_FREE_TIER_LIMIT must be at least 1")
	}
	if c.HistoryConfig.RetentionDays < 1 {
		return fmt.Errorf("HISTORY_RETENTION_DAYS must be at least 1")
	}
	if c.VaultConfig.Enabled && c.VaultConfig.Token == "" {
		return fmt.Errorf("VAULT_TOKEN is required when VAULT_ENABLED=true")
	}
	return nil
}
