// Package app wires configuration into the store and domain services
// shared by the server and the admin tool.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"license-server/config"
	"license-server/internal/auth"
	"license-server/internal/cache"
	"license-server/internal/database"
	"license-server/internal/events"
	"license-server/internal/history"
	"license-server/internal/license"
	"license-server/internal/stats"
	"license-server/internal/vault"
)

// ErrNoSecret is returned when no token signing secret is configured
var ErrNoSecret = errors.New("token signing secret is not configured: set AUTH_SECRET_KEY (or SECRET_KEY) or enable Vault")

// App holds the opened store and the services built on it
type App struct {
	Config   *config.Config
	DB       *database.DB
	Repo     *database.Repository
	Bus      *events.EventBus
	Cache    *cache.CacheService // nil when redis is disabled
	Vault    *vault.Client
	Licenses *license.Engine
	Stats    *stats.Service
	History  *history.Service
	Auth     *auth.Service // set by EnableAuth

	logger zerolog.Logger
}

// New opens the database, optionally migrates it, and builds the services
// that need no signing secret.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	db, err := database.NewDB(ctx, database.Config{
		Driver:       cfg.DatabaseConfig.Driver,
		DSN:          cfg.DatabaseConfig.DSN,
		BusyTimeout:  cfg.DatabaseConfig.BusyTimeout,
		MaxOpenConns: cfg.DatabaseConfig.MaxOpenConns,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.DatabaseConfig.MigrateOnStart {
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	vc, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &App{
		Config: cfg,
		DB:     db,
		Repo:   database.NewRepository(db),
		Bus:    events.NewEventBus(),
		Vault:  vc,
		logger: logger,
	}

	var statsCache stats.Cache
	if cfg.RedisConfig.Enabled {
		cs, err := cache.NewCacheService(cfg.RedisConfig, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Stats cache disabled")
		} else {
			a.Cache = cs
			statsCache = cs
		}
	}

	a.Licenses = license.NewEngine(a.Repo, license.Config{
		FreeTierLimit: cfg.LicenseConfig.FreeTierLimit,
		Prefix:        cfg.LicenseConfig.Prefix,
		ConsumeUses:   cfg.LicenseConfig.ConsumeUses,
	}, a.Bus, logger)
	a.Stats = stats.NewService(a.Repo, statsCache, cfg.RedisConfig.StatsTTL, a.Bus, logger)
	a.Stats.Subscribe(a.Bus)
	a.History = history.NewService(a.Repo, cfg.HistoryConfig.Retention(), logger)

	return a, nil
}

// EnableAuth resolves the signing secret and builds the auth service.
// Vault wins over the environment when enabled.
func (a *App) EnableAuth(ctx context.Context) error {
	secret, err := a.signingSecret(ctx)
	if err != nil {
		return err
	}

	svc, err := auth.NewService(a.Repo, auth.Config{
		JWTSecret:           secret,
		AccessTokenDuration: a.Config.AuthConfig.AccessTokenDuration(),
		BcryptCost:          a.Config.AuthConfig.BcryptCost,
		Issuer:              a.Config.AuthConfig.Issuer,
	}, a.Bus, a.logger)
	if err != nil {
		return err
	}
	a.Auth = svc
	return nil
}

func (a *App) signingSecret(ctx context.Context) (string, error) {
	if a.Vault.IsEnabled() {
		secret, err := a.Vault.JWTSecret(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to load signing secret from vault: %w", err)
		}
		a.logger.Info().Msg("Token signing secret loaded from Vault")
		return secret, nil
	}

	secret := strings.TrimSpace(a.Config.AuthConfig.SecretKey)
	if secret == "" {
		return "", ErrNoSecret
	}
	return secret, nil
}

// Close releases the cache and the database
func (a *App) Close() error {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close cache")
		}
	}
	return a.DB.Close()
}
