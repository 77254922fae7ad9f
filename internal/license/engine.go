package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"license-server/internal/apperr"
	"license-server/internal/database"
	"license-server/internal/events"
)

// Engine issues, lists, deletes and validates license keys
type Engine struct {
	repo   *database.Repository
	keys   *KeyGenerator
	cfg    Config
	events events.Publisher
	logger zerolog.Logger
}

// NewEngine creates a license engine
func NewEngine(repo *database.Repository, cfg Config, publisher events.Publisher, logger zerolog.Logger) *Engine {
	if cfg.FreeTierLimit <= 0 {
		cfg.FreeTierLimit = DefaultFreeTierLimit
	}
	return &Engine{
		repo:   repo,
		keys:   NewKeyGenerator(cfg.Prefix),
		cfg:    cfg,
		events: publisher,
		logger: logger.With().Str("component", "license").Logger(),
	}
}

type generateParams struct {
	template string
	length   int
	uses     int
	amount   int
}

func (req GenerateRequest) params() (generateParams, error) {
	p := generateParams{
		template: strings.TrimSpace(req.LicenseKey),
		length:   DefaultLength,
		uses:     DefaultUses,
		amount:   DefaultAmount,
	}
	if req.Length != nil {
		p.length = *req.Length
	}
	if req.Uses != nil {
		p.uses = *req.Uses
	}
	if req.Amount != nil {
		p.amount = *req.Amount
	}

	if p.length < MinLength || p.length > MaxLength {
		return p, apperr.Validation(fmt.Sprintf("length must be between %d and %d", MinLength, MaxLength))
	}
	if p.amount < 1 || p.amount > MaxAmount {
		return p, apperr.Validation(fmt.Sprintf("amount must be between 1 and %d", MaxAmount))
	}
	if p.uses < 0 || p.uses > MaxUses {
		return p, apperr.Validation(fmt.Sprintf("uses must be between 0 (unlimited) and %d", MaxUses))
	}
	if len(p.template) > MaxKeyLength {
		return p, apperr.Validation(fmt.Sprintf("license_key must be at most %d characters", MaxKeyLength))
	}
	if strings.IndexFunc(p.template, unicode.IsSpace) >= 0 {
		return p, apperr.Validation("license_key must not contain whitespace")
	}

	if p.uses == 0 {
		p.uses = database.UnlimitedUses
	}
	return p, nil
}

// Generate creates amount licenses for user. The quota check and all
// inserts share one transaction, with the owner row locked for free-tier
// users; a key collision fails the whole batch.
func (e *Engine) Generate(ctx context.Context, user *database.User, req GenerateRequest) (*GenerateResponse, error) {
	p, err := req.params()
	if err != nil {
		return nil, err
	}

	if !user.IsPremium && p.amount > 1 {
		return nil, ErrPremiumRequired
	}

	keys := make([]string, 0, p.amount)
	for i := 0; i < p.amount; i++ {
		key, err := e.keys.Derive(p.template, p.length, user.IsPremium)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	err = e.repo.WithTx(ctx, func(tx *database.Repository) error {
		if !user.IsPremium {
			if err := tx.LockUser(ctx, user.ID); err != nil {
				return err
			}
			count, err := tx.CountLicensesByUser(ctx, user.ID)
			if err != nil {
				return err
			}
			if count+p.amount > e.cfg.FreeTierLimit {
				return ErrFreeTierExceeded
			}
		}

		for _, key := range keys {
			if err := tx.CreateLicense(ctx, &database.License{UserID: user.ID, LicenseKey: key, Uses: p.uses}); err != nil {
				return err
			}
			if err := tx.AddHistory(ctx, user.ID, database.ActionGenerateLicense, key); err != nil {
				return err
			}
		}

		n := int64(len(keys))
		return tx.IncrementStats(ctx, database.StatsDelta{Created: n, Active: n})
	})
	if errors.Is(err, database.ErrDuplicate) {
		return nil, ErrLicenseExists
	}
	if err != nil {
		return nil, storeErr("generate license", err)
	}

	e.logger.Info().
		Str("username", user.Username).
		Int("amount", len(keys)).
		Bool("unlimited", p.uses == database.UnlimitedUses).
		Msg("Licenses generated")
	e.publish(events.EventLicenseGenerated, map[string]interface{}{
		"username": user.Username,
		"count":    len(keys),
	})

	return &GenerateResponse{LicenseKey: keys[0], LicenseKeys: keys}, nil
}

// List returns the user's licenses, newest first
func (e *Engine) List(ctx context.Context, user *database.User) ([]View, error) {
	licenses, err := e.repo.ListLicensesByUser(ctx, user.ID)
	if err != nil {
		return nil, storeErr("list licenses", err)
	}

	views := make([]View, 0, len(licenses))
	for i := range licenses {
		l := &licenses[i]
		views = append(views, View{
			LicenseKey: l.LicenseKey,
			Uses:       l.Uses,
			Unlimited:  l.IsUnlimited(),
			CreatedAt:  l.CreatedAt,
		})
	}
	return views, nil
}

// Delete removes key when user owns it
func (e *Engine) Delete(ctx context.Context, user *database.User, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrKeyRequired
	}

	err := e.repo.WithTx(ctx, func(tx *database.Repository) error {
		if err := tx.DeleteLicense(ctx, user.ID, key); err != nil {
			return err
		}
		if err := tx.AddHistory(ctx, user.ID, database.ActionDeleteLicense, key); err != nil {
			return err
		}
		return tx.IncrementStats(ctx, database.StatsDelta{Active: -1, Deleted: 1})
	})
	if errors.Is(err, database.ErrNotFound) {
		return ErrLicenseNotFound
	}
	if err != nil {
		return storeErr("delete license", err)
	}

	e.publish(events.EventLicenseDeleted, map[string]interface{}{"username": user.Username})
	return nil
}

// Validate checks that key exists and has uses left, counting the check in
// the global stats. With ConsumeUses set one finite use is taken.
func (e *Engine) Validate(ctx context.Context, key string) (*ValidationResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrKeyRequired
	}

	var remaining int
	err := e.repo.WithTx(ctx, func(tx *database.Repository) error {
		license, err := tx.GetLicenseByKey(ctx, key)
		if err != nil {
			return err
		}
		if license == nil {
			return ErrLicenseNotFound
		}
		if license.Uses <= 0 {
			return ErrNoUsesRemaining
		}

		remaining = license.Uses
		if e.cfg.ConsumeUses && !license.IsUnlimited() {
			ok, err := tx.ConsumeLicenseUse(ctx, key)
			if err != nil {
				return err
			}
			if !ok {
				return ErrNoUsesRemaining
			}
			remaining--
		}

		return tx.IncrementStats(ctx, database.StatsDelta{Validations: 1})
	})
	if err != nil {
		return nil, storeErr("validate license", err)
	}

	e.publish(events.EventLicenseValidated, nil)

	result := &ValidationResult{Valid: true, Detail: "License is valid", Uses: remaining}
	if remaining == database.UnlimitedUses {
		result.Uses = Unlimited
	}
	return result, nil
}

func (e *Engine) publish(t events.EventType, data map[string]interface{}) {
	if e.events == nil {
		return
	}
	e.events.Publish(events.New(t, data))
}

func storeErr(op string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, database.ErrBusy) {
		return apperr.Unavailable("Database is busy, please retry", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
