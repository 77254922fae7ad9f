package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"license-server/internal/apperr"
	"license-server/internal/database"
	"license-server/internal/events"
)

// Service handles authentication and account operations
type Service struct {
	repo            *database.Repository
	jwtManager      *JWTManager
	passwordManager *PasswordManager
	events          events.Publisher
	logger          zerolog.Logger
}

// NewService creates a new authentication service
func NewService(repo *database.Repository, config Config, publisher events.Publisher, logger zerolog.Logger) (*Service, error) {
	if config.JWTSecret == "" {
		return nil, errors.New("JWT secret is required")
	}

	return &Service{
		repo:            repo,
		jwtManager:      NewJWTManager(config.JWTSecret, config.AccessTokenDuration, config.Issuer),
		passwordManager: NewPasswordManager(config.BcryptCost),
		events:          publisher,
		logger:          logger.With().Str("component", "auth").Logger(),
	}, nil
}

// Login authenticates username, registering it first when it is unknown
func (s *Service) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	username, err := ValidateUsername(req.Username)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, storeErr("get user", err)
	}

	if user == nil {
		user, err = s.register(ctx, username, req.Password)
		if err != nil {
			return nil, err
		}
	} else if !s.passwordManager.VerifyPassword(req.Password, user.PasswordHash) {
		s.logger.Debug().Str("username", username).Msg("Login rejected: wrong password")
		return nil, ErrInvalidCredentials
	}

	if err := s.repo.AddHistory(ctx, user.ID, database.ActionLogin, ""); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", user.ID).Msg("Failed to record login")
	}

	return s.issueToken(user.ID, user.Username)
}

// register creates the user, bumps total_users and records the event in one
// transaction. Losing a registration race to an identical username is not an
// error: the winner's row is returned if the password matches it.
func (s *Service) register(ctx context.Context, username, password string) (*database.User, error) {
	hash, err := s.passwordManager.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &database.User{Username: username, PasswordHash: hash}
	err = s.repo.WithTx(ctx, func(tx *database.Repository) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		if err := tx.IncrementStats(ctx, database.StatsDelta{Users: 1}); err != nil {
			return err
		}
		return tx.AddHistory(ctx, user.ID, database.ActionRegister, "")
	})

	if errors.Is(err, database.ErrDuplicate) {
		existing, err := s.repo.GetUserByUsername(ctx, username)
		if err != nil {
			return nil, storeErr("get user", err)
		}
		if existing == nil {
			return nil, apperr.Unavailable("Could not create user, please retry", nil)
		}
		if !s.passwordManager.VerifyPassword(password, existing.PasswordHash) {
			return nil, ErrInvalidCredentials
		}
		return existing, nil
	}
	if err != nil {
		return nil, storeErr("register user", err)
	}

	s.logger.Info().Str("username", username).Int64("user_id", user.ID).Msg("User registered")
	s.publish(events.EventUserRegistered, map[string]interface{}{"username": username})

	return user, nil
}

// CurrentUser resolves the live user behind token. The username must still
// belong to the account the token was issued for.
func (s *Service) CurrentUser(ctx context.Context, token string) (*database.User, error) {
	claims, err := s.jwtManager.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByUsername(ctx, claims.Subject)
	if err != nil {
		return nil, storeErr("get user", err)
	}
	// the name may have been released and taken by another account
	if user == nil || user.ID != claims.UserID {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ChangePassword replaces the user's password after verifying the current one
func (s *Service) ChangePassword(ctx context.Context, user *database.User, req ChangePasswordRequest) error {
	if err := ValidatePassword(req.NewPassword); err != nil {
		return err
	}
	if req.NewPassword != req.ConfirmPassword {
		return ErrPasswordMismatch
	}
	if !s.passwordManager.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
		return ErrIncorrectPassword
	}

	hash, err := s.passwordManager.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}

	err = s.repo.WithTx(ctx, func(tx *database.Repository) error {
		if err := tx.UpdatePassword(ctx, user.ID, hash); err != nil {
			return err
		}
		return tx.AddHistory(ctx, user.ID, database.ActionResetPassword, "")
	})
	if errors.Is(err, database.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return storeErr("change password", err)
	}

	s.publish(events.EventPasswordChanged, map[string]interface{}{"username": user.Username})
	return nil
}

// ChangeUsername renames the user and issues a token for the new name.
// Tokens minted for the old name stop resolving to any user.
func (s *Service) ChangeUsername(ctx context.Context, user *database.User, newUsername string) (*TokenResponse, error) {
	name, err := ValidateUsername(newUsername)
	if err != nil {
		return nil, err
	}
	if name == user.Username {
		return nil, ErrSameUsername
	}

	taken, err := s.repo.UsernameExists(ctx, name)
	if err != nil {
		return nil, storeErr("check username", err)
	}
	if taken {
		return nil, ErrUsernameTaken
	}

	err = s.repo.WithTx(ctx, func(tx *database.Repository) error {
		if err := tx.UpdateUsername(ctx, user.ID, name); err != nil {
			return err
		}
		return tx.AddHistory(ctx, user.ID, database.ActionChangeName, user.Username+" -> "+name)
	})
	switch {
	case errors.Is(err, database.ErrDuplicate):
		return nil, ErrUsernameTaken
	case errors.Is(err, database.ErrNotFound):
		return nil, ErrUserNotFound
	case err != nil:
		return nil, storeErr("change username", err)
	}

	s.logger.Info().Str("old", user.Username).Str("new", name).Msg("Username changed")
	s.publish(events.EventUsernameChanged, map[string]interface{}{"old": user.Username, "new": name})

	resp, err := s.issueToken(user.ID, name)
	if err != nil {
		return nil, err
	}
	resp.Username = name
	return resp, nil
}

// DeleteAccount removes the user with all owned licenses and history.
// It returns the number of licenses deleted.
func (s *Service) DeleteAccount(ctx context.Context, user *database.User, password string) (int64, error) {
	if !s.passwordManager.VerifyPassword(password, user.PasswordHash) {
		return 0, ErrIncorrectPassword
	}

	var removed int64
	err := s.repo.WithTx(ctx, func(tx *database.Repository) error {
		n, err := tx.DeleteLicensesByUser(ctx, user.ID)
		if err != nil {
			return err
		}
		if err := tx.DeleteHistoryByUser(ctx, user.ID); err != nil {
			return err
		}
		if err := tx.DeleteUser(ctx, user.ID); err != nil {
			return err
		}
		removed = n
		return tx.IncrementStats(ctx, database.StatsDelta{Users: -1, Active: -n, Deleted: n})
	})
	if errors.Is(err, database.ErrNotFound) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, storeErr("delete account", err)
	}

	s.logger.Info().Str("username", user.Username).Int64("licenses_deleted", removed).Msg("Account deleted")
	s.publish(events.EventAccountDeleted, map[string]interface{}{
		"username":         user.Username,
		"licenses_deleted": removed,
	})
	return removed, nil
}

// CheckUsername reports whether name is free to register
func (s *Service) CheckUsername(ctx context.Context, name string) (bool, error) {
	name, err := ValidateUsername(name)
	if err != nil {
		return false, err
	}

	taken, err := s.repo.UsernameExists(ctx, name)
	if err != nil {
		return false, storeErr("check username", err)
	}
	return !taken, nil
}

// Subscribe sets the premium flag. Repeated calls are no-ops.
func (s *Service) Subscribe(ctx context.Context, user *database.User) error {
	var changed bool
	err := s.repo.WithTx(ctx, func(tx *database.Repository) error {
		var err error
		changed, err = tx.SetPremium(ctx, user.ID, true)
		if err != nil || !changed {
			return err
		}
		return tx.AddHistory(ctx, user.ID, database.ActionUpgradePremium, "")
	})
	if err != nil {
		return storeErr("subscribe", err)
	}

	if changed {
		user.IsPremium = true
		s.logger.Info().Str("username", user.Username).Msg("User upgraded to premium")
		s.publish(events.EventUserSubscribed, map[string]interface{}{"username": user.Username})
	}
	return nil
}

// ListUsers returns every user ordered by id
func (s *Service) ListUsers(ctx context.Context) ([]UserSummary, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, storeErr("list users", err)
	}

	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, UserSummary{ID: u.ID, Username: u.Username, IsPremium: u.IsPremium})
	}
	return out, nil
}

// CountUsers returns the number of registered users
func (s *Service) CountUsers(ctx context.Context) (int64, error) {
	n, err := s.repo.CountUsers(ctx)
	if err != nil {
		return 0, storeErr("count users", err)
	}
	return n, nil
}

func (s *Service) issueToken(userID int64, username string) (*TokenResponse, error) {
	token, expiresAt, err := s.jwtManager.GenerateAccessToken(userID, username)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		AccessToken: token,
		TokenType:   TokenType,
		ExpiresAt:   expiresAt,
	}, nil
}

func (s *Service) publish(t events.EventType, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.New(t, data))
}

// NewUserResponse converts a user row to its API shape
func NewUserResponse(u *database.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		IsPremium: u.IsPremium,
		CreatedAt: u.CreatedAt,
	}
}

// storeErr passes application errors through and maps lock timeouts to a
// retryable error
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
