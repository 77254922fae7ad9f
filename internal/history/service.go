package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"license-server/internal/apperr"
	"license-server/internal/database"
)

// DefaultRetention is how long account events are kept
const DefaultRetention = 30 * 24 * time.Hour

// Entry is one aggregated history line
type Entry struct {
	Action    database.HistoryAction `json:"action"`
	Details   string                 `json:"details"`
	Count     int                    `json:"count"`
	Timestamp time.Time              `json:"timestamp"`
}

// Service serves the per-user audit log
type Service struct {
	repo      *database.Repository
	retention time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates a history service
func NewService(repo *database.Repository, retention time.Duration, logger zerolog.Logger) *Service {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Service{
		repo:      repo,
		retention: retention,
		logger:    logger.With().Str("component", "history").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Retention returns the configured retention window
func (s *Service) Retention() time.Duration {
	return s.retention
}

// List prunes the user's expired events and returns the rest aggregated
// by (action, details), most recent group first.
func (s *Service) List(ctx context.Context, user *database.User) ([]Entry, error) {
	cutoff := s.now().Add(-s.retention)

	pruned, err := s.repo.PruneHistory(ctx, user.ID, cutoff)
	if err != nil {
		// reads still work when the prune lost a lock race
		s.logger.Warn().Err(err).Int64("user_id", user.ID).Msg("History prune failed")
	} else if pruned > 0 {
		s.logger.Debug().Int64("user_id", user.ID).Int64("pruned", pruned).Msg("Pruned expired history")
	}

	rows, err := s.repo.ListHistorySince(ctx, user.ID, cutoff)
	if err != nil {
		return nil, storeErr("list history", err)
	}
	return Aggregate(rows), nil
}

// Prune deletes every user's events older than the retention window
func (s *Service) Prune(ctx context.Context) (int64, error) {
	return s.PruneBefore(ctx, s.now().Add(-s.retention))
}

// PruneBefore deletes every user's events older than before
func (s *Service) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.repo.PruneHistory(ctx, 0, before)
	if err != nil {
		return 0, storeErr("prune history", err)
	}
	s.logger.Info().Int64("deleted", n).Time("before", before).Msg("History pruned")
	return n, nil
}

// Aggregate groups rows by (action, details). Rows must be newest first;
// each group keeps the timestamp of its newest row and the output keeps
// the order in which groups first appear.
func Aggregate(rows []database.HistoryEntry) []Entry {
	type groupKey struct {
		action  database.HistoryAction
		details string
	}

	out := make([]Entry, 0, len(rows))
	index := make(map[groupKey]int, len(rows))
	for _, row := range rows {
		k := groupKey{row.Action, row.Details}
		if i, ok := index[k]; ok {
			out[i].Count++
			continue
		}
		index[k] = len(out)
		out = append(out, Entry{
			Action:    row.Action,
			Details:   row.Details,
			Count:     1,
			Timestamp: row.CreatedAt,
		})
	}
	return out
}

func storeErr(op string, err error) error {
	if errors.Is(err, database.ErrBusy) {
		return apperr.Unavailable("Database is busy, please retry", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
