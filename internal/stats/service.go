package stats

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"license-server/internal/apperr"
	"license-server/internal/cache"
	"license-server/internal/database"
	"license-server/internal/events"
)

// DefaultCacheTTL bounds how stale a cached snapshot may be
const DefaultCacheTTL = 30 * time.Second

// Cache is the snapshot cache used by Service
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Service reads and maintains the global counters
type Service struct {
	repo   *database.Repository
	cache  Cache
	ttl    time.Duration
	events events.Publisher
	logger zerolog.Logger
	group  singleflight.Group

	// generation is bumped by every invalidation; a load that overlapped one
	// is not written back to the cache.
	generation atomic.Uint64
}

// NewService creates a stats service. cache may be nil.
func NewService(repo *database.Repository, c Cache, ttl time.Duration, publisher events.Publisher, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		repo:   repo,
		cache:  c,
		ttl:    ttl,
		events: publisher,
		logger: logger.With().Str("component", "stats").Logger(),
	}
}

// Read returns the current snapshot, served from cache when possible
func (s *Service) Read(ctx context.Context) (*database.GlobalStats, error) {
	gen := s.generation.Load()
	if s.cache != nil {
		var cached database.GlobalStats
		err := s.cache.GetJSON(ctx, cache.KeyGlobalStats, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Debug().Err(err).Msg("Stats cache read failed, using database")
		}
	}

	v, err, _ := s.group.Do(cache.KeyGlobalStats, func() (interface{}, error) {
		snapshot, err := s.repo.GetStats(ctx)
		if err != nil {
			return nil, err
		}
		s.store(ctx, snapshot, gen)
		return snapshot, nil
	})
	if err != nil {
		return nil, storeErr("read stats", err)
	}

	snapshot := *v.(*database.GlobalStats)
	return &snapshot, nil
}

// Recompute rebuilds the derivable counters from the primary tables.
// Users and active licenses are counted directly. Created is raised to
// active+deleted when it fell behind and never lowered. Deleted and
// validation counters are left untouched.
func (s *Service) Recompute(ctx context.Context) (*database.GlobalStats, error) {
	var snapshot *database.GlobalStats
	err := s.repo.WithTx(ctx, func(tx *database.Repository) error {
		current, err := tx.GetStats(ctx)
		if err != nil {
			return err
		}
		users, err := tx.CountUsers(ctx)
		if err != nil {
			return err
		}
		active, err := tx.CountLicenses(ctx)
		if err != nil {
			return err
		}

		created := current.TotalLicensesCreated
		if floor := active + current.TotalLicensesDeleted; floor > created {
			created = floor
		}

		if err := tx.ReplaceDerivedStats(ctx, users, created, active); err != nil {
			return err
		}
		snapshot, err = tx.GetStats(ctx)
		return err
	})
	if err != nil {
		return nil, storeErr("recompute stats", err)
	}

	s.Invalidate(ctx)
	s.logger.Info().
		Int64("users", snapshot.TotalUsers).
		Int64("active", snapshot.TotalLicensesActive).
		Int64("created", snapshot.TotalLicensesCreated).
		Msg("Global stats recomputed")

	if s.events != nil {
		s.events.Publish(events.New(events.EventStatsUpdated, map[string]interface{}{"stats": snapshot}))
	}
	return snapshot, nil
}

// Invalidate drops the cached snapshot
func (s *Service) Invalidate(ctx context.Context) {
	s.generation.Add(1)
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.KeyGlobalStats); err != nil {
		s.logger.Debug().Err(err).Msg("Stats cache invalidation failed")
	}
}

// Subscribe invalidates the cache whenever a counter-changing event fires
func (s *Service) Subscribe(bus *events.EventBus) {
	bus.Subscribe(func(events.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Invalidate(ctx)
	}, events.StatsEvents...)
}

func (s *Service) store(ctx context.Context, snapshot *database.GlobalStats, gen uint64) {
	if s.cache == nil || s.generation.Load() != gen {
		return
	}
	if err := s.cache.SetJSON(ctx, cache.KeyGlobalStats, snapshot, s.ttl); err != nil {
		s.logger.Debug().Err(err).Msg("Stats cache write failed")
	}
}

func storeErr(op string, err error) error {
	if errors.Is(err, database.ErrBusy) {
		return apperr.Unavailable("Database is busy, please retry", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
