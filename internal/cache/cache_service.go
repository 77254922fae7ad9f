// Package cache provides Redis-based caching with graceful degradation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"license-server/config"
)

var (
	// ErrMiss is returned when a key is absent
	ErrMiss = errors.New("cache miss")
	// ErrUnavailable is returned while the circuit breaker is open
	ErrUnavailable = errors.New("redis unavailable (circuit breaker open)")
)

// Key names
const (
	KeyGlobalStats = "stats:global"
)

// CacheService wraps a Redis client with a circuit breaker. When Redis is
// unavailable operations fail fast and callers fall back to the database.
type CacheService struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	config config.RedisConfig
	logger zerolog.Logger
}

// NewCacheService creates a CacheService and verifies connectivity. A failed
// ping leaves the service usable in degraded mode.
func NewCacheService(cfg config.RedisConfig, logger zerolog.Logger) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	logger = logger.With().Str("component", "cache").Logger()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	settings := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Cache circuit breaker state changed")
		},
	}

	cs := &CacheService{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(settings),
		config: cfg,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := cs.Ping(ctx); err != nil {
		logger.Warn().Err(err).Str("address", cfg.Address).Msg("Initial Redis connection failed, running degraded")
		return cs, nil
	}

	logger.Info().Str("address", cfg.Address).Msg("Redis connected")
	return cs, nil
}

// IsHealthy reports whether the breaker currently lets calls through
func (cs *CacheService) IsHealthy() bool {
	return cs.cb.State() != gobreaker.StateOpen
}

func (cs *CacheService) execute(fn func() (interface{}, error)) (interface{}, error) {
	v, err := cs.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	return v, err
}

// Get retrieves a value from cache
func (cs *CacheService) Get(ctx context.Context, key string) (string, error) {
	v, err := cs.execute(func() (interface{}, error) {
		return cs.client.Get(ctx, key).Result()
	})
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return v.(string), nil
}

// Set stores a value in cache with TTL
func (cs *CacheService) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	_, err := cs.execute(func() (interface{}, error) {
		return nil, cs.client.Set(ctx, key, value, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes keys from cache
func (cs *CacheService) Delete(ctx context.Context, keys ...string) error {
	_, err := cs.execute(func() (interface{}, error) {
		return nil, cs.client.Del(ctx, keys...).Err()
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// GetJSON retrieves and unmarshals a JSON value from cache
func (cs *CacheService) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := cs.Get(ctx, key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

// SetJSON marshals and stores a JSON value in cache
func (cs *CacheService) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return cs.Set(ctx, key, string(data), ttl)
}

// Ping checks Redis connectivity through the breaker
func (cs *CacheService) Ping(ctx context.Context) error {
	_, err := cs.execute(func() (interface{}, error) {
		return nil, cs.client.Ping(ctx).Err()
	})
	return err
}

// Close closes the Redis connection
func (cs *CacheService) Close() error {
	if cs.client != nil {
		return cs.client.Close()
	}
	return nil
}

// Stats returns cache statistics for monitoring
type Stats struct {
	Healthy  bool   `json:"healthy"`
	State    string `json:"state"`
	Failures uint32 `json:"consecutive_failures"`
	Address  string `json:"address"`
}

// GetStats returns current cache statistics
func (cs *CacheService) GetStats() Stats {
	counts := cs.cb.Counts()
	return Stats{
		Healthy:  cs.IsHealthy(),
		State:    cs.cb.State().String(),
		Failures: counts.ConsecutiveFailures,
		Address:  cs.config.Address,
	}
}
