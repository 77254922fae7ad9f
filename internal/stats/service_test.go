package stats

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"license-server/internal/cache"
	"license-server/internal/database"
	"license-server/internal/events"
)

type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	deletes int
	onGet   func()
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) GetJSON(_ context.Context, key string, dest interface{}) error {
	if m.onGet != nil {
		m.onGet()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal(b, dest)
}

func (m *memCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	return nil
}

func (m *memCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	m.deletes++
	return nil
}

func (m *memCache) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func newTestRepo(t *testing.T) *database.Repository {
	t.Helper()

	ctx := context.Background()
	db, err := database.NewDB(ctx, database.Config{
		Driver:       "sqlite",
		DSN:          "file:" + filepath.Join(t.TempDir(), "stats.db"),
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations(ctx))

	return database.NewRepository(db)
}

func TestReadWithoutCache(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewService(repo, nil, 0, nil, zerolog.Nop())

	snapshot, err := svc.Read(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snapshot.TotalUsers)
	assert.Zero(t, snapshot.TotalLicensesCreated)
	assert.False(t, snapshot.LastUpdated.IsZero())
}

func TestReadServesCachedSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	mc := newMemCache()
	svc := NewService(repo, mc, time.Minute, nil, zerolog.Nop())

	_, err := svc.Read(ctx)
	require.NoError(t, err)
	require.True(t, mc.has(cache.KeyGlobalStats))

	require.NoError(t, repo.IncrementStats(ctx, database.StatsDelta{Users: 2}))

	cached, err := svc.Read(ctx)
	require.NoError(t, err)
	assert.Zero(t, cached.TotalUsers, "stale until invalidated")

	svc.Invalidate(ctx)
	fresh, err := svc.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.TotalUsers)
}

func TestRecompute(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	rec := &recorder{}
	mc := newMemCache()
	svc := NewService(repo, mc, time.Minute, rec, zerolog.Nop())

	u := &database.User{Username: "alice", PasswordHash: "x"}
	require.NoError(t, repo.CreateUser(ctx, u))
	for _, key := range []string{"k1", "k2", "k3"} {
		require.NoError(t, repo.CreateLicense(ctx, &database.License{UserID: u.ID, LicenseKey: key, Uses: 1}))
	}
	require.NoError(t, repo.IncrementStats(ctx, database.StatsDelta{Users: 7, Active: 9, Deleted: 4, Validations: 11}))

	_, err := svc.Read(ctx)
	require.NoError(t, err)

	snapshot, err := svc.Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.TotalUsers)
	assert.Equal(t, int64(3), snapshot.TotalLicensesActive)
	assert.Equal(t, int64(7), snapshot.TotalLicensesCreated, "raised to active+deleted")
	assert.Equal(t, int64(4), snapshot.TotalLicensesDeleted)
	assert.Equal(t, int64(11), snapshot.TotalLicenseValidations)

	assert.False(t, mc.has(cache.KeyGlobalStats))
	require.Len(t, rec.events, 1)
	assert.Equal(t, events.EventStatsUpdated, rec.events[0].Type)
}

func TestRecomputeNeverLowersCreated(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	svc := NewService(repo, nil, 0, nil, zerolog.Nop())

	require.NoError(t, repo.IncrementStats(ctx, database.StatsDelta{Created: 50}))

	snapshot, err := svc.Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), snapshot.TotalLicensesCreated)
	assert.Zero(t, snapshot.TotalLicensesActive)
}

func TestSubscribeInvalidatesOnStatsEvents(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	mc := newMemCache()
	bus := events.NewEventBus()
	svc := NewService(repo, mc, time.Minute, bus, zerolog.Nop())
	svc.Subscribe(bus)

	_, err := svc.Read(ctx)
	require.NoError(t, err)
	require.True(t, mc.has(cache.KeyGlobalStats))

	bus.Publish(events.New(events.EventLicenseGenerated, nil))
	assert.Eventually(t, func() bool {
		return !mc.has(cache.KeyGlobalStats)
	}, time.Second, 10*time.Millisecond)
}

func TestStatsHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := newTestRepo(t)
	svc := NewService(repo, nil, 0, nil, zerolog.Nop())

	r := gin.New()
	NewHandlers(svc).RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats/global", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	for _, field := range []string{
		"total_users", "total_licenses_created", "total_licenses_active",
		"total_licenses_deleted", "total_license_validations", "last_updated",
	} {
		assert.Contains(t, body, field)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/stats/update", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadSkipsCacheFillAfterConcurrentInvalidation(t *testing.T) {
	ctx := context.Background()
	c := newMemCache()
	svc := NewService(newTestRepo(t), c, time.Minute, nil, zerolog.Nop())

	c.onGet = func() { svc.Invalidate(ctx) }
	_, err := svc.Read(ctx)
	require.NoError(t, err)
	assert.False(t, c.has(cache.KeyGlobalStats), "snapshot loaded across an invalidation must not be cached")

	c.onGet = nil
	_, err = svc.Read(ctx)
	require.NoError(t, err)
	assert.True(t, c.has(cache.KeyGlobalStats))
}
