package license

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"license-server/internal/database"
	"license-server/internal/events"
)

func TestFreeTierQuotaLocksOwnerOnPostgres(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	repo := database.NewRepository(&database.DB{SQL: sqlDB, Dialect: database.DialectPostgres})
	engine := NewEngine(repo, Config{Prefix: DefaultPrefix, FreeTierLimit: 3}, events.NewEventBus(), zerolog.Nop())

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM users WHERE id = $1 FOR UPDATE`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM licenses WHERE user_id = $1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	_, err = engine.Generate(context.Background(), &database.User{ID: 1, Username: "alice"}, GenerateRequest{})
	assert.ErrorIs(t, err, ErrFreeTierExceeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConcurrentGenerateRespectsQuota(t *testing.T) {
	ctx := context.Background()
	engine, repo := newTestEngine(t, Config{FreeTierLimit: 3})
	user := newUser(t, repo, "alice", false)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		forbidden int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Generate(ctx, user, GenerateRequest{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrFreeTierExceeded):
				forbidden++
			}
		}()
	}
	wg.Wait()

	n, err := repo.CountLicensesByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, ok)
	assert.Equal(t, 9, forbidden)
}
