package database

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T, dialect Dialect) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	return NewRepository(&DB{SQL: sqlDB, Dialect: dialect, logger: zerolog.Nop()}), mock
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("file:test.db", 2*time.Second)
	assert.Contains(t, dsn, "file:test.db?")
	assert.Contains(t, dsn, "_pragma=busy_timeout(2000)")
	assert.Contains(t, dsn, "_pragma=foreign_keys(1)")
	assert.Contains(t, dsn, "_txlock=immediate")

	dsn = sqliteDSN("file:x?mode=memory&cache=shared", 0)
	assert.Contains(t, dsn, "cache=shared&_pragma=busy_timeout(5000)")
}

func TestRebind(t *testing.T) {
	q := `UPDATE t SET a = ? WHERE b = ? AND c = ?`
	assert.Equal(t, q, DialectSQLite.rebind(q))
	assert.Equal(t, `UPDATE t SET a = $1 WHERE b = $2 AND c = $3`, DialectPostgres.rebind(q))
}

func TestNewDBUnsupportedDriver(t *testing.T) {
	_, err := NewDB(context.Background(), Config{Driver: "mysql", DSN: "x"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"pg unique", &pgconn.PgError{Code: "23505"}, ErrDuplicate},
		{"pg lock", &pgconn.PgError{Code: "55P03"}, ErrBusy},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, ErrBusy},
		{"pg other", &pgconn.PgError{Code: "42P01"}, nil},
		{"plain", errors.New("nope"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestPostgresUniqueViolationMapsToDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t, DialectPostgres)

	mock.ExpectQuery(regexp.QuoteMeta(`VALUES ($1, $2, $3, $4)`)).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})

	err := repo.CreateUser(context.Background(), &User{Username: "dup", PasswordHash: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicate)

	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLockTimeoutMapsToBusy(t *testing.T) {
	repo, mock := newMockRepo(t, DialectPostgres)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO global_stats (id, last_updated) VALUES ($1, $2)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE global_stats SET`).
		WillReturnError(&pgconn.PgError{Code: "55P03"})

	err := repo.ReplaceDerivedStats(context.Background(), 1, 1, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBusy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommitFailure(t *testing.T) {
	repo, mock := newMockRepo(t, DialectSQLite)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM account_history`).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))

	err := repo.WithTx(context.Background(), func(tx *Repository) error {
		return tx.DeleteHistoryByUser(context.Background(), 9)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollbackOnPanic(t *testing.T) {
	repo, mock := newMockRepo(t, DialectSQLite)

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = repo.WithTx(context.Background(), func(tx *Repository) error {
			panic("boom")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrationsPropagatesError(t *testing.T) {
	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return errors.New("migration failed")
	}

	db := &DB{Dialect: DialectPostgres, logger: zerolog.Nop()}
	err := db.RunMigrations(context.Background())
	require.Error(t, err)
	assert.Equal(t, "postgres", gotDir)
}

func TestLockUserPostgres(t *testing.T) {
	repo, mock := newMockRepo(t, DialectPostgres)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM users WHERE id = $1 FOR UPDATE`)).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM users WHERE id = $1 FOR UPDATE`)).
		WithArgs(int64(5)).
		WillReturnError(sql.ErrNoRows)

	require.NoError(t, repo.LockUser(context.Background(), 4))
	assert.ErrorIs(t, repo.LockUser(context.Background(), 5), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockUserSQLiteIsNoop(t *testing.T) {
	repo, mock := newMockRepo(t, DialectSQLite)

	require.NoError(t, repo.LockUser(context.Background(), 4))
	assert.NoError(t, mock.ExpectationsWereMet())
}
