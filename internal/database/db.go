package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"license-server/internal/database/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL flavour behind a DB
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "pgx"
)

// DB wraps the database/sql handle together with its dialect
type DB struct {
	SQL     *sql.DB
	Dialect Dialect
	logger  zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Driver       string
	DSN          string
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// NewDB opens and pings the configured store
func NewDB(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	dialect := Dialect(cfg.Driver)
	dsn := cfg.DSN

	switch dialect {
	case DialectSQLite:
		dsn = sqliteDSN(dsn, cfg.BusyTimeout)
	case DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	sqlDB, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger = logger.With().Str("component", "database").Str("dialect", string(dialect)).Logger()
	logger.Info().Msg("Database connection established")

	return &DB{SQL: sqlDB, Dialect: dialect, logger: logger}, nil
}

// sqliteDSN appends the pragmas every connection needs: a bounded lock wait,
// enforced foreign keys, WAL, and BEGIN IMMEDIATE so writers queue up front
// instead of failing on lock upgrade.
func sqliteDSN(dsn string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	params := []string{
		"_pragma=busy_timeout(" + strconv.FormatInt(busyTimeout.Milliseconds(), 10) + ")",
		"_pragma=foreign_keys(1)",
		"_pragma=journal_mode(WAL)",
		"_txlock=immediate",
		"_time_format=sqlite",
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.SQL == nil {
		return nil
	}
	err := db.SQL.Close()
	db.logger.Info().Msg("Database connection closed")
	return err
}

// HealthCheck pings the database
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.SQL.PingContext(ctx)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded goose migrations for the dialect
func (db *DB) RunMigrations(ctx context.Context) error {
	dir, gooseDialect := "sqlite", "sqlite3"
	if db.Dialect == DialectPostgres {
		dir, gooseDialect = "postgres", "pgx"
	}

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{db.logger})
	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	db.logger.Info().Str("dir", dir).Msg("Running database migrations")
	if err := gooseUpContext(ctx, db.SQL, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// gooseLogger routes goose output through zerolog
type gooseLogger struct {
	l zerolog.Logger
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.l.Info().Msgf(strings.TrimSuffix(format, "\n"), v...)
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.l.Fatal().Msgf(strings.TrimSuffix(format, "\n"), v...)
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
