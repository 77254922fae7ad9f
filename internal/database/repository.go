package database

import (
	"context"
	"database/sql"
	"time"
)

// Repository provides data access for users, licenses, stats and history.
// A Repository is bound either to the pool or to one transaction.
type Repository struct {
	db *DB
	q  DBTX
	tx bool
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db, q: db.SQL}
}

// WithTx runs fn against a repository bound to a single transaction.
// Nested calls reuse the outer transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(tx *Repository) error) error {
	if r.tx {
		return fn(r)
	}

	var fnErr error
	err := WithTx(ctx, r.db.SQL, nil, func(ctx context.Context, tx DBTX) error {
		fnErr = fn(&Repository{db: r.db, q: tx, tx: true})
		return fnErr
	})
	if err != nil && fnErr == nil {
		// begin or commit failed
		return wrapErr("run transaction", err)
	}
	return err
}

// HealthCheck pings the underlying store
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// Dialect reports the SQL flavour of the store
func (r *Repository) Dialect() Dialect {
	return r.db.Dialect
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.db.Dialect.rebind(query), args...)
}

func (r *Repository) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.db.Dialect.rebind(query), args...)
}

func (r *Repository) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.db.Dialect.rebind(query), args...)
}

// now is the timestamp written into created_at/last_updated columns
var now = func() time.Time {
	return time.Now().UTC()
}
