package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// =====================================================
// USER CRUD OPERATIONS
// =====================================================

// CreateUser inserts a new user. A taken username yields ErrDuplicate.
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now()
	}

	query := `
		INSERT INTO users (username, password, is_premium, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`

	err := r.queryRow(ctx, query,
		user.Username,
		user.PasswordHash,
		user.IsPremium,
		user.CreatedAt,
	).Scan(&user.ID)
	if err != nil {
		return wrapErr("create user", err)
	}

	return nil
}

// GetUserByID retrieves a user by ID, nil if absent
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	query := `
		SELECT id, username, password, is_premium, created_at
		FROM users WHERE id = ?
	`
	return r.scanUser(r.queryRow(ctx, query, id), "get user")
}

// GetUserByUsername retrieves a user by exact username, nil if absent
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := `
		SELECT id, username, password, is_premium, created_at
		FROM users WHERE username = ?
	`
	return r.scanUser(r.queryRow(ctx, query, username), "get user by username")
}

func (r *Repository) scanUser(row *sql.Row, op string) (*User, error) {
	user := &User{}
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsPremium, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return user, nil
}

// UsernameExists reports whether username is taken
func (r *Repository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.queryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`, username).Scan(&exists)
	if err != nil {
		return false, wrapErr("check username", err)
	}
	return exists, nil
}

// UpdateUsername renames a user. A taken name yields ErrDuplicate.
func (r *Repository) UpdateUsername(ctx context.Context, id int64, username string) error {
	res, err := r.exec(ctx, `UPDATE users SET username = ? WHERE id = ?`, username, id)
	return expectOne("update username", res, err)
}

// UpdatePassword replaces the stored password hash
func (r *Repository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := r.exec(ctx, `UPDATE users SET password = ? WHERE id = ?`, passwordHash, id)
	return expectOne("update password", res, err)
}

// SetPremium sets the premium flag and reports whether it changed
func (r *Repository) SetPremium(ctx context.Context, id int64, premium bool) (bool, error) {
	res, err := r.exec(ctx, `UPDATE users SET is_premium = ? WHERE id = ? AND is_premium <> ?`, premium, id, premium)
	if err != nil {
		return false, wrapErr("set premium", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("set premium", err)
	}
	return n == 1, nil
}

// LockUser holds a row lock on the user until the surrounding transaction
// ends, serialising per-user read-then-write sequences on postgres. SQLite
// transactions already take the write lock at BEGIN, so it is a no-op there.
func (r *Repository) LockUser(ctx context.Context, id int64) error {
	if r.db.Dialect != DialectPostgres {
		return nil
	}
	var locked int64
	err := r.queryRow(ctx, `SELECT id FROM users WHERE id = ? FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to lock user: %w", ErrNotFound)
	}
	return wrapErr("lock user", err)
}

// DeleteUser removes the user row
func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	res, err := r.exec(ctx, `DELETE FROM users WHERE id = ?`, id)
	return expectOne("delete user", res, err)
}

// CountUsers returns the number of users
func (r *Repository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, wrapErr("count users", err)
	}
	return n, nil
}

// ListUsers returns all users ordered by id
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.query(ctx, `
		SELECT id, username, password, is_premium, created_at
		FROM users ORDER BY id
	`)
	if err != nil {
		return nil, wrapErr("list users", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsPremium, &u.CreatedAt); err != nil {
			return nil, wrapErr("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list users", err)
	}
	return users, nil
}

// expectOne turns a zero-row mutation into ErrNotFound
func expectOne(op string, res sql.Result, err error) error {
	if err != nil {
		return wrapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(op, err)
	}
	if n == 0 {
		return wrapErr(op, ErrNotFound)
	}
	return nil
}
