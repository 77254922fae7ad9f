package database

import (
	"context"
	"database/sql"
	"errors"
)

// CreateLicense inserts a license. A taken key yields ErrDuplicate.
func (r *Repository) CreateLicense(ctx context.Context, license *License) error {
	if license.CreatedAt.IsZero() {
		license.CreatedAt = now()
	}

	query := `
		INSERT INTO licenses (user_id, license_key, uses, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`

	err := r.queryRow(ctx, query,
		license.UserID,
		license.LicenseKey,
		license.Uses,
		license.CreatedAt,
	).Scan(&license.ID)
	if err != nil {
		return wrapErr("create license", err)
	}

	return nil
}

// GetLicenseByKey retrieves a license by its key, nil if absent
func (r *Repository) GetLicenseByKey(ctx context.Context, key string) (*License, error) {
	query := `
		SELECT id, user_id, license_key, uses, created_at
		FROM licenses WHERE license_key = ?
	`

	license := &License{}
	err := r.queryRow(ctx, query, key).Scan(
		&license.ID, &license.UserID, &license.LicenseKey, &license.Uses, &license.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get license", err)
	}

	return license, nil
}

// ListLicensesByUser returns the user's licenses, newest first
func (r *Repository) ListLicensesByUser(ctx context.Context, userID int64) ([]License, error) {
	query := `
		SELECT id, user_id, license_key, uses, created_at
		FROM licenses WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.query(ctx, query, userID)
	if err != nil {
		return nil, wrapErr("list licenses", err)
	}
	defer rows.Close()

	licenses := make([]License, 0)
	for rows.Next() {
		var l License
		if err := rows.Scan(&l.ID, &l.UserID, &l.LicenseKey, &l.Uses, &l.CreatedAt); err != nil {
			return nil, wrapErr("scan license", err)
		}
		licenses = append(licenses, l)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list licenses", err)
	}

	return licenses, nil
}

// CountLicensesByUser returns how many licenses the user owns
func (r *Repository) CountLicensesByUser(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM licenses WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, wrapErr("count user licenses", err)
	}
	return n, nil
}

// CountLicenses returns the number of license rows
func (r *Repository) CountLicenses(ctx context.Context) (int64, error) {
	var n int64
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM licenses`).Scan(&n); err != nil {
		return 0, wrapErr("count licenses", err)
	}
	return n, nil
}

// DeleteLicense removes key when owned by userID, ErrNotFound otherwise
func (r *Repository) DeleteLicense(ctx context.Context, userID int64, key string) error {
	res, err := r.exec(ctx, `DELETE FROM licenses WHERE license_key = ? AND user_id = ?`, key, userID)
	return expectOne("delete license", res, err)
}

// DeleteLicensesByUser removes every license of the user and returns the count
func (r *Repository) DeleteLicensesByUser(ctx context.Context, userID int64) (int64, error) {
	res, err := r.exec(ctx, `DELETE FROM licenses WHERE user_id = ?`, userID)
	if err != nil {
		return 0, wrapErr("delete user licenses", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("delete user licenses", err)
	}
	return n, nil
}

// ConsumeLicenseUse decrements a finite, non-exhausted license by one and
// reports whether a use was taken. Unlimited licenses are left untouched and
// report true.
func (r *Repository) ConsumeLicenseUse(ctx context.Context, key string) (bool, error) {
	res, err := r.exec(ctx, `
		UPDATE licenses SET uses = uses - 1
		WHERE license_key = ? AND uses > 0 AND uses <> ?
	`, key, UnlimitedUses)
	if err != nil {
		return false, wrapErr("consume license use", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("consume license use", err)
	}
	if n == 1 {
		return true, nil
	}

	license, err := r.GetLicenseByKey(ctx, key)
	if err != nil {
		return false, err
	}
	return license != nil && license.IsUnlimited(), nil
}
