package database

import (
	"context"
)

const statsRowID = 1

// EnsureStats creates the zeroed singleton stats row if it is missing
func (r *Repository) EnsureStats(ctx context.Context) error {
	_, err := r.exec(ctx, `
		INSERT INTO global_stats (id, last_updated) VALUES (?, ?)
		ON CONFLICT (id) DO NOTHING
	`, statsRowID, now())
	return wrapErr("init global stats", err)
}

// GetStats returns the stats snapshot, initialising it when absent
func (r *Repository) GetStats(ctx context.Context) (*GlobalStats, error) {
	if err := r.EnsureStats(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT total_users, total_licenses_created, total_licenses_active,
			total_licenses_deleted, total_license_validations, last_updated
		FROM global_stats WHERE id = ?
	`

	stats := &GlobalStats{}
	err := r.queryRow(ctx, query, statsRowID).Scan(
		&stats.TotalUsers,
		&stats.TotalLicensesCreated,
		&stats.TotalLicensesActive,
		&stats.TotalLicensesDeleted,
		&stats.TotalLicenseValidations,
		&stats.LastUpdated,
	)
	if err != nil {
		return nil, wrapErr("get global stats", err)
	}

	return stats, nil
}

// IncrementStats applies d to the counters in one statement
func (r *Repository) IncrementStats(ctx context.Context, d StatsDelta) error {
	if d.IsZero() {
		return nil
	}
	if err := r.EnsureStats(ctx); err != nil {
		return err
	}

	query := `
		UPDATE global_stats SET
			total_users = CASE WHEN total_users + ? < 0 THEN 0 ELSE total_users + ? END,
			total_licenses_created = total_licenses_created + ?,
			total_licenses_active = CASE WHEN total_licenses_active + ? < 0 THEN 0 ELSE total_licenses_active + ? END,
			total_licenses_deleted = total_licenses_deleted + ?,
			total_license_validations = total_license_validations + ?,
			last_updated = ?
		WHERE id = ?
	`

	_, err := r.exec(ctx, query,
		d.Users, d.Users,
		nonNegative(d.Created),
		d.Active, d.Active,
		nonNegative(d.Deleted),
		nonNegative(d.Validations),
		now(),
		statsRowID,
	)
	return wrapErr("increment global stats", err)
}

// ReplaceDerivedStats overwrites the counters that can be derived from the
// primary tables. Deleted and validation counters are event-sourced and are
// never touched here.
func (r *Repository) ReplaceDerivedStats(ctx context.Context, users, created, active int64) error {
	if err := r.EnsureStats(ctx); err != nil {
		return err
	}

	_, err := r.exec(ctx, `
		UPDATE global_stats SET
			total_users = ?,
			total_licenses_created = ?,
			total_licenses_active = ?,
			last_updated = ?
		WHERE id = ?
	`, users, created, active, now(), statsRowID)
	return wrapErr("replace global stats", err)
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
