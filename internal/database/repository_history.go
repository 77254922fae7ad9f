package database

import (
	"context"
	"time"
)

// AddHistory records an account event
func (r *Repository) AddHistory(ctx context.Context, userID int64, action HistoryAction, details string) error {
	_, err := r.exec(ctx, `
		INSERT INTO account_history (user_id, action, details, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, string(action), details, now())
	return wrapErr("add history", err)
}

// ListHistorySince returns the user's events newer than since, newest first
func (r *Repository) ListHistorySince(ctx context.Context, userID int64, since time.Time) ([]HistoryEntry, error) {
	rows, err := r.query(ctx, `
		SELECT id, user_id, action, details, created_at
		FROM account_history
		WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
	`, userID, since.UTC())
	if err != nil {
		return nil, wrapErr("list history", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		var (
			e      HistoryEntry
			action string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &action, &e.Details, &e.CreatedAt); err != nil {
			return nil, wrapErr("scan history", err)
		}
		e.Action = HistoryAction(action)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list history", err)
	}
	return entries, nil
}

// PruneHistory deletes events older than before. userID 0 prunes every user.
func (r *Repository) PruneHistory(ctx context.Context, userID int64, before time.Time) (int64, error) {
	query := `DELETE FROM account_history WHERE created_at < ?`
	args := []any{before.UTC()}
	if userID != 0 {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}

	res, err := r.exec(ctx, query, args...)
	if err != nil {
		return 0, wrapErr("prune history", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("prune history", err)
	}
	return n, nil
}

// DeleteHistoryByUser removes all events of the user
func (r *Repository) DeleteHistoryByUser(ctx context.Context, userID int64) error {
	_, err := r.exec(ctx, `DELETE FROM account_history WHERE user_id = ?`, userID)
	return wrapErr("delete user history", err)
}
