package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/spotlog/internal/models"
)

// LedgerRepository stores the dedupe keys of committed events.
type LedgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository creates a new [LedgerRepository] with the given database connection
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const insertDedupeKey = `INSERT OR IGNORE INTO dedupe_keys (user_id, key, recorded_at) VALUES (?, ?, ?)`

// Contains reports whether key has been recorded for the user.
func (r *LedgerRepository) Contains(ctx context.Context, userID string, key models.DedupeKey) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM dedupe_keys WHERE user_id = ? AND key = ?)`, userID, string(key)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check dedupe key: %w", err)
	}
	return exists, nil
}

// Record stores key. Recording an existing key is a no-op.
func (r *LedgerRepository) Record(ctx context.Context, userID string, key models.DedupeKey, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, insertDedupeKey, userID, string(key), at.UnixMilli()); err != nil {
		return fmt.Errorf("failed to record dedupe key: %w", err)
	}
	return nil
}

// Recent returns the last n recorded keys, newest first.
func (r *LedgerRepository) Recent(ctx context.Context, userID string, n int) ([]models.DedupeKey, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key FROM dedupe_keys WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query dedupe keys: %w", err)
	}
	defer rows.Close()

	var keys []models.DedupeKey
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan dedupe key: %w", err)
		}
		keys = append(keys, models.DedupeKey(k))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return keys, nil
}

// Prune deletes all but the newest keep keys and returns how many were removed.
func (r *LedgerRepository) Prune(ctx context.Context, userID string, keep int) (int64, error) {
	query := `
		DELETE FROM dedupe_keys
		WHERE user_id = ? AND id NOT IN (
			SELECT id FROM dedupe_keys WHERE user_id = ? ORDER BY id DESC LIMIT ?
		)
	`

	result, err := r.db.ExecContext(ctx, query, userID, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune dedupe keys: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}
