package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/spotlog/internal/models"
)

// LogRepository is the append-only play log. Row order is insertion order.
type LogRepository struct {
	db *sql.DB
}

// NewLogRepository creates a new [LogRepository] with the given database connection
func NewLogRepository(db *sql.DB) *LogRepository {
	return &LogRepository{db: db}
}

const insertLogRow = `
	INSERT INTO log_rows (user_id, date, track_name, artist_name, track_id, track_url, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
`

// AppendRow appends one row to the user's log.
func (r *LogRepository) AppendRow(ctx context.Context, userID string, row models.LogRow) error {
	_, err := r.db.ExecContext(ctx, insertLogRow, userID, row.Date, row.Title, row.Artists, row.TrackID, row.TrackURL, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append log row: %w", err)
	}
	return nil
}

// CommitRow appends row and records key in a single transaction, so a crash
// can never leave one without the other.
func (r *LogRepository) CommitRow(ctx context.Context, userID string, row models.LogRow, key models.DedupeKey) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.ExecContext(ctx, insertLogRow, userID, row.Date, row.Title, row.Artists, row.TrackID, row.TrackURL, now); err != nil {
		return fmt.Errorf("failed to append log row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insertDedupeKey, userID, string(key), now.UnixMilli()); err != nil {
		return fmt.Errorf("failed to record dedupe key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit log row: %w", err)
	}
	return nil
}

// List returns up to limit rows in commit order starting at offset. A limit <= 0 returns all rows.
func (r *LogRepository) List(ctx context.Context, userID string, limit, offset int) ([]models.LogRow, error) {
	query := `
		SELECT date, track_name, artist_name, track_id, track_url
		FROM log_rows
		WHERE user_id = ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query log rows: %w", err)
	}
	defer rows.Close()

	var out []models.LogRow
	for rows.Next() {
		var row models.LogRow
		if err := rows.Scan(&row.Date, &row.Title, &row.Artists, &row.TrackID, &row.TrackURL); err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

// Count returns the number of rows in the user's log.
func (r *LogRepository) Count(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM log_rows WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count log rows: %w", err)
	}
	return n, nil
}

// RecentTrackIDs returns the distinct track ids among the last n rows, newest first.
func (r *LogRepository) RecentTrackIDs(ctx context.Context, userID string, n int) ([]string, error) {
	query := `
		SELECT track_id FROM (
			SELECT track_id, MAX(id) AS last_id
			FROM (SELECT id, track_id FROM log_rows WHERE user_id = ? ORDER BY id DESC LIMIT ?)
			GROUP BY track_id
		)
		ORDER BY last_id DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent tracks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan track id: %w", err)
		}
		if id != "" {
			ids = append(ids, id)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ids, nil
}
