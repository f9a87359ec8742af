package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/shared"
)

// StateRepository persists per-user [models.SyncState].
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository creates a new [StateRepository] with the given database connection
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Load returns the user's state, or the zero value if none has been saved.
func (r *StateRepository) Load(ctx context.Context, userID string) (models.SyncState, error) {
	var (
		lastSync, runStarted, updated int64
		state                         models.SyncState
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT last_sync, resume, last_error, run_id, run_started_at, updated_at FROM sync_state WHERE user_id = ?`,
		userID,
	).Scan(&lastSync, &state.Resume, &state.LastError, &state.RunID, &runStarted, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SyncState{}, nil
	}
	if err != nil {
		return models.SyncState{}, fmt.Errorf("failed to load sync state: %w", err)
	}

	state.LastSync = fromMillis(lastSync)
	state.RunStartedAt = fromMillis(runStarted)
	state.UpdatedAt = fromMillis(updated)
	return state, nil
}

// Save writes the watermark, resume flag and last error and clears the run marker.
func (r *StateRepository) Save(ctx context.Context, userID string, state models.SyncState) error {
	query := `
		INSERT INTO sync_state (user_id, last_sync, resume, last_error, run_id, run_started_at, updated_at)
		VALUES (?, ?, ?, ?, '', 0, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			last_sync = excluded.last_sync,
			resume = excluded.resume,
			last_error = excluded.last_error,
			run_id = '',
			run_started_at = 0,
			updated_at = excluded.updated_at
	`

	updated := state.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	if _, err := r.db.ExecContext(ctx, query, userID, toMillis(state.LastSync), state.Resume, state.LastError, toMillis(updated)); err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}

// AcquireRun sets the run marker for runID. It fails with [shared.ErrConcurrentRun]
// when a different run's marker is younger than staleAfter.
func (r *StateRepository) AcquireRun(ctx context.Context, userID, runID string, now time.Time, staleAfter time.Duration) error {
	staleBefore := int64(0)
	if staleAfter > 0 {
		staleBefore = now.Add(-staleAfter).UnixMilli()
	}

	query := `
		INSERT INTO sync_state (user_id, run_id, run_started_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			run_id = excluded.run_id,
			run_started_at = excluded.run_started_at
		WHERE sync_state.run_id = '' OR sync_state.run_id = excluded.run_id OR sync_state.run_started_at < ?
	`

	result, err := r.db.ExecContext(ctx, query, userID, runID, now.UnixMilli(), now.UnixMilli(), staleBefore)
	if err != nil {
		return fmt.Errorf("failed to acquire run marker: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w for user %s", shared.ErrConcurrentRun, userID)
	}
	return nil
}

// ReleaseRun clears the marker if it still belongs to runID, leaving the watermark untouched.
func (r *StateRepository) ReleaseRun(ctx context.Context, userID, runID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_state SET run_id = '', run_started_at = 0 WHERE user_id = ? AND run_id = ?`,
		userID, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to release run marker: %w", err)
	}
	return nil
}
