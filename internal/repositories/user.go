package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/shared"
)

const userColumns = `id, sequence, name, spotify_user_id, refresh_token, timezone, enabled, last_sync_at, last_error, created_at, updated_at, deleted_at`

// UserRepository implements [models.Repository] for user [models.User] persistence.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new [UserRepository] with the given database connection
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user into the database with generated ID and sequence
func (r *UserRepository) Create(user *models.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sequence, err := nextSequence(tx, "users")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()

	query := `
		INSERT INTO users (id, sequence, name, spotify_user_id, refresh_token, timezone, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.Exec(query, id, sequence, user.Name(), user.SpotifyUserID(), user.RefreshToken(),
		user.Timezone(), user.Enabled(), user.CreatedAt(), user.UpdatedAt())
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user: %w", err)
	}

	user.SetID(id)
	user.SetSequence(sequence)
	return nil
}

// Get retrieves a user by ID, excluding soft-deleted users
func (r *UserRepository) Get(id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ? AND deleted_at IS NULL`
	user, err := scanUser(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrUserNotFound, id)
	}
	return user, err
}

// GetByName retrieves a user by display name, excluding soft-deleted users
func (r *UserRepository) GetByName(name string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE name = ? AND deleted_at IS NULL ORDER BY sequence LIMIT 1`
	user, err := scanUser(r.db.QueryRow(query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrUserNotFound, name)
	}
	return user, err
}

// Find resolves ref as an id first, then as a name.
func (r *UserRepository) Find(ref string) (*models.User, error) {
	user, err := r.Get(ref)
	if errors.Is(err, shared.ErrUserNotFound) {
		return r.GetByName(ref)
	}
	return user, err
}

// Update modifies an existing user in the database
func (r *UserRepository) Update(user *models.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	user.SetUpdatedAt(now)

	query := `
		UPDATE users
		SET name = ?, spotify_user_id = ?, refresh_token = ?, timezone = ?, enabled = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, user.Name(), user.SpotifyUserID(), user.RefreshToken(),
		user.Timezone(), user.Enabled(), now, user.ID())
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	return expectOneRow(result, user.ID())
}

// RecordSyncResult stores the outcome of the latest run on the registry entry.
// A nil syncedAt leaves last_sync_at unchanged.
func (r *UserRepository) RecordSyncResult(id string, syncedAt *time.Time, lastError string) error {
	query := `
		UPDATE users
		SET last_sync_at = COALESCE(?, last_sync_at), last_error = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	var at sql.NullTime
	if syncedAt != nil {
		at = sql.NullTime{Time: *syncedAt, Valid: true}
	}

	result, err := r.db.Exec(query, at, lastError, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to record sync result: %w", err)
	}

	return expectOneRow(result, id)
}

// Delete soft-deletes a user by ID
func (r *UserRepository) Delete(id string) error {
	query := `
		UPDATE users
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	return expectOneRow(result, id)
}

// List retrieves all users matching the given criteria, excluding soft-deleted users.
//
// Supported criteria: "enabled" (bool) and "name" (string).
func (r *UserRepository) List(criteria map[string]any) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE deleted_at IS NULL`
	args := []any{}

	if enabled, ok := criteria["enabled"].(bool); ok {
		query += " AND enabled = ?"
		args = append(args, enabled)
	}

	if name, ok := criteria["name"].(string); ok && name != "" {
		query += " AND name = ?"
		args = append(args, name)
	}

	query += " ORDER BY sequence ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return users, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanUser scans a user from a [sql.Row] or [sql.Rows]; [sql.ErrNoRows] is returned unwrapped.
func scanUser(s scanner) (*models.User, error) {
	var (
		id            string
		sequence      int
		name          string
		spotifyUserID string
		refreshToken  string
		timezone      string
		enabled       bool
		lastSyncAt    sql.NullTime
		lastError     string
		createdAt     time.Time
		updatedAt     time.Time
		deletedAt     sql.NullTime
	)

	err := s.Scan(&id, &sequence, &name, &spotifyUserID, &refreshToken, &timezone, &enabled,
		&lastSyncAt, &lastError, &createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	user := models.NewUser(sequence, name, refreshToken)
	user.SetID(id)
	user.SetSpotifyUserID(spotifyUserID)
	user.SetTimezone(timezone)
	user.SetEnabled(enabled)
	user.SetLastError(lastError)
	user.SetCreatedAt(createdAt)
	user.SetUpdatedAt(updatedAt)
	if lastSyncAt.Valid {
		user.SetLastSyncAt(&lastSyncAt.Time)
	}
	if deletedAt.Valid {
		user.SetDeletedAt(&deletedAt.Time)
	}

	return user, nil
}

func expectOneRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrUserNotFound, id)
	}
	return nil
}
