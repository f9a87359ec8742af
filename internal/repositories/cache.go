package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/golang/snappy"

	"github.com/desertthunder/spotlog/internal/models"
)

// CacheRepository persists metadata descriptors keyed by (kind, entity id).
//
// Payloads are JSON compressed with snappy. Expiry is decided by the caller
// from the returned fetched-at time.
type CacheRepository struct {
	db *sql.DB
}

// NewCacheRepository creates a new [CacheRepository] with the given database connection
func NewCacheRepository(db *sql.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

// Get returns the cached entry, or false when none is stored.
func (r *CacheRepository) Get(ctx context.Context, userID string, kind models.EntityKind, id string) (models.CacheEntry, bool, error) {
	var (
		payload   []byte
		fetchedAt int64
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT payload, fetched_at FROM metadata_cache WHERE user_id = ? AND kind = ? AND entity_id = ?`,
		userID, string(kind), id,
	).Scan(&payload, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("failed to query cache entry: %w", err)
	}

	desc, err := decodeDescriptor(payload)
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("failed to decode cached %s %s: %w", kind, id, err)
	}

	return models.CacheEntry{Descriptor: desc, FetchedAt: fromMillis(fetchedAt)}, true, nil
}

// Put inserts or replaces the entry for its descriptor's (kind, id).
func (r *CacheRepository) Put(ctx context.Context, userID string, entry models.CacheEntry) error {
	desc := entry.Descriptor
	if desc.ID == "" {
		return fmt.Errorf("cache entry has no id")
	}
	if _, err := models.ParseEntityKind(string(desc.Kind)); err != nil {
		return err
	}

	payload, err := encodeDescriptor(desc)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", desc.Kind, desc.ID, err)
	}

	query := `
		INSERT INTO metadata_cache (user_id, kind, entity_id, payload, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, kind, entity_id) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at
	`

	if _, err := r.db.ExecContext(ctx, query, userID, string(desc.Kind), desc.ID, payload, toMillis(entry.FetchedAt)); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// Counts returns the number of cached entries per kind.
func (r *CacheRepository) Counts(ctx context.Context, userID string) (map[models.EntityKind]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM metadata_cache WHERE user_id = ? GROUP BY kind`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count cache entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.EntityKind]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan cache count: %w", err)
		}
		counts[models.EntityKind(kind)] = n
	}
	return counts, rows.Err()
}

func encodeDescriptor(d models.Descriptor) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decodeDescriptor(payload []byte) (models.Descriptor, error) {
	var d models.Descriptor
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return d, err
	}
	err = json.Unmarshal(raw, &d)
	return d, err
}
