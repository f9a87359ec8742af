package tasks

import (
	"context"
	"database/sql"
	"time"

	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/repositories"
)

// LogStore is the user's append-only play log.
type LogStore interface {
	AppendRow(ctx context.Context, userID string, row models.LogRow) error
}

// AtomicCommitter is implemented by log stores that can append a row and
// record its dedupe key in one transaction.
type AtomicCommitter interface {
	CommitRow(ctx context.Context, userID string, row models.LogRow, key models.DedupeKey) error
}

// LedgerStore persists dedupe keys.
type LedgerStore interface {
	Contains(ctx context.Context, userID string, key models.DedupeKey) (bool, error)
	Record(ctx context.Context, userID string, key models.DedupeKey, at time.Time) error
	Recent(ctx context.Context, userID string, n int) ([]models.DedupeKey, error)
	Prune(ctx context.Context, userID string, keep int) (int64, error)
}

// CacheStore persists metadata cache entries.
type CacheStore interface {
	Get(ctx context.Context, userID string, kind models.EntityKind, id string) (models.CacheEntry, bool, error)
	Put(ctx context.Context, userID string, entry models.CacheEntry) error
}

// StateStore persists [models.SyncState] and the run marker.
type StateStore interface {
	Load(ctx context.Context, userID string) (models.SyncState, error)
	Save(ctx context.Context, userID string, state models.SyncState) error
	AcquireRun(ctx context.Context, userID, runID string, now time.Time, staleAfter time.Duration) error
	ReleaseRun(ctx context.Context, userID, runID string) error
}

// Stores are the storage handles for one invocation. They are passed in, never held globally.
type Stores struct {
	Log    LogStore
	Ledger LedgerStore
	Cache  CacheStore
	State  StateStore
}

// SQLiteStores binds every store to db.
func SQLiteStores(db *sql.DB) Stores {
	return Stores{
		Log:    repositories.NewLogRepository(db),
		Ledger: repositories.NewLedgerRepository(db),
		Cache:  repositories.NewCacheRepository(db),
		State:  repositories.NewStateRepository(db),
	}
}
