package testing

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/shared"
)

// MemoryLog is an append-only in-memory log store.
type MemoryLog struct {
	mu          sync.Mutex
	rows        map[string][]models.LogRow
	failAppends int
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{rows: make(map[string][]models.LogRow)}
}

// FailAppends makes the next n appends fail with [shared.ErrTransientIO].
func (m *MemoryLog) FailAppends(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAppends = n
}

func (m *MemoryLog) AppendRow(ctx context.Context, userID string, row models.LogRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppends > 0 {
		m.failAppends--
		return fmt.Errorf("%w: append rejected", shared.ErrTransientIO)
	}
	m.rows[userID] = append(m.rows[userID], row)
	return nil
}

// Rows returns a copy of the user's log.
func (m *MemoryLog) Rows(userID string) []models.LogRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.rows[userID])
}

type ledgerEntry struct {
	key models.DedupeKey
	at  time.Time
}

// MemoryLedger stores dedupe keys in insertion order.
type MemoryLedger struct {
	mu            sync.Mutex
	keys          map[string][]ledgerEntry
	crashIn       int
	containsCalls int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{keys: make(map[string][]ledgerEntry)}
}

// CrashOnRecord makes the nth Record call from now fail with [ErrSimulatedCrash].
// The failing call records nothing. n <= 0 disables the fault.
func (m *MemoryLedger) CrashOnRecord(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crashIn = n
}

// ContainsCalls reports how many lookups reached the store.
func (m *MemoryLedger) ContainsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.containsCalls
}

// Len reports how many keys are stored for the user.
func (m *MemoryLedger) Len(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys[userID])
}

func (m *MemoryLedger) indexOf(userID string, key models.DedupeKey) int {
	return slices.IndexFunc(m.keys[userID], func(e ledgerEntry) bool { return e.key == key })
}

func (m *MemoryLedger) Contains(ctx context.Context, userID string, key models.DedupeKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.containsCalls++
	return m.indexOf(userID, key) >= 0, nil
}

func (m *MemoryLedger) Record(ctx context.Context, userID string, key models.DedupeKey, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.crashIn > 0 {
		m.crashIn--
		if m.crashIn == 0 {
			return ErrSimulatedCrash
		}
	}

	if m.indexOf(userID, key) >= 0 {
		return nil
	}
	m.keys[userID] = append(m.keys[userID], ledgerEntry{key: key, at: at})
	return nil
}

func (m *MemoryLedger) Recent(ctx context.Context, userID string, n int) ([]models.DedupeKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.keys[userID]
	keys := make([]models.DedupeKey, 0, min(n, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(keys) < n; i-- {
		keys = append(keys, entries[i].key)
	}
	return keys, nil
}

func (m *MemoryLedger) Prune(ctx context.Context, userID string, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.keys[userID]
	if len(entries) <= keep {
		return 0, nil
	}
	removed := len(entries) - keep
	m.keys[userID] = slices.Clone(entries[removed:])
	return int64(removed), nil
}

// MemoryCache is an in-memory metadata cache store.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]models.CacheEntry
	puts    int
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]models.CacheEntry)}
}

func cacheKey(userID string, kind models.EntityKind, id string) string {
	return userID + "/" + string(kind) + "/" + id
}

func (m *MemoryCache) Get(ctx context.Context, userID string, kind models.EntityKind, id string) (models.CacheEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[cacheKey(userID, kind, id)]
	return entry, ok, nil
}

func (m *MemoryCache) Put(ctx context.Context, userID string, entry models.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.entries[cacheKey(userID, entry.Descriptor.Kind, entry.Descriptor.ID)] = entry
	return nil
}

// Puts reports how many entries were written.
func (m *MemoryCache) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// MemoryState is an in-memory state store with the same run-marker rules as the SQLite one.
type MemoryState struct {
	mu     sync.Mutex
	states map[string]models.SyncState
	saves  int
}

func NewMemoryState() *MemoryState {
	return &MemoryState{states: make(map[string]models.SyncState)}
}

// Set overwrites the user's state.
func (m *MemoryState) Set(userID string, state models.SyncState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[userID] = state
}

// Saves reports how many times Save was called.
func (m *MemoryState) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryState) Load(ctx context.Context, userID string) (models.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[userID], nil
}

func (m *MemoryState) Save(ctx context.Context, userID string, state models.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	state.RunID = ""
	state.RunStartedAt = time.Time{}
	m.states[userID] = state
	return nil
}

func (m *MemoryState) AcquireRun(ctx context.Context, userID, runID string, now time.Time, staleAfter time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.states[userID]
	if state.RunID != "" && state.RunID != runID {
		if staleAfter <= 0 || now.Sub(state.RunStartedAt) < staleAfter {
			return fmt.Errorf("%w for user %s", shared.ErrConcurrentRun, userID)
		}
	}
	state.RunID = runID
	state.RunStartedAt = now
	m.states[userID] = state
	return nil
}

func (m *MemoryState) ReleaseRun(ctx context.Context, userID, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.states[userID]
	if state.RunID == runID {
		state.RunID = ""
		state.RunStartedAt = time.Time{}
		m.states[userID] = state
	}
	return nil
}
