// package repositories provides SQLite persistence for users and per-user sync storage.
//
// UserRepository implements models.Repository[*models.User]. The log, ledger,
// cache and state repositories scope every query by user id so one database
// can hold many users' storage without sharing rows.
package repositories

import (
	"database/sql"
	"fmt"
	"time"
)

// nextSequence increments and returns the next sequence number for the given table within tx.
//
// Sequence numbers provide human-readable ordering for entities (e.g., user #42).
func nextSequence(tx *sql.Tx, table string) (int, error) {
	sequenceTable := table + "_sequence"

	if _, err := tx.Exec(fmt.Sprintf("UPDATE %s SET value = value + 1 WHERE id = 1", sequenceTable)); err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}

	var sequence int
	if err := tx.QueryRow(fmt.Sprintf("SELECT value FROM %s WHERE id = 1", sequenceTable)).Scan(&sequence); err != nil {
		return 0, fmt.Errorf("failed to get sequence value: %w", err)
	}

	return sequence, nil
}

// toMillis stores instants as unix milliseconds; the zero time maps to 0.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
