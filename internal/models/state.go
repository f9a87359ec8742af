package models

import "time"

// SyncState is a user's sync bookkeeping. The zero value means "never synced".
type SyncState struct {
	LastSync     time.Time
	LastError    string
	RunID        string
	RunStartedAt time.Time
	UpdatedAt    time.Time

	// Resume marks a watermark left by a partial run. The next window starts
	// just after it instead of reaching back by the lookback overlap.
	Resume bool
}

// Outcome classifies a finished sync run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)
