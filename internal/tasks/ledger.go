package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/spotlog/internal/bloom"
	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/shared"
)

const ledgerFalsePositiveRate = 0.01

// Ledger answers "was this event already committed?" for one user.
//
// The most recent keys are loaded into a bloom filter, so novel keys are
// rejected without a storage round trip. Positives are confirmed against the store.
type Ledger struct {
	store   LedgerStore
	userID  string
	window  int
	filter  *bloom.Filter
	timeout time.Duration
	retry   shared.RetryPolicy
}

// LoadLedger reads the newest window keys for userID. extra sizes the filter for
// keys the run may add on top of the loaded ones.
func LoadLedger(ctx context.Context, store LedgerStore, userID string, window, extra int, timeout time.Duration, retry shared.RetryPolicy) (*Ledger, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: ledger window must be positive", shared.ErrInvalidArgument)
	}

	var keys []models.DedupeKey
	err := shared.Retry(ctx, retry, func(ctx context.Context) error {
		return shared.WithTimeout(ctx, timeout, func(ctx context.Context) error {
			var err error
			keys, err = store.Recent(ctx, userID, window)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load dedupe ledger: %w", err)
	}

	l := &Ledger{
		store:   store,
		userID:  userID,
		window:  window,
		filter:  bloom.New(window+max(extra, 0), ledgerFalsePositiveRate),
		timeout: timeout,
		retry:   retry,
	}
	for _, k := range keys {
		l.filter.Add(string(k))
	}
	return l, nil
}

// Contains reports whether key was recorded.
func (l *Ledger) Contains(ctx context.Context, key models.DedupeKey) (bool, error) {
	if !l.filter.MayContain(string(key)) {
		return false, nil
	}

	var found bool
	err := shared.Retry(ctx, l.retry, func(ctx context.Context) error {
		return shared.WithTimeout(ctx, l.timeout, func(ctx context.Context) error {
			var err error
			found, err = l.store.Contains(ctx, l.userID, key)
			return err
		})
	})
	if err != nil {
		return false, fmt.Errorf("failed to check dedupe key: %w", err)
	}
	return found, nil
}

// Record persists key. Recording a key twice is a no-op.
func (l *Ledger) Record(ctx context.Context, key models.DedupeKey, at time.Time) error {
	err := shared.Retry(ctx, l.retry, func(ctx context.Context) error {
		return shared.WithTimeout(ctx, l.timeout, func(ctx context.Context) error {
			return l.store.Record(ctx, l.userID, key, at)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to record dedupe key: %w", err)
	}
	l.filter.Add(string(key))
	return nil
}

// Remember adds a key that the log store already recorded in the same transaction as its row.
func (l *Ledger) Remember(key models.DedupeKey) {
	l.filter.Add(string(key))
}

// Prune trims the store back to the window size.
func (l *Ledger) Prune(ctx context.Context) (int64, error) {
	var n int64
	err := shared.WithTimeout(ctx, l.timeout, func(ctx context.Context) error {
		var err error
		n, err = l.store.Prune(ctx, l.userID, l.window)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune dedupe ledger: %w", err)
	}
	return n, nil
}
