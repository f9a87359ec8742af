package shared

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryPolicy controls exponential backoff for calls to external collaborators.
//
// The delay before retry n (1-based) is BaseDelay * 2^(n-1), capped at MaxDelay,
// then spread by +/- Jitter. A Retry-After hint from a [RateLimitError] replaces
// the computed delay and is capped at MaxRetryAfter.
type RetryPolicy struct {
	Attempts      int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxRetryAfter time.Duration
	Jitter        float64

	// Sleep waits for d or until ctx is done. Defaults to [SleepContext].
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy mirrors the sync defaults: 5 attempts, 1s base, 30s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:      5,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		MaxRetryAfter: time.Minute,
		Jitter:        0.25,
	}
}

// SleepContext blocks for d, returning early with ctx.Err() on cancellation.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRetryable reports whether err is worth another attempt: rate limits,
// transient I/O and per-call deadlines. Auth failures and not-found never are.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrAuthFailure), errors.Is(err, ErrNotFound), errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrTransientIO), errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}

// Delay returns the wait before the given retry attempt (1-based).
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	if hint, ok := RetryAfterHint(err); ok {
		if p.MaxRetryAfter > 0 && hint > p.MaxRetryAfter {
			return p.MaxRetryAfter
		}
		return hint
	}

	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 && d > 0 {
		spread := float64(d) * p.Jitter * (rand.Float64()*2 - 1)
		d += time.Duration(spread)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The parent context is checked before each attempt.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return fmt.Errorf("%w (last error: %v)", ctxErr, err)
			}
			return ctxErr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt == attempts {
			break
		}

		delay := p.Delay(attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("%w (last error: %v)", sleepErr, err)
		}
	}

	if IsRetryable(err) && attempts > 1 {
		return fmt.Errorf("max retry attempts reached: %w", err)
	}
	return err
}

// WithTimeout runs fn under a child context bounded by timeout. A zero timeout
// leaves ctx untouched.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}
