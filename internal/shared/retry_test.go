package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// recordSleep returns a Sleep func that records delays instead of waiting.
func recordSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestRetry(t *testing.T) {
	base := RetryPolicy{Attempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, MaxRetryAfter: 2 * time.Second}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var delays []time.Duration
		p := base
		p.Sleep = recordSleep(&delays)

		calls := 0
		err := Retry(context.Background(), p, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return fmt.Errorf("boom: %w", ErrTransientIO)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Retry() error = %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
		want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
		if len(delays) != len(want) || delays[0] != want[0] || delays[1] != want[1] {
			t.Errorf("delays = %v, want %v", delays, want)
		}
	})

	t.Run("auth failures are not retried", func(t *testing.T) {
		var delays []time.Duration
		p := base
		p.Sleep = recordSleep(&delays)

		calls := 0
		err := Retry(context.Background(), p, func(ctx context.Context) error {
			calls++
			return ErrAuthFailure
		})
		if !errors.Is(err, ErrAuthFailure) {
			t.Errorf("expected ErrAuthFailure, got %v", err)
		}
		if calls != 1 || len(delays) != 0 {
			t.Errorf("expected a single call and no waits, got %d calls, %v", calls, delays)
		}
	})

	t.Run("budget exhausted", func(t *testing.T) {
		var delays []time.Duration
		p := base
		p.Sleep = recordSleep(&delays)

		calls := 0
		err := Retry(context.Background(), p, func(ctx context.Context) error {
			calls++
			return &RateLimitError{}
		})
		if !errors.Is(err, ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got %v", err)
		}
		if calls != 4 {
			t.Errorf("expected 4 calls, got %d", calls)
		}
		if len(delays) != 3 {
			t.Errorf("expected 3 waits, got %v", delays)
		}
	})

	t.Run("honors capped Retry-After", func(t *testing.T) {
		var delays []time.Duration
		p := base
		p.Attempts = 3
		p.Sleep = recordSleep(&delays)

		hints := []time.Duration{500 * time.Millisecond, time.Hour}
		calls := 0
		_ = Retry(context.Background(), p, func(ctx context.Context) error {
			defer func() { calls++ }()
			if calls < len(hints) {
				return &RateLimitError{RetryAfter: hints[calls]}
			}
			return nil
		})
		if len(delays) != 2 || delays[0] != 500*time.Millisecond || delays[1] != 2*time.Second {
			t.Errorf("delays = %v", delays)
		}
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := base
		p.Sleep = func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}

		calls := 0
		err := Retry(ctx, p, func(ctx context.Context) error {
			calls++
			return ErrTransientIO
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}

	tc := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tc {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			if got := p.Delay(tt.attempt, ErrTransientIO); got != tt.want {
				t.Errorf("Delay(%d) = %s, want %s", tt.attempt, got, tt.want)
			}
		})
	}

	t.Run("jitter stays in range", func(t *testing.T) {
		jp := p
		jp.Jitter = 0.25
		for range 50 {
			d := jp.Delay(1, ErrTransientIO)
			if d < 750*time.Millisecond || d > 1250*time.Millisecond {
				t.Fatalf("jittered delay %s out of range", d)
			}
		}
	})
}

func TestIsRetryable(t *testing.T) {
	tc := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", fmt.Errorf("x: %w", ErrTransientIO), true},
		{"rate limited", &RateLimitError{}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"auth", ErrAuthFailure, false},
		{"not found", ErrNotFound, false},
		{"other", errors.New("nope"), false},
	}
	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	called := false
	_ = WithTimeout(context.Background(), 0, func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		called = !hasDeadline
		return nil
	})
	if !called {
		t.Error("zero timeout should not add a deadline")
	}
}
