package tasks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/shared"
	tu "github.com/desertthunder/spotlog/internal/testing"
)

func TestLedger(t *testing.T) {
	ctx := context.Background()
	retry := shared.RetryPolicy{Attempts: 2, Sleep: noSleep}

	key := func(i int) models.DedupeKey {
		return models.NewDedupeKey(base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("t%d", i))
	}

	t.Run("loads recent keys", func(t *testing.T) {
		store := tu.NewMemoryLedger()
		for i := range 5 {
			store.Record(ctx, "u1", key(i), base)
		}

		l, err := LoadLedger(ctx, store, "u1", 3, 10, time.Second, retry)
		if err != nil {
			t.Fatalf("LoadLedger() error = %v", err)
		}

		for i := 2; i < 5; i++ {
			ok, err := l.Contains(ctx, key(i))
			if err != nil || !ok {
				t.Errorf("expected key %d to be found, got %v %v", i, ok, err)
			}
		}
	})

	t.Run("novel keys skip the store", func(t *testing.T) {
		store := tu.NewMemoryLedger()
		store.Record(ctx, "u1", key(0), base)

		l, err := LoadLedger(ctx, store, "u1", 100, 0, time.Second, retry)
		if err != nil {
			t.Fatalf("LoadLedger() error = %v", err)
		}

		before := store.ContainsCalls()
		for i := 1000; i < 1010; i++ {
			if ok, _ := l.Contains(ctx, key(i)); ok {
				t.Errorf("novel key %d reported as recorded", i)
			}
		}
		if calls := store.ContainsCalls() - before; calls > 1 {
			t.Errorf("expected bloom filter to absorb novel lookups, got %d store calls", calls)
		}
	})

	t.Run("record is idempotent", func(t *testing.T) {
		store := tu.NewMemoryLedger()
		l, err := LoadLedger(ctx, store, "u1", 10, 0, time.Second, retry)
		if err != nil {
			t.Fatalf("LoadLedger() error = %v", err)
		}

		for range 3 {
			if err := l.Record(ctx, key(1), base); err != nil {
				t.Fatalf("Record() error = %v", err)
			}
		}
		if store.Len("u1") != 1 {
			t.Errorf("expected one stored key, got %d", store.Len("u1"))
		}
		if ok, _ := l.Contains(ctx, key(1)); !ok {
			t.Error("recorded key not found")
		}
	})

	t.Run("remember updates the filter only", func(t *testing.T) {
		store := tu.NewMemoryLedger()
		l, _ := LoadLedger(ctx, store, "u1", 10, 0, time.Second, retry)

		l.Remember(key(7))
		store.Record(ctx, "u1", key(7), base)
		if ok, _ := l.Contains(ctx, key(7)); !ok {
			t.Error("remembered key not confirmed against the store")
		}
	})

	t.Run("prune keeps the window", func(t *testing.T) {
		store := tu.NewMemoryLedger()
		l, _ := LoadLedger(ctx, store, "u1", 3, 0, time.Second, retry)
		for i := range 5 {
			l.Record(ctx, key(i), base)
		}

		n, err := l.Prune(ctx)
		if err != nil || n != 2 {
			t.Errorf("Prune() = %d, %v, want 2", n, err)
		}
		if store.Len("u1") != 3 {
			t.Errorf("expected 3 keys left, got %d", store.Len("u1"))
		}
	})

	t.Run("crash surfaces without retry", func(t *testing.T) {
		store := tu.NewMemoryLedger()
		store.CrashOnRecord(1)
		l, _ := LoadLedger(ctx, store, "u1", 3, 0, time.Second, retry)

		if err := l.Record(ctx, key(1), base); !errors.Is(err, tu.ErrSimulatedCrash) {
			t.Errorf("expected simulated crash, got %v", err)
		}
		if store.Len("u1") != 0 {
			t.Error("crashed record was stored")
		}
	})

	t.Run("invalid window", func(t *testing.T) {
		if _, err := LoadLedger(ctx, tu.NewMemoryLedger(), "u1", 0, 0, time.Second, retry); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}
