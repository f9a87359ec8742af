package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/shared"
)

type stubSource struct {
	err   error
	calls int
}

func (s *stubSource) FetchPage(ctx context.Context, window models.Window, cursor string, pageSize int) (Page, error) {
	s.calls++
	if s.err != nil {
		return Page{}, s.err
	}
	return Page{Events: []models.PlaybackEvent{{TrackID: "t1", PlayedAt: window.Start}}}, nil
}

func (s *stubSource) GetTrack(ctx context.Context, id string) (models.Descriptor, error) {
	s.calls++
	if s.err != nil {
		return models.Descriptor{}, s.err
	}
	return models.Descriptor{Kind: models.KindTrack, ID: id}, nil
}

func (s *stubSource) GetArtist(ctx context.Context, id string) (models.Descriptor, error) {
	s.calls++
	return models.Descriptor{Kind: models.KindArtist, ID: id}, s.err
}

func (s *stubSource) GetAlbum(ctx context.Context, id string) (models.Descriptor, error) {
	s.calls++
	return models.Descriptor{Kind: models.KindAlbum, ID: id}, s.err
}

func testBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{
		Name:         name,
		MinRequests:  3,
		FailureRatio: 0.5,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MaxRequests:  1,
	}
}

func TestCircuitBreaker(t *testing.T) {
	ctx := context.Background()

	t.Run("passes results through", func(t *testing.T) {
		src := &stubSource{}
		guarded := NewCircuitBreaker(testBreakerSettings("pass"), nil).Wrap(src)

		page, err := guarded.FetchPage(ctx, models.Window{Start: time.Unix(0, 0)}, "", 50)
		if err != nil {
			t.Fatalf("FetchPage() error = %v", err)
		}
		if len(page.Events) != 1 {
			t.Errorf("expected one event, got %d", len(page.Events))
		}

		d, err := guarded.GetTrack(ctx, "t1")
		if err != nil || d.ID != "t1" {
			t.Errorf("GetTrack() = %+v, %v", d, err)
		}
	})

	t.Run("opens after transient failures", func(t *testing.T) {
		src := &stubSource{err: fmt.Errorf("%w: boom", shared.ErrTransientIO)}
		breaker := NewCircuitBreaker(testBreakerSettings("trip"), nil)
		guarded := breaker.Wrap(src)

		for range 3 {
			if _, err := guarded.GetTrack(ctx, "t1"); !errors.Is(err, shared.ErrTransientIO) {
				t.Fatalf("expected ErrTransientIO, got %v", err)
			}
		}

		if breaker.State() != "open" {
			t.Fatalf("expected open breaker, got %s", breaker.State())
		}

		_, err := guarded.GetArtist(ctx, "a1")
		if !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
		if src.calls != 3 {
			t.Errorf("expected source to be skipped while open, got %d calls", src.calls)
		}
	})

	t.Run("ignores auth and not found", func(t *testing.T) {
		for _, cause := range []error{shared.ErrAuthFailure, shared.ErrNotFound} {
			src := &stubSource{err: cause}
			breaker := NewCircuitBreaker(testBreakerSettings("ignore-"+cause.Error()), nil)
			guarded := breaker.Wrap(src)

			for range 5 {
				if _, err := guarded.GetAlbum(ctx, "al1"); !errors.Is(err, cause) {
					t.Fatalf("expected %v, got %v", cause, err)
				}
			}

			if breaker.State() != "closed" {
				t.Errorf("expected closed breaker for %v, got %s", cause, breaker.State())
			}
		}
	})
}
