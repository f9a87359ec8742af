package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/desertthunder/spotlog/internal/metrics"
	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/shared"
)

// BreakerSettings tunes a [CircuitBreaker].
type BreakerSettings struct {
	Name         string
	MinRequests  uint32
	FailureRatio float64
	Interval     time.Duration
	Timeout      time.Duration
	MaxRequests  uint32
}

// DefaultBreakerSettings opens after 60% failures over at least 10 requests and probes again after 2 minutes.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:         "spotify-api",
		MinRequests:  10,
		FailureRatio: 0.6,
		Interval:     time.Minute,
		Timeout:      2 * time.Minute,
		MaxRequests:  3,
	}
}

// CircuitBreaker stops calling the API while it keeps failing. One breaker is
// shared by every user's [Source] since an outage affects them all.
//
// Auth failures, not-found responses and caller cancellation do not count as failures.
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker[any]
	name   string
	logger *log.Logger
}

// NewCircuitBreaker creates a breaker with settings st.
func NewCircuitBreaker(st BreakerSettings, logger *log.Logger) *CircuitBreaker {
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}

	metrics.CircuitBreakerState.WithLabelValues(st.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        st.Name,
		MaxRequests: st.MaxRequests,
		Interval:    st.Interval,
		Timeout:     st.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < st.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= st.FailureRatio {
				logger.Warn("opening circuit", "breaker", st.Name, "failures", counts.TotalFailures, "requests", counts.Requests)
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, shared.ErrAuthFailure) ||
				errors.Is(err, shared.ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
	})

	return &CircuitBreaker{cb: cb, name: st.Name, logger: logger}
}

// State reports the breaker's current state as "closed", "half-open" or "open".
func (b *CircuitBreaker) State() string {
	return b.cb.State().String()
}

// Wrap guards every call to src with the breaker.
func (b *CircuitBreaker) Wrap(src Source) Source {
	return &guardedSource{src: src, breaker: b}
}

func (b *CircuitBreaker) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			return nil, fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
		}
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	return result, nil
}

// castResult type-asserts a breaker result.
func castResult[T any](result any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

type guardedSource struct {
	src     Source
	breaker *CircuitBreaker
}

func (g *guardedSource) FetchPage(ctx context.Context, window models.Window, cursor string, pageSize int) (Page, error) {
	return castResult[Page](g.breaker.execute(func() (any, error) {
		return g.src.FetchPage(ctx, window, cursor, pageSize)
	}))
}

func (g *guardedSource) GetTrack(ctx context.Context, id string) (models.Descriptor, error) {
	return castResult[models.Descriptor](g.breaker.execute(func() (any, error) {
		return g.src.GetTrack(ctx, id)
	}))
}

func (g *guardedSource) GetArtist(ctx context.Context, id string) (models.Descriptor, error) {
	return castResult[models.Descriptor](g.breaker.execute(func() (any, error) {
		return g.src.GetArtist(ctx, id)
	}))
}

func (g *guardedSource) GetAlbum(ctx context.Context, id string) (models.Descriptor, error) {
	return castResult[models.Descriptor](g.breaker.execute(func() (any, error) {
		return g.src.GetAlbum(ctx, id)
	}))
}
