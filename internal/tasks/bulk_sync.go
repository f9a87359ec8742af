package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/services"
)

// Provider supplies the per-user collaborators of a run: a source authorized
// as the user and storage handles scoped to them.
type Provider func(ctx context.Context, user *models.User) (services.Source, Stores, error)

// Registry receives each user's latest outcome.
type Registry interface {
	RecordSyncResult(id string, syncedAt *time.Time, lastError string) error
}

// SyncAllOpts contains configuration for multi-user runs.
type SyncAllOpts struct {
	Workers       int      // Concurrent users (default: 4, max: 16)
	RunsPerSecond float64  // Run starts per second (0: unlimited)
	Registry      Registry // Optional registry status sink
}

// SyncAllResult summarizes a multi-user run.
type SyncAllResult struct {
	Total     int
	Succeeded int
	Partial   int
	Failed    int
	Results   []*SyncResult
}

// SyncAll runs [Engine.SyncUser] for every user with a bounded worker pool.
//
// Users share nothing in process: each run gets its own source and stores from
// provide. One user's failure never stops the others. Results are returned in
// completion order.
func (e *Engine) SyncAll(ctx context.Context, prog chan<- ProgressUpdate, users []*models.User, provide Provider, opts SyncAllOpts) *SyncAllResult {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Workers > 16 {
		opts.Workers = 16
	}
	opts.Workers = min(opts.Workers, max(len(users), 1))

	limit := rate.Inf
	if opts.RunsPerSecond > 0 {
		limit = rate.Limit(opts.RunsPerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)

	result := &SyncAllResult{
		Total:   len(users),
		Results: make([]*SyncResult, 0, len(users)),
	}

	jobs := make(chan *models.User, len(users))
	results := make(chan *SyncResult, len(users))

	var wg sync.WaitGroup
	for range opts.Workers {
		wg.Add(1)
		go e.syncWorker(ctx, &wg, limiter, jobs, results, provide)
	}

	for _, u := range users {
		jobs <- u
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		result.Results = append(result.Results, res)

		switch res.Outcome {
		case models.OutcomeSuccess:
			result.Succeeded++
		case models.OutcomePartial:
			result.Partial++
		default:
			result.Failed++
		}

		if opts.Registry != nil {
			e.recordResult(opts.Registry, res)
		}
		sendProgress(prog, userCompletedUpdate(completed, len(users), res))
	}

	return result
}

// syncWorker runs queued users until the queue is drained. Users left when ctx
// is cancelled are reported as failed without being started.
func (e *Engine) syncWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	limiter *rate.Limiter,
	jobs <-chan *models.User,
	results chan<- *SyncResult,
	provide Provider,
) {
	defer wg.Done()

	for user := range jobs {
		if err := limiter.Wait(ctx); err != nil {
			results <- e.failed(&SyncResult{UserID: user.ID(), UserName: user.Name()},
				fmt.Errorf("run not started: %w", err))
			continue
		}
		results <- e.syncOne(ctx, user, provide)
	}
}

func (e *Engine) syncOne(ctx context.Context, user *models.User, provide Provider) *SyncResult {
	src, stores, err := provide(ctx, user)
	if err != nil {
		e.logger.Error("failed to prepare sync", "user", user.Name(), "error", err)
		return e.failed(&SyncResult{UserID: user.ID(), UserName: user.Name()}, err)
	}
	return e.SyncUser(ctx, user, src, stores, nil)
}

// recordResult updates the registry entry. last_sync_at is set to the watermark
// on every run without an error, including runs that committed nothing; failed
// runs only record last_error.
func (e *Engine) recordResult(reg Registry, res *SyncResult) {
	var syncedAt *time.Time
	lastError := ""
	if res.Err != nil {
		lastError = res.Err.Error()
	} else {
		at := res.Watermark
		syncedAt = &at
	}

	if err := reg.RecordSyncResult(res.UserID, syncedAt, lastError); err != nil {
		e.logger.Warn("failed to update registry", "user", res.UserName, "error", err)
	}
}
