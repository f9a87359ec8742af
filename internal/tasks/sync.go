package tasks

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spotlog/internal/formatter"
	"github.com/desertthunder/spotlog/internal/metrics"
	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/services"
	"github.com/desertthunder/spotlog/internal/shared"
)

// Options are the tunables of a sync run.
type Options struct {
	LookbackOverlap time.Duration
	PageSize        int
	MaxPages        int
	CacheTTL        time.Duration
	MaxDedupeKeys   int
	StaleFallback   bool
	CallTimeout     time.Duration
	RunMarkerTTL    time.Duration
	Retry           shared.RetryPolicy
}

// DefaultOptions returns the stock run settings.
func DefaultOptions() Options {
	return Options{
		LookbackOverlap: 120 * time.Minute,
		PageSize:        50,
		MaxPages:        10,
		CacheTTL:        30 * 24 * time.Hour,
		MaxDedupeKeys:   5000,
		StaleFallback:   true,
		CallTimeout:     30 * time.Second,
		RunMarkerTTL:    30 * time.Minute,
		Retry:           shared.DefaultRetryPolicy(),
	}
}

// OptionsFromConfig maps the [sync] config section onto [Options].
func OptionsFromConfig(c shared.SyncConfig) Options {
	return Options{
		LookbackOverlap: c.LookbackOverlap.Std(),
		PageSize:        c.PageSize,
		MaxPages:        c.MaxPages,
		CacheTTL:        c.CacheTTL.Std(),
		MaxDedupeKeys:   c.MaxDedupeKeys,
		StaleFallback:   c.StaleFallback,
		CallTimeout:     c.CallTimeout.Std(),
		RunMarkerTTL:    c.RunMarkerTTL.Std(),
		Retry:           c.RetryPolicy(),
	}
}

// SyncResult reports one user's run. Err is nil unless Outcome is failure.
type SyncResult struct {
	UserID      string
	UserName    string
	RunID       string
	Outcome     models.Outcome
	Window      models.Window
	Pages       int
	Fetched     int
	Committed   int
	Duplicates  int
	OutOfWindow int
	Malformed   int
	Watermark   time.Time
	Message     string
	Err         error
	Duration    time.Duration
}

// Engine runs the per-user sync. It holds no storage: every call receives its own [Stores].
type Engine struct {
	opts   Options
	logger *log.Logger
	now    func() time.Time
}

// NewEngine creates an Engine with opts.
func NewEngine(opts Options, logger *log.Logger) *Engine {
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}
	return &Engine{opts: opts, logger: logger, now: time.Now}
}

// SetClock replaces the wall clock used for windows, run markers and cache ages.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Options returns the engine's run settings.
func (e *Engine) Options() Options { return e.opts }

// SyncUser mirrors new plays for user from src into stores.
//
// The window starts at the stored watermark minus the lookback overlap and ends
// now, except after a partial run, which is resumed right after its watermark.
// All pages are fetched before anything is committed, so a fetch failure
// commits nothing. Each new row is appended before its dedupe key is recorded,
// and the state is saved last. The watermark only moves forward: to the window
// end on success, to the last durably processed play when the page cap cut the
// run short, and not at all on failure.
func (e *Engine) SyncUser(ctx context.Context, user *models.User, src services.Source, stores Stores, progress chan<- ProgressUpdate) *SyncResult {
	began := time.Now()
	now := e.now().UTC()

	res := &SyncResult{
		UserID:   user.ID(),
		UserName: user.Name(),
		RunID:    shared.GenerateID(),
		Outcome:  models.OutcomeFailure,
	}
	logger := shared.WithLogger(e.logger, "user", user.Name(), "run", res.RunID)

	defer func() {
		res.Duration = time.Since(began)
		metrics.SyncRuns.WithLabelValues(string(res.Outcome)).Inc()
		metrics.SyncDuration.Observe(res.Duration.Seconds())
		metrics.EventsSkipped.WithLabelValues("duplicate").Add(float64(res.Duplicates))
		metrics.EventsSkipped.WithLabelValues("out_of_window").Add(float64(res.OutOfWindow))
		metrics.EventsSkipped.WithLabelValues("malformed").Add(float64(res.Malformed))
	}()

	err := shared.WithTimeout(ctx, e.opts.CallTimeout, func(ctx context.Context) error {
		return stores.State.AcquireRun(ctx, user.ID(), res.RunID, now, e.opts.RunMarkerTTL)
	})
	if err != nil {
		logger.Error("could not start run", "error", err)
		return e.failed(res, err)
	}

	saved := false
	defer func() {
		if saved {
			return
		}
		releaseCtx := context.WithoutCancel(ctx)
		if err := stores.State.ReleaseRun(releaseCtx, user.ID(), res.RunID); err != nil {
			logger.Warn("failed to release run marker", "error", err)
		}
	}()

	var state models.SyncState
	err = shared.Retry(ctx, e.opts.Retry, func(ctx context.Context) error {
		return shared.WithTimeout(ctx, e.opts.CallTimeout, func(ctx context.Context) error {
			var err error
			state, err = stores.State.Load(ctx, user.ID())
			return err
		})
	})
	if err != nil {
		logger.Error("failed to load sync state", "error", err)
		return e.failed(res, fmt.Errorf("failed to load sync state: %w", err))
	}

	res.Window = e.window(state, now)
	res.Watermark = state.LastSync
	sendProgress(progress, loadStateUpdate(user.ID(), res.Window.Start, res.Window.End))
	logger.Debug("window computed", "start", res.Window.Start, "end", res.Window.End, "last_sync", state.LastSync)

	finish := func(watermark time.Time, resume bool, runErr error) *SyncResult {
		saveErr := e.saveState(ctx, stores.State, user.ID(), watermark, resume, runErr, now)
		if saveErr != nil {
			logger.Error("failed to save sync state", "error", saveErr)
			res.Outcome = models.OutcomeFailure
			res.Watermark = state.LastSync
			if runErr == nil {
				runErr = saveErr
			}
		} else {
			saved = true
			res.Watermark = watermark
		}

		if runErr != nil {
			res.Outcome = models.OutcomeFailure
			return e.failed(res, runErr)
		}
		sendProgress(progress, saveStateUpdate(user.ID(), res))
		return res
	}

	ledger, err := LoadLedger(ctx, stores.Ledger, user.ID(), e.opts.MaxDedupeKeys,
		e.opts.PageSize*e.opts.MaxPages, e.opts.CallTimeout, e.opts.Retry)
	if err != nil {
		logger.Error("failed to load ledger", "error", err)
		return finish(state.LastSync, state.Resume, err)
	}

	fetcher := NewFetcher(src, res.Window, FetcherOptions{
		PageSize:    e.opts.PageSize,
		MaxPages:    e.opts.MaxPages,
		CallTimeout: e.opts.CallTimeout,
		Retry:       e.opts.Retry,
		Logger:      logger,
	})

	var events []models.PlaybackEvent
	for {
		page, ok, err := fetcher.Next(ctx)
		if err != nil {
			res.Pages = fetcher.Pages()
			logger.Error("fetch failed, nothing committed", "pages", res.Pages, "error", err)
			return finish(state.LastSync, state.Resume, fmt.Errorf("failed to fetch play history: %w", err))
		}
		if !ok {
			break
		}
		events = append(events, page...)
		sendProgress(progress, fetchedPageUpdate(user.ID(), fetcher.Pages(), e.opts.MaxPages, len(page)))
	}
	res.Pages = fetcher.Pages()
	res.Fetched = len(events)

	cache := NewMetadataCache(stores.Cache, src, user.ID(), CacheOptions{
		TTL:           e.opts.CacheTTL,
		StaleFallback: e.opts.StaleFallback,
		CallTimeout:   e.opts.CallTimeout,
		Retry:         e.opts.Retry,
		Now:           e.now,
		Logger:        logger,
	})

	loc := user.Location()
	var lastDurable time.Time
	for i, ev := range events {
		if ev.TrackID == "" || ev.PlayedAt.IsZero() {
			res.Malformed++
			logger.Warn("skipping malformed event", "track_id", ev.TrackID, "played_at", ev.PlayedAt)
			continue
		}
		if !res.Window.Contains(ev.PlayedAt) {
			res.OutOfWindow++
			logger.Info("skipping event outside window", "track_id", ev.TrackID, "played_at", ev.PlayedAt)
			continue
		}

		meta := e.resolveMetadata(ctx, cache, ev, logger)

		key := ev.Key()
		seen, err := ledger.Contains(ctx, key)
		if err != nil {
			logger.Error("ledger lookup failed", "key", key, "error", err)
			return finish(state.LastSync, state.Resume, err)
		}
		if seen {
			res.Duplicates++
			lastDurable = latest(lastDurable, ev.PlayedAt)
			continue
		}

		row, err := formatter.FormatRow(ev, loc, meta)
		if err != nil {
			res.Malformed++
			logger.Warn("skipping event that could not be formatted", "key", key, "error", err)
			continue
		}

		if err := e.commit(ctx, stores.Log, ledger, user.ID(), row, key, now); err != nil {
			logger.Error("commit failed", "key", key, "committed", res.Committed, "error", err)
			return finish(state.LastSync, state.Resume, err)
		}

		res.Committed++
		metrics.RowsCommitted.Inc()
		lastDurable = latest(lastDurable, ev.PlayedAt)
		sendProgress(progress, commitRowsUpdate(user.ID(), i+1, len(events), row.Title))
	}

	if pruned, err := ledger.Prune(ctx); err != nil {
		logger.Warn("ledger prune failed", "error", err)
	} else if pruned > 0 {
		logger.Debug("pruned dedupe keys", "count", pruned)
	}

	watermark := latest(state.LastSync, res.Window.End)
	resume := fetcher.PageCapReached()
	if resume {
		res.Outcome = models.OutcomePartial
		res.Message = fmt.Sprintf("page cap of %d reached, %d rows committed", e.opts.MaxPages, res.Committed)
		watermark = latest(state.LastSync, lastDurable)
	} else {
		res.Outcome = models.OutcomeSuccess
		res.Message = fmt.Sprintf("%d rows committed", res.Committed)
	}

	out := finish(watermark, resume, nil)
	if out.Err == nil {
		logger.Info("sync finished",
			"outcome", res.Outcome,
			"pages", res.Pages,
			"committed", res.Committed,
			"duplicates", res.Duplicates,
			"out_of_window", res.OutOfWindow,
			"malformed", res.Malformed,
			"watermark", res.Watermark,
		)
	}
	return out
}

// window computes [watermark - overlap, now], clamped at the unix epoch. A
// watermark left by a partial run is resumed from one millisecond past it, the
// resolution of history cursors, so the pages already spent are not fetched again.
func (e *Engine) window(state models.SyncState, now time.Time) models.Window {
	epoch := time.Unix(0, 0).UTC()
	start := epoch
	switch {
	case state.LastSync.IsZero():
	case state.Resume:
		start = state.LastSync.Add(time.Millisecond)
	default:
		start = state.LastSync.Add(-e.opts.LookbackOverlap)
		if start.Before(epoch) {
			start = epoch
		}
	}
	return models.Window{Start: start, End: now}
}

// resolveMetadata looks up the track, each artist and the album. Misses are
// logged and leave the corresponding descriptor empty so the row falls back to raw fields.
// Log rows carry no album column, so the album lookup only warms the cache for
// backfill and status.
func (e *Engine) resolveMetadata(ctx context.Context, cache *MetadataCache, ev models.PlaybackEvent, logger *log.Logger) formatter.Metadata {
	var meta formatter.Metadata

	track := cache.Resolve(ctx, models.KindTrack, ev.TrackID)
	if track.OK() {
		meta.Track = track.Descriptor
	} else {
		logger.Debug("track metadata unavailable, using raw fields", "track_id", ev.TrackID, "error", track.Err)
	}

	artistIDs := ev.ArtistIDs
	if len(artistIDs) == 0 {
		artistIDs = meta.Track.ArtistIDs
	}
	meta.Artists = make([]models.Descriptor, len(artistIDs))
	for i, id := range artistIDs {
		artist := cache.Resolve(ctx, models.KindArtist, id)
		if artist.OK() {
			meta.Artists[i] = artist.Descriptor
			continue
		}
		logger.Debug("artist metadata unavailable, using raw name", "artist_id", id, "error", artist.Err)
	}

	albumID := ev.AlbumID
	if albumID == "" {
		albumID = meta.Track.AlbumID
	}
	if albumID != "" {
		if album := cache.Resolve(ctx, models.KindAlbum, albumID); !album.OK() {
			logger.Debug("album metadata unavailable", "album_id", albumID, "error", album.Err)
		}
	}

	return meta
}

// commit appends row and records key, atomically when the log store supports it.
func (e *Engine) commit(ctx context.Context, logStore LogStore, ledger *Ledger, userID string, row models.LogRow, key models.DedupeKey, at time.Time) error {
	policy := e.opts.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.APIRetries.WithLabelValues("commit").Inc()
		e.logger.Warn("retrying row commit", "key", key, "attempt", attempt, "error", err)
	}

	if ac, ok := logStore.(AtomicCommitter); ok {
		err := shared.Retry(ctx, policy, func(ctx context.Context) error {
			return shared.WithTimeout(ctx, e.opts.CallTimeout, func(ctx context.Context) error {
				return ac.CommitRow(ctx, userID, row, key)
			})
		})
		if err != nil {
			return fmt.Errorf("failed to commit row: %w", err)
		}
		ledger.Remember(key)
		return nil
	}

	err := shared.Retry(ctx, policy, func(ctx context.Context) error {
		return shared.WithTimeout(ctx, e.opts.CallTimeout, func(ctx context.Context) error {
			return logStore.AppendRow(ctx, userID, row)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to append row: %w", err)
	}
	return ledger.Record(ctx, key, at)
}

// saveState writes the watermark and the run's error, clearing the error on success.
func (e *Engine) saveState(ctx context.Context, store StateStore, userID string, watermark time.Time, resume bool, runErr error, now time.Time) error {
	state := models.SyncState{LastSync: watermark, Resume: resume, UpdatedAt: now}
	if runErr != nil {
		state.LastError = runErr.Error()
	}

	saveCtx := ctx
	if ctx.Err() != nil {
		saveCtx = context.WithoutCancel(ctx)
	}

	return shared.Retry(saveCtx, e.opts.Retry, func(ctx context.Context) error {
		return shared.WithTimeout(ctx, e.opts.CallTimeout, func(ctx context.Context) error {
			return store.Save(ctx, userID, state)
		})
	})
}

func (e *Engine) failed(res *SyncResult, err error) *SyncResult {
	res.Outcome = models.OutcomeFailure
	res.Err = err
	res.Message = err.Error()
	return res
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
