package tasks

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spotlog/internal/metrics"
	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/services"
	"github.com/desertthunder/spotlog/internal/shared"
)

// FetcherOptions bounds a [Fetcher].
type FetcherOptions struct {
	PageSize    int
	MaxPages    int
	CallTimeout time.Duration
	Retry       shared.RetryPolicy
	Logger      *log.Logger
}

// Fetcher pages through one window of play history. It keeps no state beyond a
// single run: the cursor is derived from the events themselves, so a new
// Fetcher over the same window yields the same sequence.
type Fetcher struct {
	src    services.HistorySource
	window models.Window
	opts   FetcherOptions

	cursor string
	pages  int
	done   bool
	capped bool
}

// NewFetcher creates a Fetcher for window.
func NewFetcher(src services.HistorySource, window models.Window, opts FetcherOptions) *Fetcher {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 10
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}
	return &Fetcher{src: src, window: window, opts: opts}
}

// Next returns the next page of events. It returns false once the history is
// exhausted or the page budget is spent.
func (f *Fetcher) Next(ctx context.Context) ([]models.PlaybackEvent, bool, error) {
	if f.done {
		return nil, false, nil
	}
	if f.pages >= f.opts.MaxPages {
		f.done = true
		f.capped = f.cursor != ""
		return nil, false, nil
	}

	policy := f.opts.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.APIRetries.WithLabelValues("fetch_page").Inc()
		f.opts.Logger.Warn("retrying page fetch", "page", f.pages+1, "attempt", attempt, "delay", delay, "error", err)
	}

	var page services.Page
	err := shared.Retry(ctx, policy, func(ctx context.Context) error {
		return shared.WithTimeout(ctx, f.opts.CallTimeout, func(ctx context.Context) error {
			var err error
			page, err = f.src.FetchPage(ctx, f.window, f.cursor, f.opts.PageSize)
			return err
		})
	})
	if err != nil {
		f.done = true
		return nil, false, err
	}

	f.pages++
	metrics.PagesFetched.Inc()

	switch {
	case page.Next == "":
		f.done = true
	case page.Next == f.cursor:
		f.opts.Logger.Warn("history cursor did not advance, stopping", "cursor", f.cursor)
		f.done = true
	default:
		f.cursor = page.Next
	}

	return page.Events, true, nil
}

// Drain reads every remaining page. On error nothing fetched so far is returned.
func (f *Fetcher) Drain(ctx context.Context) ([]models.PlaybackEvent, error) {
	var events []models.PlaybackEvent
	for {
		page, ok, err := f.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return events, nil
		}
		events = append(events, page...)
	}
}

// Pages reports how many pages were fetched.
func (f *Fetcher) Pages() int { return f.pages }

// PageCapReached reports whether the budget ran out while more history remained.
func (f *Fetcher) PageCapReached() bool { return f.capped }
