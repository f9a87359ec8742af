package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spotlog/internal/metrics"
	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/services"
	"github.com/desertthunder/spotlog/internal/shared"
)

// ResolveStatus tags how a [Resolution] was obtained.
type ResolveStatus int

const (
	// Fresh came from an unexpired cache entry without an external call.
	Fresh ResolveStatus = iota
	// Fetched came from the metadata source and was written to the cache.
	Fetched
	// StaleFallback is an expired entry returned because the fetch failed.
	StaleFallback
	// Failed means no descriptor is available.
	Failed
)

func (s ResolveStatus) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Fetched:
		return "fetched"
	case StaleFallback:
		return "stale_fallback"
	case Failed:
		return "failed"
	default:
		return ""
	}
}

// Resolution is the outcome of [MetadataCache.Resolve]. Err is set only when Status is Failed.
type Resolution struct {
	Descriptor models.Descriptor
	Status     ResolveStatus
	Err        error
}

// OK reports whether a descriptor is available.
func (r Resolution) OK() bool { return r.Status != Failed }

// CacheOptions configures a [MetadataCache].
type CacheOptions struct {
	TTL           time.Duration
	StaleFallback bool
	CallTimeout   time.Duration
	Retry         shared.RetryPolicy
	Now           func() time.Time
	Logger        *log.Logger
}

// MetadataCache resolves descriptors for one user, reading through the cache store.
// Results are memoized for the lifetime of the value, which is one run.
type MetadataCache struct {
	store  CacheStore
	src    services.MetadataSource
	userID string
	opts   CacheOptions
	memo   map[string]Resolution
}

// NewMetadataCache creates a cache for userID.
func NewMetadataCache(store CacheStore, src services.MetadataSource, userID string, opts CacheOptions) *MetadataCache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}
	return &MetadataCache{
		store:  store,
		src:    src,
		userID: userID,
		opts:   opts,
		memo:   make(map[string]Resolution),
	}
}

// Resolve returns the descriptor for kind and id.
//
// A fresh entry never triggers an external call. A miss or expired entry is
// fetched and stored with a new timestamp. When the fetch fails and an expired
// entry exists, the stale entry is returned if the fallback policy allows it.
// Cache read and write errors degrade to a miss and are only logged.
func (c *MetadataCache) Resolve(ctx context.Context, kind models.EntityKind, id string) Resolution {
	memoKey := string(kind) + ":" + id
	if res, ok := c.memo[memoKey]; ok {
		return res
	}

	res := c.resolve(ctx, kind, id)
	metrics.CacheLookups.WithLabelValues(string(kind), res.Status.String()).Inc()
	if ctx.Err() == nil {
		c.memo[memoKey] = res
	}
	return res
}

func (c *MetadataCache) resolve(ctx context.Context, kind models.EntityKind, id string) Resolution {
	if id == "" {
		return Resolution{Status: Failed, Err: fmt.Errorf("%w: empty %s id", shared.ErrMetadataUnavailable, kind)}
	}

	var (
		entry models.CacheEntry
		found bool
	)
	err := shared.WithTimeout(ctx, c.opts.CallTimeout, func(ctx context.Context) error {
		var err error
		entry, found, err = c.store.Get(ctx, c.userID, kind, id)
		return err
	})
	if err != nil {
		c.opts.Logger.Warn("metadata cache read failed", "kind", kind, "id", id, "error", err)
		found = false
	}

	now := c.opts.Now()
	if found && !entry.Expired(now, c.opts.TTL) {
		return Resolution{Descriptor: entry.Descriptor, Status: Fresh}
	}

	d, err := c.fetch(ctx, kind, id)
	if err != nil {
		if found && c.opts.StaleFallback && !errors.Is(err, context.Canceled) {
			c.opts.Logger.Debug("using stale metadata", "kind", kind, "id", id, "fetched_at", entry.FetchedAt, "error", err)
			return Resolution{Descriptor: entry.Descriptor, Status: StaleFallback}
		}
		return Resolution{Status: Failed, Err: fmt.Errorf("%w: %s %s: %v", shared.ErrMetadataUnavailable, kind, id, err)}
	}

	if d.Kind == "" {
		d.Kind = kind
	}
	if d.ID == "" {
		d.ID = id
	}

	fresh := models.CacheEntry{Descriptor: d, FetchedAt: now}
	err = shared.WithTimeout(ctx, c.opts.CallTimeout, func(ctx context.Context) error {
		return c.store.Put(ctx, c.userID, fresh)
	})
	if err != nil {
		c.opts.Logger.Warn("metadata cache write failed", "kind", kind, "id", id, "error", err)
	}

	return Resolution{Descriptor: d, Status: Fetched}
}

func (c *MetadataCache) fetch(ctx context.Context, kind models.EntityKind, id string) (models.Descriptor, error) {
	policy := c.opts.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.APIRetries.WithLabelValues("metadata").Inc()
		c.opts.Logger.Debug("retrying metadata fetch", "kind", kind, "id", id, "attempt", attempt, "error", err)
	}

	var d models.Descriptor
	err := shared.Retry(ctx, policy, func(ctx context.Context) error {
		return shared.WithTimeout(ctx, c.opts.CallTimeout, func(ctx context.Context) error {
			var err error
			d, err = services.Lookup(ctx, c.src, kind, id)
			return err
		})
	})
	return d, err
}
