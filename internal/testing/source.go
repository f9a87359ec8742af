package testing

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/services"
	"github.com/desertthunder/spotlog/internal/shared"
)

// FakeSource is an in-memory [services.Source] that pages like the recently-played
// endpoint: events strictly after the cursor, oldest first, with a cursor only on
// full pages.
type FakeSource struct {
	mu sync.Mutex

	events    []models.PlaybackEvent
	malformed []models.PlaybackEvent
	meta      map[string]models.Descriptor
	metaErrs  map[string]error
	pageErrs  []error

	pageCalls int
	metaCalls map[models.EntityKind]int
}

// NewFakeSource creates a source holding events.
func NewFakeSource(events ...models.PlaybackEvent) *FakeSource {
	f := &FakeSource{
		meta:      make(map[string]models.Descriptor),
		metaErrs:  make(map[string]error),
		metaCalls: make(map[models.EntityKind]int),
	}
	f.AddEvents(events...)
	return f
}

func metaKey(kind models.EntityKind, id string) string { return string(kind) + ":" + id }

// AddEvents appends plays to the history.
func (f *FakeSource) AddEvents(events ...models.PlaybackEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
	sort.SliceStable(f.events, func(i, j int) bool {
		return f.events[i].PlayedAt.Before(f.events[j].PlayedAt)
	})
}

// AddMalformed adds events returned verbatim at the end of the first page.
func (f *FakeSource) AddMalformed(events ...models.PlaybackEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.malformed = append(f.malformed, events...)
}

// SetDescriptor registers metadata returned for d.Kind and d.ID.
func (f *FakeSource) SetDescriptor(d models.Descriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meta[metaKey(d.Kind, d.ID)] = d
}

// FailMetadata makes lookups of kind and id return err. A nil err clears it.
func (f *FakeSource) FailMetadata(kind models.EntityKind, id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.metaErrs, metaKey(kind, id))
		return
	}
	f.metaErrs[metaKey(kind, id)] = err
}

// FailPages queues errors returned by the next FetchPage calls, one per call.
func (f *FakeSource) FailPages(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageErrs = append(f.pageErrs, errs...)
}

// PageCalls reports how many times FetchPage was called.
func (f *FakeSource) PageCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageCalls
}

// MetadataCalls reports how many lookups of kind reached the source.
func (f *FakeSource) MetadataCalls(kind models.EntityKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metaCalls[kind]
}

// FetchPage implements [services.HistorySource].
func (f *FakeSource) FetchPage(ctx context.Context, window models.Window, cursor string, pageSize int) (services.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pageCalls++
	if err := ctx.Err(); err != nil {
		return services.Page{}, err
	}
	if len(f.pageErrs) > 0 {
		err := f.pageErrs[0]
		f.pageErrs = f.pageErrs[1:]
		if err != nil {
			return services.Page{}, err
		}
	}

	after := window.Start.UnixMilli() - 1
	if cursor != "" {
		ms, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return services.Page{}, fmt.Errorf("%w: bad cursor %q", shared.ErrInvalidArgument, cursor)
		}
		after = ms
	}

	var page services.Page
	for _, e := range f.events {
		if e.PlayedAt.UnixMilli() <= after {
			continue
		}
		page.Events = append(page.Events, e)
		if len(page.Events) == pageSize {
			break
		}
	}

	if len(page.Events) == pageSize {
		newest := page.Events[len(page.Events)-1].PlayedAt
		if !newest.After(window.End) {
			page.Next = strconv.FormatInt(newest.UnixMilli(), 10)
		}
	}

	if cursor == "" {
		page.Events = append(page.Events, f.malformed...)
	}
	return page, nil
}

func (f *FakeSource) lookup(ctx context.Context, kind models.EntityKind, id string) (models.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.metaCalls[kind]++
	if err := ctx.Err(); err != nil {
		return models.Descriptor{}, err
	}
	if err, ok := f.metaErrs[metaKey(kind, id)]; ok {
		return models.Descriptor{}, err
	}
	if d, ok := f.meta[metaKey(kind, id)]; ok {
		return d, nil
	}
	return models.Descriptor{}, fmt.Errorf("%w: %s %s", shared.ErrNotFound, kind, id)
}

func (f *FakeSource) GetTrack(ctx context.Context, id string) (models.Descriptor, error) {
	return f.lookup(ctx, models.KindTrack, id)
}

func (f *FakeSource) GetArtist(ctx context.Context, id string) (models.Descriptor, error) {
	return f.lookup(ctx, models.KindArtist, id)
}

func (f *FakeSource) GetAlbum(ctx context.Context, id string) (models.Descriptor, error) {
	return f.lookup(ctx, models.KindAlbum, id)
}
