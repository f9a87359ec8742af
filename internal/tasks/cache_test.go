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

func TestMetadataCache(t *testing.T) {
	ctx := context.Background()
	now := base
	ttl := 24 * time.Hour
	track := models.Descriptor{Kind: models.KindTrack, ID: "t1", Name: "Song"}

	newCache := func(src *tu.FakeSource, store *tu.MemoryCache, fallback bool) *MetadataCache {
		return NewMetadataCache(store, src, "u1", CacheOptions{
			TTL:           ttl,
			StaleFallback: fallback,
			CallTimeout:   time.Second,
			Retry:         shared.RetryPolicy{Attempts: 2, Sleep: noSleep},
			Now:           func() time.Time { return now },
		})
	}

	t.Run("fresh entry makes no external call", func(t *testing.T) {
		src := tu.NewFakeSource()
		store := tu.NewMemoryCache()
		store.Put(ctx, "u1", models.CacheEntry{Descriptor: track, FetchedAt: now.Add(-time.Hour)})

		res := newCache(src, store, true).Resolve(ctx, models.KindTrack, "t1")
		if res.Status != Fresh || res.Descriptor.Name != "Song" {
			t.Errorf("expected fresh hit, got %+v", res)
		}
		if src.MetadataCalls(models.KindTrack) != 0 {
			t.Errorf("fresh entry triggered %d fetches", src.MetadataCalls(models.KindTrack))
		}
	})

	t.Run("expired entry is fetched once", func(t *testing.T) {
		src := tu.NewFakeSource()
		src.SetDescriptor(models.Descriptor{Kind: models.KindTrack, ID: "t1", Name: "Song v2"})
		store := tu.NewMemoryCache()
		store.Put(ctx, "u1", models.CacheEntry{Descriptor: track, FetchedAt: now.Add(-ttl)})

		cache := newCache(src, store, true)
		res := cache.Resolve(ctx, models.KindTrack, "t1")
		if res.Status != Fetched || res.Descriptor.Name != "Song v2" {
			t.Errorf("expected refetch, got %+v", res)
		}

		again := cache.Resolve(ctx, models.KindTrack, "t1")
		if again.Descriptor.Name != "Song v2" {
			t.Errorf("memo returned %+v", again)
		}
		if src.MetadataCalls(models.KindTrack) != 1 {
			t.Errorf("expected exactly one fetch, got %d", src.MetadataCalls(models.KindTrack))
		}

		entry, ok, _ := store.Get(ctx, "u1", models.KindTrack, "t1")
		if !ok || !entry.FetchedAt.Equal(now) || entry.Descriptor.Name != "Song v2" {
			t.Errorf("cache not refreshed: %+v", entry)
		}
	})

	t.Run("miss is fetched and stored", func(t *testing.T) {
		src := tu.NewFakeSource()
		src.SetDescriptor(models.Descriptor{Kind: models.KindArtist, ID: "a1", Name: "Artist"})
		store := tu.NewMemoryCache()

		res := newCache(src, store, true).Resolve(ctx, models.KindArtist, "a1")
		if res.Status != Fetched {
			t.Errorf("expected fetched, got %s", res.Status)
		}
		if store.Puts() != 1 {
			t.Errorf("expected one cache write, got %d", store.Puts())
		}
	})

	t.Run("stale fallback", func(t *testing.T) {
		tests := []struct {
			name     string
			fallback bool
			want     ResolveStatus
		}{
			{"allowed", true, StaleFallback},
			{"disabled", false, Failed},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				src := tu.NewFakeSource()
				src.FailMetadata(models.KindTrack, "t1", fmt.Errorf("%w: 502", shared.ErrTransientIO))
				store := tu.NewMemoryCache()
				store.Put(ctx, "u1", models.CacheEntry{Descriptor: track, FetchedAt: now.Add(-2 * ttl)})

				res := newCache(src, store, tt.fallback).Resolve(ctx, models.KindTrack, "t1")
				if res.Status != tt.want {
					t.Fatalf("expected %s, got %s", tt.want, res.Status)
				}
				if tt.want == StaleFallback && res.Descriptor.Name != "Song" {
					t.Errorf("expected stale descriptor, got %+v", res.Descriptor)
				}
				if tt.want == Failed && !errors.Is(res.Err, shared.ErrMetadataUnavailable) {
					t.Errorf("expected ErrMetadataUnavailable, got %v", res.Err)
				}
				if src.MetadataCalls(models.KindTrack) != 2 {
					t.Errorf("expected transient failure retried once, got %d calls", src.MetadataCalls(models.KindTrack))
				}
			})
		}
	})

	t.Run("missing entry with failing source", func(t *testing.T) {
		res := newCache(tu.NewFakeSource(), tu.NewMemoryCache(), true).Resolve(ctx, models.KindAlbum, "nope")
		if res.OK() || !errors.Is(res.Err, shared.ErrMetadataUnavailable) {
			t.Errorf("expected failure, got %+v", res)
		}
	})

	t.Run("empty id", func(t *testing.T) {
		src := tu.NewFakeSource()
		res := newCache(src, tu.NewMemoryCache(), true).Resolve(ctx, models.KindArtist, "")
		if res.Status != Failed || src.MetadataCalls(models.KindArtist) != 0 {
			t.Errorf("expected failure without a fetch, got %+v", res)
		}
	})

	t.Run("status names", func(t *testing.T) {
		for status, want := range map[ResolveStatus]string{
			Fresh:         "fresh",
			Fetched:       "fetched",
			StaleFallback: "stale_fallback",
			Failed:        "failed",
		} {
			if status.String() != want {
				t.Errorf("%d.String() = %q, want %q", status, status.String(), want)
			}
		}
	})
}
