package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/services"
	"github.com/desertthunder/spotlog/internal/shared"
)

// TrackHistory lists the track ids of a user's most recent log rows.
type TrackHistory interface {
	RecentTrackIDs(ctx context.Context, userID string, n int) ([]string, error)
}

// BackfillResult counts resolutions by status.
type BackfillResult struct {
	Tracks   int
	Statuses map[ResolveStatus]int
}

// Backfill warms the metadata cache from the last rows log rows: each distinct
// track, then the artists and album its descriptor names. Entries that are
// still fresh cost no API call.
func (e *Engine) Backfill(ctx context.Context, prog chan<- ProgressUpdate, user *models.User, src services.MetadataSource, history TrackHistory, store CacheStore, rows int) (*BackfillResult, error) {
	if rows <= 0 {
		return nil, fmt.Errorf("%w: rows must be positive", shared.ErrInvalidArgument)
	}

	ids, err := history.RecentTrackIDs(ctx, user.ID(), rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent tracks: %w", err)
	}

	logger := shared.WithLogger(e.logger, "user", user.Name())
	cache := NewMetadataCache(store, src, user.ID(), CacheOptions{
		TTL:           e.opts.CacheTTL,
		StaleFallback: e.opts.StaleFallback,
		CallTimeout:   e.opts.CallTimeout,
		Retry:         e.opts.Retry,
		Now:           e.now,
		Logger:        logger,
	})

	result := &BackfillResult{Statuses: make(map[ResolveStatus]int)}
	seen := make(map[string]bool, len(ids))

	for _, id := range ids {
		if seen["track:"+id] {
			continue
		}
		seen["track:"+id] = true
		result.Tracks++

		if err := ctx.Err(); err != nil {
			return result, err
		}

		track := cache.Resolve(ctx, models.KindTrack, id)
		result.Statuses[track.Status]++
		sendProgress(prog, backfillUpdate(user.ID(), result.Tracks, len(ids), id))
		if !track.OK() {
			logger.Warn("track metadata unavailable", "track_id", id, "error", track.Err)
			continue
		}

		for _, artistID := range track.Descriptor.ArtistIDs {
			if key := "artist:" + artistID; !seen[key] {
				seen[key] = true
				result.Statuses[cache.Resolve(ctx, models.KindArtist, artistID).Status]++
			}
		}
		if albumID := track.Descriptor.AlbumID; albumID != "" && !seen["album:"+albumID] {
			seen["album:"+albumID] = true
			result.Statuses[cache.Resolve(ctx, models.KindAlbum, albumID).Status]++
		}
	}

	logger.Info("cache backfill finished", "tracks", result.Tracks,
		"fresh", result.Statuses[Fresh], "fetched", result.Statuses[Fetched], "failed", result.Statuses[Failed])
	return result, nil
}
