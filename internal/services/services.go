// package services defines the collaborator interfaces of a sync run and implements them for the Spotify Web API
package services

import (
	"context"

	"github.com/desertthunder/spotlog/internal/models"
)

// HistorySource pages through a user's play history.
type HistorySource interface {
	// FetchPage returns events played within window after cursor, oldest first.
	// An empty cursor starts at window.Start. Page.Next is empty when no further
	// page exists.
	//
	// Rate limiting is reported as [shared.RateLimitError], a rejected
	// credential as [shared.ErrAuthFailure] and retryable faults as
	// [shared.ErrTransientIO].
	FetchPage(ctx context.Context, window models.Window, cursor string, pageSize int) (Page, error)
}

// MetadataSource resolves descriptors by id. Unknown ids yield [shared.ErrNotFound].
type MetadataSource interface {
	GetTrack(ctx context.Context, id string) (models.Descriptor, error)
	GetArtist(ctx context.Context, id string) (models.Descriptor, error)
	GetAlbum(ctx context.Context, id string) (models.Descriptor, error)
}

// Source is a combined history and metadata provider, one per user.
type Source interface {
	HistorySource
	MetadataSource
}

// Page is one page of play history.
type Page struct {
	Events []models.PlaybackEvent
	Next   string
}

// Lookup dispatches to the MetadataSource method for kind.
func Lookup(ctx context.Context, src MetadataSource, kind models.EntityKind, id string) (models.Descriptor, error) {
	switch kind {
	case models.KindTrack:
		return src.GetTrack(ctx, id)
	case models.KindArtist:
		return src.GetArtist(ctx, id)
	case models.KindAlbum:
		return src.GetAlbum(ctx, id)
	default:
		_, err := models.ParseEntityKind(string(kind))
		return models.Descriptor{}, err
	}
}
