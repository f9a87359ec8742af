package models

import (
	"fmt"
	"time"
)

// EntityKind names the kind of metadata a [Descriptor] holds.
type EntityKind string

const (
	KindTrack  EntityKind = "track"
	KindArtist EntityKind = "artist"
	KindAlbum  EntityKind = "album"
)

// ParseEntityKind validates s as an [EntityKind].
func ParseEntityKind(s string) (EntityKind, error) {
	switch k := EntityKind(s); k {
	case KindTrack, KindArtist, KindAlbum:
		return k, nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
}

// Descriptor is resolved metadata for a track, artist or album.
// Fields that do not apply to a kind are left empty.
type Descriptor struct {
	Kind        EntityKind `json:"kind"`
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	ArtistIDs   []string   `json:"artist_ids,omitempty"`
	AlbumID     string     `json:"album_id,omitempty"`
	DurationMS  int        `json:"duration_ms,omitempty"`
	Genres      []string   `json:"genres,omitempty"`
	ReleaseDate string     `json:"release_date,omitempty"`
}

// CacheEntry pairs a [Descriptor] with the time it was fetched.
type CacheEntry struct {
	Descriptor Descriptor
	FetchedAt  time.Time
}

// Expired reports whether the entry is at least ttl old at now.
func (e CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.FetchedAt) >= ttl
}
