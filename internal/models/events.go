package models

import (
	"strings"
	"time"
)

// DedupeKeyLayout is RFC 3339 with millisecond precision, always rendered in UTC.
const DedupeKeyLayout = "2006-01-02T15:04:05.000Z07:00"

// DedupeKey identifies a single play: "<played_at>|<track_id>".
type DedupeKey string

// NewDedupeKey builds the key for a track played at t.
func NewDedupeKey(t time.Time, trackID string) DedupeKey {
	return DedupeKey(t.UTC().Format(DedupeKeyLayout) + "|" + trackID)
}

// Parts splits the key back into its instant and track id.
func (k DedupeKey) Parts() (time.Time, string, bool) {
	ts, id, ok := strings.Cut(string(k), "|")
	if !ok {
		return time.Time{}, "", false
	}
	t, err := time.Parse(DedupeKeyLayout, ts)
	if err != nil {
		return time.Time{}, "", false
	}
	return t, id, true
}

func (k DedupeKey) String() string { return string(k) }

// PlaybackEvent is one play as reported by the history source. Values are never mutated after fetch.
type PlaybackEvent struct {
	TrackID     string
	PlayedAt    time.Time
	TrackName   string
	ArtistIDs   []string
	ArtistNames []string
	AlbumID     string
	AlbumName   string
	TrackURL    string
}

// Key returns the event's dedupe key.
func (e PlaybackEvent) Key() DedupeKey {
	return NewDedupeKey(e.PlayedAt, e.TrackID)
}

// Window is the inclusive time range a run fetches.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within [Start, End].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// LogRow is the five-column row appended to a user's play log.
type LogRow struct {
	Date     string
	Title    string
	Artists  string
	TrackID  string
	TrackURL string
}

// Values returns the row as ordered columns.
func (r LogRow) Values() []string {
	return []string{r.Date, r.Title, r.Artists, r.TrackID, r.TrackURL}
}

// LogHeaders are the column names of a [LogRow], in order.
var LogHeaders = []string{"date", "track_name", "artist_name", "track_id", "track_url"}
