// package formatter renders playback events as log rows and exports a user's log to CSV, Markdown or plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/shared"
)

const (
	// DateLayout renders e.g. "November 12, 2025 at 10:42AM".
	DateLayout = "January 2, 2006 at 3:04PM"

	trackURLPrefix = "https://open.spotify.com/track/"
	artistSep      = ", "
)

// Export formats accepted by [Export].
const (
	FormatCSV      = "csv"
	FormatMarkdown = "md"
	FormatText     = "txt"
)

// Metadata carries the descriptors resolved for one event.
// Zero descriptors fall back to the event's raw fields.
type Metadata struct {
	Track   models.Descriptor
	Artists []models.Descriptor
}

// FormatPlayedAt renders t in loc. A nil loc means UTC.
func FormatPlayedAt(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// TrackURL returns the canonical open.spotify.com link for id.
func TrackURL(id string) string {
	return trackURLPrefix + id
}

// FormatRow builds the log row for e. It fails with [shared.ErrMalformedEvent]
// when the event has no track id, no played-at time or no title at all.
func FormatRow(e models.PlaybackEvent, loc *time.Location, meta Metadata) (models.LogRow, error) {
	id := strings.TrimSpace(e.TrackID)
	if id == "" {
		return models.LogRow{}, fmt.Errorf("%w: missing track id", shared.ErrMalformedEvent)
	}
	if e.PlayedAt.IsZero() {
		return models.LogRow{}, fmt.Errorf("%w: missing played_at for track %s", shared.ErrMalformedEvent, id)
	}

	title := e.TrackName
	if meta.Track.Name != "" {
		title = meta.Track.Name
	}
	if strings.TrimSpace(title) == "" {
		return models.LogRow{}, fmt.Errorf("%w: missing title for track %s", shared.ErrMalformedEvent, id)
	}

	return models.LogRow{
		Date:     FormatPlayedAt(e.PlayedAt, loc),
		Title:    title,
		Artists:  strings.Join(artistNames(e, meta.Artists), artistSep),
		TrackID:  id,
		TrackURL: TrackURL(id),
	}, nil
}

// artistNames prefers resolved names, position by position, over the raw ones.
func artistNames(e models.PlaybackEvent, resolved []models.Descriptor) []string {
	n := max(len(e.ArtistNames), len(resolved))
	names := make([]string, 0, n)
	for i := range n {
		var name string
		if i < len(resolved) {
			name = resolved[i].Name
		}
		if name == "" && i < len(e.ArtistNames) {
			name = e.ArtistNames[i]
		}
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// ExportToCSV writes rows with a header line of [models.LogHeaders].
func ExportToCSV(rows []models.LogRow) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(models.LogHeaders); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, row := range rows {
		if err := writer.Write(row.Values()); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown renders rows as a Markdown table under a heading for user.
func ExportToMarkdown(user string, rows []models.LogRow) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Listening log: %s\n\n", user)
	fmt.Fprintf(&buf, "**Plays**: %d\n\n", len(rows))

	buf.WriteString("| Date | Track | Artists |\n")
	buf.WriteString("|---|---|---|\n")
	for _, row := range rows {
		fmt.Fprintf(&buf, "| %s | [%s](%s) | %s |\n",
			escapeCell(row.Date), escapeCell(row.Title), row.TrackURL, escapeCell(row.Artists))
	}

	return buf.Bytes(), nil
}

// ExportToText renders one numbered line per row.
func ExportToText(user string, rows []models.LogRow) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "User: %s\n", user)
	fmt.Fprintf(&buf, "Plays: %d\n\n", len(rows))

	for i, row := range rows {
		fmt.Fprintf(&buf, "%d. %s - %s (%s)\n", i+1, row.Artists, row.Title, row.Date)
	}

	return buf.Bytes(), nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// Export renders rows in format.
func Export(format, user string, rows []models.LogRow) ([]byte, error) {
	switch format {
	case FormatCSV:
		return ExportToCSV(rows)
	case FormatMarkdown, "markdown":
		return ExportToMarkdown(user, rows)
	case FormatText, "text":
		return ExportToText(user, rows)
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, format)
	}
}

// WriteExport renders rows in format and writes them to path.
//
// Defaults to {user}_log.{format} when path is empty.
func WriteExport(format, user string, rows []models.LogRow, path string) (string, error) {
	data, err := Export(format, user, rows)
	if err != nil {
		return "", err
	}

	if path == "" {
		path = fmt.Sprintf("%s_log.%s", user, format)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	return path, nil
}
