package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/tasks"
)

const timeLayout = "2006-01-02 15:04:05 MST"

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return t.UTC().Format(timeLayout)
}

// Outcome colors a run outcome.
func Outcome(o models.Outcome) string {
	switch o {
	case models.OutcomeSuccess:
		return Styles.OK(string(o))
	case models.OutcomePartial:
		return Styles.Warn(string(o))
	default:
		return Styles.Err(string(o))
	}
}

// RenderResult renders one line per sync run.
func RenderResult(res *tasks.SyncResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", Outcome(res.Outcome), res.UserName)

	if res.Err != nil {
		fmt.Fprintf(&b, "  %s", Styles.Err(res.Err.Error()))
		return b.String()
	}

	fmt.Fprintf(&b, "  %d committed, %d duplicates, %d pages", res.Committed, res.Duplicates, res.Pages)
	if skipped := res.OutOfWindow + res.Malformed; skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", skipped)
	}
	fmt.Fprintf(&b, "  %s", Styles.Help("watermark "+formatTime(&res.Watermark)))
	return b.String()
}

func newTable(headers ...string) *table.Table {
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
}

// UsersTable renders the registry.
func UsersTable(users []*models.User) string {
	t := newTable("#", "Name", "Timezone", "Enabled", "Last sync", "Last error")
	for _, u := range users {
		enabled := Styles.OK("yes")
		if !u.Enabled() {
			enabled = Styles.Warn("no")
		}
		t.Row(strconv.Itoa(u.Sequence()), u.Name(), u.Timezone(), enabled, formatTime(u.LastSyncAt()), u.LastError())
	}
	return t.String()
}

// StatusView is everything the status command shows for one user.
type StatusView struct {
	User   *models.User
	State  models.SyncState
	Rows   int
	Cached map[models.EntityKind]int
}

// RenderStatus renders a user's bookkeeping as a two-column table.
func RenderStatus(v StatusView) string {
	lastError := v.State.LastError
	if lastError == "" {
		lastError = Styles.OK("none")
	} else {
		lastError = Styles.Err(lastError)
	}

	run := "idle"
	if v.State.RunID != "" {
		run = Styles.Warn(fmt.Sprintf("%s since %s", v.State.RunID, formatTime(&v.State.RunStartedAt)))
	}

	t := newTable("Field", "Value").
		Row("Watermark", formatTime(&v.State.LastSync)).
		Row("Last error", lastError).
		Row("Run", run).
		Row("Log rows", strconv.Itoa(v.Rows)).
		Row("Cached tracks", strconv.Itoa(v.Cached[models.KindTrack])).
		Row("Cached artists", strconv.Itoa(v.Cached[models.KindArtist])).
		Row("Cached albums", strconv.Itoa(v.Cached[models.KindAlbum]))

	return Styles.Title(v.User.Name()) + "\n" + t.String()
}
