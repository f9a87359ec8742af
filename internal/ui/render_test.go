package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/tasks"
)

func TestRenderResult(t *testing.T) {
	watermark := time.Date(2025, 11, 12, 10, 42, 0, 0, time.UTC)

	tests := []struct {
		name string
		res  *tasks.SyncResult
		want []string
	}{
		{
			name: "success",
			res: &tasks.SyncResult{UserName: "alice", Outcome: models.OutcomeSuccess,
				Committed: 3, Duplicates: 1, Pages: 2, Watermark: watermark},
			want: []string{"success", "alice", "3 committed", "1 duplicates", "2025-11-12 10:42:00"},
		},
		{
			name: "skipped events",
			res:  &tasks.SyncResult{UserName: "bob", Outcome: models.OutcomePartial, OutOfWindow: 2, Malformed: 1},
			want: []string{"partial", "3 skipped"},
		},
		{
			name: "failure",
			res:  &tasks.SyncResult{UserName: "carol", Outcome: models.OutcomeFailure, Err: errors.New("token revoked")},
			want: []string{"failure", "carol", "token revoked"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderResult(tt.res)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("expected %q in %q", w, got)
				}
			}
		})
	}
}

func TestUsersTable(t *testing.T) {
	alice := models.NewUser(1, "alice", "token")
	bob := models.NewUser(2, "bob", "token")
	bob.SetEnabled(false)
	bob.SetLastError("authentication failed")

	got := UsersTable([]*models.User{alice, bob})
	for _, w := range []string{"Name", "alice", "bob", "never", "no", "authentication failed"} {
		if !strings.Contains(got, w) {
			t.Errorf("expected %q in table:\n%s", w, got)
		}
	}
}

func TestRenderStatus(t *testing.T) {
	user := models.NewUser(1, "alice", "token")

	t.Run("never synced", func(t *testing.T) {
		got := RenderStatus(StatusView{User: user})
		for _, w := range []string{"alice", "never", "idle", "none"} {
			if !strings.Contains(got, w) {
				t.Errorf("expected %q in status:\n%s", w, got)
			}
		}
	})

	t.Run("running with error", func(t *testing.T) {
		got := RenderStatus(StatusView{
			User:   user,
			State:  models.SyncState{LastError: "rate limited", RunID: "run-1", RunStartedAt: time.Now()},
			Rows:   42,
			Cached: map[models.EntityKind]int{models.KindTrack: 7},
		})
		for _, w := range []string{"rate limited", "run-1", "42", "7"} {
			if !strings.Contains(got, w) {
				t.Errorf("expected %q in status:\n%s", w, got)
			}
		}
	})
}
