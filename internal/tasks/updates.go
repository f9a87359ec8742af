package tasks

import (
	"fmt"
	"time"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	UserID  string // User the update belongs to
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	LoadState Phase = iota
	FetchHistory
	ResolveMetadata
	CommitRows
	SaveState
	SyncUsers
	BackfillCache
)

func (p Phase) String() string {
	switch p {
	case LoadState:
		return "load_state"
	case FetchHistory:
		return "fetch_history"
	case ResolveMetadata:
		return "resolve_metadata"
	case CommitRows:
		return "commit_rows"
	case SaveState:
		return "save_state"
	case SyncUsers:
		return "sync_users"
	case BackfillCache:
		return "backfill_cache"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func loadStateUpdate(userID string, start, end time.Time) ProgressUpdate {
	return ProgressUpdate{
		UserID:  userID,
		Phase:   LoadState,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Syncing window %s to %s", start.Format(time.RFC3339), end.Format(time.RFC3339)),
	}
}

func fetchedPageUpdate(userID string, page, maxPages, events int) ProgressUpdate {
	return ProgressUpdate{
		UserID:  userID,
		Phase:   FetchHistory,
		Step:    page,
		Total:   maxPages,
		Message: fmt.Sprintf("Fetched page %d (%d plays)", page, events),
	}
}

func commitRowsUpdate(userID string, step, total int, title string) ProgressUpdate {
	return ProgressUpdate{
		UserID:  userID,
		Phase:   CommitRows,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s", step, total, title),
	}
}

func saveStateUpdate(userID string, res *SyncResult) ProgressUpdate {
	return ProgressUpdate{
		UserID:  userID,
		Phase:   SaveState,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Run %s: %d committed, %d duplicates", res.Outcome, res.Committed, res.Duplicates),
		Data:    res,
	}
}

func userCompletedUpdate(step, total int, res *SyncResult) ProgressUpdate {
	mark := "✓"
	if res.Err != nil {
		mark = "✗"
	}
	return ProgressUpdate{
		UserID:  res.UserID,
		Phase:   SyncUsers,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s %s: %s", step, total, mark, res.UserName, res.Message),
		Data:    res,
	}
}

func backfillUpdate(userID string, step, total int, trackID string) ProgressUpdate {
	return ProgressUpdate{
		UserID:  userID,
		Phase:   BackfillCache,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s", step, total, trackID),
	}
}
