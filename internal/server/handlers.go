package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/shared"
	"github.com/desertthunder/spotlog/internal/tasks"
)

// Syncer runs and inspects sync runs for a user addressed by name.
type Syncer interface {
	Sync(ctx context.Context, userName string) (*tasks.SyncResult, error)
	State(ctx context.Context, userName string) (models.SyncState, error)
}

// SyncResponse is the JSON body returned by the sync trigger.
type SyncResponse struct {
	User        string     `json:"user"`
	RunID       string     `json:"run_id,omitempty"`
	Outcome     string     `json:"outcome"`
	Pages       int        `json:"pages"`
	Fetched     int        `json:"fetched"`
	Committed   int        `json:"committed"`
	Duplicates  int        `json:"duplicates"`
	OutOfWindow int        `json:"out_of_window"`
	Malformed   int        `json:"malformed"`
	Watermark   *time.Time `json:"watermark,omitempty"`
	Message     string     `json:"message,omitempty"`
	Error       string     `json:"error,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
}

// StateResponse is the JSON body describing a user's bookkeeping.
type StateResponse struct {
	User         string     `json:"user"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	RunID        string     `json:"run_id,omitempty"`
	RunStartedAt *time.Time `json:"run_started_at,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrUserNotFound), errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConcurrentRun):
		return http.StatusConflict
	case errors.Is(err, shared.ErrInvalidArgument), errors.Is(err, shared.ErrMissingArgument):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrAuthFailure), errors.Is(err, shared.ErrRateLimited),
		errors.Is(err, shared.ErrTransientIO), errors.Is(err, shared.ErrServiceUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// SyncHandler triggers a sync run for one user.
type SyncHandler struct {
	syncer Syncer
	logger *log.Logger
}

// NewSyncHandler creates a [SyncHandler].
func NewSyncHandler(syncer Syncer, logger *log.Logger) *SyncHandler {
	return &SyncHandler{syncer: syncer, logger: logger}
}

// Routes returns the HTTP routes this handler serves.
func (h *SyncHandler) Routes() []string {
	return []string{"POST /sync/{user}"}
}

// ServeHTTP runs the sync synchronously and reports the result. Success and
// partial runs answer 200; failed runs answer with the status of their error.
func (h *SyncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("user")

	res, err := h.syncer.Sync(r.Context(), name)
	if err != nil {
		h.logger.Warn("sync request rejected", "user", name, "error", err)
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}

	body := SyncResponse{
		User:        name,
		RunID:       res.RunID,
		Outcome:     string(res.Outcome),
		Pages:       res.Pages,
		Fetched:     res.Fetched,
		Committed:   res.Committed,
		Duplicates:  res.Duplicates,
		OutOfWindow: res.OutOfWindow,
		Malformed:   res.Malformed,
		Watermark:   timePtr(res.Watermark),
		Message:     res.Message,
		DurationMS:  res.Duration.Milliseconds(),
	}

	status := http.StatusOK
	if res.Err != nil {
		body.Error = res.Err.Error()
		status = statusFor(res.Err)
	}
	writeJSON(w, status, body)
}

// StateHandler reports a user's sync bookkeeping.
type StateHandler struct {
	syncer Syncer
}

// NewStateHandler creates a [StateHandler].
func NewStateHandler(syncer Syncer) *StateHandler {
	return &StateHandler{syncer: syncer}
}

// Routes returns the HTTP routes this handler serves.
func (h *StateHandler) Routes() []string {
	return []string{"GET /users/{user}/state"}
}

func (h *StateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("user")

	state, err := h.syncer.State(r.Context(), name)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, StateResponse{
		User:         name,
		LastSync:     timePtr(state.LastSync),
		LastError:    state.LastError,
		RunID:        state.RunID,
		RunStartedAt: timePtr(state.RunStartedAt),
	})
}

// NewRouter wires the sync service routes: health, metrics, sync trigger and state.
func NewRouter(syncer Syncer, logger *log.Logger) *BasicRouter {
	router := NewBasicRouter()
	router.Use(Recover(logger), RequestLogger(logger), Instrument)

	router.Handle(http.MethodGet, "/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
	router.Handle(http.MethodGet, "/metrics", promhttp.Handler())
	router.Handler(NewSyncHandler(syncer, logger))
	router.Handler(NewStateHandler(syncer))

	return router
}
