package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"

	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/shared"
	"github.com/desertthunder/spotlog/internal/tasks"
)

type fakeSyncer struct {
	results map[string]*tasks.SyncResult
	states  map[string]models.SyncState
	calls   []string
}

func (f *fakeSyncer) Sync(ctx context.Context, name string) (*tasks.SyncResult, error) {
	f.calls = append(f.calls, name)
	res, ok := f.results[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrUserNotFound, name)
	}
	return res, nil
}

func (f *fakeSyncer) State(ctx context.Context, name string) (models.SyncState, error) {
	state, ok := f.states[name]
	if !ok {
		return models.SyncState{}, fmt.Errorf("%w: %s", shared.ErrUserNotFound, name)
	}
	return state, nil
}

func newTestRouter(t *testing.T) (*BasicRouter, *fakeSyncer) {
	t.Helper()
	watermark := time.Date(2025, 11, 12, 11, 0, 0, 0, time.UTC)
	syncer := &fakeSyncer{
		results: map[string]*tasks.SyncResult{
			"alice": {UserName: "alice", RunID: "run-1", Outcome: models.OutcomeSuccess, Committed: 3, Watermark: watermark},
			"bob": {UserName: "bob", Outcome: models.OutcomeFailure,
				Err: fmt.Errorf("failed to acquire run marker: %w", shared.ErrConcurrentRun)},
			"carol": {UserName: "carol", Outcome: models.OutcomeFailure,
				Err: fmt.Errorf("%w: token revoked", shared.ErrAuthFailure)},
		},
		states: map[string]models.SyncState{
			"alice": {LastSync: watermark},
		},
	}
	return NewRouter(syncer, log.New(io.Discard)), syncer
}

func serve(router http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRouter(t *testing.T) {
	t.Run("health", func(t *testing.T) {
		router, _ := newTestRouter(t)
		rec := serve(router, http.MethodGet, "/healthz")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
			t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("metrics", func(t *testing.T) {
		router, _ := newTestRouter(t)
		serve(router, http.MethodGet, "/healthz")

		rec := serve(router, http.MethodGet, "/metrics")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "spotlog_http_requests_total") {
			t.Error("expected request counter in metrics output")
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		router, syncer := newTestRouter(t)
		rec := serve(router, http.MethodGet, "/sync/alice")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
		if len(syncer.calls) != 0 {
			t.Error("sync ran on a GET request")
		}
	})
}

func TestSyncHandler(t *testing.T) {
	tests := []struct {
		name    string
		user    string
		status  int
		outcome string
	}{
		{name: "success", user: "alice", status: http.StatusOK, outcome: "success"},
		{name: "concurrent run", user: "bob", status: http.StatusConflict, outcome: "failure"},
		{name: "auth failure", user: "carol", status: http.StatusBadGateway, outcome: "failure"},
		{name: "unknown user", user: "nobody", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, syncer := newTestRouter(t)
			rec := serve(router, http.MethodPost, "/sync/"+tt.user)

			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if len(syncer.calls) != 1 || syncer.calls[0] != tt.user {
				t.Errorf("unexpected sync calls %v", syncer.calls)
			}
			if tt.outcome == "" {
				return
			}

			var body SyncResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Outcome != tt.outcome || body.User != tt.user {
				t.Errorf("unexpected body %+v", body)
			}
			if tt.outcome == "failure" && body.Error == "" {
				t.Error("expected error message in failed response")
			}
		})
	}

	t.Run("watermark is reported", func(t *testing.T) {
		router, _ := newTestRouter(t)
		rec := serve(router, http.MethodPost, "/sync/alice")

		var body SyncResponse
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body.Watermark == nil || body.Watermark.Hour() != 11 || body.Committed != 3 {
			t.Errorf("unexpected body %+v", body)
		}
	})
}

func TestStateHandler(t *testing.T) {
	router, _ := newTestRouter(t)

	t.Run("known user", func(t *testing.T) {
		rec := serve(router, http.MethodGet, "/users/alice/state")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var body StateResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		if body.LastSync == nil || body.RunID != "" || body.RunStartedAt != nil {
			t.Errorf("unexpected body %+v", body)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := serve(router, http.MethodGet, "/users/nobody/state")
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestRecover(t *testing.T) {
	handler := Recover(log.New(io.Discard))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewHTTPServer("127.0.0.1:0", http.NotFoundHandler())

	done := make(chan error, 1)
	go func() { done <- Run(ctx, srv, log.New(io.Discard)) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
