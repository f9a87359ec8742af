package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"

	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/repositories"
	"github.com/desertthunder/spotlog/internal/services"
	"github.com/desertthunder/spotlog/internal/shared"
	"github.com/desertthunder/spotlog/internal/tasks"
	"github.com/desertthunder/spotlog/internal/ui"
)

// spotifyFor builds a Spotify client authorized as user. Rotated refresh
// tokens are written back to the registry.
func (r *Runner) spotifyFor(user *models.User, users *repositories.UserRepository) (*services.SpotifyService, error) {
	if err := r.config.RequireCredentials(); err != nil {
		return nil, err
	}

	svc, err := services.NewSpotifyService(services.SpotifyOptions{
		ClientID:          r.config.Spotify.ClientID,
		ClientSecret:      r.config.Spotify.ClientSecret,
		RefreshToken:      user.RefreshToken(),
		TokenURL:          r.config.Spotify.TokenURL,
		BaseURL:           r.config.Spotify.APIBaseURL,
		RequestsPerSecond: r.config.Spotify.RequestsPerSecond,
		HTTPClient:        r.httpClient,
		Logger:            shared.WithLogger(r.logger, "user", user.Name()),
	})
	if err != nil {
		return nil, err
	}

	svc.SetTokenRefreshCallback(func(token *oauth2.Token) {
		if token.RefreshToken == "" || token.RefreshToken == user.RefreshToken() {
			return
		}
		user.SetRefreshToken(token.RefreshToken)
		if err := users.Update(user); err != nil {
			r.logger.Warn("failed to persist rotated refresh token", "user", user.Name(), "error", err)
			return
		}
		r.logger.Debug("refresh token rotated", "user", user.Name())
	})

	return svc, nil
}

// provider hands every run a breaker-guarded client and the shared SQLite stores.
func (r *Runner) provider(db *sql.DB, users *repositories.UserRepository) tasks.Provider {
	stores := tasks.SQLiteStores(db)
	return func(ctx context.Context, user *models.User) (services.Source, tasks.Stores, error) {
		svc, err := r.spotifyFor(user, users)
		if err != nil {
			return nil, tasks.Stores{}, err
		}
		return r.breaker.Wrap(svc), stores, nil
	}
}

// syncOne runs a single user by id or name and records the outcome on the registry.
func (r *Runner) syncOne(ctx context.Context, ref string, progress chan<- tasks.ProgressUpdate) (*tasks.SyncResult, error) {
	db, err := r.database()
	if err != nil {
		return nil, err
	}
	users := repositories.NewUserRepository(db)

	user, err := users.Find(ref)
	if err != nil {
		return nil, err
	}
	if !user.Enabled() {
		return nil, fmt.Errorf("%w: user %s is disabled", shared.ErrInvalidArgument, user.Name())
	}

	src, stores, err := r.provider(db, users)(ctx, user)
	if err != nil {
		return nil, err
	}

	res := r.engine.SyncUser(ctx, user, src, stores, progress)
	var syncedAt *time.Time
	lastError := ""
	if res.Err != nil {
		lastError = res.Err.Error()
	} else {
		syncedAt = &res.Watermark
	}
	if err := users.RecordSyncResult(user.ID(), syncedAt, lastError); err != nil {
		r.logger.Warn("failed to update registry", "user", user.Name(), "error", err)
	}
	return res, nil
}

// syncAll runs every enabled user.
func (r *Runner) syncAll(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*tasks.SyncAllResult, error) {
	db, err := r.database()
	if err != nil {
		return nil, err
	}
	users := repositories.NewUserRepository(db)

	enabled, err := users.List(map[string]any{"enabled": true})
	if err != nil {
		return nil, err
	}

	return r.engine.SyncAll(ctx, progress, enabled, r.provider(db, users), tasks.SyncAllOpts{
		Workers:       r.config.Sync.Workers,
		RunsPerSecond: r.config.Sync.RunsPerSecond,
		Registry:      users,
	}), nil
}

// watchProgress logs updates until the channel closes.
func (r *Runner) watchProgress(progress <-chan tasks.ProgressUpdate, done chan<- struct{}) {
	defer close(done)
	for u := range progress {
		r.logger.Debug(u.Message, "phase", u.Phase, "step", u.Step, "total", u.Total)
	}
}

// SyncRun syncs one user (--user) or every enabled user (--all).
func (r *Runner) SyncRun(ctx context.Context, cmd *cli.Command) error {
	ref := cmd.String("user")
	all := cmd.Bool("all")

	switch {
	case ref == "" && !all:
		return fmt.Errorf("%w: either --user or --all must be provided", shared.ErrMissingArgument)
	case ref != "" && all:
		return fmt.Errorf("%w: cannot specify both --user and --all", shared.ErrInvalidArgument)
	}

	progress := make(chan tasks.ProgressUpdate, 64)
	done := make(chan struct{})
	go r.watchProgress(progress, done)

	var results []*tasks.SyncResult
	if all {
		summary, err := r.syncAll(ctx, progress)
		close(progress)
		<-done
		if err != nil {
			return err
		}
		results = summary.Results
		r.logger.Info("sync finished", "users", summary.Total,
			"succeeded", summary.Succeeded, "partial", summary.Partial, "failed", summary.Failed)
	} else {
		res, err := r.syncOne(ctx, ref, progress)
		close(progress)
		<-done
		if err != nil {
			return err
		}
		results = []*tasks.SyncResult{res}
	}

	if cmd.Bool("json") {
		return r.writeJSON(summarize(results), true)
	}

	r.writePlain("%s\n", ui.Styles.Title("Sync results"))
	for _, res := range results {
		r.writePlain("%s\n", ui.RenderResult(res))
	}

	for _, res := range results {
		if res.Err != nil && !all {
			return fmt.Errorf("sync failed for %s: %w", res.UserName, res.Err)
		}
	}
	return nil
}

// syncSummary is the JSON form of a [tasks.SyncResult].
type syncSummary struct {
	User       string `json:"user"`
	Outcome    string `json:"outcome"`
	Pages      int    `json:"pages"`
	Committed  int    `json:"committed"`
	Duplicates int    `json:"duplicates"`
	Watermark  string `json:"watermark,omitempty"`
	Error      string `json:"error,omitempty"`
}

func summarize(results []*tasks.SyncResult) []syncSummary {
	out := make([]syncSummary, 0, len(results))
	for _, res := range results {
		s := syncSummary{
			User:       res.UserName,
			Outcome:    string(res.Outcome),
			Pages:      res.Pages,
			Committed:  res.Committed,
			Duplicates: res.Duplicates,
		}
		if !res.Watermark.IsZero() {
			s.Watermark = res.Watermark.UTC().Format(time.RFC3339)
		}
		if res.Err != nil {
			s.Error = res.Err.Error()
		}
		out = append(out, s)
	}
	return out
}

// httpSyncer serves the HTTP trigger and state endpoints from the registry.
type httpSyncer struct {
	r *Runner
}

func (h httpSyncer) Sync(ctx context.Context, userName string) (*tasks.SyncResult, error) {
	return h.r.syncOne(ctx, userName, nil)
}

func (h httpSyncer) State(ctx context.Context, userName string) (models.SyncState, error) {
	db, err := h.r.database()
	if err != nil {
		return models.SyncState{}, err
	}
	user, err := repositories.NewUserRepository(db).Find(userName)
	if err != nil {
		return models.SyncState{}, err
	}
	return repositories.NewStateRepository(db).Load(ctx, user.ID())
}
