package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotlog/internal/repositories"
	"github.com/desertthunder/spotlog/internal/shared"
	"github.com/desertthunder/spotlog/internal/tasks"
	"github.com/desertthunder/spotlog/internal/ui"
)

// CacheBackfill warms the metadata cache from the user's most recent log rows.
//
// Fresh entries are skipped, so running it twice in a row costs no API calls.
func (r *Runner) CacheBackfill(ctx context.Context, cmd *cli.Command) error {
	ref := cmd.String("user")
	if ref == "" {
		return fmt.Errorf("%w: --user", shared.ErrMissingArgument)
	}

	users, user, err := r.findUser(ref)
	if err != nil {
		return err
	}

	db, err := r.database()
	if err != nil {
		return err
	}

	svc, err := r.spotifyFor(user, users)
	if err != nil {
		return err
	}

	r.logger.Info("backfilling metadata cache", "user", user.Name(), "rows", cmd.Int("rows"))

	progress := make(chan tasks.ProgressUpdate, 64)
	done := make(chan struct{})
	go r.watchProgress(progress, done)

	res, err := r.engine.Backfill(ctx, progress, user, r.breaker.Wrap(svc),
		repositories.NewLogRepository(db), repositories.NewCacheRepository(db), int(cmd.Int("rows")))
	close(progress)
	<-done
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}

	r.writePlain("%s %d tracks\n", ui.Styles.OK("✓ Backfilled"), res.Tracks)
	for _, status := range []tasks.ResolveStatus{tasks.Fresh, tasks.Fetched, tasks.StaleFallback, tasks.Failed} {
		if n := res.Statuses[status]; n > 0 {
			r.writePlain("  %-15s %d\n", status, n)
		}
	}
	return nil
}
