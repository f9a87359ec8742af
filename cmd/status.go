package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotlog/internal/formatter"
	"github.com/desertthunder/spotlog/internal/repositories"
	"github.com/desertthunder/spotlog/internal/shared"
	"github.com/desertthunder/spotlog/internal/ui"
)

// Status shows the registry, or one user's watermark, run marker and storage counts.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	ref := cmd.String("user")
	if ref == "" {
		return r.UsersList(ctx, cmd)
	}

	_, user, err := r.findUser(ref)
	if err != nil {
		return err
	}

	db, err := r.database()
	if err != nil {
		return err
	}

	view := ui.StatusView{User: user}
	if view.State, err = repositories.NewStateRepository(db).Load(ctx, user.ID()); err != nil {
		return err
	}
	if view.Rows, err = repositories.NewLogRepository(db).Count(ctx, user.ID()); err != nil {
		return err
	}
	if view.Cached, err = repositories.NewCacheRepository(db).Counts(ctx, user.ID()); err != nil {
		return err
	}

	r.writePlain("%s\n", ui.RenderStatus(view))
	return nil
}

// Export writes a user's log to a CSV, Markdown or text file.
func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	ref := cmd.String("user")
	if ref == "" {
		return fmt.Errorf("%w: --user", shared.ErrMissingArgument)
	}

	_, user, err := r.findUser(ref)
	if err != nil {
		return err
	}

	db, err := r.database()
	if err != nil {
		return err
	}

	rows, err := repositories.NewLogRepository(db).List(ctx, user.ID(), int(cmd.Int("limit")), 0)
	if err != nil {
		return err
	}

	format := cmd.String("format")
	if cmd.String("output") == "-" {
		data, err := formatter.Export(format, user.Name(), rows)
		if err != nil {
			return err
		}
		_, err = r.output.Write(data)
		return err
	}

	path, err := formatter.WriteExport(format, user.Name(), rows, cmd.String("output"))
	if err != nil {
		return err
	}

	r.logger.Info("log exported", "user", user.Name(), "rows", len(rows), "path", path)
	r.writePlain("%s %d rows to %s\n", ui.Styles.OK("✓ Exported"), len(rows), path)
	return nil
}
