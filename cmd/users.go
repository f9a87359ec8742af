package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/repositories"
	"github.com/desertthunder/spotlog/internal/shared"
	"github.com/desertthunder/spotlog/internal/ui"
)

// UsersAdd registers a user with a refresh token obtained out of band.
//
// With --verify the token is exchanged once and the Spotify profile id is stored.
func (r *Runner) UsersAdd(ctx context.Context, cmd *cli.Command) error {
	name := cmd.String("name")
	token := cmd.String("refresh-token")
	if name == "" || token == "" {
		return fmt.Errorf("%w: --name and --refresh-token are required", shared.ErrMissingArgument)
	}

	tz := cmd.String("timezone")
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", shared.ErrInvalidArgument, tz)
		}
	}

	users, err := r.users()
	if err != nil {
		return err
	}

	if existing, err := users.GetByName(name); err == nil {
		return fmt.Errorf("%w: user %s already exists (%s)", shared.ErrInvalidArgument, name, existing.ID())
	}

	user := models.NewUser(0, name, token)
	user.SetTimezone(tz)

	if cmd.Bool("verify") {
		svc, err := r.spotifyFor(user, users)
		if err != nil {
			return err
		}
		profile, err := svc.UserProfile(ctx)
		if err != nil {
			return fmt.Errorf("failed to verify refresh token: %w", err)
		}
		user.SetSpotifyUserID(profile.ID)
		r.logger.Info("verified spotify account", "spotify_user", profile.ID, "display_name", profile.DisplayName)
	}

	if err := users.Create(user); err != nil {
		return err
	}

	r.logger.Info("user added", "name", user.Name(), "id", user.ID())
	r.writePlain("%s %s (%s)\n", ui.Styles.OK("✓ Added"), user.Name(), user.ID())
	return nil
}

// UsersList prints the registry.
func (r *Runner) UsersList(ctx context.Context, cmd *cli.Command) error {
	users, err := r.users()
	if err != nil {
		return err
	}

	criteria := map[string]any{}
	if cmd.Bool("enabled") {
		criteria["enabled"] = true
	}
	list, err := users.List(criteria)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		type entry struct {
			ID         string     `json:"id"`
			Name       string     `json:"name"`
			Timezone   string     `json:"timezone"`
			Enabled    bool       `json:"enabled"`
			LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
			LastError  string     `json:"last_error,omitempty"`
		}
		out := make([]entry, 0, len(list))
		for _, u := range list {
			out = append(out, entry{u.ID(), u.Name(), u.Timezone(), u.Enabled(), u.LastSyncAt(), u.LastError()})
		}
		return r.writeJSON(out, cmd.Bool("pretty"))
	}

	if len(list) == 0 {
		r.writePlain("No users registered. Add one with 'spotlog users add'.\n")
		return nil
	}
	r.writePlain("%s\n", ui.UsersTable(list))
	return nil
}

// setEnabled returns an action toggling the enabled flag of the user named by the first argument.
func (r *Runner) setEnabled(enabled bool) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		users, user, err := r.findUser(cmd.StringArg("user"))
		if err != nil {
			return err
		}

		user.SetEnabled(enabled)
		if err := users.Update(user); err != nil {
			return err
		}

		state := "disabled"
		if enabled {
			state = "enabled"
		}
		r.writePlain("%s %s\n", ui.Styles.OK("✓ "+state), user.Name())
		return nil
	}
}

// UsersSetTimezone changes the zone used to format a user's log dates.
func (r *Runner) UsersSetTimezone(ctx context.Context, cmd *cli.Command) error {
	tz := cmd.StringArg("timezone")
	if _, err := time.LoadLocation(tz); err != nil || tz == "" {
		return fmt.Errorf("%w: unknown timezone %q", shared.ErrInvalidArgument, tz)
	}

	users, user, err := r.findUser(cmd.StringArg("user"))
	if err != nil {
		return err
	}

	user.SetTimezone(tz)
	if err := users.Update(user); err != nil {
		return err
	}
	r.writePlain("%s %s → %s\n", ui.Styles.OK("✓ timezone"), user.Name(), tz)
	return nil
}

// UsersRemove soft-deletes a user. Their log rows are kept.
func (r *Runner) UsersRemove(ctx context.Context, cmd *cli.Command) error {
	users, user, err := r.findUser(cmd.StringArg("user"))
	if err != nil {
		return err
	}

	if err := users.Delete(user.ID()); err != nil {
		return err
	}
	r.writePlain("%s %s\n", ui.Styles.OK("✓ Removed"), user.Name())
	return nil
}

func (r *Runner) findUser(ref string) (*repositories.UserRepository, *models.User, error) {
	if ref == "" {
		return nil, nil, fmt.Errorf("%w: user", shared.ErrMissingArgument)
	}

	users, err := r.users()
	if err != nil {
		return nil, nil, err
	}
	user, err := users.Find(ref)
	if err != nil {
		return nil, nil, err
	}
	return users, user, nil
}
