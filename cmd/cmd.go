// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// globalFlags are accepted by every command.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
			Value:   "config.toml",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable debug logging",
		},
	}
}

// setupCommand handles database initialization
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize configuration and database",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Create config.toml if missing, open the database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "rollback",
				Usage:  "Revert the most recent database migration",
				Action: r.SetupRollback,
			},
		},
	}
}

// usersCommand manages the registry of synced users
func usersCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "users",
		Aliases: []string{"user"},
		Usage:   "Manage the users whose history is mirrored",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Register a user with a Spotify refresh token",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "name",
						Aliases:  []string{"n"},
						Usage:    "Display name",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "refresh-token",
						Usage:    "Spotify refresh token with user-read-recently-played scope",
						Sources:  cli.EnvVars("SPOTIFY_REFRESH_TOKEN"),
						Required: true,
					},
					&cli.StringFlag{
						Name:  "timezone",
						Usage: "IANA timezone for log dates (default: UTC)",
					},
					&cli.BoolFlag{
						Name:  "verify",
						Usage: "Exchange the token once and store the Spotify account id",
					},
				},
				Action: r.UsersAdd,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List registered users",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "enabled",
						Usage: "Only list enabled users",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
					},
				},
				Action: r.UsersList,
			},
			{
				Name:      "enable",
				Usage:     "Include a user in scheduled runs",
				Arguments: []cli.Argument{&cli.StringArg{Name: "user"}},
				Action:    r.setEnabled(true),
			},
			{
				Name:      "disable",
				Usage:     "Exclude a user from scheduled runs",
				Arguments: []cli.Argument{&cli.StringArg{Name: "user"}},
				Action:    r.setEnabled(false),
			},
			{
				Name:  "timezone",
				Usage: "Set the timezone used for a user's log dates",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "user"},
					&cli.StringArg{Name: "timezone"},
				},
				Action: r.UsersSetTimezone,
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Remove a user (log rows are kept)",
				Arguments: []cli.Argument{&cli.StringArg{Name: "user"}},
				Action:    r.UsersRemove,
			},
		},
	}
}

// syncCommand runs the sync engine
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Mirror recently played tracks into the log",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Sync one user or every enabled user",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "user",
						Aliases: []string{"u"},
						Usage:   "User id or name",
					},
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Sync every enabled user",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output results as JSON",
					},
				},
				Action: r.SyncRun,
			},
		},
	}
}

// statusCommand reports sync bookkeeping
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the registry or one user's sync state",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "User id or name",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output the registry as JSON",
			},
		},
		Action: r.Status,
	}
}

// exportCommand writes the log to a file
func exportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export a user's log as CSV, Markdown or text",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User id or name",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: csv, md or txt",
				Value:   "csv",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file path, or - for stdout (default: {user}_log.{format})",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of rows (0: all)",
			},
		},
		Action: r.Export,
	}
}

// cacheCommand manages the metadata cache
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage the track, artist and album metadata cache",
		Commands: []*cli.Command{
			{
				Name:  "backfill",
				Usage: "Resolve metadata for the most recent log rows",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Aliases:  []string{"u"},
						Usage:    "User id or name",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "rows",
						Usage: "Number of recent rows to scan",
						Value: 500,
					},
				},
				Action: r.CacheBackfill,
			},
		},
	}
}

// serveCommand runs the HTTP server
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve /healthz, /metrics and the sync trigger endpoints",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default: server.host:server.port)",
			},
		},
		Action: r.Serve,
	}
}
