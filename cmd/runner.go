package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotlog/internal/repositories"
	"github.com/desertthunder/spotlog/internal/services"
	"github.com/desertthunder/spotlog/internal/shared"
	"github.com/desertthunder/spotlog/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	db         *sql.DB
	ownsDB     bool
	engine     *tasks.Engine
	breaker    *services.CircuitBreaker
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	DB         *sql.DB // Optional open, migrated database
}

// NewRunner creates a new Runner with the provided configuration.
//
// A nil Config is loaded from ConfigPath when the first command runs.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	r := &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		db:         opts.DB,
		breaker:    services.NewCircuitBreaker(services.DefaultBreakerSettings(), opts.Logger),
	}
	if r.config != nil {
		r.engine = tasks.NewEngine(tasks.OptionsFromConfig(r.config.Sync), r.logger)
	}
	return r
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, usersCommand, syncCommand, statusCommand, exportCommand, cacheCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// before loads configuration for every command. Config file values are
// overridden by the environment, and --verbose wins over the configured level.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if r.config == nil {
		if path := cmd.String("config"); path != "" {
			r.configPath = path
		}

		config, err := shared.LoadConfig(r.configPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			r.logger.Debug("config file not found, using defaults", "path", r.configPath)
			config = shared.DefaultConfig()
			if err := config.ApplyEnv(os.LookupEnv); err != nil {
				return ctx, err
			}
			if err := config.Validate(); err != nil {
				return ctx, err
			}
		case err != nil:
			return ctx, err
		}

		r.config = config
		r.engine = tasks.NewEngine(tasks.OptionsFromConfig(config.Sync), r.logger)
	}

	level, err := shared.ParseLogLevel(r.config.Log.Level)
	if err != nil {
		return ctx, err
	}
	if cmd.Bool("verbose") {
		level = log.DebugLevel
	}
	r.logger.SetLevel(level)

	return ctx, nil
}

// after closes the database if the runner opened it.
func (r *Runner) after(ctx context.Context, cmd *cli.Command) error {
	if r.db != nil && r.ownsDB {
		err := r.db.Close()
		r.db = nil
		r.ownsDB = false
		return err
	}
	return nil
}

// database opens and migrates the configured database on first use.
func (r *Runner) database() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}

	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	r.db = db
	r.ownsDB = true
	return db, nil
}

func (r *Runner) users() (*repositories.UserRepository, error) {
	db, err := r.database()
	if err != nil {
		return nil, err
	}
	return repositories.NewUserRepository(db), nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
