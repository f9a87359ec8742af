package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotlog/internal/shared"
)

func newApp(runner *Runner) *cli.Command {
	return &cli.Command{
		Name:     "spotlog",
		Usage:    "Mirror Spotify listening history into an append-only log",
		Version:  "0.1.0",
		Flags:    globalFlags(),
		Before:   runner.before,
		After:    runner.after,
		Commands: runner.register(),
	}
}

func main() {
	logger := shared.NewLogger(nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := NewRunner(RunnerOpts{ConfigPath: "config.toml", Logger: logger})
	if err := newApp(runner).Run(ctx, os.Args); err != nil {
		stop()
		logger.Fatalf("application error: %v", err)
	}
}
