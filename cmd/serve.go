package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotlog/internal/server"
)

// Serve runs the HTTP trigger and metrics server until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if _, err := r.database(); err != nil {
		return err
	}

	addr := r.config.Server.Addr()
	if a := cmd.String("addr"); a != "" {
		addr = a
	}

	router := server.NewRouter(httpSyncer{r: r}, r.logger)
	return server.Run(ctx, server.NewHTTPServer(addr, router), r.logger)
}
