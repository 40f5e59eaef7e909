package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/pineapple/pkg/mcp"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio and execute scheduled operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, flags.config(cmd))
		},
	}
}

func runServe(cmd *cobra.Command, cfg Config) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// stdout carries the MCP protocol: logs go to stderr.
	a, err := newApp(ctx, cfg, appOptions{Schedule: true, LogOutput: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			a.logger.Error("shutdown failed", slog.Any("error", err))
		}
	}()
	if err := a.start(ctx); err != nil {
		return err
	}
	a.logger.Info("pineapple serving",
		slog.String("version", version),
		slog.String("modules_dir", cfg.ModulesDir),
		slog.String("db_path", cfg.DBPath))

	srv := mcp.NewServer(mcp.ServerDeps{
		Engine:    a.core,
		Scheduler: a.scheduler,
		Modules:   a.core.Modules(),
		Store:     a.store,
		Hub:       a.hub,
		Logger:    a.logger,
	})
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
