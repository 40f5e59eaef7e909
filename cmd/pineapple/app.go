package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/pineapple/internal/engine"
	"github.com/rendis/pineapple/internal/isolation"
	"github.com/rendis/pineapple/internal/logging"
	"github.com/rendis/pineapple/internal/plugins"
	"github.com/rendis/pineapple/internal/scheduler"
	"github.com/rendis/pineapple/internal/store"
	"github.com/rendis/pineapple/internal/streaming"
	"github.com/rendis/pineapple/internal/validation"
)

// app is the wired process: core, archive store, event hub and scheduler.
type app struct {
	cfg       Config
	logger    *slog.Logger
	core      *engine.Core
	store     *store.LibSQLStore
	hub       *streaming.MemoryHub
	scheduler *scheduler.Scheduler
	started   bool
}

type appOptions struct {
	// Schedule runs due scheduled operations while the core is started.
	Schedule bool
	// LogOutput receives the process log, default stderr.
	LogOutput io.Writer
}

// newApp opens the archive and wires the core. The core is not started.
func newApp(ctx context.Context, cfg Config, opts appOptions) (*app, error) {
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := logging.NewLogger(out, cfg.LogLevel, cfg.LogJSON)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.KeepExecutions > 0 {
		pruned, err := st.PruneExecutions(ctx, cfg.KeepExecutions)
		if err != nil {
			logger.Warn("failed to prune archived executions", slog.Any("error", err))
		} else if pruned > 0 {
			logger.Info("pruned archived executions", slog.Int64("count", pruned))
		}
	}

	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		st.Close()
		return nil, err
	}
	core, err := engine.NewCore(engine.CoreConfig{
		ModulesDir:      cfg.ModulesDir,
		PoolSize:        cfg.PoolSize,
		HistoryCapacity: cfg.HistoryCapacity,
		Breakers:        engine.DefaultBreakerConfig(),
		Shell: plugins.ShellConfig{
			DefaultTimeout: cfg.shellTimeout(),
			Disabled:       cfg.ShellDisabled,
			Limits: isolation.Limits{
				AllowedDirs: cfg.ShellAllowedDirs,
				DeniedDirs:  cfg.ShellDeniedDirs,
			},
		},
		Validator: validator,
		Logger:    logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	hub := streaming.NewMemoryHub(0)
	results := core.Results()
	if err := core.AddListeners(
		store.NewArchiveListener(st, results, logger),
		streaming.NewResultPublisher(hub, results, logger),
	); err != nil {
		hub.Close()
		st.Close()
		return nil, err
	}

	sched := scheduler.New(st, core, scheduler.Config{
		Interval:  cfg.schedulerInterval(),
		Validator: validator,
		Logger:    logger,
	})
	if opts.Schedule {
		core.AddService(sched)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		core:      core,
		store:     st,
		hub:       hub,
		scheduler: sched,
	}, nil
}

// start initializes the core and reports the initialization result.
func (a *app) start(ctx context.Context) error {
	if err := a.core.Start(ctx); err != nil {
		a.logger.Error("core initialization failed", slog.String("summary", a.core.InitializationSummary()))
		return err
	}
	a.started = true
	return nil
}

// close shuts the core down, then the hub and the archive.
func (a *app) close(ctx context.Context) error {
	var firstErr error
	if a.started {
		if err := a.core.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if err := a.hub.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// openStore opens and migrates the archive, creating its directory.
func openStore(ctx context.Context, cfg Config) (*store.LibSQLStore, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("cannot create %s: %w", dir, err)
		}
	}
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}
