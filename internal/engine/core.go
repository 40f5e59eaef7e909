package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rendis/pineapple/internal/execution"
	"github.com/rendis/pineapple/internal/modules"
	"github.com/rendis/pineapple/internal/plugins"
	"github.com/rendis/pineapple/internal/validation"
	"github.com/rendis/pineapple/pkg/schema"
)

// DefaultPoolSize is the number of operations run concurrently.
const DefaultPoolSize = 10

// Service is a component started and stopped with the core, e.g. the
// operation scheduler.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// CoreConfig holds the configuration of a Core.
type CoreConfig struct {
	ModulesDir      string
	PoolSize        int // 0 = DefaultPoolSize
	HistoryCapacity int // 0 = execution.DefaultHistoryCapacity
	Breakers        BreakerConfig
	Shell           plugins.ShellConfig
	// Plugins are registered next to the built-in plugins at startup.
	Plugins   []plugins.Plugin
	Validator validation.Validator // nil = JSON Schema validator
	Logger    *slog.Logger
}

// Core is the front door of the engine: it starts operations, cancels them
// and manages result listeners.
type Core struct {
	logger   *slog.Logger
	extra    []plugins.Plugin
	shell    plugins.ShellConfig
	modules  *modules.Repository
	plugins  *plugins.Registry
	results  *execution.Repository
	pool     *WorkerPool
	breakers *PluginBreakers
	task     *OperationTask

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	running  bool
	services []Service
	initInfo *execution.Result
}

// NewCore wires a core from cfg. Call Start before executing operations.
func NewCore(cfg CoreConfig) (*Core, error) {
	if strings.TrimSpace(cfg.ModulesDir) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "modules directory is undefined")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	validator := cfg.Validator
	if validator == nil {
		v, err := validation.NewJSONSchemaValidator()
		if err != nil {
			return nil, err
		}
		validator = v
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	c := &Core{
		logger:   logger,
		extra:    cfg.Plugins,
		shell:    cfg.Shell,
		modules:  modules.NewRepository(cfg.ModulesDir, validator, logger),
		plugins:  plugins.NewRegistry(),
		results:  execution.NewRepository(execution.RepositoryConfig{Capacity: cfg.HistoryCapacity, Logger: logger}),
		pool:     NewWorkerPool(poolSize, logger),
		breakers: NewPluginBreakers(cfg.Breakers),
	}
	task, err := NewOperationTask(TaskConfig{
		Modules:   c.modules,
		Plugins:   c.plugins,
		Results:   c.results,
		Validator: validator,
		Pool:      c.pool,
		Breakers:  c.breakers,
		Launcher:  c,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	c.task = task
	return c, nil
}

// AddService registers a service started by Start. Services added after
// Start are started on the next Start.
func (c *Core) AddService(s Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services = append(c.services, s)
}

type coreStep struct {
	description string
	run         func(ctx context.Context) error
}

// Start initializes the core. The initialization is recorded on an
// administrative result, available from InitializationInfo. Start fails if
// any step fails; later steps are then skipped.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "core is already running")
	}
	services := append([]Service(nil), c.services...)
	c.mu.Unlock()

	root, err := c.results.StartAdministrativeExecution("Initialize core")
	if err != nil {
		return err
	}
	root.AddMessage(schema.MsgMessage, fmt.Sprintf("Modules directory: %s", c.modules.Dir()))

	steps := []coreStep{
		{"Verify modules directory", func(context.Context) error { return c.modules.Verify() }},
		{"Register plugins", func(context.Context) error { return c.registerPlugins() }},
	}
	var started []Service
	for _, s := range services {
		steps = append(steps, coreStep{fmt.Sprintf("Start %s", s.Name()), func(ctx context.Context) error {
			if err := s.Start(ctx); err != nil {
				return err
			}
			started = append(started, s)
			return nil
		}})
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.ctx, c.cancel = runCtx, cancel
	c.running = true
	c.mu.Unlock()

	var failed error
	for _, s := range steps {
		child := root.AddChild(s.description)
		if err := s.run(runCtx); err != nil {
			child.CompleteAsError(err, "")
			failed = err
			break
		}
		child.CompleteAsSuccessful("")
	}
	root.CompleteAsComputedWith("Core initialization completed.", func(int, int) string {
		return "Core initialization failed."
	})

	c.mu.Lock()
	c.initInfo = root
	c.mu.Unlock()
	c.logger.Info("core initialized",
		slog.String("state", root.State().String()),
		slog.Duration("elapsed", root.Elapsed()),
		slog.Int("plugins", c.plugins.Count()))

	if failed != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].Stop(ctx); err != nil {
				c.logger.Error("failed to stop service", slog.String("service", started[i].Name()), slog.Any("error", err))
			}
		}
		cancel()
		return schema.NewError(schema.ErrCodeExecution, "core initialization failed").WithCause(failed)
	}
	return nil
}

func (c *Core) registerPlugins() error {
	if !c.plugins.Has(plugins.NoopID) {
		if err := plugins.RegisterBuiltins(c.plugins, c.shell); err != nil {
			return err
		}
	}
	for _, p := range c.extra {
		if p == nil || c.plugins.Has(p.ID()) {
			continue
		}
		if err := c.plugins.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// InitializationInfo returns the result of the last Start, or nil.
func (c *Core) InitializationInfo() *execution.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initInfo
}

// InitializationSummary describes the outcome of the last Start.
func (c *Core) InitializationSummary() string {
	info := c.InitializationInfo()
	switch {
	case info == nil:
		return "Core is not initialized."
	case info.IsSuccess():
		return fmt.Sprintf("Core initialized successfully in %s.", info.Elapsed())
	default:
		return fmt.Sprintf("Core initialization failed after %s.", info.Elapsed())
	}
}

// ExecuteOperation starts operation on module in environment and returns
// immediately. Empty arguments are rejected. Every other problem, including
// an unknown module, is recorded as ERROR on the returned handle.
func (c *Core) ExecuteOperation(operation, environment, module string) (*execution.Info, error) {
	for _, arg := range []struct{ name, value string }{
		{"operation", operation},
		{"environment", environment},
		{"module", module},
	} {
		if strings.TrimSpace(arg.value) == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s is undefined", arg.name)
		}
	}

	c.mu.Lock()
	ctx, running := c.ctx, c.running
	c.mu.Unlock()
	if !running {
		return nil, schema.NewError(schema.ErrCodeShutdown, "core is not running")
	}

	c.logger.Debug("invoking operation",
		slog.String("operation", operation),
		slog.String("environment", environment),
		slog.String("module", module))

	moduleInfo, resolveErr := c.modules.Resolve(module, environment)
	if resolveErr != nil {
		moduleInfo = schema.NullModuleInfo(module)
	}
	info, err := c.results.StartExecution(ctx, moduleInfo, environment, operation)
	if err != nil {
		return nil, err
	}
	if resolveErr != nil {
		info.Result().CompleteAsError(resolveErr, fmt.Sprintf("Failed to resolve module <%s> in environment <%s>.", module, environment))
		return info, nil
	}
	if err := c.task.Execute(info); err != nil {
		c.logger.Warn("operation rejected", slog.String("execution_id", info.Result().ID()), slog.Any("error", err))
	}
	return info, nil
}

// CancelOperation requests cancellation of a running operation. The task
// completes it as INTERRUPTED at its next checkpoint. Cancelling a completed
// operation does nothing.
func (c *Core) CancelOperation(info *execution.Info) error {
	if info == nil {
		return schema.NewError(schema.ErrCodeValidation, "execution info is undefined")
	}
	result := info.Result()
	if result.Completed() {
		c.logger.Debug("operation already completed", slog.String("execution_id", result.ID()))
		return nil
	}
	result.Policy().Cancel()
	c.logger.Info("operation cancelled",
		slog.String("execution_id", result.ID()),
		slog.String("operation", info.Operation()),
		slog.String("module", info.ModuleID()),
		slog.String("environment", info.Environment()))
	return nil
}

// AddListener registers a result listener.
func (c *Core) AddListener(l execution.ResultListener) error {
	return c.results.AddListener(l)
}

// AddListeners registers several result listeners.
func (c *Core) AddListeners(ls ...execution.ResultListener) error {
	for _, l := range ls {
		if err := c.results.AddListener(l); err != nil {
			return err
		}
	}
	return nil
}

// RemoveListener unregisters a result listener.
func (c *Core) RemoveListener(l execution.ResultListener) error {
	return c.results.RemoveListener(l)
}

// Listeners returns the registered result listeners.
func (c *Core) Listeners() []execution.ResultListener {
	return c.results.Listeners()
}

// Results returns the result repository.
func (c *Core) Results() *execution.Repository { return c.results }

// Modules returns the module repository.
func (c *Core) Modules() *modules.Repository { return c.modules }

// Plugins returns the plugin registry.
func (c *Core) Plugins() *plugins.Registry { return c.plugins }

// PoolMetrics returns the worker pool metrics.
func (c *Core) PoolMetrics() PoolMetrics { return c.pool.Metrics() }

// Running returns the ids of the root executions currently holding a worker.
func (c *Core) Running() []string { return c.pool.Running() }

// Shutdown stops the services, waits for running operations and closes the
// result repository. Operations still running when ctx is done have their
// context cancelled.
func (c *Core) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	services := append([]Service(nil), c.services...)
	cancel := c.cancel
	c.mu.Unlock()

	var firstErr error
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(ctx); err != nil {
			c.logger.Error("failed to stop service", slog.String("service", services[i].Name()), slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := c.pool.Shutdown(ctx); err != nil {
		c.logger.Warn("operations still running at shutdown", slog.Any("error", err))
		cancel()
		if firstErr == nil {
			firstErr = err
		}
	} else {
		cancel()
	}

	if err := c.results.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	c.logger.Info("core shut down")
	return firstErr
}
