package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/rendis/pineapple/internal/execution"
	"github.com/rendis/pineapple/internal/logging"
	"github.com/rendis/pineapple/internal/modules"
	"github.com/rendis/pineapple/internal/plugins"
	"github.com/rendis/pineapple/internal/validation"
	"github.com/rendis/pineapple/pkg/schema"
)

// ModuleSource resolves modules and loads their documents.
// *modules.Repository implements it.
type ModuleSource interface {
	Resolve(module, environment string) (*schema.ModuleInfo, error)
	LoadDescriptor(info *schema.ModuleInfo) (*schema.ModuleDescriptor, error)
	LoadModels(info *schema.ModuleInfo) (*modules.Models, error)
}

// Launcher starts root executions. Fired triggers are launched through it.
type Launcher interface {
	ExecuteOperation(operation, environment, module string) (*execution.Info, error)
}

// TaskConfig holds the collaborators of an OperationTask.
type TaskConfig struct {
	Modules   ModuleSource
	Plugins   *plugins.Registry
	Results   *execution.Repository
	Validator validation.Validator // nil skips content validation
	Pool      *WorkerPool
	Breakers  *PluginBreakers // nil disables circuit breaking
	Launcher  Launcher        // nil disables triggers
	Logger    *slog.Logger
}

// OperationTask runs operations against resolved modules. Root executions run
// on the worker pool; composite executions run on the caller's goroutine as
// children of an existing result.
type OperationTask struct {
	modules   ModuleSource
	plugins   *plugins.Registry
	results   *execution.Repository
	validator validation.Validator
	pool      *WorkerPool
	breakers  *PluginBreakers
	launcher  Launcher
	logger    *slog.Logger
}

// NewOperationTask creates a task runner.
func NewOperationTask(cfg TaskConfig) (*OperationTask, error) {
	switch {
	case cfg.Modules == nil:
		return nil, schema.NewError(schema.ErrCodeValidation, "module source is undefined")
	case cfg.Plugins == nil:
		return nil, schema.NewError(schema.ErrCodeValidation, "plugin registry is undefined")
	case cfg.Results == nil:
		return nil, schema.NewError(schema.ErrCodeValidation, "result repository is undefined")
	case cfg.Pool == nil:
		return nil, schema.NewError(schema.ErrCodeValidation, "worker pool is undefined")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OperationTask{
		modules:   cfg.Modules,
		plugins:   cfg.Plugins,
		results:   cfg.Results,
		validator: cfg.Validator,
		pool:      cfg.Pool,
		breakers:  cfg.Breakers,
		launcher:  cfg.Launcher,
		logger:    logger,
	}, nil
}

// Execute schedules the operation described by info and returns immediately.
// The task always leaves info's result in a terminal state. If the pool
// rejects the work, the result is completed as ERROR and the error returned.
func (t *OperationTask) Execute(info *execution.Info) error {
	if info == nil {
		return schema.NewError(schema.ErrCodeValidation, "execution info is undefined")
	}
	result := info.Result()
	err := t.pool.Submit(result.Policy().Context(), result.ID(), func(ctx context.Context) schema.ExecutionState {
		t.run(ctx, info)
		return result.State()
	})
	if err != nil {
		result.CompleteAsError(err, "Operation was rejected: the core is shutting down.")
		return schema.NewError(schema.ErrCodeShutdown, "operation rejected by worker pool").WithCause(err)
	}
	return nil
}

// ExecuteComposite runs an operation synchronously as a child of parent and
// returns the child result. Resolution errors are recorded as ERROR on the
// child; they are never returned.
func (t *OperationTask) ExecuteComposite(ctx context.Context, operation, environment, module, description string, parent *execution.Result) *execution.Result {
	if parent == nil {
		t.logger.Error("composite execution without parent result",
			slog.String("module", module), slog.String("operation", operation))
		return nil
	}
	if description == "" {
		description = fmt.Sprintf("Execute operation <%s> on module <%s> in environment <%s>", operation, module, environment)
	}

	moduleInfo, err := t.modules.Resolve(module, environment)
	if err != nil {
		child := parent.AddChild(description)
		child.AddMessage(schema.MsgModule, module)
		child.CompleteAsError(err, fmt.Sprintf("Failed to resolve module <%s> in environment <%s>.", module, environment))
		return child
	}

	info, err := t.results.StartCompositeExecution(moduleInfo, environment, operation, description, parent)
	if err != nil {
		child := parent.AddChild(description)
		child.CompleteAsError(err, "")
		return child
	}
	child := info.Result()
	child.AddMessage(schema.MsgOperation, operation)
	child.AddMessage(schema.MsgEnvironment, environment)
	child.AddMessage(schema.MsgModule, moduleInfo.ID)

	t.run(ctx, info)
	return child
}

// run executes the operation pipeline on the calling goroutine. Panics are
// recorded as ERROR on the operation result.
func (t *OperationTask) run(ctx context.Context, info *execution.Info) {
	result := info.Result()
	ctx = logging.WithExecution(ctx, result.Root().ID(), info.ModuleID(), info.Environment(), info.Operation())
	logger := logging.LogWith(ctx, t.logger)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("operation task panicked", slog.Any("panic", rec))
			if !result.Completed() {
				result.CompleteAsError(&execution.PanicError{Value: rec, Stack: string(debug.Stack())},
					"Operation failed with an unexpected error.")
			}
		}
	}()

	logger.Debug("operation started", slog.String("description", result.Description()))
	(&operationRun{task: t, info: info, result: result, logger: logger}).execute(ctx)
	logger.Info("operation completed",
		slog.String("state", result.State().String()),
		slog.Duration("elapsed", result.Elapsed()))
}
