package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rendis/pineapple/internal/execution"
	"github.com/rendis/pineapple/internal/modules"
	"github.com/rendis/pineapple/internal/plugins"
	"github.com/rendis/pineapple/internal/trigger"
	"github.com/rendis/pineapple/pkg/schema"
)

// operationRun carries one operation through its pipeline.
type operationRun struct {
	task   *OperationTask
	info   *execution.Info
	result *execution.Result
	logger *slog.Logger

	descriptor *schema.ModuleDescriptor
	models     *modules.Models
}

// initStep is one step of the initialization pipeline. run must complete the
// step result it is given.
type initStep struct {
	description string
	run         func(r *operationRun, step *execution.Result)
}

var initSteps = []initStep{
	{"Initialize operation", (*operationRun).initializeOperation},
	{"Load module", (*operationRun).loadModule},
	{"Load module model", (*operationRun).loadModuleModel},
}

// execute runs the initialization steps in order, stopping at the first one
// which does not succeed, then invokes the plugins of every model.
func (r *operationRun) execute(ctx context.Context) {
	for _, s := range initSteps {
		if r.interrupted(s.description) {
			return
		}
		step := execution.NewResult(s.description)
		s.run(r, step)
		if !r.absorb(step) {
			return
		}
	}
	r.invokePlugins(ctx)
}

// interrupted completes the operation as INTERRUPTED if it has been cancelled.
func (r *operationRun) interrupted(next string) bool {
	if !r.result.Policy().Cancelled() {
		return false
	}
	r.result.CompleteAsInterrupted(fmt.Sprintf("Operation was cancelled before step <%s>.", next))
	r.logger.Info("operation cancelled", slog.String("step", next))
	return true
}

// absorb copies the outcome of a step onto the operation result and reports
// whether the pipeline may continue.
func (r *operationRun) absorb(step *execution.Result) bool {
	if !step.Completed() {
		step.CompleteAsFailure("Step completed without setting a state.")
	}
	if msg, ok := step.Message(schema.MsgMessage); ok {
		r.result.AddMessage(schema.MsgMessage, msg)
	}

	switch step.State() {
	case schema.StateSuccess:
		return true
	case schema.StateInterrupted:
		r.result.CompleteAsInterrupted(fmt.Sprintf("Step <%s> was interrupted.", step.Description()))
	case schema.StateError:
		r.copyDiagnostics(step)
		r.result.CompleteAsError(nil, fmt.Sprintf("Step <%s> failed with an error.", step.Description()))
	default:
		r.copyDiagnostics(step)
		r.result.CompleteAsFailure(fmt.Sprintf("Step <%s> failed.", step.Description()))
	}
	r.logger.Warn("operation initialization aborted",
		slog.String("step", step.Description()),
		slog.String("state", step.State().String()))
	return false
}

func (r *operationRun) copyDiagnostics(step *execution.Result) {
	for _, key := range []string{schema.MsgErrorMessage, schema.MsgStackTrace} {
		if v, ok := step.Message(key); ok {
			r.result.AddMessage(key, v)
		}
	}
}

func (r *operationRun) initializeOperation(step *execution.Result) {
	module := r.info.Module()
	if module.ID == "" {
		step.CompleteAsError(schema.NewError(schema.ErrCodeValidation, "module is undefined"), "Module is undefined.")
		return
	}
	if !module.EnvironmentDefined {
		err := schema.NewErrorf(schema.ErrCodeNotFound, "model file %q not found", module.ModelFile)
		step.CompleteAsError(err, fmt.Sprintf("Environment <%s> is not defined for module <%s>.",
			r.info.Environment(), module.ID))
		return
	}
	r.result.AddMessage(schema.MsgModuleFile, module.ModelFile)
	step.CompleteAsSuccessful("")
}

func (r *operationRun) loadModule(step *execution.Result) {
	module := r.info.Module()
	if !module.DescriptorDefined {
		r.descriptor = &schema.ModuleDescriptor{ID: module.ID, Version: schema.DefaultModuleVersion}
		step.CompleteAsSuccessful(fmt.Sprintf("Module <%s> has no descriptor, using null module with version %s.",
			module.ID, schema.DefaultModuleVersion))
		return
	}
	desc, err := r.task.modules.LoadDescriptor(module)
	if err != nil {
		step.CompleteAsError(err, fmt.Sprintf("Failed to load descriptor of module <%s>.", module.ID))
		return
	}
	r.descriptor = desc
	step.CompleteAsSuccessful(fmt.Sprintf("Loaded module <%s> version %s.", desc.ID, desc.Version))
}

func (r *operationRun) loadModuleModel(step *execution.Result) {
	module := r.info.Module()
	models, err := r.task.modules.LoadModels(module)
	if err != nil {
		step.CompleteAsError(err, fmt.Sprintf("Failed to load model file %q.", module.ModelFile))
		return
	}
	r.models = models
	step.CompleteAsSuccessful("")
}

// invokePlugins runs every model of the loaded model file and completes the
// operation result from the model results.
func (r *operationRun) invokePlugins(ctx context.Context) {
	policy := r.result.Policy()
	if r.models.ContinueOnFailure() {
		policy.EnableContinueOnFailure()
	} else {
		policy.DisableContinueOnFailure()
	}
	r.result.AddMessage(schema.MsgMessage, fmt.Sprintf("Continue on failure: %t.", policy.ContinueOnFailure()))
	if r.models.Description != "" {
		r.result.AddMessage(schema.MsgDescription, r.models.Description)
	}

	groups := batches(r.models.Models)
	r.logger.Debug("invoking plugins",
		slog.String("module_version", r.descriptor.Version),
		slog.Int("models", len(r.models.Models)),
		slog.Int("batches", len(groups)))
	for i, batch := range groups {
		if !policy.ContinueExecution() {
			r.skipRemaining(groups[i:], policy.InterruptionReason())
			break
		}
		r.executeBatch(ctx, batch)
	}

	operation := r.info.Operation()
	r.result.CompleteAsComputedWith(
		fmt.Sprintf("Operation <%s> succeeded.", operation),
		func(failures, errs int) string {
			if failures+errs == 0 {
				return fmt.Sprintf("Operation <%s> was interrupted.", operation)
			}
			return fmt.Sprintf("Operation <%s> failed with %d failures and %d errors.", operation, failures, errs)
		})
}

// batches groups consecutive parallel models. Every other model is a batch of
// its own.
func batches(models []modules.Model) [][]*modules.Model {
	var out [][]*modules.Model
	for i := range models {
		m := &models[i]
		last := len(out) - 1
		if m.Parallel && last >= 0 && out[last][0].Parallel {
			out[last] = append(out[last], m)
			continue
		}
		out = append(out, []*modules.Model{m})
	}
	return out
}

func (r *operationRun) executeBatch(ctx context.Context, batch []*modules.Model) {
	if len(batch) == 1 {
		r.executeModel(ctx, batch[0])
		return
	}
	var g errgroup.Group
	for _, m := range batch {
		g.Go(func() error {
			r.executeModel(ctx, m)
			return nil
		})
	}
	_ = g.Wait()
}

// skipRemaining records the models which were not run as one INTERRUPTED
// child.
func (r *operationRun) skipRemaining(groups [][]*modules.Model, reason string) {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	skipped := r.result.AddChild(fmt.Sprintf("Skip %d remaining models", n))
	skipped.CompleteAsInterrupted(reason)
	r.logger.Info("skipped remaining models", slog.Int("models", n), slog.String("reason", reason))
}

func (r *operationRun) executeModel(ctx context.Context, m *modules.Model) {
	operation := r.info.Operation()
	if !trigger.AppliesTo(m.TargetOperation, operation) {
		r.result.AddMessage(schema.MsgMessage, fmt.Sprintf("Skipped model <%s>: not targeted at operation <%s>.",
			m.DisplayDescription(), operation))
		return
	}
	modelResult := r.result.AddChild(fmt.Sprintf("Execute model <%s> with plugin <%s>", m.DisplayDescription(), m.Plugin))
	r.invokePlugin(ctx, m, modelResult)
	r.invokeTriggers(m, modelResult)
}

// invokePlugin runs the plugin operation of a model. Errors and panics are
// recorded as ERROR; a result the plugin left executing is a FAILURE.
func (r *operationRun) invokePlugin(ctx context.Context, m *modules.Model, result *execution.Result) {
	breakers := r.task.breakers
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("plugin operation panicked", slog.String("plugin", m.Plugin), slog.Any("panic", rec))
			perr := &execution.PanicError{Value: rec, Stack: string(debug.Stack())}
			if result.Completed() {
				result.AddMessage(schema.MsgErrorMessage, perr.Error())
			} else {
				result.CompleteAsError(perr, "")
			}
			breakers.Record(m.Plugin, schema.StateError)
		}
	}()

	op, err := r.task.plugins.Operation(m.Plugin, r.info.Operation())
	if err != nil {
		result.CompleteAsError(err, fmt.Sprintf("Failed to resolve operation <%s> of plugin <%s>.", r.info.Operation(), m.Plugin))
		return
	}
	content, unresolved := r.variables().ExpandContent(m.Content)
	if len(unresolved) > 0 {
		result.AddMessage(schema.MsgMessage, fmt.Sprintf("Unresolved variables: %s.", strings.Join(unresolved, ", ")))
	}
	if err := r.validateContent(m.Plugin, content); err != nil {
		result.CompleteAsError(err, fmt.Sprintf("Invalid content for plugin <%s>.", m.Plugin))
		return
	}
	if err := breakers.Allow(m.Plugin); err != nil {
		result.CompleteAsError(err, "")
		return
	}

	inv := plugins.Invocation{
		Operation:   r.info.Operation(),
		Environment: r.info.Environment(),
		Module:      r.info.Module(),
		Content:     content,
		Result:      result,
	}
	err = plugins.Execute(ctx, op, inv, r.task)
	switch {
	case err != nil && result.Completed():
		result.AddMessage(schema.MsgErrorMessage, err.Error())
	case err != nil:
		result.CompleteAsError(err, "")
	case !result.Completed():
		result.CompleteAsFailure("Plugin operation completed without setting a state.")
	}
	if state := breakers.Record(m.Plugin, result.State()); state == BreakerOpen {
		r.logger.Warn("plugin circuit opened", slog.String("plugin", m.Plugin))
	}
}

// variables returns the model and module variables of the run.
func (r *operationRun) variables() modules.Variables {
	v := modules.Variables{}
	if r.models != nil {
		v.Model = r.models.Variables
	}
	if r.descriptor != nil {
		v.Module = r.descriptor.Variables
	}
	return v
}

func (r *operationRun) validateContent(plugin string, content map[string]any) error {
	if r.task.validator == nil {
		return nil
	}
	p, err := r.task.plugins.Get(plugin)
	if err != nil {
		return err
	}
	provider, ok := p.(plugins.ContentSchemaProvider)
	if !ok {
		return nil
	}
	return r.task.validator.ValidateContent(content, provider.ContentSchema())
}

// invokeTriggers launches the triggers of a model which match the invoked
// operation and the model's terminal state.
func (r *operationRun) invokeTriggers(m *modules.Model, modelResult *execution.Result) {
	operation := r.info.Operation()
	if len(m.Triggers) == 0 {
		r.result.AddMessage(schema.MsgTriggerResolution,
			fmt.Sprintf("No triggers defined for model <%s>.", m.DisplayDescription()))
		return
	}

	triggersResult := r.result.AddChild(fmt.Sprintf("Execute triggers of model <%s>", m.DisplayDescription()))
	fired, err := trigger.Fired(trigger.FromSlice(m.Triggers), operation, modelResult.State())
	if err != nil {
		triggersResult.CompleteAsError(err, "")
		return
	}
	policy := r.result.Policy()
	skipped := 0
	for t := range fired {
		if skipped > 0 || policy.Cancelled() {
			skipped++
			continue
		}
		r.launchTrigger(t, triggersResult)
	}
	if skipped > 0 {
		triggersResult.AddChild(fmt.Sprintf("Skip %d remaining triggers", skipped)).
			CompleteAsInterrupted(policy.InterruptionReason())
	}
	if triggersResult.NumberOfChildren() == 0 {
		triggersResult.AddMessage(schema.MsgTriggerResolution, fmt.Sprintf(
			"No triggers executed for result <%s> of operation <%s>.", modelResult.State(), operation))
	}
	triggersResult.CompleteAsComputed("")
}

func (r *operationRun) launchTrigger(t *schema.Trigger, parent *execution.Result) {
	child := parent.AddChild(triggerDescription(t))
	if r.task.launcher == nil {
		child.CompleteAsError(schema.NewError(schema.ErrCodeExecution, "triggers are not enabled"), "")
		return
	}
	info, err := r.task.launcher.ExecuteOperation(t.Operation, t.Environment, t.Module)
	if err != nil {
		child.CompleteAsError(err, fmt.Sprintf("Failed to start operation <%s> on module <%s>.", t.Operation, t.Module))
		return
	}
	r.logger.Debug("trigger fired",
		slog.String("trigger", triggerDescription(t)),
		slog.String("started_execution_id", info.Result().ID()))
	child.CompleteAsSuccessful(fmt.Sprintf("Started execution %s.", info.Result().ID()))
}

func triggerDescription(t *schema.Trigger) string {
	if t.Name != "" {
		return fmt.Sprintf("Trigger <%s>", t.Name)
	}
	return fmt.Sprintf("Trigger operation <%s> on module <%s> in environment <%s>", t.Operation, t.Module, t.Environment)
}
