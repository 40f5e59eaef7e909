package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/pineapple/internal/execution"
	"github.com/rendis/pineapple/internal/store"
	"github.com/rendis/pineapple/internal/validation"
	"github.com/rendis/pineapple/pkg/schema"
)

// DefaultInterval is how often the store is polled for due operations.
const DefaultInterval = 60 * time.Second

// Run statuses recorded on a scheduled operation after each invocation.
const (
	StatusStarted = "started"
	StatusError   = "error"
)

// OperationExecutor is the interface the scheduler uses to start operations.
// Satisfied by *engine.Core (avoids import cycle).
type OperationExecutor interface {
	ExecuteOperation(operation, environment, module string) (*execution.Info, error)
}

// Config holds scheduler settings.
type Config struct {
	Interval  time.Duration        // 0 = DefaultInterval
	Validator validation.Validator // nil skips document validation
	Logger    *slog.Logger
}

// Scheduler polls the store for due scheduled operations and starts them
// through the executor.
type Scheduler struct {
	store     store.Store
	executor  OperationExecutor
	validator validation.Validator
	parser    cron.Parser
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // names currently being started (dedup)
}

// New creates a Scheduler.
func New(s store.Store, executor OperationExecutor, cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		store:     s,
		executor:  executor,
		validator: cfg.Validator,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
		inflight:  make(map[string]struct{}),
	}
}

// Name implements engine.Service.
func (s *Scheduler) Name() string { return "scheduler" }

// Start launches the background scheduling loop. Operations whose next run
// passed while the scheduler was stopped run once on the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop shuts the loop down and waits for the current tick to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// tick starts every enabled operation that is due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	ops, err := s.store.ListScheduledOperations(ctx, store.ScheduledOperationFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled operations", slog.Any("error", err))
		return
	}

	now := s.now()
	for _, op := range ops {
		if ctx.Err() != nil {
			return
		}
		if op.NextRunAt != nil && op.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(op.Name) {
			continue
		}
		if err := s.run(ctx, op, now); err != nil {
			s.logger.Error("failed to run scheduled operation",
				slog.String("name", op.Name),
				slog.Any("error", err))
		}
		s.release(op.Name)
	}
}

// run starts op and records the outcome with the next run time.
func (s *Scheduler) run(ctx context.Context, op *store.ScheduledOperation, now time.Time) error {
	s.logger.Info("running scheduled operation",
		slog.String("name", op.Name),
		slog.String("module", op.Module),
		slog.String("environment", op.Environment),
		slog.String("operation", op.Operation))

	update := store.ScheduledOperationUpdate{LastRunAt: &now, LastRunStatus: StatusStarted}
	info, err := s.executor.ExecuteOperation(op.Operation, op.Environment, op.Module)
	if err != nil {
		update.LastRunStatus = StatusError
		s.logger.Error("scheduled operation was not started",
			slog.String("name", op.Name),
			slog.Any("error", err))
	} else {
		update.LastExecutionID = info.Result().ID()
	}

	next, err := s.NextRun(op.Cron, now)
	if err != nil {
		return err
	}
	update.NextRunAt = &next
	return s.store.UpdateScheduledOperation(ctx, op.Name, update)
}

func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Scheduler) release(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// NextRun computes the next run time of a cron expression after from.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q", cronExpr).WithCause(err)
	}
	return sched.Next(from), nil
}

// Create validates and persists a scheduled operation. Names are unique.
func (s *Scheduler) Create(ctx context.Context, name, module, operation, environment, description, cronExpr string) (*store.ScheduledOperation, error) {
	op := &store.ScheduledOperation{
		Name:        strings.TrimSpace(name),
		Module:      strings.TrimSpace(module),
		Environment: strings.TrimSpace(environment),
		Operation:   strings.TrimSpace(operation),
		Description: description,
		Cron:        strings.TrimSpace(cronExpr),
		Enabled:     true,
	}
	if err := s.validate(op); err != nil {
		return nil, err
	}
	next, err := s.NextRun(op.Cron, s.now())
	if err != nil {
		return nil, err
	}
	op.NextRunAt = &next

	if err := s.store.CreateScheduledOperation(ctx, op); err != nil {
		return nil, err
	}
	s.logger.Info("scheduled operation created",
		slog.String("name", op.Name),
		slog.String("cron", op.Cron),
		slog.Time("next_run_at", next))
	return op, nil
}

func (s *Scheduler) validate(op *store.ScheduledOperation) error {
	if s.validator != nil {
		return s.validator.ValidateScheduledOperation(op)
	}
	for _, f := range []struct{ name, value string }{
		{"name", op.Name},
		{"module", op.Module},
		{"environment", op.Environment},
		{"operation", op.Operation},
		{"cron", op.Cron},
	} {
		if f.value == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s is undefined", f.name)
		}
	}
	return nil
}

// Get returns the scheduled operation with the given name.
func (s *Scheduler) Get(ctx context.Context, name string) (*store.ScheduledOperation, error) {
	return s.store.GetScheduledOperation(ctx, name)
}

// List returns all scheduled operations sorted by name.
func (s *Scheduler) List(ctx context.Context) ([]*store.ScheduledOperation, error) {
	return s.store.ListScheduledOperations(ctx, store.ScheduledOperationFilter{})
}

// Delete removes the named scheduled operation.
func (s *Scheduler) Delete(ctx context.Context, name string) error {
	if err := s.store.DeleteScheduledOperation(ctx, name); err != nil {
		return err
	}
	s.logger.Info("scheduled operation deleted", slog.String("name", name))
	return nil
}

// DeleteAll removes every scheduled operation and returns how many there were.
func (s *Scheduler) DeleteAll(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteAllScheduledOperations(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info("scheduled operations deleted", slog.Int64("count", n))
	return n, nil
}

// SetEnabled pauses or resumes a scheduled operation. Resuming recomputes the
// next run from now, so runs missed while paused are skipped.
func (s *Scheduler) SetEnabled(ctx context.Context, name string, enabled bool) error {
	op, err := s.store.GetScheduledOperation(ctx, name)
	if err != nil {
		return err
	}
	update := store.ScheduledOperationUpdate{Enabled: &enabled}
	if enabled {
		next, err := s.NextRun(op.Cron, s.now())
		if err != nil {
			return err
		}
		update.NextRunAt = &next
	}
	if err := s.store.UpdateScheduledOperation(ctx, name, update); err != nil {
		return fmt.Errorf("update scheduled operation %q: %w", name, err)
	}
	return nil
}
