package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rendis/pineapple/internal/execution"
	"github.com/rendis/pineapple/pkg/schema"
)

// ExecutionFinder looks up tracked executions by root result id.
// *execution.Repository implements it.
type ExecutionFinder interface {
	Find(resultID string) (*execution.Info, bool)
}

// ArchiveListener is a result listener which saves every root execution
// reaching a terminal state.
type ArchiveListener struct {
	store   Store
	finder  ExecutionFinder
	timeout time.Duration
	logger  *slog.Logger
}

// NewArchiveListener creates a listener archiving into s. Executions are
// looked up through finder when they complete.
func NewArchiveListener(s Store, finder ExecutionFinder, logger *slog.Logger) *ArchiveListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveListener{store: s, finder: finder, timeout: 5 * time.Second, logger: logger}
}

// Notify implements execution.ResultListener.
func (a *ArchiveListener) Notify(n execution.Notification) {
	if n.Result == nil || !n.Result.IsRoot() || !n.State.IsTerminal() {
		return
	}
	info, ok := a.finder.Find(n.Result.ID())
	if !ok {
		a.logger.Warn("completed execution is not tracked", slog.String("execution_id", n.Result.ID()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.Archive(ctx, info); err != nil {
		a.logger.Error("failed to archive execution",
			slog.String("execution_id", n.Result.ID()),
			slog.Any("error", err))
	}
}

// Archive saves the current snapshot of info.
func (a *ArchiveListener) Archive(ctx context.Context, info *execution.Info) error {
	rec, err := NewExecutionRecord(info)
	if err != nil {
		return err
	}
	return a.store.SaveExecution(ctx, rec)
}

// NewExecutionRecord converts a tracked execution into an archive record.
func NewExecutionRecord(info *execution.Info) (*ExecutionRecord, error) {
	if info == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "execution info is undefined")
	}
	snap := info.Snapshot()
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "marshal execution snapshot").WithCause(err)
	}
	return &ExecutionRecord{
		ID:          snap.Result.ID,
		Module:      info.ModuleID(),
		Environment: info.Environment(),
		Operation:   info.Operation(),
		Description: snap.Result.Description,
		State:       snap.Result.State,
		StartedAt:   snap.Result.StartTime,
		ElapsedMs:   snap.Result.ElapsedMs,
		Snapshot:    body,
	}, nil
}

// DecodeSnapshot decodes the archived result tree of rec.
func DecodeSnapshot(rec *ExecutionRecord) (*execution.InfoSnapshot, error) {
	var snap execution.InfoSnapshot
	if err := json.Unmarshal(rec.Snapshot, &snap); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "decode execution snapshot").WithCause(err)
	}
	return &snap, nil
}
