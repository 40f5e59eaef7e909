package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pineapple/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var pe *schema.PineappleError
	require.True(t, errors.As(err, &pe), "expected PineappleError, got %T", err)
	assert.Equal(t, code, pe.Code)
}

func executionRecord(id, module, env, op string, state schema.ExecutionState, started time.Time) *ExecutionRecord {
	return &ExecutionRecord{
		ID:          id,
		Module:      module,
		Environment: env,
		Operation:   op,
		Description: "Execute operation <" + op + "> on module <" + module + "> in environment <" + env + ">",
		State:       state,
		StartedAt:   started,
		ElapsedMs:   42,
		Snapshot:    json.RawMessage(`{"operation":"` + op + `"}`),
	}
}

// --- Migrations ---

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	version, err := schemaVersion(context.Background(), s.DB())
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

// --- Executions ---

func TestSaveAndGetExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Second)

	rec := executionRecord("exec-1", "webapp", "dev", "deploy", schema.StateSuccess, started)
	require.NoError(t, s.SaveExecution(ctx, rec))

	got, err := s.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "webapp", got.Module)
	assert.Equal(t, "dev", got.Environment)
	assert.Equal(t, "deploy", got.Operation)
	assert.Equal(t, schema.StateSuccess, got.State)
	assert.Equal(t, int64(42), got.ElapsedMs)
	assert.True(t, started.Equal(got.StartedAt))
	assert.JSONEq(t, `{"operation":"deploy"}`, string(got.Snapshot))
	assert.False(t, got.ArchivedAt.IsZero())
}

func TestSaveExecution_Replaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := executionRecord("exec-1", "webapp", "dev", "deploy", schema.StateError, time.Now().UTC())
	require.NoError(t, s.SaveExecution(ctx, rec))
	rec.State = schema.StateSuccess
	require.NoError(t, s.SaveExecution(ctx, rec))

	got, err := s.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, schema.StateSuccess, got.State)
}

func TestSaveExecution_RequiresID(t *testing.T) {
	s := newTestStore(t)
	requireCode(t, s.SaveExecution(context.Background(), &ExecutionRecord{}), schema.ErrCodeValidation)
}

func TestGetExecution_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetExecution(context.Background(), "missing")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestListExecutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, s.SaveExecution(ctx, executionRecord("a", "webapp", "dev", "deploy", schema.StateSuccess, base)))
	require.NoError(t, s.SaveExecution(ctx, executionRecord("b", "webapp", "prod", "deploy", schema.StateFailure, base.Add(time.Minute))))
	require.NoError(t, s.SaveExecution(ctx, executionRecord("c", "db", "dev", "test", schema.StateError, base.Add(2*time.Minute))))

	failed := schema.StateFailure
	since := base.Add(30 * time.Second)

	tests := []struct {
		name   string
		filter ExecutionFilter
		want   []string
	}{
		{"all newest first", ExecutionFilter{}, []string{"c", "b", "a"}},
		{"by module", ExecutionFilter{Module: "webapp"}, []string{"b", "a"}},
		{"by environment", ExecutionFilter{Environment: "dev"}, []string{"c", "a"}},
		{"by operation", ExecutionFilter{Operation: "test"}, []string{"c"}},
		{"by state", ExecutionFilter{State: &failed}, []string{"b"}},
		{"since", ExecutionFilter{Since: &since}, []string{"c", "b"}},
		{"limit", ExecutionFilter{Limit: 1}, []string{"c"}},
		{"limit offset", ExecutionFilter{Limit: 1, Offset: 1}, []string{"b"}},
		{"no match", ExecutionFilter{Module: "other"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := s.ListExecutions(ctx, tt.filter)
			require.NoError(t, err)
			var ids []string
			for _, r := range recs {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestPruneExecutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.SaveExecution(ctx, executionRecord(id, "webapp", "dev", "deploy", schema.StateSuccess, base.Add(time.Duration(i)*time.Minute))))
	}

	n, err := s.PruneExecutions(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	recs, err := s.ListExecutions(ctx, ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "d", recs[0].ID)
	assert.Equal(t, "c", recs[1].ID)

	_, err = s.PruneExecutions(ctx, -1)
	requireCode(t, err, schema.ErrCodeValidation)
}

// --- Scheduled operations ---

func scheduledOperation(name string) *ScheduledOperation {
	return &ScheduledOperation{
		Name:        name,
		Module:      "webapp",
		Environment: "dev",
		Operation:   "deploy",
		Description: "nightly deploy",
		Cron:        "0 2 * * *",
		Enabled:     true,
	}
}

func TestCreateAndGetScheduledOperation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	op := scheduledOperation("nightly")
	require.NoError(t, s.CreateScheduledOperation(ctx, op))
	assert.NotEmpty(t, op.ID)

	got, err := s.GetScheduledOperation(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)
	assert.Equal(t, "webapp", got.Module)
	assert.Equal(t, "dev", got.Environment)
	assert.Equal(t, "deploy", got.Operation)
	assert.Equal(t, "nightly deploy", got.Description)
	assert.Equal(t, "0 2 * * *", got.Cron)
	assert.True(t, got.Enabled)
	assert.Nil(t, got.LastRunAt)
	assert.Nil(t, got.NextRunAt)
}

func TestCreateScheduledOperation_DuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateScheduledOperation(ctx, scheduledOperation("nightly")))
	err := s.CreateScheduledOperation(ctx, scheduledOperation("nightly"))
	requireCode(t, err, schema.ErrCodeConflict)
}

func TestCreateScheduledOperation_RequiresName(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateScheduledOperation(context.Background(), &ScheduledOperation{})
	requireCode(t, err, schema.ErrCodeValidation)
}

func TestGetScheduledOperation_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetScheduledOperation(context.Background(), "missing")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestUpdateScheduledOperation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateScheduledOperation(ctx, scheduledOperation("nightly")))

	lastRun := time.Now().UTC().Truncate(time.Second)
	nextRun := lastRun.Add(24 * time.Hour)
	disabled := false
	require.NoError(t, s.UpdateScheduledOperation(ctx, "nightly", ScheduledOperationUpdate{
		Enabled:         &disabled,
		LastRunAt:       &lastRun,
		NextRunAt:       &nextRun,
		LastRunStatus:   "started",
		LastExecutionID: "exec-9",
	}))

	got, err := s.GetScheduledOperation(ctx, "nightly")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	require.NotNil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, lastRun.Equal(*got.LastRunAt))
	assert.True(t, nextRun.Equal(*got.NextRunAt))
	assert.Equal(t, "started", got.LastRunStatus)
	assert.Equal(t, "exec-9", got.LastExecutionID)

	require.NoError(t, s.UpdateScheduledOperation(ctx, "nightly", ScheduledOperationUpdate{}))

	status := "started"
	err = s.UpdateScheduledOperation(ctx, "missing", ScheduledOperationUpdate{LastRunStatus: status})
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestListScheduledOperations_SortedByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"weekly", "hourly", "nightly"} {
		require.NoError(t, s.CreateScheduledOperation(ctx, scheduledOperation(name)))
	}
	other := scheduledOperation("other-module")
	other.Module = "db"
	other.Enabled = false
	require.NoError(t, s.CreateScheduledOperation(ctx, other))

	all, err := s.ListScheduledOperations(ctx, ScheduledOperationFilter{})
	require.NoError(t, err)
	var names []string
	for _, op := range all {
		names = append(names, op.Name)
	}
	assert.Equal(t, []string{"hourly", "nightly", "other-module", "weekly"}, names)

	enabled := true
	active, err := s.ListScheduledOperations(ctx, ScheduledOperationFilter{Enabled: &enabled})
	require.NoError(t, err)
	assert.Len(t, active, 3)

	byModule, err := s.ListScheduledOperations(ctx, ScheduledOperationFilter{Module: "db"})
	require.NoError(t, err)
	require.Len(t, byModule, 1)
	assert.Equal(t, "other-module", byModule[0].Name)

	limited, err := s.ListScheduledOperations(ctx, ScheduledOperationFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDeleteScheduledOperation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateScheduledOperation(ctx, scheduledOperation("nightly")))

	require.NoError(t, s.DeleteScheduledOperation(ctx, "nightly"))
	_, err := s.GetScheduledOperation(ctx, "nightly")
	requireCode(t, err, schema.ErrCodeNotFound)

	requireCode(t, s.DeleteScheduledOperation(ctx, "nightly"), schema.ErrCodeNotFound)
}

func TestDeleteAllScheduledOperations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateScheduledOperation(ctx, scheduledOperation("a")))
	require.NoError(t, s.CreateScheduledOperation(ctx, scheduledOperation("b")))

	n, err := s.DeleteAllScheduledOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ops, err := s.ListScheduledOperations(ctx, ScheduledOperationFilter{})
	require.NoError(t, err)
	assert.Empty(t, ops)

	// The name can be reused afterwards.
	require.NoError(t, s.CreateScheduledOperation(ctx, scheduledOperation("a")))
}
