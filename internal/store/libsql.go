package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/pineapple/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/pineapple.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	if !strings.Contains(dbPath, ":") {
		dbPath = "file:" + dbPath
	}
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "open libsql").WithCause(err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, s.db); err != nil {
		return schema.NewError(schema.ErrCodeStore, "migrate database").WithCause(err)
	}
	return nil
}

// --- Executions ---

// SaveExecution archives a root execution. Saving the same id twice replaces
// the previous record.
func (s *LibSQLStore) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec == nil || rec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution record id is undefined")
	}
	if len(rec.Snapshot) == 0 {
		rec.Snapshot = json.RawMessage("{}")
	}
	rec.ArchivedAt = timeOrNow(rec.ArchivedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, module, environment, operation, description, state, started_at, elapsed_ms, snapshot, archived_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET state=excluded.state, elapsed_ms=excluded.elapsed_ms,
		 snapshot=excluded.snapshot, archived_at=excluded.archived_at`,
		rec.ID, rec.Module, rec.Environment, rec.Operation, rec.Description, rec.State.String(),
		timeOrNow(rec.StartedAt), rec.ElapsedMs, string(rec.Snapshot), rec.ArchivedAt,
	)
	if err != nil {
		return storeError("save execution", err)
	}
	return nil
}

const executionColumns = "id, module, environment, operation, description, state, started_at, elapsed_ms, snapshot, archived_at"

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+executionColumns+" FROM executions WHERE id = ?", id)
	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, storeError("get execution", err)
	}
	return rec, nil
}

// ListExecutions returns archived executions, most recently started first.
func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	var where []string
	var args []any

	if filter.Module != "" {
		where = append(where, "module = ?")
		args = append(args, filter.Module)
	}
	if filter.Environment != "" {
		where = append(where, "environment = ?")
		args = append(args, filter.Environment)
	}
	if filter.Operation != "" {
		where = append(where, "operation = ?")
		args = append(args, filter.Operation)
	}
	if filter.State != nil {
		where = append(where, "state = ?")
		args = append(args, filter.State.String())
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT " + executionColumns + " FROM executions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list executions", err)
	}
	defer rows.Close()

	var records []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, storeError("scan execution", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PruneExecutions keeps the keep most recently started executions and
// deletes the rest. It returns the number of deleted records.
func (s *LibSQLStore) PruneExecutions(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, schema.NewError(schema.ErrCodeValidation, "keep must not be negative")
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM executions WHERE id NOT IN (
			SELECT id FROM executions ORDER BY started_at DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, storeError("prune executions", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{}
	var state, snapshot string
	if err := row.Scan(&rec.ID, &rec.Module, &rec.Environment, &rec.Operation, &rec.Description,
		&state, &rec.StartedAt, &rec.ElapsedMs, &snapshot, &rec.ArchivedAt); err != nil {
		return nil, err
	}
	parsed, err := schema.ParseExecutionState(state)
	if err != nil {
		return nil, err
	}
	rec.State = parsed
	rec.Snapshot = json.RawMessage(snapshot)
	return rec, nil
}

// --- Scheduled operations ---

// CreateScheduledOperation inserts op. Names are unique; a duplicate name
// yields a CONFLICT error. A missing id is generated.
func (s *LibSQLStore) CreateScheduledOperation(ctx context.Context, op *ScheduledOperation) error {
	if op == nil || op.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "scheduled operation name is undefined")
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	op.CreatedAt = timeOrNow(op.CreatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin tx", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled_operations WHERE name = ?`, op.Name).Scan(&exists)
	if err != nil {
		return storeError("check scheduled operation", err)
	}
	if exists > 0 {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheduled operation %q already exists", op.Name)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO scheduled_operations (id, name, module, environment, operation, description, cron, enabled,
		 last_run_at, next_run_at, last_run_status, last_execution_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Name, op.Module, op.Environment, op.Operation, nullStr(op.Description), op.Cron, op.Enabled,
		nullTime(op.LastRunAt), nullTime(op.NextRunAt), nullStr(op.LastRunStatus), nullStr(op.LastExecutionID), op.CreatedAt,
	)
	if err != nil {
		return storeError("insert scheduled operation", err)
	}
	if err := tx.Commit(); err != nil {
		return storeError("commit scheduled operation", err)
	}
	return nil
}

const scheduledColumns = "id, name, module, environment, operation, description, cron, enabled, last_run_at, next_run_at, last_run_status, last_execution_id, created_at"

func (s *LibSQLStore) GetScheduledOperation(ctx context.Context, name string) (*ScheduledOperation, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+scheduledColumns+" FROM scheduled_operations WHERE name = ?", name)
	op, err := scanScheduledOperation(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled operation", name)
	}
	if err != nil {
		return nil, storeError("get scheduled operation", err)
	}
	return op, nil
}

func (s *LibSQLStore) UpdateScheduledOperation(ctx context.Context, name string, update ScheduledOperationUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if update.LastExecutionID != "" {
		sets = append(sets, "last_execution_id = ?")
		args = append(args, update.LastExecutionID)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, name)

	query := fmt.Sprintf("UPDATE scheduled_operations SET %s WHERE name = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeError("update scheduled operation", err)
	}
	return checkRowsAffected(res, "scheduled operation", name)
}

// ListScheduledOperations returns scheduled operations sorted by name.
func (s *LibSQLStore) ListScheduledOperations(ctx context.Context, filter ScheduledOperationFilter) ([]*ScheduledOperation, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}
	if filter.Module != "" {
		where = append(where, "module = ?")
		args = append(args, filter.Module)
	}

	query := "SELECT " + scheduledColumns + " FROM scheduled_operations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list scheduled operations", err)
	}
	defer rows.Close()

	var ops []*ScheduledOperation
	for rows.Next() {
		op, err := scanScheduledOperation(rows)
		if err != nil {
			return nil, storeError("scan scheduled operation", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledOperation(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_operations WHERE name = ?`, name)
	if err != nil {
		return storeError("delete scheduled operation", err)
	}
	return checkRowsAffected(res, "scheduled operation", name)
}

// DeleteAllScheduledOperations removes every scheduled operation and returns
// how many were deleted.
func (s *LibSQLStore) DeleteAllScheduledOperations(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_operations`)
	if err != nil {
		return 0, storeError("delete scheduled operations", err)
	}
	return res.RowsAffected()
}

func scanScheduledOperation(row rowScanner) (*ScheduledOperation, error) {
	op := &ScheduledOperation{}
	var description, lastStatus, lastExecution sql.NullString
	var lastRunAt, nextRunAt sql.NullTime
	if err := row.Scan(&op.ID, &op.Name, &op.Module, &op.Environment, &op.Operation, &description,
		&op.Cron, &op.Enabled, &lastRunAt, &nextRunAt, &lastStatus, &lastExecution, &op.CreatedAt); err != nil {
		return nil, err
	}
	op.Description = description.String
	op.LastRunStatus = lastStatus.String
	op.LastExecutionID = lastExecution.String
	if lastRunAt.Valid {
		op.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		op.NextRunAt = &nextRunAt.Time
	}
	return op, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.PineappleError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeError(action string, err error) *schema.PineappleError {
	return schema.NewError(schema.ErrCodeStore, action).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
