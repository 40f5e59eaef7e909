package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/pineapple/internal/execution"
	"github.com/rendis/pineapple/internal/report"
	"github.com/rendis/pineapple/internal/store"
)

const (
	defaultHistoryLimit = 20
	maxWait             = 5 * time.Minute
)

// executionSummary is the short form of an execution returned by execute,
// cancel and history.
type executionSummary struct {
	ExecutionID string    `json:"execution_id"`
	Module      string    `json:"module"`
	Environment string    `json:"environment"`
	Operation   string    `json:"operation"`
	State       string    `json:"state"`
	Description string    `json:"description"`
	StartedAt   time.Time `json:"started_at"`
	ElapsedMs   int64     `json:"elapsed_ms"`
}

func summarize(info *execution.Info) executionSummary {
	r := info.Result()
	return executionSummary{
		ExecutionID: r.ID(),
		Module:      info.ModuleID(),
		Environment: info.Environment(),
		Operation:   info.Operation(),
		State:       report.Vocabulary(r.State()),
		Description: r.Description(),
		StartedAt:   r.StartTime(),
		ElapsedMs:   r.Elapsed().Milliseconds(),
	}
}

func summarizeRecord(rec *store.ExecutionRecord) executionSummary {
	return executionSummary{
		ExecutionID: rec.ID,
		Module:      rec.Module,
		Environment: rec.Environment,
		Operation:   rec.Operation,
		State:       report.Vocabulary(rec.State),
		Description: rec.Description,
		StartedAt:   rec.StartedAt,
		ElapsedMs:   rec.ElapsedMs,
	}
}

// handleExecute starts an operation and optionally waits for it.
func (s *Server) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	module, err := req.RequireString("module")
	if err != nil {
		return mcp.NewToolResultError("module is required"), nil
	}
	environment, err := req.RequireString("environment")
	if err != nil {
		return mcp.NewToolResultError("environment is required"), nil
	}
	operation, err := req.RequireString("operation")
	if err != nil {
		return mcp.NewToolResultError("operation is required"), nil
	}
	if s.engine == nil {
		return mcp.NewToolResultError("engine is not available"), nil
	}

	info, execErr := s.engine.ExecuteOperation(operation, environment, module)
	if execErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("operation was not started: %v", execErr)), nil
	}
	s.captureSession(ctx, info.Result().ID())
	if info.Result().Completed() {
		// Completed before the session was captured, so the hub event was missed.
		if err := s.notifier.Notify(completionEvent(info)); err != nil {
			s.logger.Warn("completion notification failed",
				slog.String("execution_id", info.Result().ID()),
				slog.Any("error", err))
		}
	}

	wait := time.Duration(extractInt(req.GetArguments(), "wait_seconds", 0)) * time.Second
	if wait > 0 {
		waitCompleted(ctx, info.Result(), min(wait, maxWait))
		if info.Result().Completed() {
			return marshalResult(map[string]any{
				"execution": summarize(info),
				"report":    report.FromResult(info.Result()),
			})
		}
	}
	return marshalResult(summarize(info))
}

// handleCancel requests cancellation of a tracked execution.
func (s *Server) handleCancel(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	if s.engine == nil {
		return mcp.NewToolResultError("engine is not available"), nil
	}
	info, ok := s.engine.Results().Find(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("execution %q is not running or no longer tracked", id)), nil
	}
	alreadyCompleted := info.Result().Completed()
	if cancelErr := s.engine.CancelOperation(info); cancelErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", cancelErr)), nil
	}
	return marshalResult(map[string]any{
		"ok":                true,
		"execution":         summarize(info),
		"already_completed": alreadyCompleted,
	})
}

// handleStatus returns the report tree of a tracked or archived execution.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	if s.engine != nil {
		if info, ok := s.engine.Results().Find(id); ok {
			return marshalResult(map[string]any{
				"execution": summarize(info),
				"report":    report.FromResult(info.Result()),
				"source":    "memory",
			})
		}
	}
	if s.store == nil {
		return mcp.NewToolResultError(fmt.Sprintf("execution %q not found", id)), nil
	}
	rec, getErr := s.store.GetExecution(ctx, id)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("execution %q not found: %v", id, getErr)), nil
	}
	snap, decodeErr := store.DecodeSnapshot(rec)
	if decodeErr != nil {
		return mcp.NewToolResultError(decodeErr.Error()), nil
	}
	return marshalResult(map[string]any{
		"execution": summarizeRecord(rec),
		"report":    report.Map(snap.Result),
		"source":    "archive",
	})
}

// handleHistory lists executions from memory or the archive.
func (s *Server) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source := req.GetString("source", "memory")
	module := req.GetString("module", "")
	environment := req.GetString("environment", "")
	operation := req.GetString("operation", "")
	limit := extractInt(req.GetArguments(), "limit", defaultHistoryLimit)

	switch source {
	case "memory":
		if s.engine == nil {
			return mcp.NewToolResultError("engine is not available"), nil
		}
		out := make([]executionSummary, 0)
		for _, info := range s.engine.Results().AllHistory() {
			if !matches(module, info.ModuleID()) || !matches(environment, info.Environment()) || !matches(operation, info.Operation()) {
				continue
			}
			out = append(out, summarize(info))
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return marshalResult(out)
	case "archive":
		if s.store == nil {
			return mcp.NewToolResultError("execution archive is not configured"), nil
		}
		recs, listErr := s.store.ListExecutions(ctx, store.ExecutionFilter{
			Module:      module,
			Environment: environment,
			Operation:   operation,
			Limit:       limit,
		})
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", listErr)), nil
		}
		out := make([]executionSummary, 0, len(recs))
		for _, rec := range recs {
			out = append(out, summarizeRecord(rec))
		}
		return marshalResult(out)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown source %q: must be memory or archive", source)), nil
	}
}

// handleSchedule dispatches scheduled operation actions.
func (s *Server) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}
	if s.scheduler == nil {
		return mcp.NewToolResultError("scheduler is not configured"), nil
	}

	switch action {
	case "list":
		ops, listErr := s.scheduler.List(ctx)
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", listErr)), nil
		}
		if ops == nil {
			ops = []*store.ScheduledOperation{}
		}
		return marshalResult(ops)
	case "create":
		op, createErr := s.scheduler.Create(ctx,
			req.GetString("name", ""),
			req.GetString("module", ""),
			req.GetString("operation", ""),
			req.GetString("environment", ""),
			req.GetString("description", ""),
			req.GetString("cron", ""),
		)
		if createErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("create failed: %v", createErr)), nil
		}
		return marshalResult(op)
	case "delete":
		name, nameErr := req.RequireString("name")
		if nameErr != nil {
			return mcp.NewToolResultError("name is required"), nil
		}
		if delErr := s.scheduler.Delete(ctx, name); delErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", delErr)), nil
		}
		return marshalResult(map[string]any{"ok": true, "name": name})
	case "delete_all":
		n, delErr := s.scheduler.DeleteAll(ctx)
		if delErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", delErr)), nil
		}
		return marshalResult(map[string]any{"ok": true, "deleted": n})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", action)), nil
	}
}

// handleModules lists modules or the environments of one module.
func (s *Server) handleModules(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.modules == nil {
		return mcp.NewToolResultError("module catalog is not configured"), nil
	}
	if module := req.GetString("module", ""); module != "" {
		envs, err := s.modules.Environments(module)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list environments failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"module": module, "environments": nonNil(envs)})
	}
	mods, err := s.modules.List()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list modules failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"modules": nonNil(mods)})
}

// --- Helpers ---

// waitCompleted polls r until it completes, ctx is done or d elapses.
func waitCompleted(ctx context.Context, r *execution.Result, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for !r.Completed() {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case <-ticker.C:
		}
	}
}

func matches(filter, value string) bool {
	return filter == "" || filter == value
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// extractInt safely extracts an integer from tool arguments.
func extractInt(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession maps the execution to the calling MCP session for the
// completion notification.
func (s *Server) captureSession(ctx context.Context, executionID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(executionID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
