package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/pineapple/pkg/schema"
)

// ExecutionRecord is an archived root execution. Snapshot holds the JSON
// encoded execution.InfoSnapshot of the completed tree.
type ExecutionRecord struct {
	ID          string                `json:"id"`
	Module      string                `json:"module"`
	Environment string                `json:"environment"`
	Operation   string                `json:"operation"`
	Description string                `json:"description"`
	State       schema.ExecutionState `json:"state"`
	StartedAt   time.Time             `json:"started_at"`
	ElapsedMs   int64                 `json:"elapsed_ms"`
	Snapshot    json.RawMessage       `json:"snapshot"`
	ArchivedAt  time.Time             `json:"archived_at"`
}

// ExecutionFilter specifies criteria for listing archived executions.
// Empty fields match everything.
type ExecutionFilter struct {
	Module      string                 `json:"module,omitempty"`
	Environment string                 `json:"environment,omitempty"`
	Operation   string                 `json:"operation,omitempty"`
	State       *schema.ExecutionState `json:"state,omitempty"`
	Since       *time.Time             `json:"since,omitempty"`
	Limit       int                    `json:"limit,omitempty"`
	Offset      int                    `json:"offset,omitempty"`
}

// ScheduledOperation is a named operation invoked on a cron schedule.
type ScheduledOperation struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Module          string     `json:"module"`
	Environment     string     `json:"environment"`
	Operation       string     `json:"operation"`
	Description     string     `json:"description,omitempty"`
	Cron            string     `json:"cron"`
	Enabled         bool       `json:"enabled"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus   string     `json:"last_run_status,omitempty"`
	LastExecutionID string     `json:"last_execution_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ScheduledOperationUpdate specifies mutable fields of a scheduled operation.
type ScheduledOperationUpdate struct {
	Enabled         *bool      `json:"enabled,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus   string     `json:"last_run_status,omitempty"`
	LastExecutionID string     `json:"last_execution_id,omitempty"`
}

// ScheduledOperationFilter specifies criteria for listing scheduled operations.
type ScheduledOperationFilter struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Module  string `json:"module,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}
