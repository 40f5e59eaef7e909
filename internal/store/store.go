package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Execution archive
	SaveExecution(ctx context.Context, rec *ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*ExecutionRecord, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error)
	PruneExecutions(ctx context.Context, keep int) (int64, error)

	// Scheduled operations
	CreateScheduledOperation(ctx context.Context, op *ScheduledOperation) error
	GetScheduledOperation(ctx context.Context, name string) (*ScheduledOperation, error)
	UpdateScheduledOperation(ctx context.Context, name string, update ScheduledOperationUpdate) error
	ListScheduledOperations(ctx context.Context, filter ScheduledOperationFilter) ([]*ScheduledOperation, error)
	DeleteScheduledOperation(ctx context.Context, name string) error
	DeleteAllScheduledOperations(ctx context.Context) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
