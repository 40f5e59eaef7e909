package streaming

import (
	"context"
	"time"
)

// StreamEvent is a real-time event emitted while an operation executes.
type StreamEvent struct {
	ExecutionID string    `json:"execution_id"`
	ResultID    string    `json:"result_id"`
	EventType   string    `json:"event_type"`
	State       string    `json:"state"`
	Description string    `json:"description"`
	Module      string    `json:"module,omitempty"`
	Environment string    `json:"environment,omitempty"`
	Operation   string    `json:"operation,omitempty"`
	Time        time.Time `json:"time"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	Module      string   `json:"module,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time execution events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
