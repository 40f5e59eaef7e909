package streaming

import (
	"context"
	"log/slog"

	"github.com/rendis/pineapple/internal/execution"
)

// ExecutionFinder looks up tracked executions by root result id.
type ExecutionFinder interface {
	Find(resultID string) (*execution.Info, bool)
}

// ResultPublisher is a result listener that republishes every state change
// on an EventHub.
type ResultPublisher struct {
	hub    EventHub
	finder ExecutionFinder
	logger *slog.Logger
}

// NewResultPublisher creates a publisher. finder is optional and only used to
// label events with module, environment and operation.
func NewResultPublisher(hub EventHub, finder ExecutionFinder, logger *slog.Logger) *ResultPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultPublisher{hub: hub, finder: finder, logger: logger}
}

// Notify implements execution.ResultListener.
func (p *ResultPublisher) Notify(n execution.Notification) {
	if n.Result == nil {
		return
	}
	root := n.Result.Root()
	event := StreamEvent{
		ExecutionID: root.ID(),
		ResultID:    n.Result.ID(),
		EventType:   n.EventType(),
		State:       n.State.String(),
		Description: n.Result.Description(),
		Time:        n.Time,
	}
	if p.finder != nil {
		if info, ok := p.finder.Find(root.ID()); ok {
			event.Module = info.ModuleID()
			event.Environment = info.Environment()
			event.Operation = info.Operation()
		}
	}
	if err := p.hub.Publish(context.Background(), event); err != nil {
		p.logger.Debug("failed to publish result event",
			slog.String("execution_id", event.ExecutionID),
			slog.Any("error", err))
	}
}
