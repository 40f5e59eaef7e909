package mcp

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/pineapple/internal/execution"
	"github.com/rendis/pineapple/internal/streaming"
	"github.com/rendis/pineapple/pkg/schema"
)

// ClientNotifier sends a notification to one MCP session. Satisfied by
// *server.MCPServer.
type ClientNotifier interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// CompletionNotifier pushes a notifications/message to the session that
// started an execution once the execution completes.
type CompletionNotifier struct {
	client   ClientNotifier
	sessions *SessionRegistry
	logger   *slog.Logger
}

// NewCompletionNotifier creates a notifier pushing through the given client.
func NewCompletionNotifier(client ClientNotifier, sessions *SessionRegistry, logger *slog.Logger) *CompletionNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionNotifier{client: client, sessions: sessions, logger: logger}
}

// Start subscribes to execution completions on hub and forwards them until
// ctx is cancelled or the hub closes.
func (n *CompletionNotifier) Start(ctx context.Context, hub streaming.EventHub) error {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{
		EventTypes: []string{schema.EventExecutionCompleted},
	})
	if err != nil {
		return err
	}
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if err := n.Notify(evt); err != nil {
					n.logger.Warn("completion notification failed",
						slog.String("execution_id", evt.ExecutionID),
						slog.Any("error", err))
				}
			}
		}
	}()
	return nil
}

// Notify sends the completion of evt to its session.
// Best-effort: returns nil if no session is waiting for the execution.
func (n *CompletionNotifier) Notify(evt streaming.StreamEvent) error {
	sessionID, ok := n.sessions.SessionFor(evt.ExecutionID)
	if !ok {
		return nil
	}
	n.sessions.Forget(evt.ExecutionID)

	payload := map[string]any{
		"level":  "info",
		"logger": "pineapple",
		"data": map[string]any{
			"event":        evt.EventType,
			"execution_id": evt.ExecutionID,
			"module":       evt.Module,
			"environment":  evt.Environment,
			"operation":    evt.Operation,
			"state":        evt.State,
			"description":  evt.Description,
		},
	}
	err := n.client.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session went away between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// completionEvent describes the completion of an already finished execution.
func completionEvent(info *execution.Info) streaming.StreamEvent {
	result := info.Result()
	return streaming.StreamEvent{
		ExecutionID: result.ID(),
		ResultID:    result.ID(),
		EventType:   schema.EventExecutionCompleted,
		State:       result.State().String(),
		Description: result.Description(),
		Module:      info.ModuleID(),
		Environment: info.Environment(),
		Operation:   info.Operation(),
		Time:        time.Now(),
	}
}
