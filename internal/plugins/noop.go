package plugins

import (
	"context"
	"time"
)

// NoopPlugin completes every operation successfully. The optional content
// key "delay" (a duration) postpones completion; the wait is interrupted when
// the execution is cancelled.
func NoopPlugin() Plugin {
	return NewWithSchema(NoopID, "Does nothing, optionally after a delay.", noopContentSchema, map[string]Operation{
		AnyOperation: SimpleOperation(noop),
	})
}

const noopContentSchema = `{
  "type": "object",
  "properties": {
    "delay": {"type": "string", "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"}
  }
}`

func noop(ctx context.Context, inv Invocation) error {
	if delay := durationParam(inv.Content, "delay", 0); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			inv.Result.CompleteAsInterrupted("Operation interrupted while waiting.")
			return nil
		}
	}
	inv.Result.CompleteAsSuccessful("No operation performed.")
	return nil
}
