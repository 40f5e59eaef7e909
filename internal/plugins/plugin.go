// Package plugins defines the operations a model can invoke and the registry
// resolving them by plugin id.
package plugins

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/pineapple/internal/execution"
	"github.com/rendis/pineapple/pkg/schema"
)

// AnyOperation registers an operation for every operation name.
const AnyOperation = "*"

// Invocation is the input of one plugin operation.
type Invocation struct {
	Operation   string
	Environment string
	Module      *schema.ModuleInfo
	// Content is the decoded model content; nil when the model has none.
	Content map[string]any
	// Result is owned by the operation and should be completed before it
	// returns.
	Result *execution.Result
}

// Session runs further operations as children of an existing result.
// The engine implements it for composite operations.
type Session interface {
	ExecuteComposite(ctx context.Context, operation, environment, module, description string, parent *execution.Result) *execution.Result
}

// Operation is one of SimpleOperation or CompositeOperation.
type Operation interface {
	variant() string
}

// SimpleOperation works on its own result only.
type SimpleOperation func(ctx context.Context, inv Invocation) error

// CompositeOperation may run other operations through the session.
type CompositeOperation func(ctx context.Context, inv Invocation, session Session) error

func (SimpleOperation) variant() string    { return "simple" }
func (CompositeOperation) variant() string { return "composite" }

// Plugin groups the operations available to models naming its id.
type Plugin interface {
	ID() string
	Description() string
	Operation(name string) (Operation, bool)
}

// ContentSchemaProvider is implemented by plugins which declare the JSON
// Schema of their model content. The engine validates content against it
// before invoking an operation.
type ContentSchemaProvider interface {
	ContentSchema() json.RawMessage
}

// Info is a summary of a registered plugin for listing.
type Info struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

// Execute runs op. Composite operations without a session are rejected.
func Execute(ctx context.Context, op Operation, inv Invocation, session Session) error {
	switch o := op.(type) {
	case SimpleOperation:
		return o(ctx, inv)
	case CompositeOperation:
		if session == nil {
			return schema.NewError(schema.ErrCodePlugin, "composite operation requires a session")
		}
		return o(ctx, inv, session)
	default:
		return schema.NewErrorf(schema.ErrCodePlugin, "unsupported operation variant %T", op)
	}
}

// --- Content helpers ---

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func durationParam(m map[string]any, key string, defaultVal time.Duration) time.Duration {
	s := stringParam(m, key, "")
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func stringSliceParam(m map[string]any, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	result := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

func stringMapParam(m map[string]any, key string) map[string]string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	result := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			result[k] = s
		}
	}
	return result
}
