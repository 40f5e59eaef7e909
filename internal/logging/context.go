package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

type ctxKey int

const (
	executionIDKey ctxKey = iota
	moduleKey
	environmentKey
	operationKey
)

// WithExecutionID returns a context with the root result id set.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// WithModule returns a context with the module id set.
func WithModule(ctx context.Context, module string) context.Context {
	return context.WithValue(ctx, moduleKey, module)
}

// WithEnvironment returns a context with the environment set.
func WithEnvironment(ctx context.Context, environment string) context.Context {
	return context.WithValue(ctx, environmentKey, environment)
}

// WithOperation returns a context with the operation name set.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey, operation)
}

// ExecutionID extracts the execution id from the context, or "" if absent.
func ExecutionID(ctx context.Context) string {
	v, _ := ctx.Value(executionIDKey).(string)
	return v
}

// Module extracts the module id from the context, or "" if absent.
func Module(ctx context.Context) string {
	v, _ := ctx.Value(moduleKey).(string)
	return v
}

// Environment extracts the environment from the context, or "" if absent.
func Environment(ctx context.Context) string {
	v, _ := ctx.Value(environmentKey).(string)
	return v
}

// Operation extracts the operation name from the context, or "" if absent.
func Operation(ctx context.Context) string {
	v, _ := ctx.Value(operationKey).(string)
	return v
}

// WithExecution sets all correlation values of one operation invocation.
func WithExecution(ctx context.Context, executionID, module, environment, operation string) context.Context {
	ctx = WithExecutionID(ctx, executionID)
	ctx = WithModule(ctx, module)
	ctx = WithEnvironment(ctx, environment)
	ctx = WithOperation(ctx, operation)
	return ctx
}

// correlationAttrs returns the non-empty correlation values of ctx.
func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := ExecutionID(ctx); v != "" {
		attrs = append(attrs, slog.String("execution_id", v))
	}
	if v := Module(ctx); v != "" {
		attrs = append(attrs, slog.String("module", v))
	}
	if v := Environment(ctx); v != "" {
		attrs = append(attrs, slog.String("environment", v))
	}
	if v := Operation(ctx); v != "" {
		attrs = append(attrs, slog.String("operation", v))
	}
	return attrs
}

// LogWith returns a logger enriched with correlation values from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation values from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and the values appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with correlation injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger: a text or JSON handler on w wrapped
// in a CorrelationHandler.
func NewLogger(w io.Writer, level string, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var inner slog.Handler
	if json {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(NewCorrelationHandler(inner))
}
