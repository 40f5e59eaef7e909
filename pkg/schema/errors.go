package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeConflict    = "CONFLICT"
	ErrCodeExecution   = "EXECUTION_ERROR"
	ErrCodeInterrupted = "INTERRUPTED"
	ErrCodeResolution  = "RESOLUTION_ERROR"
	ErrCodePlugin      = "PLUGIN_ERROR"
	ErrCodeStore       = "STORE_ERROR"
	ErrCodeShutdown    = "SHUTDOWN"
	ErrCodeCircuitOpen = "CIRCUIT_OPEN"
	ErrCodePathDenied  = "PATH_DENIED"
)

// PineappleError is the structured error type for all core operations.
type PineappleError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *PineappleError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *PineappleError) Unwrap() error {
	return e.Cause
}

// NewError creates a new PineappleError.
func NewError(code, message string) *PineappleError {
	return &PineappleError{Code: code, Message: message}
}

// NewErrorf creates a new PineappleError with a formatted message.
func NewErrorf(code, format string, args ...any) *PineappleError {
	return &PineappleError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause.
func (e *PineappleError) WithCause(err error) *PineappleError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *PineappleError) WithDetails(details map[string]any) *PineappleError {
	e.Details = details
	return e
}

// HasCode reports whether err is a PineappleError carrying code.
func HasCode(err error, code string) bool {
	for err != nil {
		if pe, ok := err.(*PineappleError); ok {
			return pe.Code == code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
