package execution

import (
	"time"

	"github.com/rendis/pineapple/pkg/schema"
)

// Info is the handle returned to the invoker of an operation. It is immutable;
// the referenced result keeps changing until the operation finishes.
type Info struct {
	operation   string
	environment string
	module      *schema.ModuleInfo
	result      *Result
	createdAt   time.Time
}

// NewInfo pairs an operation invocation with its root result.
func NewInfo(module *schema.ModuleInfo, environment, operation string, result *Result) *Info {
	if module == nil {
		module = schema.NullModuleInfo("")
	}
	return &Info{
		operation:   operation,
		environment: environment,
		module:      module,
		result:      result,
		createdAt:   time.Now().UTC(),
	}
}

// Operation returns the executed operation name.
func (i *Info) Operation() string { return i.operation }

// Environment returns the target environment.
func (i *Info) Environment() string { return i.environment }

// Module returns the module descriptor, nil for administrative executions.
func (i *Info) Module() *schema.ModuleInfo { return i.module }

// Result returns the root result of the execution.
func (i *Info) Result() *Result { return i.result }

// CreatedAt returns when the execution was started, in UTC.
func (i *Info) CreatedAt() time.Time { return i.createdAt }

// ModuleID returns the module id, empty for administrative executions.
func (i *Info) ModuleID() string {
	if i.module == nil {
		return ""
	}
	return i.module.ID
}

// InfoSnapshot is the serialisable view of an Info and its result tree.
type InfoSnapshot struct {
	Operation   string             `json:"operation"`
	Environment string             `json:"environment"`
	Module      *schema.ModuleInfo `json:"module"`
	CreatedAt   time.Time          `json:"created_at"`
	Result      ResultSnapshot     `json:"result"`
}

// Snapshot copies the handle and its current result tree.
func (i *Info) Snapshot() InfoSnapshot {
	return InfoSnapshot{
		Operation:   i.operation,
		Environment: i.environment,
		Module:      i.module,
		CreatedAt:   i.createdAt,
		Result:      i.result.Snapshot(),
	}
}
