// Package report maps completed execution result trees onto a read-only
// report model for presentation.
package report

import (
	"time"

	"github.com/rendis/pineapple/internal/execution"
	"github.com/rendis/pineapple/pkg/schema"
)

// Report vocabulary.
const (
	Success     = "SUCCESS"
	Failure     = "FAILURE"
	Error       = "ERROR"
	Interrupted = "INTERRUPTED"
	Executing   = "EXECUTING"
)

// Report is one node of a report tree. The counters describe the direct
// children only.
type Report struct {
	ID          string              `json:"id"`
	Description string              `json:"description"`
	Result      string              `json:"result"`
	StartTime   time.Time           `json:"start_time"`
	ElapsedMs   int64               `json:"elapsed_ms"`
	Messages    []execution.Message `json:"messages,omitempty"`
	Children    int                 `json:"children"`
	Successful  int                 `json:"successful"`
	Failures    int                 `json:"failures"`
	Errors      int                 `json:"errors"`
	Interrupted int                 `json:"interrupted"`
	Executing   int                 `json:"executing"`
	Nodes       []Report            `json:"nodes,omitempty"`
}

// Vocabulary maps an execution state onto the report vocabulary. COMPUTED is
// transient and reported as EXECUTING.
func Vocabulary(state schema.ExecutionState) string {
	switch state {
	case schema.StateSuccess:
		return Success
	case schema.StateFailure:
		return Failure
	case schema.StateError:
		return Error
	case schema.StateInterrupted:
		return Interrupted
	default:
		return Executing
	}
}

// FromResult snapshots r and maps it.
func FromResult(r *execution.Result) Report {
	return Map(r.Snapshot())
}

// Map converts a result snapshot into a report tree.
func Map(snap execution.ResultSnapshot) Report {
	rep := Report{
		ID:          snap.ID,
		Description: snap.Description,
		Result:      Vocabulary(snap.State),
		StartTime:   snap.StartTime,
		ElapsedMs:   snap.ElapsedMs,
		Messages:    snap.Messages,
		Children:    len(snap.Children),
	}
	for _, child := range snap.Children {
		node := Map(child)
		switch node.Result {
		case Success:
			rep.Successful++
		case Failure:
			rep.Failures++
		case Error:
			rep.Errors++
		case Interrupted:
			rep.Interrupted++
		default:
			rep.Executing++
		}
		rep.Nodes = append(rep.Nodes, node)
	}
	return rep
}

// Walk visits rep and its nodes depth first. depth is 0 for rep.
func (rep Report) Walk(fn func(node Report, depth int) bool) {
	rep.walk(fn, 0)
}

func (rep Report) walk(fn func(Report, int) bool, depth int) bool {
	if !fn(rep, depth) {
		return false
	}
	for _, n := range rep.Nodes {
		if !n.walk(fn, depth+1) {
			return false
		}
	}
	return true
}

// Message returns the last message stored under key.
func (rep Report) Message(key string) (string, bool) {
	for i := len(rep.Messages) - 1; i >= 0; i-- {
		if rep.Messages[i].Key == key {
			return rep.Messages[i].Value, true
		}
	}
	return "", false
}
