package execution

import (
	"time"

	"github.com/rendis/pineapple/pkg/schema"
)

// Notification is delivered to listeners after a result changes state.
type Notification struct {
	Result *Result
	State  schema.ExecutionState
	Time   time.Time
}

// EventType maps the notification onto the event vocabulary.
func (n Notification) EventType() string {
	root := n.Result.IsRoot()
	switch {
	case n.State == schema.StateExecuting && root:
		return schema.EventExecutionStarted
	case n.State == schema.StateExecuting:
		return schema.EventResultStarted
	case root:
		return schema.EventExecutionCompleted
	default:
		return schema.EventResultCompleted
	}
}

// ResultListener observes state changes of tracked executions.
// Notify is called synchronously on the goroutine that changed the state.
type ResultListener interface {
	Notify(n Notification)
}

type funcListener struct {
	fn func(Notification)
}

func (l *funcListener) Notify(n Notification) { l.fn(n) }

// ListenerFunc adapts a function to a ResultListener. Each call returns a
// distinct listener which can be removed again.
func ListenerFunc(fn func(Notification)) ResultListener {
	return &funcListener{fn: fn}
}
