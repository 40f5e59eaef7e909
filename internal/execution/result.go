package execution

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/pineapple/pkg/schema"
)

// ErrDoubleCompletion is the panic value raised when a terminal state is
// assigned to a result which has already completed.
var ErrDoubleCompletion = errors.New("execution result already completed")

// Message is a single key/value entry on a result. Keys are not unique.
type Message struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// stateNotifier receives every state change of a result tree.
// The Repository implements it.
type stateNotifier interface {
	notifyStateChange(r *Result)
}

// Result is a node in an execution result tree. The task that owns a subtree
// is its only writer; status pollers and listeners read concurrently.
type Result struct {
	id       string
	parent   *Result
	policy   *ContinuationPolicy
	notifier stateNotifier

	mu          sync.RWMutex
	description string
	state       schema.ExecutionState
	completed   bool
	startTime   time.Time
	elapsed     time.Duration
	messages    []Message
	children    []*Result
}

// NewResult creates a detached root result with its own continuation policy.
// It is not tracked by any repository.
func NewResult(description string) *Result {
	return newResult(nil, description, NewContinuationPolicy(nil), nil)
}

func newResult(parent *Result, description string, policy *ContinuationPolicy, n stateNotifier) *Result {
	r := &Result{
		id:          uuid.New().String(),
		parent:      parent,
		policy:      policy,
		notifier:    n,
		description: description,
		state:       schema.StateExecuting,
		startTime:   time.Now(),
	}
	return r
}

// ID returns the unique id of the result.
func (r *Result) ID() string { return r.id }

// Parent returns the parent result, or nil for a root.
func (r *Result) Parent() *Result { return r.parent }

// Policy returns the continuation policy shared by the whole tree.
func (r *Result) Policy() *ContinuationPolicy { return r.policy }

// IsRoot reports whether the result has no parent.
func (r *Result) IsRoot() bool { return r.parent == nil }

// Root returns the root of the tree the result belongs to.
func (r *Result) Root() *Result {
	root := r
	for root.parent != nil {
		root = root.parent
	}
	return root
}

// Description returns what the result is tracking.
func (r *Result) Description() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.description
}

// SetDescription replaces the description.
func (r *Result) SetDescription(description string) {
	r.mu.Lock()
	r.description = description
	r.mu.Unlock()
}

// State returns the current state.
func (r *Result) State() schema.ExecutionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// IsExecuting reports whether the result has not completed yet.
func (r *Result) IsExecuting() bool { return r.State() == schema.StateExecuting }

// IsSuccess reports whether the result completed as SUCCESS.
func (r *Result) IsSuccess() bool { return r.State() == schema.StateSuccess }

// IsFailed reports whether the result completed as FAILURE.
func (r *Result) IsFailed() bool { return r.State() == schema.StateFailure }

// IsError reports whether the result completed as ERROR.
func (r *Result) IsError() bool { return r.State() == schema.StateError }

// IsInterrupted reports whether the result completed as INTERRUPTED.
func (r *Result) IsInterrupted() bool { return r.State() == schema.StateInterrupted }

// StartTime returns when the result was created.
func (r *Result) StartTime() time.Time {
	return r.startTime
}

// Elapsed returns the running time so far, frozen on completion.
func (r *Result) Elapsed() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.completed {
		return r.elapsed
	}
	return time.Since(r.startTime)
}

// AddChild appends a new executing child which shares the policy.
func (r *Result) AddChild(description string) *Result {
	child := newResult(r, description, r.policy, r.notifier)
	r.mu.Lock()
	r.children = append(r.children, child)
	r.mu.Unlock()
	r.notify(child)
	return child
}

// Children returns a snapshot of the children in insertion order.
func (r *Result) Children() []*Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Result, len(r.children))
	copy(out, r.children)
	return out
}

// NumberOfChildren returns the number of children.
func (r *Result) NumberOfChildren() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.children)
}

// FirstChild returns the first child, or nil.
func (r *Result) FirstChild() *Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.children) == 0 {
		return nil
	}
	return r.children[0]
}

// ChildrenWithState returns the children whose state equals state, in
// insertion order.
func (r *Result) ChildrenWithState(state schema.ExecutionState) []*Result {
	var found []*Result
	for _, c := range r.Children() {
		if c.State() == state {
			found = append(found, c)
		}
	}
	return found
}

// AddMessage appends a message. Earlier entries with the same key are kept.
func (r *Result) AddMessage(key, value string) {
	r.mu.Lock()
	r.messages = append(r.messages, Message{Key: key, Value: value})
	r.mu.Unlock()
}

// AddOrReplaceMessage replaces the last entry with key, or appends one.
func (r *Result) AddOrReplaceMessage(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].Key == key {
			r.messages[i].Value = value
			return
		}
	}
	r.messages = append(r.messages, Message{Key: key, Value: value})
}

// Messages returns a snapshot of all messages in insertion order.
func (r *Result) Messages() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Message returns all values recorded for key joined by newlines.
func (r *Result) Message(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var values []string
	for _, m := range r.messages {
		if m.Key == key {
			values = append(values, m.Value)
		}
	}
	if len(values) == 0 {
		return "", false
	}
	return strings.Join(values, "\n"), true
}

// CompleteAsSuccessful completes the result with SUCCESS.
func (r *Result) CompleteAsSuccessful(message string) {
	r.mustComplete(schema.StateSuccess, schema.MsgMessage, message)
}

// CompleteAsFailure completes the result with FAILURE.
func (r *Result) CompleteAsFailure(message string) {
	r.mustComplete(schema.StateFailure, schema.MsgErrorMessage, message)
}

// CompleteAsInterrupted completes the result with INTERRUPTED.
func (r *Result) CompleteAsInterrupted(message string) {
	r.mustComplete(schema.StateInterrupted, schema.MsgMessage, message)
}

// CompleteAsError completes the result with ERROR. The error text is used
// when message is empty; a panic stack is recorded when err carries one.
func (r *Result) CompleteAsError(err error, message string) {
	if message == "" && err != nil {
		message = err.Error()
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		r.AddMessage(schema.MsgStackTrace, pe.Stack)
	} else if err != nil && message != err.Error() {
		r.AddMessage(schema.MsgStackTrace, err.Error())
	}
	r.mustComplete(schema.StateError, schema.MsgErrorMessage, message)
}

// CompleteAsComputed resolves the state from the children:
// ERROR beats FAILURE beats INTERRUPTED beats SUCCESS. No children is SUCCESS.
// Children still executing are forced to ERROR first.
func (r *Result) CompleteAsComputed(message string) {
	r.mustComplete(schema.StateComputed, schema.MsgMessage, message)
}

// CompleteAsComputedWith is CompleteAsComputed with separate messages for the
// successful and unsuccessful outcome. failed receives the number of failed
// and errored children.
func (r *Result) CompleteAsComputedWith(success string, failed func(failures, errs int) string) {
	if !r.complete(schema.StateComputed, "", "") {
		panic(fmt.Errorf("%w: %q", ErrDoubleCompletion, r.Description()))
	}
	if r.IsSuccess() {
		if success != "" {
			r.AddMessage(schema.MsgMessage, success)
		}
		return
	}
	if failed != nil {
		r.AddMessage(schema.MsgMessage, failed(
			len(r.ChildrenWithState(schema.StateFailure)),
			len(r.ChildrenWithState(schema.StateError)),
		))
	}
}

func (r *Result) mustComplete(state schema.ExecutionState, key, message string) {
	if !r.complete(state, key, message) {
		panic(fmt.Errorf("%w: %q", ErrDoubleCompletion, r.Description()))
	}
}

// complete records a terminal state exactly once. It returns false if the
// result was already completed.
func (r *Result) complete(state schema.ExecutionState, key, message string) bool {
	if state == schema.StateComputed {
		// Resolve children before taking the lock: forcing a child notifies.
		if r.Completed() {
			return false
		}
		state = r.computeState()
	}

	r.mu.Lock()
	if r.completed {
		r.mu.Unlock()
		return false
	}
	if message != "" {
		r.messages = append(r.messages, Message{Key: key, Value: message})
	}
	r.state = state
	r.completed = true
	r.elapsed = time.Since(r.startTime)
	r.mu.Unlock()

	if state != schema.StateSuccess && r.policy != nil {
		r.policy.SetFailed(r)
	}
	r.notify(r)
	return true
}

// Completed reports whether a terminal state has been assigned.
func (r *Result) Completed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.completed
}

func (r *Result) computeState() schema.ExecutionState {
	var successful, failures, errs, interrupted int
	children := r.Children()
	for _, c := range children {
		if !c.Completed() {
			c.forceError()
		}
		switch c.State() {
		case schema.StateSuccess:
			successful++
		case schema.StateFailure:
			failures++
		case schema.StateInterrupted:
			interrupted++
		default:
			errs++
		}
	}

	r.AddOrReplaceMessage(schema.MsgComposite, fmt.Sprintf(
		"Results: %d, successful: %d, failures: %d, errors: %d, interrupted: %d.",
		len(children), successful, failures, errs, interrupted))

	switch {
	case errs > 0:
		return schema.StateError
	case failures > 0:
		return schema.StateFailure
	case interrupted > 0:
		return schema.StateInterrupted
	default:
		return schema.StateSuccess
	}
}

// forceError terminates a child which was never completed explicitly.
func (r *Result) forceError() {
	r.AddMessage(schema.MsgMessage, "State is forced to error due to state not being set explicitly.")
	r.complete(schema.StateError, "", "")
}

func (r *Result) notify(changed *Result) {
	if r.notifier != nil {
		r.notifier.notifyStateChange(changed)
	}
}

// PanicError wraps a value recovered from a panicking plugin operation.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// ResultSnapshot is a deep, serialisable copy of a result subtree.
type ResultSnapshot struct {
	ID          string                `json:"id"`
	Description string                `json:"description"`
	State       schema.ExecutionState `json:"state"`
	StartTime   time.Time             `json:"start_time"`
	ElapsedMs   int64                 `json:"elapsed_ms"`
	Messages    []Message             `json:"messages,omitempty"`
	Children    []ResultSnapshot      `json:"children,omitempty"`
}

// Snapshot copies the subtree rooted at r.
func (r *Result) Snapshot() ResultSnapshot {
	r.mu.RLock()
	snap := ResultSnapshot{
		ID:          r.id,
		Description: r.description,
		State:       r.state,
		StartTime:   r.startTime,
		Messages:    append([]Message(nil), r.messages...),
	}
	children := append([]*Result(nil), r.children...)
	r.mu.RUnlock()

	snap.ElapsedMs = r.Elapsed().Milliseconds()
	for _, c := range children {
		snap.Children = append(snap.Children, c.Snapshot())
	}
	return snap
}
