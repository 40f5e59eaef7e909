package execution

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pineapple/pkg/schema"
)

func completeAs(r *Result, state schema.ExecutionState) {
	switch state {
	case schema.StateSuccess:
		r.CompleteAsSuccessful("ok")
	case schema.StateFailure:
		r.CompleteAsFailure("failed")
	case schema.StateError:
		r.CompleteAsError(errors.New("boom"), "")
	case schema.StateInterrupted:
		r.CompleteAsInterrupted("stopped")
	}
}

func expectedComputed(success, failure, errs, interrupted int) schema.ExecutionState {
	switch {
	case errs > 0:
		return schema.StateError
	case failure > 0:
		return schema.StateFailure
	case interrupted > 0:
		return schema.StateInterrupted
	default:
		return schema.StateSuccess
	}
}

func TestResult_ComputedPrecedence_Exhaustive(t *testing.T) {
	for s := 0; s <= 3; s++ {
		for f := 0; f <= 3; f++ {
			for e := 0; e <= 3; e++ {
				for i := 0; i <= 3; i++ {
					name := fmt.Sprintf("s%d_f%d_e%d_i%d", s, f, e, i)
					t.Run(name, func(t *testing.T) {
						root := NewResult("root")
						counts := map[schema.ExecutionState]int{
							schema.StateSuccess:     s,
							schema.StateFailure:     f,
							schema.StateError:       e,
							schema.StateInterrupted: i,
						}
						for state, n := range counts {
							for k := 0; k < n; k++ {
								completeAs(root.AddChild(state.String()), state)
							}
						}

						root.CompleteAsComputed("")

						assert.Equal(t, expectedComputed(s, f, e, i), root.State())
						msg, ok := root.Message(schema.MsgComposite)
						require.True(t, ok)
						assert.Equal(t, fmt.Sprintf(
							"Results: %d, successful: %d, failures: %d, errors: %d, interrupted: %d.",
							s+f+e+i, s, f, e, i), msg)
					})
				}
			}
		}
	}
}

func TestResult_ComputedNoChildrenIsSuccess(t *testing.T) {
	r := NewResult("empty")
	r.CompleteAsComputed("done")
	assert.Equal(t, schema.StateSuccess, r.State())
	assert.True(t, r.IsSuccess())
}

func TestResult_ComputedForcesExecutingChildrenToError(t *testing.T) {
	root := NewResult("root")
	done := root.AddChild("done")
	done.CompleteAsSuccessful("")
	pending := root.AddChild("pending")

	root.CompleteAsComputed("")

	assert.True(t, pending.IsError())
	assert.True(t, pending.Completed())
	assert.True(t, root.IsError())
	msg, ok := pending.Message(schema.MsgMessage)
	require.True(t, ok)
	assert.Contains(t, msg, "forced to error")
}

func TestResult_DoubleCompletionPanics(t *testing.T) {
	tests := []struct {
		name   string
		second func(r *Result)
	}{
		{"success", func(r *Result) { r.CompleteAsSuccessful("") }},
		{"failure", func(r *Result) { r.CompleteAsFailure("") }},
		{"error", func(r *Result) { r.CompleteAsError(nil, "x") }},
		{"interrupted", func(r *Result) { r.CompleteAsInterrupted("") }},
		{"computed", func(r *Result) { r.CompleteAsComputed("") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResult("once")
			r.CompleteAsFailure("first")

			defer func() {
				rec := recover()
				require.NotNil(t, rec)
				err, ok := rec.(error)
				require.True(t, ok)
				assert.ErrorIs(t, err, ErrDoubleCompletion)
				assert.Equal(t, schema.StateFailure, r.State())
			}()
			tt.second(r)
		})
	}
}

func TestResult_StateImmutableAfterCompletion(t *testing.T) {
	r := NewResult("x")
	r.CompleteAsInterrupted("")
	elapsed := r.Elapsed()

	assert.Panics(t, func() { r.CompleteAsSuccessful("") })
	assert.Equal(t, schema.StateInterrupted, r.State())
	assert.Equal(t, elapsed, r.Elapsed())
}

func TestResult_MessagesKeepDuplicatesInOrder(t *testing.T) {
	r := NewResult("x")
	r.AddMessage("k", "one")
	r.AddMessage("other", "v")
	r.AddMessage("k", "two")

	msgs := r.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, Message{Key: "k", Value: "one"}, msgs[0])
	assert.Equal(t, Message{Key: "other", Value: "v"}, msgs[1])
	assert.Equal(t, Message{Key: "k", Value: "two"}, msgs[2])

	joined, ok := r.Message("k")
	require.True(t, ok)
	assert.Equal(t, "one\ntwo", joined)

	_, ok = r.Message("missing")
	assert.False(t, ok)
}

func TestResult_ChildrenWithStatePreservesOrder(t *testing.T) {
	r := NewResult("x")
	a := r.AddChild("a")
	b := r.AddChild("b")
	c := r.AddChild("c")
	a.CompleteAsFailure("")
	b.CompleteAsSuccessful("")
	c.CompleteAsFailure("")

	failed := r.ChildrenWithState(schema.StateFailure)
	require.Len(t, failed, 2)
	assert.Same(t, a, failed[0])
	assert.Same(t, c, failed[1])
	assert.Same(t, a, r.FirstChild())
	assert.Equal(t, 3, r.NumberOfChildren())
}

func TestResult_ChildSharesPolicyAndRoot(t *testing.T) {
	root := NewResult("root")
	child := root.AddChild("child")
	grandchild := child.AddChild("grandchild")

	assert.Same(t, root.Policy(), grandchild.Policy())
	assert.Same(t, root, grandchild.Root())
	assert.Same(t, child, grandchild.Parent())
	assert.True(t, root.IsRoot())
	assert.False(t, child.IsRoot())
}

func TestResult_NonSuccessRegistersFailureOnPolicy(t *testing.T) {
	root := NewResult("root")
	first := root.AddChild("first")
	second := root.AddChild("second")
	first.CompleteAsError(errors.New("bad"), "")
	second.CompleteAsFailure("")

	assert.Same(t, first, root.Policy().FailedResult())
}

func TestResult_CompleteAsErrorRecordsPanicStack(t *testing.T) {
	r := NewResult("x")
	r.CompleteAsError(&PanicError{Value: "kaboom", Stack: "goroutine 1 [running]"}, "")

	msg, ok := r.Message(schema.MsgErrorMessage)
	require.True(t, ok)
	assert.Equal(t, "panic: kaboom", msg)
	stack, ok := r.Message(schema.MsgStackTrace)
	require.True(t, ok)
	assert.Equal(t, "goroutine 1 [running]", stack)
}

func TestResult_CompleteAsComputedWith(t *testing.T) {
	t.Run("success message", func(t *testing.T) {
		r := NewResult("x")
		r.AddChild("a").CompleteAsSuccessful("")
		r.CompleteAsComputedWith("all good", func(f, e int) string { return "bad" })
		msg, _ := r.Message(schema.MsgMessage)
		assert.Equal(t, "all good", msg)
	})
	t.Run("failure message receives counts", func(t *testing.T) {
		r := NewResult("x")
		r.AddChild("a").CompleteAsFailure("")
		r.AddChild("b").CompleteAsError(nil, "e")
		r.AddChild("c").CompleteAsError(nil, "e")
		r.CompleteAsComputedWith("all good", func(f, e int) string {
			return fmt.Sprintf("%d failures, %d errors", f, e)
		})
		assert.True(t, r.IsError())
		msg, _ := r.Message(schema.MsgMessage)
		assert.Equal(t, "1 failures, 2 errors", msg)
	})
}

func TestResult_Snapshot(t *testing.T) {
	root := NewResult("root")
	child := root.AddChild("child")
	child.AddMessage("k", "v")
	child.CompleteAsSuccessful("")
	root.CompleteAsComputed("")

	snap := root.Snapshot()
	assert.Equal(t, root.ID(), snap.ID)
	assert.Equal(t, schema.StateSuccess, snap.State)
	require.Len(t, snap.Children, 1)
	assert.Equal(t, "child", snap.Children[0].Description)
	assert.Equal(t, Message{Key: "k", Value: "v"}, snap.Children[0].Messages[0])
}
