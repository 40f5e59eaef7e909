package trigger

import (
	"iter"

	"github.com/rendis/pineapple/pkg/schema"
)

// Resolver filters a trigger sequence against an actual value.
type Resolver interface {
	Resolve(triggers iter.Seq[*schema.Trigger], actual string) (iter.Seq[*schema.Trigger], error)
}

// OperationResolver matches the on-target-operation field against the name of
// the invoked operation.
type OperationResolver struct{}

// Resolve returns the triggers whose on-target-operation matches operation.
func (OperationResolver) Resolve(triggers iter.Seq[*schema.Trigger], operation string) (iter.Seq[*schema.Trigger], error) {
	return filter(triggers, operation, func(t *schema.Trigger) *string { return t.OnTargetOperation })
}

// ResultResolver matches the on-result field against a terminal state name.
type ResultResolver struct{}

// Resolve returns the triggers whose on-result matches state.
func (ResultResolver) Resolve(triggers iter.Seq[*schema.Trigger], state string) (iter.Seq[*schema.Trigger], error) {
	return filter(triggers, state, func(t *schema.Trigger) *string { return t.OnResult })
}

// ResolveState is Resolve for an ExecutionState.
func (r ResultResolver) ResolveState(triggers iter.Seq[*schema.Trigger], state schema.ExecutionState) (iter.Seq[*schema.Trigger], error) {
	return r.Resolve(triggers, state.String())
}

// filter is lazy: nothing is matched until the returned sequence is ranged.
// Ranging it again re-ranges the input.
func filter(triggers iter.Seq[*schema.Trigger], actual string, field func(*schema.Trigger) *string) (iter.Seq[*schema.Trigger], error) {
	if triggers == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "triggers is undefined")
	}
	return func(yield func(*schema.Trigger) bool) {
		for t := range triggers {
			if t == nil || !MatchPtr(field(t), actual) {
				continue
			}
			if !yield(t) {
				return
			}
		}
	}, nil
}

// Fired applies the result resolver to state and then the operation resolver
// to operation. Only triggers matching both are returned, in input order.
func Fired(triggers iter.Seq[*schema.Trigger], operation string, state schema.ExecutionState) (iter.Seq[*schema.Trigger], error) {
	byResult, err := ResultResolver{}.ResolveState(triggers, state)
	if err != nil {
		return nil, err
	}
	return OperationResolver{}.Resolve(byResult, operation)
}

// FromSlice adapts a slice of triggers to a sequence.
func FromSlice(triggers []schema.Trigger) iter.Seq[*schema.Trigger] {
	return func(yield func(*schema.Trigger) bool) {
		for i := range triggers {
			if !yield(&triggers[i]) {
				return
			}
		}
	}
}
