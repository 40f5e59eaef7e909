package execution

import (
	"context"
	"fmt"
	"sync"
)

// ContinuationPolicy decides whether an execution should keep processing
// steps. It is shared by every result in one execution tree.
//
// Cancellation is cooperative: Cancel only closes the policy context and sets
// a flag which tasks check between steps.
type ContinuationPolicy struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu                sync.Mutex
	cancelled         bool
	continueOnFailure bool
	directiveSet      bool
	failedResult      *Result
}

// NewContinuationPolicy creates a policy whose context derives from parent.
// Continue-on-failure is enabled by default.
func NewContinuationPolicy(parent context.Context) *ContinuationPolicy {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &ContinuationPolicy{
		ctx:               ctx,
		cancel:            cancel,
		continueOnFailure: true,
	}
}

// Context is cancelled when the policy is cancelled. Plugin operations receive
// it so blocking calls can abort early.
func (p *ContinuationPolicy) Context() context.Context {
	return p.ctx
}

// Done is shorthand for Context().Done().
func (p *ContinuationPolicy) Done() <-chan struct{} {
	return p.ctx.Done()
}

// Cancel marks the execution as cancelled. Calling it again is a no-op.
func (p *ContinuationPolicy) Cancel() {
	p.mu.Lock()
	p.cancelled = true
	p.mu.Unlock()
	p.cancel()
}

// Cancelled reports whether Cancel has been called.
func (p *ContinuationPolicy) Cancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

// EnableContinueOnFailure sets the continue-on-failure directive. Only the
// first call to Enable/Disable has an effect.
func (p *ContinuationPolicy) EnableContinueOnFailure() {
	p.setDirective(true)
}

// DisableContinueOnFailure clears the continue-on-failure directive. Only the
// first call to Enable/Disable has an effect.
func (p *ContinuationPolicy) DisableContinueOnFailure() {
	p.setDirective(false)
}

func (p *ContinuationPolicy) setDirective(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.directiveSet {
		return
	}
	p.directiveSet = true
	p.continueOnFailure = enabled
}

// ContinueOnFailure returns the current directive.
func (p *ContinuationPolicy) ContinueOnFailure() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.continueOnFailure
}

// SetFailed records the first unsuccessful result in the execution.
func (p *ContinuationPolicy) SetFailed(result *Result) {
	if result == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failedResult == nil {
		p.failedResult = result
	}
}

// FailedResult returns the first unsuccessful result, or nil.
func (p *ContinuationPolicy) FailedResult() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failedResult
}

// ContinueExecution is false once cancelled, or once a failure has been
// registered while continue-on-failure is disabled.
func (p *ContinuationPolicy) ContinueExecution() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled {
		return false
	}
	return p.continueOnFailure || p.failedResult == nil
}

// InterruptionReason describes why ContinueExecution returned false.
func (p *ContinuationPolicy) InterruptionReason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled {
		return "Execution is interrupted due to cancellation."
	}
	if p.failedResult != nil {
		return fmt.Sprintf("Execution is interrupted due to failure in result [%s].", p.failedResult.Description())
	}
	return ""
}
