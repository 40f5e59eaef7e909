package engine

import (
	"sync"
	"time"

	"github.com/rendis/pineapple/pkg/schema"
)

// BreakerState is the state of one plugin's circuit.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // plugin invocations allowed
	BreakerOpen                         // plugin keeps erroring, invocations rejected
	BreakerHalfOpen                     // probing after cooldown
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures plugin circuit breakers. A zero Threshold disables
// them.
type BreakerConfig struct {
	// Threshold is the number of consecutive plugin errors that opens the circuit.
	Threshold int `yaml:"threshold" json:"threshold"`
	// Cooldown is how long an open circuit rejects invocations.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
}

// DefaultBreakerConfig returns the configuration used by the core.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second}
}

type pluginBreaker struct {
	state    BreakerState
	errors   int
	openedAt time.Time
	probing  bool
}

// PluginBreakers isolates plugins whose operations keep erroring. Only ERROR
// outcomes (plugin errors and panics) count; FAILURE is a legitimate result of
// an operation and resets the count like SUCCESS does.
type PluginBreakers struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*pluginBreaker
	now      func() time.Time
}

// NewPluginBreakers creates an empty breaker set.
func NewPluginBreakers(cfg BreakerConfig) *PluginBreakers {
	return &PluginBreakers{
		cfg:      cfg,
		breakers: make(map[string]*pluginBreaker),
		now:      time.Now,
	}
}

// Allow returns nil when pluginID may be invoked. An open circuit whose
// cooldown has elapsed lets a single probe through.
func (b *PluginBreakers) Allow(pluginID string) error {
	if b == nil || b.cfg.Threshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pb := b.get(pluginID)
	switch pb.state {
	case BreakerOpen:
		remaining := b.cfg.Cooldown - b.now().Sub(pb.openedAt)
		if remaining > 0 {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"plugin %q disabled after %d consecutive errors", pluginID, pb.errors).
				WithDetails(map[string]any{
					"plugin":             pluginID,
					"consecutive_errors": pb.errors,
					"cooldown_remaining": remaining.String(),
				})
		}
		pb.state = BreakerHalfOpen
		pb.probing = true
	case BreakerHalfOpen:
		if pb.probing {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"plugin %q is being probed after cooldown", pluginID)
		}
		pb.probing = true
	}
	return nil
}

// Record registers the terminal state of one invocation of pluginID and
// returns the resulting circuit state.
func (b *PluginBreakers) Record(pluginID string, state schema.ExecutionState) BreakerState {
	if b == nil || b.cfg.Threshold <= 0 {
		return BreakerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pb := b.get(pluginID)
	pb.probing = false
	if state != schema.StateError {
		pb.errors = 0
		pb.state = BreakerClosed
		return pb.state
	}

	pb.errors++
	if pb.state == BreakerHalfOpen || pb.errors >= b.cfg.Threshold {
		pb.state = BreakerOpen
		pb.openedAt = b.now()
	}
	return pb.state
}

// State returns the circuit state of pluginID.
func (b *PluginBreakers) State(pluginID string) BreakerState {
	if b == nil {
		return BreakerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	pb := b.get(pluginID)
	if pb.state == BreakerOpen && b.now().Sub(pb.openedAt) >= b.cfg.Cooldown {
		return BreakerHalfOpen
	}
	return pb.state
}

func (b *PluginBreakers) get(pluginID string) *pluginBreaker {
	pb, ok := b.breakers[pluginID]
	if !ok {
		pb = &pluginBreaker{}
		b.breakers[pluginID] = pb
	}
	return pb
}
