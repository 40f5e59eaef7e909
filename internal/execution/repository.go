package execution

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/rendis/pineapple/pkg/schema"
)

// DefaultHistoryCapacity is the number of executions kept per
// module/environment/operation key.
const DefaultHistoryCapacity = 5

// ErrRepositoryClosed is returned when an execution is started after Close.
var ErrRepositoryClosed = schema.NewError(schema.ErrCodeShutdown, "result repository is closed")

// RepositoryConfig holds configuration for the result repository.
type RepositoryConfig struct {
	Capacity int          // executions kept per key (0 = DefaultHistoryCapacity)
	Logger   *slog.Logger // nil = text handler on stderr
}

type historyKey struct {
	module, environment, operation string
}

// Repository tracks current and past root executions and fans out state
// notifications to listeners. It is safe for concurrent use.
type Repository struct {
	capacity int
	logger   *slog.Logger

	mu        sync.RWMutex
	closed    bool
	history   map[historyKey][]*Info // most recent first
	roots     map[string]*Info       // root result id -> info
	sequences map[string][]Notification
	listeners []ResultListener
}

// NewRepository creates an empty repository.
func NewRepository(cfg RepositoryConfig) *Repository {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultHistoryCapacity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Repository{
		capacity:  cfg.Capacity,
		logger:    logger,
		history:   make(map[historyKey][]*Info),
		roots:     make(map[string]*Info),
		sequences: make(map[string][]Notification),
	}
}

// Capacity returns the per-key history capacity.
func (r *Repository) Capacity() int { return r.capacity }

// StartExecution creates the root result for an operation invocation and
// records it in the history of its module/environment/operation key.
func (r *Repository) StartExecution(ctx context.Context, module *schema.ModuleInfo, environment, operation string) (*Info, error) {
	if module == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "module info is undefined")
	}
	description := fmt.Sprintf("Execute operation <%s> on module <%s> in environment <%s>", operation, module.ID, environment)
	root := newResult(nil, description, NewContinuationPolicy(ctx), r)
	info := NewInfo(module, environment, operation, root)
	root.AddMessage(schema.MsgOperation, operation)
	root.AddMessage(schema.MsgEnvironment, environment)
	root.AddMessage(schema.MsgModule, module.ID)

	if err := r.track(historyKey{module.ID, environment, operation}, info); err != nil {
		return nil, err
	}
	r.notifyStateChange(root)
	return info, nil
}

// StartAdministrativeExecution creates a tracked root result which is not tied
// to a module/operation pair, e.g. core initialization.
func (r *Repository) StartAdministrativeExecution(description string) (*Result, error) {
	root := newResult(nil, description, NewContinuationPolicy(nil), r)
	info := NewInfo(nil, "", "", root)
	if err := r.track(historyKey{}, info); err != nil {
		return nil, err
	}
	r.notifyStateChange(root)
	return root, nil
}

// StartCompositeExecution runs an operation as a child of an existing result.
// The child is part of the parent's tree and is not added to the history.
func (r *Repository) StartCompositeExecution(module *schema.ModuleInfo, environment, operation, description string, parent *Result) (*Info, error) {
	if parent == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "parent result is undefined")
	}
	r.logger.Debug("starting composite execution", slog.String("description", description))
	child := parent.AddChild(description)
	return NewInfo(module, environment, operation, child), nil
}

// track stores info under key, evicting the oldest entries beyond capacity.
func (r *Repository) track(key historyKey, info *Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRepositoryClosed
	}

	rootID := info.Result().ID()
	r.roots[rootID] = info
	r.sequences[rootID] = nil

	seq := append([]*Info{info}, r.history[key]...)
	if len(seq) > r.capacity {
		for _, evicted := range seq[r.capacity:] {
			id := evicted.Result().ID()
			delete(r.roots, id)
			delete(r.sequences, id)
			r.logger.Debug("evicted execution from history",
				slog.String("execution_id", id),
				slog.String("operation", evicted.Operation()))
		}
		seq = seq[:r.capacity]
	}
	r.history[key] = seq
	return nil
}

// notifyStateChange records the notification on the root's sequence and
// dispatches it to a snapshot of the listeners outside the lock.
func (r *Repository) notifyStateChange(result *Result) {
	n := Notification{Result: result, State: result.State(), Time: time.Now().UTC()}
	rootID := result.Root().ID()

	r.mu.Lock()
	if seq, ok := r.sequences[rootID]; ok {
		r.sequences[rootID] = append(seq, n)
	}
	listeners := make([]ResultListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	r.logger.Debug("result state changed",
		slog.String("state", n.State.String()),
		slog.String("description", result.Description()))

	for _, l := range listeners {
		r.dispatch(l, n)
	}
}

func (r *Repository) dispatch(l ResultListener, n Notification) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("result listener panicked", slog.Any("panic", rec))
		}
	}()
	l.Notify(n)
}

// AddListener registers a listener. Registering the same listener twice is a
// no-op. Listeners must have a comparable dynamic type, e.g. a pointer.
func (r *Repository) AddListener(l ResultListener) error {
	if l == nil {
		return schema.NewError(schema.ErrCodeValidation, "listener is undefined")
	}
	if !reflect.TypeOf(l).Comparable() {
		return schema.NewErrorf(schema.ErrCodeValidation, "listener of type %T is not comparable", l)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.listeners {
		if existing == l {
			return nil
		}
	}
	r.listeners = append(r.listeners, l)
	r.logger.Debug("added result listener", slog.Int("listeners", len(r.listeners)))
	return nil
}

// RemoveListener unregisters a listener. Unknown listeners are ignored.
func (r *Repository) RemoveListener(l ResultListener) error {
	if l == nil {
		return schema.NewError(schema.ErrCodeValidation, "listener is undefined")
	}
	if !reflect.TypeOf(l).Comparable() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.listeners {
		if existing == l {
			r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
			r.logger.Debug("removed result listener", slog.Int("listeners", len(r.listeners)))
			return nil
		}
	}
	return nil
}

// Listeners returns a snapshot of the registered listeners.
func (r *Repository) Listeners() []ResultListener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ResultListener, len(r.listeners))
	copy(out, r.listeners)
	return out
}

// History returns the stored executions for a key, most recent first.
func (r *Repository) History(module, environment, operation string) []*Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seq := r.history[historyKey{module, environment, operation}]
	out := make([]*Info, len(seq))
	copy(out, seq)
	return out
}

// AllHistory returns every stored operation execution, most recent first.
// Administrative executions are excluded.
func (r *Repository) AllHistory() []*Info {
	r.mu.RLock()
	var out []*Info
	for key, seq := range r.history {
		if key == (historyKey{}) {
			continue
		}
		out = append(out, seq...)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Result().StartTime().After(out[j].Result().StartTime())
	})
	return out
}

// Find returns the stored execution whose root result has the given id.
func (r *Repository) Find(resultID string) (*Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.roots[resultID]
	return info, ok
}

// ResultSequence returns notifications [first, last) recorded for the
// execution.
func (r *Repository) ResultSequence(info *Info, first, last int) ([]Notification, error) {
	if info == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "execution info is undefined")
	}
	if first < 0 || last < 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "index is less than zero")
	}
	if last < first {
		return nil, schema.NewError(schema.ErrCodeValidation, "first index must be smaller than or equal to the last index")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	seq, ok := r.sequences[info.Result().ID()]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", info.Result().ID())
	}
	if last > len(seq) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "last index %d exceeds sequence length %d", last, len(seq))
	}
	out := make([]Notification, last-first)
	copy(out, seq[first:last])
	return out, nil
}

// CurrentResultIndex returns the exclusive end index of the execution's
// notification sequence.
func (r *Repository) CurrentResultIndex(info *Info) (int, error) {
	if info == nil {
		return 0, schema.NewError(schema.ErrCodeValidation, "execution info is undefined")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	seq, ok := r.sequences[info.Result().ID()]
	if !ok {
		return 0, schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", info.Result().ID())
	}
	return len(seq), nil
}

// Close drops all listeners and rejects further executions.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.listeners = nil
	return nil
}
