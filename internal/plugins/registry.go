package plugins

import (
	"sort"
	"sync"

	"github.com/rendis/pineapple/pkg/schema"
)

// Registry is a thread-safe plugin lookup keyed by plugin id.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
	}
}

// Register adds a plugin. Returns error on duplicate id.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return schema.NewError(schema.ErrCodeValidation, "plugin is nil")
	}
	id := p.ID()
	if id == "" {
		return schema.NewError(schema.ErrCodeValidation, "plugin id is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "plugin %q already registered", id)
	}
	r.plugins[id] = p
	return nil
}

// Get retrieves a plugin by id.
func (r *Registry) Get(id string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "plugin %q not registered", id)
	}
	return p, nil
}

// Operation resolves the operation a plugin provides for name, falling back
// to the plugin's AnyOperation entry.
func (r *Registry) Operation(pluginID, name string) (Operation, error) {
	p, err := r.Get(pluginID)
	if err != nil {
		return nil, err
	}
	if op, ok := p.Operation(name); ok && op != nil {
		return op, nil
	}
	if op, ok := p.Operation(AnyOperation); ok && op != nil {
		return op, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "plugin %q has no operation %q", pluginID, name)
}

// List returns info for all registered plugins, sorted by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.plugins))
	for _, p := range r.plugins {
		infos = append(infos, Info{ID: p.ID(), Description: p.Description()})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Has checks if a plugin is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[id]
	return ok
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}
