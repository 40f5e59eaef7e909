package plugins

import (
	"encoding/json"
	"sort"
)

// Built-in plugin ids.
const (
	CompositeExecutionID = "composite-execution"
	NoopID               = "noop"
	ShellID              = "shell"
)

// staticPlugin is a Plugin backed by a fixed operation table.
type staticPlugin struct {
	id            string
	description   string
	contentSchema json.RawMessage
	ops           map[string]Operation
}

// New creates a plugin from an operation table. Use AnyOperation as key to
// handle every operation name.
func New(id, description string, ops map[string]Operation) Plugin {
	return NewWithSchema(id, description, "", ops)
}

// NewWithSchema is New for plugins declaring the JSON Schema of their model
// content.
func NewWithSchema(id, description, contentSchema string, ops map[string]Operation) Plugin {
	copied := make(map[string]Operation, len(ops))
	for name, op := range ops {
		copied[name] = op
	}
	p := &staticPlugin{id: id, description: description, ops: copied}
	if contentSchema != "" {
		p.contentSchema = json.RawMessage(contentSchema)
	}
	return p
}

func (p *staticPlugin) ID() string                      { return p.id }
func (p *staticPlugin) Description() string             { return p.description }
func (p *staticPlugin) ContentSchema() json.RawMessage { return p.contentSchema }

func (p *staticPlugin) Operation(name string) (Operation, bool) {
	op, ok := p.ops[name]
	return op, ok
}

// Operations returns the operation names of the plugin, sorted.
func (p *staticPlugin) Operations() []string {
	names := make([]string, 0, len(p.ops))
	for name := range p.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtins returns the plugins shipped with the core.
func Builtins(shellCfg ShellConfig) []Plugin {
	return []Plugin{
		CompositeExecutionPlugin(),
		NoopPlugin(),
		ShellPlugin(shellCfg),
	}
}

// RegisterBuiltins registers all built-in plugins in the given registry.
func RegisterBuiltins(reg *Registry, shellCfg ShellConfig) error {
	for _, p := range Builtins(shellCfg) {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}
