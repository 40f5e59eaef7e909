package modules

import "github.com/rendis/pineapple/pkg/schema"

// Models is the content of a module model file for one environment.
type Models struct {
	// Continue is the continue-on-failure directive; absent means true.
	Continue    *bool             `yaml:"continue,omitempty" json:"continue,omitempty"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Variables   map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
	Models      []Model           `yaml:"models" json:"models"`
}

// ContinueOnFailure returns the continue-on-failure directive.
func (m *Models) ContinueOnFailure() bool {
	return m.Continue == nil || *m.Continue
}

// Model is one unit of work executed by a plugin.
type Model struct {
	Plugin      string `yaml:"plugin" json:"plugin"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// TargetOperation restricts the operations the model runs for. Same
	// syntax as trigger fields; a "*" list element matches anything.
	TargetOperation string `yaml:"target-operation,omitempty" json:"target_operation,omitempty"`
	// Parallel models next to each other in the file run concurrently.
	Parallel bool             `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	Content  map[string]any   `yaml:"content,omitempty" json:"content,omitempty"`
	Triggers []schema.Trigger `yaml:"triggers,omitempty" json:"triggers,omitempty"`
}

// DisplayDescription returns the description or a placeholder.
func (m *Model) DisplayDescription() string {
	if m.Description == "" {
		return "n/a"
	}
	return m.Description
}
