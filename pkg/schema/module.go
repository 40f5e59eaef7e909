package schema

// DefaultModuleVersion is the version given to modules without a descriptor.
const DefaultModuleVersion = "1.0.0"

// ModuleDescriptor is the optional module.yaml found in a module directory.
type ModuleDescriptor struct {
	ID          string            `json:"id" yaml:"id"`
	Version     string            `json:"version" yaml:"version"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Variables   map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// ModuleInfo describes a module resolved for one environment.
type ModuleInfo struct {
	ID                 string            `json:"id"`
	Directory          string            `json:"directory,omitempty"`
	DescriptorDefined  bool              `json:"descriptor_defined"`
	Descriptor         *ModuleDescriptor `json:"descriptor,omitempty"`
	ModelFile          string            `json:"model_file,omitempty"`
	EnvironmentDefined bool              `json:"environment_defined"`
}

// NullModuleInfo is used when a module could not be resolved, so that the
// failure can still be recorded on a well-formed execution handle.
func NullModuleInfo(id string) *ModuleInfo {
	return &ModuleInfo{ID: id}
}
