package schema

// WildcardToken matches any operation name or result state in a trigger.
const WildcardToken = "*"

// Trigger is a declarative rule which invokes a follow-on operation when a
// model has been executed by a matching operation with a matching result.
type Trigger struct {
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Module      string `json:"module" yaml:"module"`
	Environment string `json:"environment" yaml:"environment"`
	Operation   string `json:"operation" yaml:"operation"`

	// OnTargetOperation is matched against the invoked operation name.
	// Empty or nil matches any operation; "*" matches any; "{a,b}" is a list.
	OnTargetOperation *string `json:"on_target_operation,omitempty" yaml:"on-target-operation,omitempty"`

	// OnResult is matched against the terminal state name of the model result.
	OnResult *string `json:"on_result,omitempty" yaml:"on-result,omitempty"`
}

// StringPtr is a convenience for building triggers in code and tests.
func StringPtr(s string) *string {
	return &s
}
