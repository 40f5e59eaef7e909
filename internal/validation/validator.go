package validation

// Validator checks configuration documents before they are used.
// Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidateModels(doc any) error
	ValidateDescriptor(doc any) error
	ValidateScheduledOperation(doc any) error
	ValidateContent(content map[string]any, contentSchema []byte) error
}
