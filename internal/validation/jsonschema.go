package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/pineapple/pkg/schema"
)

const (
	modelsSchemaURL     = "https://pineapple.dev/schemas/models.json"
	descriptorSchemaURL = "https://pineapple.dev/schemas/module.json"
	scheduleSchemaURL   = "https://pineapple.dev/schemas/scheduled-operation.json"
)

// modelsSchemaJSON is the JSON Schema for a module model file.
const modelsSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://pineapple.dev/schemas/models.json",
  "type": "object",
  "required": ["models"],
  "properties": {
    "continue": { "type": "boolean" },
    "description": { "type": "string" },
    "variables": { "$ref": "#/$defs/variables" },
    "models": {
      "type": "array",
      "items": { "$ref": "#/$defs/model" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "model": {
      "type": "object",
      "required": ["plugin"],
      "properties": {
        "plugin": { "type": "string", "minLength": 1 },
        "description": { "type": "string" },
        "target-operation": { "type": "string" },
        "parallel": { "type": "boolean" },
        "content": { "type": "object" },
        "triggers": {
          "type": "array",
          "items": { "$ref": "#/$defs/trigger" }
        }
      },
      "additionalProperties": false
    },
    "trigger": {
      "type": "object",
      "required": ["module", "environment", "operation"],
      "properties": {
        "name": { "type": "string" },
        "module": { "type": "string", "minLength": 1 },
        "environment": { "type": "string", "minLength": 1 },
        "operation": { "type": "string", "minLength": 1 },
        "on-target-operation": { "type": "string" },
        "on-result": { "type": "string" }
      },
      "additionalProperties": false
    },
    "variables": {
      "type": "object",
      "propertyNames": { "pattern": "^[^.${}]+$" },
      "additionalProperties": { "type": "string" }
    }
  }
}`

// descriptorSchemaJSON is the JSON Schema for module.yaml.
const descriptorSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://pineapple.dev/schemas/module.json",
  "type": "object",
  "properties": {
    "id": { "type": "string" },
    "version": {
      "type": "string",
      "pattern": "^[0-9]+\\.[0-9]+\\.[0-9]+"
    },
    "description": { "type": "string" },
    "variables": {
      "type": "object",
      "propertyNames": { "pattern": "^[^.${}]+$" },
      "additionalProperties": { "type": "string" }
    }
  },
  "additionalProperties": false
}`

// scheduleSchemaJSON is the JSON Schema for a scheduled operation.
const scheduleSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://pineapple.dev/schemas/scheduled-operation.json",
  "type": "object",
  "required": ["name", "module", "environment", "operation", "cron"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string", "minLength": 1 },
    "module": { "type": "string", "minLength": 1 },
    "environment": { "type": "string", "minLength": 1 },
    "operation": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "cron": {
      "type": "string",
      "pattern": "^\\S+(\\s+\\S+){4}$"
    }
  }
}`

// JSONSchemaValidator implements the Validator interface using JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	modelsSchema     *jsonschema.Schema
	descriptorSchema *jsonschema.Schema
	scheduleSchema   *jsonschema.Schema

	// mu guards the cache of compiled plugin content schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a new JSONSchemaValidator with the document
// schemas pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()
	resources := map[string]string{
		modelsSchemaURL:     modelsSchemaJSON,
		descriptorSchemaURL: descriptorSchemaJSON,
		scheduleSchemaURL:   scheduleSchemaJSON,
	}
	for url, raw := range resources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	v := &JSONSchemaValidator{cache: make(map[string]*jsonschema.Schema)}
	var err error
	if v.modelsSchema, err = c.Compile(modelsSchemaURL); err != nil {
		return nil, fmt.Errorf("compile models schema: %w", err)
	}
	if v.descriptorSchema, err = c.Compile(descriptorSchemaURL); err != nil {
		return nil, fmt.Errorf("compile module schema: %w", err)
	}
	if v.scheduleSchema, err = c.Compile(scheduleSchemaURL); err != nil {
		return nil, fmt.Errorf("compile scheduled operation schema: %w", err)
	}
	return v, nil
}

// ValidateModels validates a decoded model file.
func (v *JSONSchemaValidator) ValidateModels(doc any) error {
	return validateDocument(v.modelsSchema, doc, "model file")
}

// ValidateDescriptor validates a decoded module descriptor.
func (v *JSONSchemaValidator) ValidateDescriptor(doc any) error {
	return validateDocument(v.descriptorSchema, doc, "module descriptor")
}

// ValidateScheduledOperation validates a scheduled operation definition.
func (v *JSONSchemaValidator) ValidateScheduledOperation(doc any) error {
	return validateDocument(v.scheduleSchema, doc, "scheduled operation")
}

func validateDocument(s *jsonschema.Schema, doc any, what string) error {
	if doc == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s is nil", what)
	}
	value, err := toJSONValue(doc)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "failed to serialize %s", what).WithCause(err)
	}
	if err := s.Validate(value); err != nil {
		return toPineappleError(err)
	}
	return nil
}

// ValidateContent validates model content against a plugin provided JSON
// Schema. The schema is compiled and cached for subsequent calls.
func (v *JSONSchemaValidator) ValidateContent(content map[string]any, contentSchema []byte) error {
	if len(contentSchema) == 0 {
		return nil // no schema means no validation needed
	}
	if content == nil {
		content = map[string]any{}
	}

	compiled, err := v.getOrCompile(contentSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid content schema").WithCause(err)
	}

	// Convert content to JSON-compatible value (json.Number for numbers).
	doc, err := toJSONValue(content)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize content").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toPineappleError(err)
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each content schema gets its own compiler and URL.
	url := fmt.Sprintf("pineapple://content-schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toPineappleError converts a jsonschema.ValidationError into a
// PineappleError listing every violation with its location.
func toPineappleError(err error) *schema.PineappleError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
