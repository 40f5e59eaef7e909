package validation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pineapple/pkg/schema"
)

func newTestValidator(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func requireValidationError(t *testing.T, err error) *schema.PineappleError {
	t.Helper()
	require.Error(t, err)
	pErr, ok := err.(*schema.PineappleError)
	require.True(t, ok, "expected *schema.PineappleError, got %T", err)
	assert.Equal(t, schema.ErrCodeValidation, pErr.Code)
	return pErr
}

func TestNewJSONSchemaValidator(t *testing.T) {
	v := newTestValidator(t)
	assert.NotNil(t, v.modelsSchema)
	assert.NotNil(t, v.descriptorSchema)
	assert.NotNil(t, v.scheduleSchema)
}

// --- ValidateModels ---

func TestValidateModels_Valid(t *testing.T) {
	v := newTestValidator(t)
	doc := map[string]any{
		"continue":  false,
		"variables": map[string]any{"host": "db.local", "port": "5432"},
		"models": []any{
			map[string]any{
				"plugin":           "noop",
				"description":      "first",
				"target-operation": "{deploy,undeploy}",
				"parallel":         true,
				"content":          map[string]any{"delay": "1s", "count": 3},
				"triggers": []any{
					map[string]any{
						"name":                "after deploy",
						"module":              "app",
						"environment":         "dev",
						"operation":           "test",
						"on-target-operation": "deploy",
						"on-result":           "*",
					},
				},
			},
		},
	}
	assert.NoError(t, v.ValidateModels(doc))
}

func TestValidateModels_EmptyModelsAllowed(t *testing.T) {
	v := newTestValidator(t)
	assert.NoError(t, v.ValidateModels(map[string]any{"models": []any{}}))
}

func TestValidateModels_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  any
	}{
		{"nil", nil},
		{"missing models", map[string]any{"continue": true}},
		{"unknown key", map[string]any{"models": []any{}, "extra": 1}},
		{"missing plugin", map[string]any{"models": []any{map[string]any{"description": "x"}}}},
		{"empty plugin", map[string]any{"models": []any{map[string]any{"plugin": ""}}}},
		{"content not object", map[string]any{"models": []any{map[string]any{"plugin": "noop", "content": "x"}}}},
		{"trigger missing operation", map[string]any{"models": []any{map[string]any{
			"plugin":   "noop",
			"triggers": []any{map[string]any{"module": "m", "environment": "e"}},
		}}}},
		{"continue not bool", map[string]any{"models": []any{}, "continue": "yes"}},
		{"variable not string", map[string]any{"models": []any{}, "variables": map[string]any{"port": 5432}}},
		{"scoped variable name", map[string]any{"models": []any{}, "variables": map[string]any{"model.host": "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(t)
			requireValidationError(t, v.ValidateModels(tt.doc))
		})
	}
}

func TestValidateModels_MultipleViolationsInDetails(t *testing.T) {
	v := newTestValidator(t)
	err := v.ValidateModels(map[string]any{
		"models": []any{
			map[string]any{"description": 1},
			map[string]any{"plugin": 2},
		},
	})
	pErr := requireValidationError(t, err)
	violations, ok := pErr.Details["violations"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(violations), 2)
}

// --- ValidateDescriptor ---

func TestValidateDescriptor(t *testing.T) {
	v := newTestValidator(t)
	assert.NoError(t, v.ValidateDescriptor(map[string]any{"id": "app", "version": "1.2.3"}))
	assert.NoError(t, v.ValidateDescriptor(map[string]any{}))
	requireValidationError(t, v.ValidateDescriptor(map[string]any{"version": "latest"}))
	requireValidationError(t, v.ValidateDescriptor(map[string]any{"owner": "me"}))
	assert.NoError(t, v.ValidateDescriptor(map[string]any{"variables": map[string]any{"region": "eu-west-1"}}))
	requireValidationError(t, v.ValidateDescriptor(map[string]any{"variables": map[string]any{"region": []any{"eu"}}}))
}

// --- ValidateScheduledOperation ---

func TestValidateScheduledOperation(t *testing.T) {
	v := newTestValidator(t)
	valid := map[string]any{
		"name":        "nightly",
		"module":      "app",
		"environment": "dev",
		"operation":   "test",
		"cron":        "0 2 * * *",
	}
	assert.NoError(t, v.ValidateScheduledOperation(valid))

	missing := map[string]any{"name": "nightly", "module": "app", "environment": "dev", "cron": "0 2 * * *"}
	requireValidationError(t, v.ValidateScheduledOperation(missing))

	badCron := map[string]any{
		"name": "nightly", "module": "app", "environment": "dev", "operation": "test", "cron": "@daily",
	}
	requireValidationError(t, v.ValidateScheduledOperation(badCron))
}

// --- ValidateContent ---

const delaySchema = `{
  "type": "object",
  "properties": {
    "delay": {"type": "string"},
    "count": {"type": "integer", "minimum": 1}
  },
  "additionalProperties": false
}`

func TestValidateContent(t *testing.T) {
	v := newTestValidator(t)

	assert.NoError(t, v.ValidateContent(map[string]any{"delay": "1s", "count": 2}, []byte(delaySchema)))
	assert.NoError(t, v.ValidateContent(nil, []byte(delaySchema)))
	assert.NoError(t, v.ValidateContent(map[string]any{"anything": true}, nil))

	requireValidationError(t, v.ValidateContent(map[string]any{"count": 0}, []byte(delaySchema)))
	requireValidationError(t, v.ValidateContent(map[string]any{"other": 1}, []byte(delaySchema)))
}

func TestValidateContent_InvalidSchema(t *testing.T) {
	v := newTestValidator(t)
	err := v.ValidateContent(map[string]any{}, []byte(`{not json`))
	requireValidationError(t, err)
}

func TestValidateContent_CachesCompiledSchema(t *testing.T) {
	v := newTestValidator(t)
	require.NoError(t, v.ValidateContent(map[string]any{}, []byte(delaySchema)))
	require.NoError(t, v.ValidateContent(map[string]any{}, []byte(delaySchema)))
	assert.Len(t, v.cache, 1)
}

func TestValidateContent_Concurrent(t *testing.T) {
	v := newTestValidator(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.ValidateContent(map[string]any{"count": 1}, []byte(delaySchema)))
		}()
	}
	wg.Wait()
	assert.Len(t, v.cache, 1)
}
