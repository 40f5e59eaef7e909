package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/pineapple/pkg/schema"
)

// CompositeExecutionPlugin runs the invoked operation on a list of other
// modules in the same environment. Content:
//
//	modules:
//	  - name: infra
//	  - app
//
// Each module runs as a child of the model result. The continuation policy is
// checked before every module; modules left out are recorded as one
// INTERRUPTED child.
func CompositeExecutionPlugin() Plugin {
	return NewWithSchema(CompositeExecutionID, "Executes the operation on other modules.", compositeContentSchema, map[string]Operation{
		AnyOperation: CompositeOperation(compositeExecution),
	})
}

const compositeContentSchema = `{
  "type": "object",
  "required": ["modules"],
  "properties": {
    "modules": {
      "type": "array",
      "minItems": 1,
      "items": {
        "oneOf": [
          {"type": "string", "minLength": 1},
          {
            "type": "object",
            "required": ["name"],
            "properties": {"name": {"type": "string", "minLength": 1}}
          }
        ]
      }
    }
  }
}`

func compositeExecution(ctx context.Context, inv Invocation, session Session) error {
	modules := compositeModules(inv.Content)
	if len(modules) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "composite-execution: no modules defined")
	}

	policy := inv.Result.Policy()
	for i, module := range modules {
		if !policy.ContinueExecution() {
			skipped := inv.Result.AddChild(fmt.Sprintf("Skip %d remaining modules", len(modules)-i))
			skipped.AddMessage(schema.MsgMessage, fmt.Sprintf("Skipped modules: %s.", strings.Join(modules[i:], ", ")))
			skipped.CompleteAsInterrupted(policy.InterruptionReason())
			break
		}
		description := fmt.Sprintf("Composite execution of operation <%s> on module <%s>", inv.Operation, module)
		session.ExecuteComposite(ctx, inv.Operation, inv.Environment, module, description, inv.Result)
	}

	inv.Result.CompleteAsComputedWith("Composite execution succeeded.", func(failures, errs int) string {
		if failures+errs == 0 {
			return "Composite execution was interrupted."
		}
		return fmt.Sprintf("Composite execution failed with %d failures and %d errors.", failures, errs)
	})
	return nil
}

// compositeModules accepts both plain names and {name: ...} entries.
func compositeModules(content map[string]any) []string {
	raw, ok := content["modules"].([]any)
	if !ok {
		return nil
	}
	var names []string
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			if v != "" {
				names = append(names, v)
			}
		case map[string]any:
			if name := stringParam(v, "name", ""); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}
