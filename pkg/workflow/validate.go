package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	gwerrors "github.com/llmgateway/core/pkg/errors"
)

// Validate checks structural invariants of a Workflow: identifier grammar,
// step ID uniqueness, forward-only go_to_step targets, and version
// monotonicity relative to previous (nil if this is the first version).
func Validate(w *Workflow, previous *Workflow) error {
	if !ValidID(w.ID) {
		return &gwerrors.ValidationError{Field: "id", Message: fmt.Sprintf("invalid workflow id %q", w.ID)}
	}
	if len(w.Steps) == 0 {
		return &gwerrors.ValidationError{Field: "steps", Message: "workflow must have at least one step"}
	}

	index := make(map[string]int, len(w.Steps))
	for i, step := range w.Steps {
		if !ValidID(step.ID) {
			return &gwerrors.ValidationError{Field: "steps[].id", Message: fmt.Sprintf("invalid step id %q", step.ID)}
		}
		if _, dup := index[step.ID]; dup {
			return &gwerrors.ValidationError{Field: "steps[].id", Message: fmt.Sprintf("duplicate step id %q", step.ID)}
		}
		index[step.ID] = i
	}

	for i, step := range w.Steps {
		if target := step.GoToStep; target != "" {
			if err := checkForwardJump(index, i, target); err != nil {
				return err
			}
		}
		if step.Type == StepTypeConditional && step.Condition != nil {
			actions := []Action{step.Condition.ThenAction, step.Condition.ElseAction, step.Condition.DefaultAction}
			for _, c := range step.Condition.Conditions {
				actions = append(actions, c.Action)
			}
			for _, a := range actions {
				if a.Kind == ActionGoToStep && a.GoToStep != "" {
					if err := checkForwardJump(index, i, a.GoToStep); err != nil {
						return err
					}
				}
			}
		}
	}

	if previous != nil && w.Version <= previous.Version {
		return &gwerrors.ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("version %d must be greater than previous version %d", w.Version, previous.Version),
		}
	}

	return nil
}

func checkForwardJump(index map[string]int, fromIdx int, target string) error {
	targetIdx, ok := index[target]
	if !ok {
		return &gwerrors.ValidationError{Field: "go_to_step", Message: fmt.Sprintf("unknown target step %q", target)}
	}
	if targetIdx <= fromIdx {
		return &gwerrors.ValidationError{
			Field:   "go_to_step",
			Message: fmt.Sprintf("go_to_step must jump forward: step %d cannot target step %d", fromIdx, targetIdx),
		}
	}
	return nil
}

// SchemaValidator compiles and evaluates JSON Schemas for workflow inputs
// and step outputs.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document (given as a map, the shape
// Workflow.InputSchema/OutputSchema are stored in) for repeated validation.
func CompileSchema(doc map[string]any) (*SchemaValidator, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, &gwerrors.SchemaValidationError{Subject: "schema document", Cause: err}
	}

	compiler := jsonschema.NewCompiler()
	unmarshaled, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, &gwerrors.SchemaValidationError{Subject: "schema document", Cause: err}
	}
	const resourceURL = "mem://schema.json"
	if err := compiler.AddResource(resourceURL, unmarshaled); err != nil {
		return nil, &gwerrors.SchemaValidationError{Subject: "schema document", Cause: err}
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, &gwerrors.SchemaValidationError{Subject: "schema document", Cause: err}
	}
	return &SchemaValidator{schema: schema}, nil
}

// Validate checks a decoded JSON value (map[string]any, []any, or scalar)
// against the compiled schema.
func (v *SchemaValidator) Validate(subject string, value any) error {
	if err := v.schema.Validate(value); err != nil {
		return &gwerrors.SchemaValidationError{Subject: subject, Cause: err}
	}
	return nil
}
