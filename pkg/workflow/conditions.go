package workflow

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	gwerrors "github.com/llmgateway/core/pkg/errors"
)

// ConditionOperator is the closed set of comparisons a Condition's Field
// may be tested with against Value.
type ConditionOperator string

const (
	OpEq         ConditionOperator = "eq"
	OpNe         ConditionOperator = "ne"
	OpGt         ConditionOperator = "gt"
	OpLt         ConditionOperator = "lt"
	OpGte        ConditionOperator = "gte"
	OpLte        ConditionOperator = "lte"
	OpContains   ConditionOperator = "contains"
	OpStartsWith ConditionOperator = "starts_with"
	OpEndsWith   ConditionOperator = "ends_with"
	OpIsEmpty    ConditionOperator = "is_empty"
	OpIsNotEmpty ConditionOperator = "is_not_empty"
	OpExists     ConditionOperator = "exists"
	OpNotExists  ConditionOperator = "not_exists"
)

// ActionKind names what a matched condition (or a spec's default_action)
// does next.
type ActionKind string

const (
	ActionContinue    ActionKind = "continue"
	ActionGoToStep    ActionKind = "go_to_step"
	ActionEndWorkflow ActionKind = "end_workflow"
)

// Action is the outcome of a matched condition: fall through to the next
// step, jump to a named later step, or terminate the workflow, optionally
// overriding the final output.
type Action struct {
	Kind ActionKind

	// GoToStep names the target step for ActionGoToStep. Validated
	// forward-only at workflow-validation time, same as Step.GoToStep.
	GoToStep string

	// Value overrides the workflow's final output for ActionEndWorkflow.
	// A nil Value (same as an absent one in the wire form) means "use the
	// last successful step's output".
	Value any
}

// Condition is one branch of a conditional step: Field is resolved
// (interpolated) against the workflow context, then compared to Value
// (also interpolated, when it's a string) via Operator.
type Condition struct {
	// Field is typically a "${request:...}" or "${step:...}" reference,
	// but may be any literal too.
	Field any

	Operator ConditionOperator

	// Value is the comparison operand. Unused for is_empty/is_not_empty/
	// exists/not_exists.
	Value any

	Action Action
}

// ConditionSpec describes a conditional step's full branch table: an
// ordered list of conditions (first match wins) plus the action to take
// when none match.
type ConditionSpec struct {
	// Expression, when non-empty, evaluates a free-form boolean
	// expression with github.com/expr-lang/expr against "request.*"/
	// "steps.*" instead of the structured Conditions list below. This is
	// the escape hatch for logic the closed operator set can't express;
	// ThenAction/ElseAction govern its outcome.
	Expression  string
	ThenAction  Action
	ElseAction  Action

	Conditions    []Condition
	DefaultAction Action
}

// EvaluateCondition runs cond's branch table against ctx and returns the
// Action to apply: the first matching Condition's Action, cond's
// DefaultAction if none match, or the Expression form's Then/Else Action
// when Expression is set.
func EvaluateCondition(stepID string, cond *ConditionSpec, ctx *WorkflowContext) (Action, error) {
	if cond.Expression != "" {
		return evaluateExpression(stepID, cond, ctx)
	}

	for _, c := range cond.Conditions {
		matched, err := evaluateOne(stepID, c, ctx)
		if err != nil {
			return Action{}, err
		}
		if matched {
			return c.Action, nil
		}
	}
	return cond.DefaultAction, nil
}

func evaluateExpression(stepID string, cond *ConditionSpec, ctx *WorkflowContext) (Action, error) {
	env := conditionEnv(ctx)

	program, err := expr.Compile(cond.Expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return Action{}, &gwerrors.ValidationError{
			Field:   "condition.expression",
			Message: "invalid condition expression: " + err.Error(),
		}
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return Action{}, &gwerrors.VariableResolutionError{Step: stepID, Reference: cond.Expression}
	}

	matched, ok := result.(bool)
	if !ok {
		return Action{}, &gwerrors.ValidationError{
			Field:   "condition.expression",
			Message: "condition expression did not evaluate to a boolean",
		}
	}

	if matched {
		return cond.ThenAction, nil
	}
	return cond.ElseAction, nil
}

// evaluateOne resolves c.Field (and, where the operator needs it, c.Value)
// against ctx and applies c.Operator, reporting whether the condition
// matched.
func evaluateOne(stepID string, c Condition, ctx *WorkflowContext) (bool, error) {
	if c.Operator == OpExists || c.Operator == OpNotExists {
		_, found := resolveSoft(stepID, c.Field, ctx)
		if c.Operator == OpExists {
			return found, nil
		}
		return !found, nil
	}

	field, err := resolveOperand(stepID, c.Field, ctx)
	if err != nil {
		return false, err
	}

	switch c.Operator {
	case OpIsEmpty:
		return isEmptyValue(field), nil
	case OpIsNotEmpty:
		return !isEmptyValue(field), nil
	}

	value, err := resolveOperand(stepID, c.Value, ctx)
	if err != nil {
		return false, err
	}

	switch c.Operator {
	case OpEq:
		return compareEqual(field, value), nil
	case OpNe:
		return !compareEqual(field, value), nil
	case OpGt, OpLt, OpGte, OpLte:
		a, aok := asFloat(field)
		b, bok := asFloat(value)
		if !aok || !bok {
			return false, nil
		}
		switch c.Operator {
		case OpGt:
			return a > b, nil
		case OpLt:
			return a < b, nil
		case OpGte:
			return a >= b, nil
		default:
			return a <= b, nil
		}
	case OpContains:
		return containsValue(field, value), nil
	case OpStartsWith:
		s, sok := field.(string)
		prefix, pok := value.(string)
		return sok && pok && strings.HasPrefix(s, prefix), nil
	case OpEndsWith:
		s, sok := field.(string)
		suffix, pok := value.(string)
		return sok && pok && strings.HasSuffix(s, suffix), nil
	default:
		return false, &gwerrors.ValidationError{
			Field:   "condition.operator",
			Message: fmt.Sprintf("step %q: unknown condition operator %q", stepID, c.Operator),
		}
	}
}

// resolveOperand interpolates v if it's a string (pure-reference typing
// preserved by ResolveValue); any other value passes through unchanged.
func resolveOperand(stepID string, v any, ctx *WorkflowContext) (any, error) {
	if s, ok := v.(string); ok && strings.Contains(s, "${") {
		return ResolveValue(stepID, s, ctx)
	}
	return v, nil
}

// resolveSoft resolves v the same way resolveOperand does but never
// returns a VariableResolutionError: a missing reference simply reports
// found=false, which is exactly what exists/not_exists need to probe.
func resolveSoft(stepID string, v any, ctx *WorkflowContext) (any, bool) {
	s, ok := v.(string)
	if !ok || !strings.Contains(s, "${") {
		return v, v != nil
	}
	value, err := ResolveValue(stepID, s, ctx)
	if err != nil {
		return nil, false
	}
	return value, true
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

func compareEqual(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func containsValue(field, operand any) bool {
	switch val := field.(type) {
	case string:
		s, ok := operand.(string)
		return ok && strings.Contains(val, s)
	case []any:
		for _, item := range val {
			if compareEqual(item, operand) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// conditionEnv flattens the workflow context into the variable namespace
// Expression-form conditions are written against: "request.*" for inputs
// and "steps.<id>.*" for prior step outputs.
func conditionEnv(ctx *WorkflowContext) map[string]any {
	steps := make(map[string]any, len(ctx.GetOutputs()))
	for id, out := range ctx.GetOutputs() {
		steps[id] = out.ToMap()
	}
	return map[string]any{
		"request": ctx.GetInputs(),
		"steps":   steps,
	}
}
