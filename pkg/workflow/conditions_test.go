package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateConditionFirstMatchWins(t *testing.T) {
	ctx := newCtxWithStepOutput("classify", StepOutput{Data: map[string]any{"label": "spam", "score": 0.9}}, nil)

	spec := &ConditionSpec{
		Conditions: []Condition{
			{Field: "${step:classify:label}", Operator: OpEq, Value: "ham", Action: Action{Kind: ActionGoToStep, GoToStep: "ham-path"}},
			{Field: "${step:classify:label}", Operator: OpEq, Value: "spam", Action: Action{Kind: ActionGoToStep, GoToStep: "spam-path"}},
		},
		DefaultAction: Action{Kind: ActionContinue},
	}

	action, err := EvaluateCondition("cond1", spec, ctx)
	require.NoError(t, err)
	require.Equal(t, ActionGoToStep, action.Kind)
	require.Equal(t, "spam-path", action.GoToStep)
}

func TestEvaluateConditionDefaultActionWhenNoMatch(t *testing.T) {
	ctx := newCtxWithStepOutput("classify", StepOutput{Data: map[string]any{"label": "unknown"}}, nil)

	spec := &ConditionSpec{
		Conditions: []Condition{
			{Field: "${step:classify:label}", Operator: OpEq, Value: "spam", Action: Action{Kind: ActionGoToStep, GoToStep: "spam-path"}},
		},
		DefaultAction: Action{Kind: ActionEndWorkflow, Value: "no match"},
	}

	action, err := EvaluateCondition("cond1", spec, ctx)
	require.NoError(t, err)
	require.Equal(t, ActionEndWorkflow, action.Kind)
	require.Equal(t, "no match", action.Value)
}

func TestEvaluateConditionExistsAndNotExists(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{"user": map[string]any{"name": "ada"}})

	spec := &ConditionSpec{
		Conditions: []Condition{
			{Field: "${request:user.email}", Operator: OpNotExists, Action: Action{Kind: ActionEndWorkflow}},
		},
		DefaultAction: Action{Kind: ActionContinue},
	}
	action, err := EvaluateCondition("c", spec, ctx)
	require.NoError(t, err)
	require.Equal(t, ActionEndWorkflow, action.Kind)

	spec2 := &ConditionSpec{
		Conditions: []Condition{
			{Field: "${request:user.name}", Operator: OpExists, Action: Action{Kind: ActionEndWorkflow}},
		},
		DefaultAction: Action{Kind: ActionContinue},
	}
	action, err = EvaluateCondition("c", spec2, ctx)
	require.NoError(t, err)
	require.Equal(t, ActionEndWorkflow, action.Kind)
}

func TestEvaluateConditionIsEmptyOperators(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{"tags": []any{}, "name": "ada"})

	spec := &ConditionSpec{
		Conditions: []Condition{
			{Field: "${request:tags}", Operator: OpIsEmpty, Action: Action{Kind: ActionGoToStep, GoToStep: "empty-path"}},
			{Field: "${request:name}", Operator: OpIsNotEmpty, Action: Action{Kind: ActionGoToStep, GoToStep: "named-path"}},
		},
		DefaultAction: Action{Kind: ActionContinue},
	}
	action, err := EvaluateCondition("c", spec, ctx)
	require.NoError(t, err)
	require.Equal(t, "empty-path", action.GoToStep)
}

func TestEvaluateConditionNumericComparisons(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{"score": 0.72})

	spec := &ConditionSpec{
		Conditions: []Condition{
			{Field: "${request:score}", Operator: OpGte, Value: 0.5, Action: Action{Kind: ActionGoToStep, GoToStep: "accept"}},
		},
		DefaultAction: Action{Kind: ActionGoToStep, GoToStep: "reject"},
	}
	action, err := EvaluateCondition("c", spec, ctx)
	require.NoError(t, err)
	require.Equal(t, "accept", action.GoToStep)
}

func TestEvaluateConditionContainsOperator(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{"tags": []any{"a", "b", "c"}})

	spec := &ConditionSpec{
		Conditions: []Condition{
			{Field: "${request:tags}", Operator: OpContains, Value: "b", Action: Action{Kind: ActionGoToStep, GoToStep: "has-b"}},
		},
		DefaultAction: Action{Kind: ActionContinue},
	}
	action, err := EvaluateCondition("c", spec, ctx)
	require.NoError(t, err)
	require.Equal(t, "has-b", action.GoToStep)
}

func TestEvaluateConditionStartsWithEndsWithOperators(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{"path": "/v1/chat/completions"})

	spec := &ConditionSpec{
		Conditions: []Condition{
			{Field: "${request:path}", Operator: OpStartsWith, Value: "/v1/", Action: Action{Kind: ActionGoToStep, GoToStep: "versioned"}},
		},
		DefaultAction: Action{Kind: ActionGoToStep, GoToStep: "unversioned"},
	}
	action, err := EvaluateCondition("c", spec, ctx)
	require.NoError(t, err)
	require.Equal(t, "versioned", action.GoToStep)

	spec = &ConditionSpec{
		Conditions: []Condition{
			{Field: "${request:path}", Operator: OpEndsWith, Value: "/completions", Action: Action{Kind: ActionGoToStep, GoToStep: "chat"}},
		},
		DefaultAction: Action{Kind: ActionGoToStep, GoToStep: "other"},
	}
	action, err = EvaluateCondition("c", spec, ctx)
	require.NoError(t, err)
	require.Equal(t, "chat", action.GoToStep)

	spec = &ConditionSpec{
		Conditions: []Condition{
			{Field: "${request:path}", Operator: OpStartsWith, Value: "/v2/", Action: Action{Kind: ActionGoToStep, GoToStep: "versioned"}},
		},
		DefaultAction: Action{Kind: ActionGoToStep, GoToStep: "unversioned"},
	}
	action, err = EvaluateCondition("c", spec, ctx)
	require.NoError(t, err)
	require.Equal(t, "unversioned", action.GoToStep)
}

func TestEvaluateConditionExpressionEscapeHatch(t *testing.T) {
	ctx := newCtxWithStepOutput("classify", StepOutput{Data: map[string]any{"label": "spam"}}, nil)

	spec := &ConditionSpec{
		Expression: `steps.classify.label == "spam"`,
		ThenAction: Action{Kind: ActionGoToStep, GoToStep: "spam-path"},
		ElseAction: Action{Kind: ActionContinue},
	}
	action, err := EvaluateCondition("c", spec, ctx)
	require.NoError(t, err)
	require.Equal(t, "spam-path", action.GoToStep)
}
