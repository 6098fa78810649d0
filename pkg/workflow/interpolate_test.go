package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newCtxWithStepOutput(stepID string, out StepOutput, inputs map[string]any) *WorkflowContext {
	ctx := NewWorkflowContext(inputs)
	ctx.SetOutput(stepID, out)
	return ctx
}

func TestResolveValuePureReferencePreservesType(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{"count": 3.0, "user": map[string]any{"name": "ada"}})

	v, err := ResolveValue("s1", "${request:count}", ctx)
	require.NoError(t, err)
	require.Equal(t, 3.0, v)

	v, err = ResolveValue("s1", "${request:user.name}", ctx)
	require.NoError(t, err)
	require.Equal(t, "ada", v)
}

func TestResolveValueRequestDefaultUsedWhenMissing(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{})

	v, err := ResolveValue("s1", "${request:missing:42}", ctx)
	require.NoError(t, err)
	require.Equal(t, 42.0, v) // JSON-parsed default is a number

	v, err = ResolveValue("s1", `${request:missing:"fallback"}`, ctx)
	require.NoError(t, err)
	require.Equal(t, "fallback", v)

	v, err = ResolveValue("s1", "${request:missing:plain}", ctx)
	require.NoError(t, err)
	require.Equal(t, "plain", v)
}

func TestResolveValueMissingWithoutDefaultErrors(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{})
	_, err := ResolveValue("s1", "${request:missing}", ctx)
	require.Error(t, err)
}

func TestResolveValueStepReference(t *testing.T) {
	ctx := newCtxWithStepOutput("classify", StepOutput{Data: map[string]any{"label": "spam", "score": 0.9}}, nil)

	v, err := ResolveValue("s2", "${step:classify:label}", ctx)
	require.NoError(t, err)
	require.Equal(t, "spam", v)

	v, err = ResolveValue("s2", "${step:classify:score}", ctx)
	require.NoError(t, err)
	require.Equal(t, 0.9, v)
}

func TestResolveValueStepReferenceDefaultOnMissingStep(t *testing.T) {
	ctx := NewWorkflowContext(nil)
	v, err := ResolveValue("s2", "${step:never-ran:label:unknown}", ctx)
	require.NoError(t, err)
	require.Equal(t, "unknown", v)
}

func TestResolveValueTemplateSubstitutionYieldsString(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{"name": "ada", "age": 30.0})

	v, err := ResolveValue("s1", "hello ${request:name}, age ${request:age}", ctx)
	require.NoError(t, err)
	require.Equal(t, "hello ada, age 30", v)
}

func TestResolveValueArrayIndexPath(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{"items": []any{
		map[string]any{"id": "a"},
		map[string]any{"id": "b"},
	}})

	v, err := ResolveValue("s1", "${request:items.1.id}", ctx)
	require.NoError(t, err)
	require.Equal(t, "b", v)
}

func TestResolveValueTemplateRendersCompositesAsJSON(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{
		"tags": []any{"a", "b"},
		"user": map[string]any{"name": "ada"},
		"none": nil,
	})

	v, err := ResolveValue("s1", "tags=${request:tags}", ctx)
	require.NoError(t, err)
	require.Equal(t, `tags=["a","b"]`, v)

	v, err = ResolveValue("s1", "user=${request:user}", ctx)
	require.NoError(t, err)
	require.Equal(t, `user={"name":"ada"}`, v)

	v, err = ResolveValue("s1", "none=[${request:none}]", ctx)
	require.NoError(t, err)
	require.Equal(t, "none=[]", v)
}

func TestResolveValueRecursesIntoMapsAndSlices(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{"x": "hi"})

	v, err := ResolveValue("s1", map[string]any{
		"a": "${request:x}",
		"b": []any{"${request:x}", "literal"},
	}, ctx)
	require.NoError(t, err)

	m := v.(map[string]any)
	require.Equal(t, "hi", m["a"])
	require.Equal(t, []any{"hi", "literal"}, m["b"])
}
