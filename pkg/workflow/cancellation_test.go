package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llmgateway/core/pkg/llm"
)

func TestCancelFlagDefaultsToNotCancelled(t *testing.T) {
	var flag CancelFlag
	require.False(t, flag.Cancelled())
	require.False(t, IsCancelled(WithCancelFlag(context.Background(), &flag)))

	flag.Cancel()
	require.True(t, flag.Cancelled())
	require.True(t, IsCancelled(WithCancelFlag(context.Background(), &flag)))
}

func TestIsCancelledWithoutFlagIsFalse(t *testing.T) {
	require.False(t, IsCancelled(context.Background()))
}

func TestCancelMidExecutionStopsAtNextStepBoundary(t *testing.T) {
	var flag CancelFlag
	r := newTestRouter(t, func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		// Simulates a cancel request arriving while the first step's
		// provider call is in flight: the call completes, its result is
		// recorded, and the workflow stops before the second step runs.
		flag.Cancel()
		return &llm.CompletionResponse{Content: "finished anyway"}, nil
	})
	e := &Executor{Router: r}

	chat := func(id string) Step {
		return Step{ID: id, Type: StepTypeChatCompletion, Params: map[string]any{
			"model":    "echo-model",
			"messages": []any{map[string]any{"role": "user", "content": "hi"}},
		}}
	}
	w := echoingWorkflow(chat("first"), chat("second"))

	result := e.Execute(WithCancelFlag(context.Background(), &flag), w, nil)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "cancelled")
	require.Len(t, result.StepResults, 1, "the in-flight step completes, the next never starts")
	require.Equal(t, "first", result.StepResults[0].StepID)
}
