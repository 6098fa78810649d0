package workflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/llmgateway/core/pkg/credential"
	"github.com/llmgateway/core/pkg/knowledgebase"
	"github.com/llmgateway/core/pkg/llm"
	"github.com/llmgateway/core/pkg/plugin"
	"github.com/llmgateway/core/pkg/router"
)

// stubProvider is a deterministic llm.Provider for executor tests.
type stubProvider struct {
	reply func(req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

func (s *stubProvider) Name() string                          { return "stub" }
func (s *stubProvider) Capabilities() llm.Capabilities         { return llm.Capabilities{} }
func (s *stubProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return s.reply(req)
}
func (s *stubProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, nil
}

type staticBackend struct{}

func (staticBackend) Load(ctx context.Context, id string) (credential.StoredCredential, error) {
	return credential.StoredCredential{ID: id, Provider: "stub"}, nil
}

// newTestRouter wires a single-pair route "echo-model" -> plugin "stub"
// whose factory returns reply's response for every completion.
func newTestRouter(t *testing.T, reply func(req llm.CompletionRequest) (*llm.CompletionResponse, error)) *router.Router {
	t.Helper()
	registry := plugin.NewRegistry()
	require.NoError(t, registry.RegisterFactory("stub", func(creds llm.Credentials) (llm.Provider, error) {
		return &stubProvider{reply: reply}, nil
	}))

	resolver := credential.NewResolver(staticBackend{}, time.Minute)
	resolver.RegisterDecoder("stub", func(sc credential.StoredCredential) (llm.Credentials, error) {
		return llm.APIKeyCredentials{APIKey: "k"}, nil
	})

	r := router.New(registry, resolver, router.Config{})
	r.AddRoute(router.ModelRoute{ModelID: "echo-model", Fallback: []router.FallbackPair{{PluginID: "stub", CredentialID: "stub-cred"}}})
	return r
}

func echoingWorkflow(steps ...Step) *Workflow {
	return &Workflow{ID: "wf1", Version: 1, Name: "test", Steps: steps, Enabled: true}
}

func TestExecuteChatCompletionStep(t *testing.T) {
	r := newTestRouter(t, func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: "hello " + req.Messages[0].Content, FinishReason: llm.FinishReasonStop}, nil
	})
	e := &Executor{Router: r}

	w := echoingWorkflow(Step{
		ID:   "greet",
		Type: StepTypeChatCompletion,
		Params: map[string]any{
			"model": "echo-model",
			"messages": []any{
				map[string]any{"role": "user", "content": "${request:name}"},
			},
		},
	})

	result := e.Execute(context.Background(), w, map[string]any{"name": "ada"})
	require.True(t, result.Success, result.Error)
	require.Equal(t, "hello ada", result.Output)
	require.Len(t, result.StepResults, 1)
	require.True(t, result.StepResults[0].Success)
}

func TestExecuteDisabledWorkflowFails(t *testing.T) {
	e := &Executor{}
	w := echoingWorkflow(Step{ID: "s1", Type: StepTypeChatCompletion})
	w.Enabled = false

	result := e.Execute(context.Background(), w, nil)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "disabled")
}

func TestExecuteConditionalGoToStepSkipsForward(t *testing.T) {
	e := &Executor{}
	w := echoingWorkflow(
		Step{
			ID:   "branch",
			Type: StepTypeConditional,
			Condition: &ConditionSpec{
				Conditions: []Condition{
					{Field: "${request:flag}", Operator: OpEq, Value: true, Action: Action{Kind: ActionGoToStep, GoToStep: "finish"}},
				},
				DefaultAction: Action{Kind: ActionContinue},
			},
		},
		Step{ID: "skipped", Type: StepTypeConditional, Condition: &ConditionSpec{DefaultAction: Action{Kind: ActionEndWorkflow, Value: "should not run"}}},
		Step{ID: "finish", Type: StepTypeConditional, Condition: &ConditionSpec{DefaultAction: Action{Kind: ActionEndWorkflow, Value: "done"}}},
	)

	result := e.Execute(context.Background(), w, map[string]any{"flag": true})
	require.True(t, result.Success, result.Error)
	require.Equal(t, "done", result.Output)
	require.Len(t, result.StepResults, 2)
	require.Equal(t, "branch", result.StepResults[0].StepID)
	require.Equal(t, "finish", result.StepResults[1].StepID)
}

func TestExecuteOnErrorSkipStepContinues(t *testing.T) {
	e := &Executor{}
	w := echoingWorkflow(
		Step{ID: "bad", Type: StepTypeKnowledgeBaseSearch, OnError: ErrorStrategySkipStep}, // no KnowledgeBase configured -> error
		Step{ID: "ok", Type: StepTypeConditional, Condition: &ConditionSpec{DefaultAction: Action{Kind: ActionEndWorkflow, Value: "recovered"}}},
	)

	result := e.Execute(context.Background(), w, nil)
	require.True(t, result.Success, result.Error)
	require.Equal(t, "recovered", result.Output)
	require.False(t, result.StepResults[0].Success)
	require.True(t, result.StepResults[1].Success)
}

func TestExecuteOnErrorFailWorkflowStopsEarly(t *testing.T) {
	e := &Executor{}
	w := echoingWorkflow(
		Step{ID: "bad", Type: StepTypeKnowledgeBaseSearch},
		Step{ID: "never", Type: StepTypeConditional, Condition: &ConditionSpec{DefaultAction: Action{Kind: ActionEndWorkflow}}},
	)

	result := e.Execute(context.Background(), w, nil)
	require.False(t, result.Success)
	require.Len(t, result.StepResults, 1)
}

func TestExecuteStepTimeout(t *testing.T) {
	r := newTestRouter(t, func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		time.Sleep(50 * time.Millisecond)
		return &llm.CompletionResponse{Content: "too slow"}, nil
	})
	e := &Executor{Router: r}

	w := echoingWorkflow(Step{
		ID:      "slow",
		Type:    StepTypeChatCompletion,
		Timeout: 5 * time.Millisecond,
		Params: map[string]any{
			"model":    "echo-model",
			"messages": []any{map[string]any{"role": "user", "content": "hi"}},
		},
	})

	result := e.Execute(context.Background(), w, nil)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "timed out")
}

func TestExecuteCancellation(t *testing.T) {
	e := &Executor{}
	var flag CancelFlag
	flag.Cancel()
	ctx := WithCancelFlag(context.Background(), &flag)

	w := echoingWorkflow(
		Step{ID: "s1", Type: StepTypeConditional, Condition: &ConditionSpec{DefaultAction: Action{Kind: ActionContinue}}},
	)

	result := e.Execute(ctx, w, nil)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "cancelled")
	require.Empty(t, result.StepResults)
}

func TestExecuteKnowledgeBaseSearchStep(t *testing.T) {
	kb := fakeKB{docs: []knowledgebase.Document{{ID: "d1", Content: "hi", Score: 0.8}}}
	e := &Executor{KnowledgeBase: kb}

	w := echoingWorkflow(Step{
		ID:   "search",
		Type: StepTypeKnowledgeBaseSearch,
		Params: map[string]any{
			"knowledge_base_id": "kb1",
			"query":             "hello",
			"top_k":             3.0,
		},
	})

	result := e.Execute(context.Background(), w, nil)
	require.True(t, result.Success, result.Error)
	data := result.Output.(map[string]any)
	docs := data["documents"].([]any)
	require.Len(t, docs, 1)
}

type fakeKB struct {
	docs []knowledgebase.Document
}

func (f fakeKB) Search(ctx context.Context, req knowledgebase.SearchRequest) ([]knowledgebase.Document, error) {
	return f.docs, nil
}

func TestExecuteHTTPRequestStep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	backend := &staticHeaderBackend{}
	resolver := credential.NewResolver(backend, time.Minute)
	resolver.RegisterDecoder("http_api_key", func(sc credential.StoredCredential) (llm.Credentials, error) {
		return llm.HTTPAPIKeyCredentials{APIKey: "secret-token"}, nil
	})

	e := &Executor{
		Credentials: resolver,
		ExternalAPIs: map[string]*ExternalAPIBinding{
			"svc": {ID: "svc", BaseURL: srv.URL, AuthType: AuthTypeBearer, CredentialID: "svc-cred"},
		},
	}

	w := echoingWorkflow(Step{
		ID:   "call",
		Type: StepTypeHTTPRequest,
		Params: map[string]any{
			"external_api_id": "svc",
			"method":          "GET",
			"path":            "/resource",
		},
	})

	result := e.Execute(context.Background(), w, nil)
	require.True(t, result.Success, result.Error)
	data := result.Output.(map[string]any)
	require.Equal(t, 200, data["status_code"])
}

type staticHeaderBackend struct{}

func (staticHeaderBackend) Load(ctx context.Context, id string) (credential.StoredCredential, error) {
	return credential.StoredCredential{ID: id, Provider: "http_api_key"}, nil
}

func TestExecuteEndWorkflowOverridesOutput(t *testing.T) {
	e := &Executor{}
	w := echoingWorkflow(
		Step{ID: "s1", Type: StepTypeConditional, Condition: &ConditionSpec{DefaultAction: Action{Kind: ActionEndWorkflow, Value: map[string]any{"final": true}}}},
		Step{ID: "s2", Type: StepTypeConditional, Condition: &ConditionSpec{DefaultAction: Action{Kind: ActionEndWorkflow, Value: "should not run"}}},
	)

	result := e.Execute(context.Background(), w, nil)
	require.True(t, result.Success, result.Error)
	require.Equal(t, map[string]any{"final": true}, result.Output)
	require.Len(t, result.StepResults, 1)
}

func TestExecuteWithOptionsMocksStepWithoutCallingProvider(t *testing.T) {
	called := false
	r := newTestRouter(t, func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		called = true
		return &llm.CompletionResponse{Content: "real call"}, nil
	})
	e := &Executor{Router: r}

	w := echoingWorkflow(Step{
		ID:   "greet",
		Type: StepTypeChatCompletion,
		Params: map[string]any{
			"model":    "echo-model",
			"messages": []any{map[string]any{"role": "user", "content": "hi"}},
		},
	})

	result := e.ExecuteWithOptions(context.Background(), w, nil, ExecuteOptions{
		Mocks: map[string]StepOutput{"greet": {Text: "mocked reply"}},
	})

	require.True(t, result.Success, result.Error)
	require.False(t, called, "mocked step must not invoke the real provider")
	require.Equal(t, "mocked reply", result.Output)
}

func TestExecuteWithOptionsDoesNotMockConditionalSteps(t *testing.T) {
	e := &Executor{}
	w := echoingWorkflow(Step{
		ID:        "gate",
		Type:      StepTypeConditional,
		Condition: &ConditionSpec{DefaultAction: Action{Kind: ActionEndWorkflow, Value: "real branch"}},
	})

	result := e.ExecuteWithOptions(context.Background(), w, nil, ExecuteOptions{
		Mocks: map[string]StepOutput{"gate": {Text: "should be ignored"}},
	})

	require.True(t, result.Success, result.Error)
	require.Equal(t, "real branch", result.Output)
}

func TestCRAGLLMStrategyDelegatesToJudge(t *testing.T) {
	r := newTestRouter(t, func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		for _, m := range req.Messages {
			if m.Content == "Query: q\n\nDocument:\nrelevant doc" {
				return &llm.CompletionResponse{Content: "yes"}, nil
			}
		}
		return &llm.CompletionResponse{Content: "no"}, nil
	})
	e := &Executor{Router: r}

	w := echoingWorkflow(Step{
		ID:   "score",
		Type: StepTypeCRAGScoring,
		Params: map[string]any{
			"strategy": "llm",
			"query":    "q",
			"model":    "echo-model",
			"documents": []any{
				map[string]any{"id": "d1", "content": "relevant doc"},
				map[string]any{"id": "d2", "content": "off-topic"},
			},
		},
	})

	result := e.Execute(context.Background(), w, nil)
	require.True(t, result.Success, result.Error)
	data := result.Output.(map[string]any)
	accepted := data["accepted"].([]any)
	require.Len(t, accepted, 1)
	require.Equal(t, "d1", accepted[0].(map[string]any)["document_id"])
}
