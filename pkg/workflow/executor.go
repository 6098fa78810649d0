package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/llmgateway/core/pkg/cache/response"
	"github.com/llmgateway/core/pkg/credential"
	gwerrors "github.com/llmgateway/core/pkg/errors"
	"github.com/llmgateway/core/pkg/knowledgebase"
	"github.com/llmgateway/core/pkg/llm"
	"github.com/llmgateway/core/pkg/router"
)

// CacheStrategy selects how a chat_completion step consults the response
// cache before calling a provider.
type CacheStrategy string

const (
	CacheStrategyNone     CacheStrategy = "none"
	CacheStrategyExact    CacheStrategy = "exact"
	CacheStrategySemantic CacheStrategy = "semantic"
)

// Executor runs a Workflow's steps in sequence, dispatching each to the
// collaborator that implements its StepType and threading results through
// a WorkflowContext for ${...} interpolation and conditional branching.
type Executor struct {
	Router        *router.Router
	KnowledgeBase knowledgebase.Provider
	ExternalAPIs  map[string]*ExternalAPIBinding
	Credentials   *credential.Resolver
	ExactCache    *response.ExactCache
	SemanticCache *response.SemanticCache

	// HTTPClient is used by http_request steps. Built lazily from
	// httpclient.DefaultConfig() if nil.
	HTTPClient *http.Client
}

// ExternalAPIBinding holds the fields of an externalapi.ExternalApi that
// http_request steps need. Kept distinct from the entity type so the
// workflow package does not depend on pkg/externalapi.
type ExternalAPIBinding struct {
	ID           string
	BaseURL      string
	BaseHeaders  map[string]string
	AuthType     AuthType
	HeaderName   string
	CredentialID string
}

// AuthType mirrors externalapi.AuthType's values so the workflow package
// does not import pkg/externalapi.
type AuthType string

const (
	AuthTypeNone         AuthType = "none"
	AuthTypeAPIKeyHeader AuthType = "api_key_header"
	AuthTypeBearer       AuthType = "bearer"
)

// stepControl is runStep's instruction to Execute's loop: where to go
// next, or whether the workflow should terminate now.
type stepControl struct {
	next        string
	end         bool
	endValue    any
	hasEndValue bool
}

// ExecuteOptions customizes a single Execute call. The zero value runs the
// workflow for real.
type ExecuteOptions struct {
	// Mocks maps a step ID to a pre-supplied output that replaces the
	// step's real dispatch (no provider, knowledge-base, or HTTP call is
	// made). Used by the admin surface's workflow-test capability to
	// dry-run a workflow's control flow without touching live
	// collaborators. Conditional steps are never mocked — their branch
	// logic has no external call to stand in for.
	Mocks map[string]StepOutput
}

// Execute runs w against input from its first step through a terminal
// fall-off-the-end, a fail_workflow error, an end_workflow action, or
// cancellation, and always returns a WorkflowResult — it never panics and
// never returns an error to the caller; every failure mode is expressed
// in the result itself.
func (e *Executor) Execute(ctx context.Context, w *Workflow, input map[string]any) *WorkflowResult {
	return e.ExecuteWithOptions(ctx, w, input, ExecuteOptions{})
}

// ExecuteWithOptions is Execute with the ability to mock individual
// steps' outputs, per ExecuteOptions.
func (e *Executor) ExecuteWithOptions(ctx context.Context, w *Workflow, input map[string]any, opts ExecuteOptions) *WorkflowResult {
	start := time.Now()
	result := &WorkflowResult{Success: true}

	if !w.Enabled {
		result.Success = false
		result.Error = fmt.Sprintf("workflow %q is disabled", w.ID)
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
		return result
	}

	if len(w.InputSchema) > 0 {
		validator, err := CompileSchema(w.InputSchema)
		if err == nil {
			err = validator.Validate("workflow input", map[string]any(input))
		}
		if err != nil {
			result.Success = false
			result.Error = err.Error()
			result.ExecutionTimeMs = time.Since(start).Milliseconds()
			return result
		}
	}

	index := make(map[string]int, len(w.Steps))
	for i, step := range w.Steps {
		index[step.ID] = i
	}

	wfCtx := NewWorkflowContext(input)
	var lastOutput any
	var endOverride any
	ended := false

	idx := 0
	for idx < len(w.Steps) {
		if IsCancelled(ctx) {
			result.Success = false
			result.Error = "workflow execution cancelled"
			break
		}

		step := w.Steps[idx]

		stepCtx := ctx
		var cancel context.CancelFunc
		if step.Timeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		}

		stepStart := time.Now()
		var ctrl stepControl
		var out StepOutput
		var err error
		if mocked, isMocked := opts.Mocks[step.ID]; isMocked && step.Type != StepTypeConditional {
			out = mocked
			if step.GoToStep != "" {
				ctrl = stepControl{next: step.GoToStep}
			}
		} else {
			ctrl, out, err = e.runStep(stepCtx, &step, wfCtx)
		}
		if cancel != nil {
			if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
				err = &gwerrors.TimeoutError{Operation: fmt.Sprintf("step %q", step.ID), Duration: step.Timeout}
			}
			cancel()
		}
		duration := time.Since(stepStart)

		if step.Type != StepTypeConditional && err == nil && len(step.OutputSchema) > 0 {
			if verr := validateStepOutput(&step, out); verr != nil {
				err = verr
			}
		}

		success := err == nil
		sr := StepResult{StepID: step.ID, Type: step.Type, Success: success, Output: out, DurationMs: duration.Milliseconds()}
		if !success {
			sr.Error = err.Error()
			out = StepOutput{Error: err.Error()}
		}
		out.Metadata.Duration = duration
		wfCtx.SetOutput(step.ID, out)
		result.StepResults = append(result.StepResults, sr)

		if !success {
			switch step.OnError {
			case ErrorStrategySkipStep:
				idx++
				continue
			default:
				result.Success = false
				result.Error = err.Error()
				idx = len(w.Steps)
				continue
			}
		}

		lastOutput = stepOutputValue(out)

		if ctrl.end {
			ended = true
			if ctrl.hasEndValue {
				endOverride = ctrl.endValue
			}
			break
		}
		if ctrl.next != "" {
			target, ok := index[ctrl.next]
			if !ok {
				result.Success = false
				result.Error = fmt.Sprintf("step %q: unknown jump target %q", step.ID, ctrl.next)
				break
			}
			idx = target
			continue
		}
		idx++
	}

	if result.Success {
		if ended && endOverride != nil {
			result.Output = endOverride
		} else {
			result.Output = lastOutput
		}
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result
}

// stepOutputValue extracts the JSON-ish value a step contributes to
// last_step_output selection: its primary Text if present (a chat step's
// generated content), else its structured Data, else nil.
func stepOutputValue(out StepOutput) any {
	if out.Text != "" {
		return out.Text
	}
	if out.Data != nil {
		return out.Data
	}
	return nil
}

// validateStepOutput validates a step's Data payload against its
// OutputSchema, when set.
func validateStepOutput(step *Step, out StepOutput) error {
	if len(step.OutputSchema) == 0 {
		return nil
	}
	validator, err := CompileSchema(step.OutputSchema)
	if err != nil {
		return err
	}
	return validator.Validate(fmt.Sprintf("step %q output", step.ID), stepOutputValue(out))
}

// runStep resolves the step's params, dispatches to the handler for its
// type, and reports what the executor should do next.
func (e *Executor) runStep(ctx context.Context, step *Step, wfCtx *WorkflowContext) (stepControl, StepOutput, error) {
	if step.Type == StepTypeConditional {
		if step.Condition == nil {
			return stepControl{}, StepOutput{}, &gwerrors.ValidationError{Field: "condition", Message: fmt.Sprintf("step %q: conditional step missing condition spec", step.ID)}
		}
		action, err := EvaluateCondition(step.ID, step.Condition, wfCtx)
		if err != nil {
			return stepControl{}, StepOutput{}, err
		}
		out := StepOutput{Data: map[string]any{"action": string(action.Kind)}}
		switch action.Kind {
		case ActionGoToStep:
			return stepControl{next: action.GoToStep}, out, nil
		case ActionEndWorkflow:
			return stepControl{end: true, endValue: action.Value, hasEndValue: action.Value != nil}, out, nil
		default:
			return stepControl{}, out, nil
		}
	}

	resolved, err := ResolveValue(step.ID, map[string]any(step.Params), wfCtx)
	if err != nil {
		return stepControl{}, StepOutput{}, err
	}
	params, _ := resolved.(map[string]any)

	var out StepOutput
	switch step.Type {
	case StepTypeChatCompletion:
		out, err = e.runChatCompletion(ctx, step.ID, params)
	case StepTypeKnowledgeBaseSearch:
		out, err = e.runKnowledgeBaseSearch(ctx, step.ID, params)
	case StepTypeCRAGScoring:
		out, err = e.runCRAGScoring(ctx, step.ID, params)
	case StepTypeHTTPRequest:
		out, err = e.runHTTPRequest(ctx, step.ID, params)
	default:
		return stepControl{}, StepOutput{}, &gwerrors.ValidationError{Field: "type", Message: fmt.Sprintf("step %q: unknown step type %q", step.ID, step.Type)}
	}
	if err != nil {
		return stepControl{}, StepOutput{}, err
	}

	if step.GoToStep != "" {
		return stepControl{next: step.GoToStep}, out, nil
	}
	return stepControl{}, out, nil
}

func paramString(params map[string]any, key, def string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func paramFloat(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func paramInt(params map[string]any, key string, def int) int {
	if f, ok := paramFloat(params, key); ok {
		return int(f)
	}
	return def
}

// runChatCompletion executes a chat_completion step: optionally consults
// the response cache, calls the router for a completion, and stores the
// result back into the cache.
func (e *Executor) runChatCompletion(ctx context.Context, stepID string, params map[string]any) (StepOutput, error) {
	modelID := paramString(params, "model", "")
	if modelID == "" {
		return StepOutput{}, &gwerrors.ValidationError{Field: "model", Message: fmt.Sprintf("step %q: chat_completion requires a model", stepID)}
	}

	req, err := buildCompletionRequest(params)
	if err != nil {
		return StepOutput{}, err
	}

	strategy := CacheStrategy(paramString(params, "cache_strategy", string(CacheStrategyNone)))

	if strategy == CacheStrategyExact && e.ExactCache != nil {
		fp, err := response.Fingerprint(modelID, req)
		if err == nil {
			if cached, hit, err := e.ExactCache.Get(ctx, fp); err == nil && hit {
				return completionToStepOutput(cached.Response, "cache", modelID, true, strategy), nil
			}
		}
	}
	if strategy == CacheStrategySemantic && e.SemanticCache != nil {
		query := response.PromptText(req)
		if cached, hit, err := e.SemanticCache.Get(ctx, query); err == nil && hit {
			return completionToStepOutput(cached.Response, "cache", modelID, true, strategy), nil
		}
	}

	resp, err := e.Router.Complete(ctx, modelID, req)
	if err != nil {
		return StepOutput{}, err
	}

	if strategy == CacheStrategyExact && e.ExactCache != nil {
		if fp, err := response.Fingerprint(modelID, req); err == nil {
			_ = e.ExactCache.Put(ctx, fp, modelID, *resp)
		}
	}
	if strategy == CacheStrategySemantic && e.SemanticCache != nil {
		_ = e.SemanticCache.Put(ctx, response.PromptText(req), modelID, *resp)
	}

	return completionToStepOutput(*resp, resp.Model, modelID, false, strategy), nil
}

func buildCompletionRequest(params map[string]any) (llm.CompletionRequest, error) {
	rawMessages, _ := params["messages"].([]any)
	messages := make([]llm.Message, 0, len(rawMessages))
	for _, rm := range rawMessages {
		m, ok := rm.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		messages = append(messages, llm.Message{Role: llm.MessageRole(role), Content: content})
	}

	req := llm.CompletionRequest{Messages: messages}
	if t, ok := paramFloat(params, "temperature"); ok {
		req.Temperature = &t
	}
	if mt, ok := paramFloat(params, "max_tokens"); ok {
		v := int(mt)
		req.MaxTokens = &v
	}
	if model := paramString(params, "model", ""); model != "" {
		req.Model = model
	}
	return req, nil
}

func completionToStepOutput(resp llm.CompletionResponse, provider, model string, cacheHit bool, strategy CacheStrategy) StepOutput {
	return StepOutput{
		Text: resp.Content,
		Data: map[string]any{
			"finish_reason": string(resp.FinishReason),
			"request_id":    resp.RequestID,
		},
		Metadata: OutputMetadata{
			StepType:      StepTypeChatCompletion,
			Provider:      provider,
			Model:         model,
			CacheHit:      cacheHit,
			CacheStrategy: strategy,
			TokenUsage: &TokenUsage{
				InputTokens:  resp.Usage.InputTokens,
				OutputTokens: resp.Usage.OutputTokens,
				TotalTokens:  resp.Usage.TotalTokens,
			},
		},
	}
}

// runKnowledgeBaseSearch executes a knowledge_base_search step against the
// configured knowledgebase.Provider.
func (e *Executor) runKnowledgeBaseSearch(ctx context.Context, stepID string, params map[string]any) (StepOutput, error) {
	if e.KnowledgeBase == nil {
		return StepOutput{}, &gwerrors.ValidationError{Field: "knowledge_base", Message: fmt.Sprintf("step %q: no knowledge base provider configured", stepID)}
	}
	kbID := paramString(params, "knowledge_base_id", "")
	query := paramString(params, "query", "")
	if kbID == "" || query == "" {
		return StepOutput{}, &gwerrors.ValidationError{Field: "knowledge_base_search", Message: fmt.Sprintf("step %q: knowledge_base_id and query are required", stepID)}
	}
	req := knowledgebase.SearchRequest{
		KnowledgeBaseID: kbID,
		Query:           query,
		TopK:            paramInt(params, "top_k", 5),
	}
	if threshold, ok := paramFloat(params, "similarity_threshold"); ok {
		req.SimilarityThreshold = threshold
	}
	if filter, ok := params["filter"].(map[string]any); ok {
		req.Filter = filter
	}

	docs, err := e.KnowledgeBase.Search(ctx, req)
	if err != nil {
		return StepOutput{}, err
	}

	results := make([]any, 0, len(docs))
	for _, d := range docs {
		results = append(results, map[string]any{
			"id":       d.ID,
			"content":  d.Content,
			"score":    d.Score,
			"metadata": d.Metadata,
		})
	}
	return StepOutput{
		Data:     map[string]any{"documents": results},
		Metadata: OutputMetadata{StepType: StepTypeKnowledgeBaseSearch},
	}, nil
}

// runCRAGScoring executes a crag_scoring step, scoring each supplied
// document via pkg/workflow's ScoreDocuments.
func (e *Executor) runCRAGScoring(ctx context.Context, stepID string, params map[string]any) (StepOutput, error) {
	strategy := CRAGStrategy(paramString(params, "strategy", string(CRAGStrategyThreshold)))
	threshold, _ := paramFloat(params, "threshold")
	query := paramString(params, "query", "")

	queryEmbedding, err := toFloatSlice(params["query_embedding"])
	if err != nil {
		return StepOutput{}, &gwerrors.ValidationError{Field: "query_embedding", Message: fmt.Sprintf("step %q: %v", stepID, err)}
	}

	rawDocs, err := resolveCRAGDocuments(ctx, params)
	if err != nil {
		return StepOutput{}, err
	}
	docs, err := toCRAGDocuments(rawDocs)
	if err != nil {
		return StepOutput{}, &gwerrors.ValidationError{Field: "documents", Message: fmt.Sprintf("step %q: %v", stepID, err)}
	}

	cragParams := CRAGParams{Strategy: strategy, QueryEmbedding: queryEmbedding, Threshold: threshold, Query: query}
	if strategy == CRAGStrategyLLM || strategy == CRAGStrategyHybrid {
		cragParams.Judge = e.cragJudge(paramString(params, "model", ""), paramString(params, "prompt_id", ""))
	}

	results, err := ScoreDocuments(ctx, cragParams, docs)
	if err != nil {
		return StepOutput{}, err
	}

	var accepted []any
	allResults := make([]any, 0, len(results))
	for _, r := range results {
		entry := map[string]any{"document_id": r.DocumentID, "score": r.Score, "accepted": r.Accepted}
		allResults = append(allResults, entry)
		if r.Accepted {
			accepted = append(accepted, entry)
		}
	}

	return StepOutput{
		Data:     map[string]any{"results": allResults, "accepted": accepted},
		Metadata: OutputMetadata{StepType: StepTypeCRAGScoring},
	}, nil
}

func resolveCRAGDocuments(ctx context.Context, params map[string]any) ([]any, error) {
	if docs, ok := params["documents"].([]any); ok {
		return docs, nil
	}
	jqPath := paramString(params, "documents_path", "")
	if jqPath == "" {
		return nil, nil
	}
	return ExtractDocuments(ctx, params["documents_source"], jqPath)
}

func toCRAGDocuments(raw []any) ([]CRAGDocument, error) {
	docs := make([]CRAGDocument, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("document entry must be an object, got %T", r)
		}
		id, _ := m["id"].(string)
		content, _ := m["content"].(string)
		embedding, err := toFloatSlice(m["embedding"])
		if err != nil {
			return nil, fmt.Errorf("document %q embedding: %w", id, err)
		}
		var verdict *bool
		if v, ok := m["llm_verdict"].(bool); ok {
			verdict = &v
		}
		docs = append(docs, CRAGDocument{ID: id, Content: content, Embedding: embedding, LLMVerdict: verdict})
	}
	return docs, nil
}

// cragJudge builds the llm/hybrid strategies' judging call: a single-turn
// chat_completion asking whether a document is relevant to the query,
// answered strictly "yes" or "no". Returns nil when no model is
// configured, so ScoreDocuments falls back to rejecting unverdicted
// documents rather than erroring the step.
func (e *Executor) cragJudge(model, promptID string) JudgeFunc {
	if model == "" {
		return nil
	}
	return func(ctx context.Context, query string, doc CRAGDocument) (bool, error) {
		system := "You judge whether a retrieved document is relevant to a search query. " +
			"Respond with exactly one word: \"yes\" or \"no\"."
		user := fmt.Sprintf("Query: %s\n\nDocument:\n%s", query, doc.Content)

		req := llm.CompletionRequest{
			Model: model,
			Messages: []llm.Message{
				{Role: llm.MessageRoleSystem, Content: system},
				{Role: llm.MessageRoleUser, Content: user},
			},
		}
		if promptID != "" {
			req.Metadata = map[string]string{"prompt_id": promptID}
		}

		resp, err := e.Router.Complete(ctx, model, req)
		if err != nil {
			return false, err
		}
		return strings.EqualFold(strings.TrimSpace(resp.Content), "yes"), nil
	}
}

func toFloatSlice(v any) ([]float64, error) {
	raw, ok := v.([]any)
	if !ok {
		if v == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("expected a list of numbers, got %T", v)
	}
	out := make([]float64, 0, len(raw))
	for _, item := range raw {
		switch n := item.(type) {
		case float64:
			out = append(out, n)
		case int:
			out = append(out, float64(n))
		default:
			return nil, fmt.Errorf("expected numeric list entries, got %T", item)
		}
	}
	return out, nil
}
