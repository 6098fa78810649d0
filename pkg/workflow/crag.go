package workflow

import (
	"context"
	"math"

	"github.com/itchyny/gojq"

	gwerrors "github.com/llmgateway/core/pkg/errors"
)

// CRAGStrategy names how a crag_scoring step decides whether retrieved
// documents are relevant enough to use (corrective retrieval-augmented
// generation).
type CRAGStrategy string

const (
	// CRAGStrategyThreshold accepts documents whose similarity score to
	// the query embedding meets a fixed threshold.
	CRAGStrategyThreshold CRAGStrategy = "threshold"

	// CRAGStrategyLLM delegates the relevance judgment to an LLM call
	// (a chat_completion step feeding this one), trusting its verdict.
	CRAGStrategyLLM CRAGStrategy = "llm"

	// CRAGStrategyHybrid requires both a minimum similarity score AND the
	// LLM verdict to agree before accepting a document.
	CRAGStrategyHybrid CRAGStrategy = "hybrid"
)

// CRAGDocument is one retrieved candidate passed into a crag_scoring step.
type CRAGDocument struct {
	ID        string
	Content   string
	Embedding []float64

	// LLMVerdict, when already populated by the caller, short-circuits
	// the llm/hybrid strategies' judging call for this document.
	LLMVerdict *bool
}

// JudgeFunc asks an LLM whether doc is relevant to query; the "llm" and
// "hybrid" strategies delegate per-document relevance to it. Supplied by
// the executor, which has the router and the step's prompt_id; crag.go
// stays provider-agnostic.
type JudgeFunc func(ctx context.Context, query string, doc CRAGDocument) (bool, error)

// CRAGResult is the outcome of scoring one document.
type CRAGResult struct {
	DocumentID string
	Score      float64
	Accepted   bool
}

// CRAGParams configures a crag_scoring step.
type CRAGParams struct {
	Strategy       CRAGStrategy
	QueryEmbedding []float64
	Threshold      float64
	DocumentsPath  string // gojq path into the step input extracting []CRAGDocument-shaped JSON

	// Query is the original search query, passed to Judge for the
	// llm/hybrid strategies.
	Query string

	// Judge performs the llm/hybrid strategies' relevance call when a
	// document has no pre-supplied LLMVerdict. Nil means "treat
	// unverdicted documents as rejected" (the step still succeeds).
	Judge JudgeFunc
}

// ScoreDocuments applies the configured strategy to each document and
// returns one CRAGResult per document, preserving input order.
func ScoreDocuments(ctx context.Context, params CRAGParams, docs []CRAGDocument) ([]CRAGResult, error) {
	results := make([]CRAGResult, 0, len(docs))
	for _, doc := range docs {
		score := 0.0
		if len(doc.Embedding) > 0 && len(params.QueryEmbedding) > 0 {
			score = cosineSimilarity(params.QueryEmbedding, doc.Embedding)
		}

		verdict, err := resolveLLMVerdict(ctx, params, doc)
		if err != nil {
			return nil, err
		}

		var accepted bool
		switch params.Strategy {
		case CRAGStrategyThreshold:
			accepted = score >= params.Threshold
		case CRAGStrategyLLM:
			accepted = verdict
		case CRAGStrategyHybrid:
			accepted = score >= params.Threshold && verdict
		default:
			return nil, &gwerrors.ValidationError{Field: "strategy", Message: "unknown crag scoring strategy"}
		}

		results = append(results, CRAGResult{DocumentID: doc.ID, Score: score, Accepted: accepted})
	}
	return results, nil
}

// resolveLLMVerdict returns doc's pre-supplied verdict when present;
// otherwise, for the llm/hybrid strategies, it delegates to params.Judge.
// Strategies that don't need a verdict (threshold) never call Judge.
func resolveLLMVerdict(ctx context.Context, params CRAGParams, doc CRAGDocument) (bool, error) {
	if doc.LLMVerdict != nil {
		return *doc.LLMVerdict, nil
	}
	if params.Strategy != CRAGStrategyLLM && params.Strategy != CRAGStrategyHybrid {
		return false, nil
	}
	if params.Judge == nil {
		return false, nil
	}
	return params.Judge(ctx, params.Query, doc)
}

// cosineSimilarity computes the cosine of the angle between two vectors of
// equal length, returning 0 for mismatched or zero-norm inputs.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ExtractDocuments pulls a document list out of arbitrary JSON-like input
// using a gojq path expression, e.g. ".input_documents[]".
func ExtractDocuments(ctx context.Context, input any, jqPath string) ([]any, error) {
	query, err := gojq.Parse(jqPath)
	if err != nil {
		return nil, &gwerrors.ValidationError{Field: "documents_path", Message: "invalid jq path: " + err.Error()}
	}

	iter := query.RunWithContext(ctx, input)
	var out []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, &gwerrors.ValidationError{Field: "documents_path", Message: "evaluating jq path: " + err.Error()}
		}
		out = append(out, v)
	}
	return out, nil
}
