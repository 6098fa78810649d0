// Package knowledgebase defines the contract a knowledge_base_search
// workflow step calls into. Concrete knowledge base implementations
// (vector stores, document indexes) are collaborators of this core engine;
// only the interface they must satisfy lives here.
package knowledgebase

import "context"

// Document is a single retrieved passage with its similarity score to the
// query, as returned by a knowledge base's search.
type Document struct {
	ID       string
	Content  string
	Score    float64
	Metadata map[string]any
}

// SearchRequest parameterizes a knowledge base query.
type SearchRequest struct {
	// KnowledgeBaseID identifies which knowledge base to query.
	KnowledgeBaseID string

	// Query is the natural-language search text.
	Query string

	// TopK bounds how many documents to return.
	TopK int

	// SimilarityThreshold, when > 0, excludes documents scoring below it.
	SimilarityThreshold float64

	// Filter restricts the search by document metadata; keys and
	// semantics are backend-specific.
	Filter map[string]any
}

// Provider is implemented by a knowledge base backend. The workflow
// executor calls Search for knowledge_base_search steps.
type Provider interface {
	Search(ctx context.Context, req SearchRequest) ([]Document, error)
}
