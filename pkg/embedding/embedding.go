// Package embedding defines the contract used to turn text into vectors
// for the semantic response cache and CRAG scoring. Concrete embedding
// model integrations are collaborators of this core engine.
package embedding

import "context"

// Provider produces a vector embedding for a piece of text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}
