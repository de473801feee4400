// Package ai holds the embedding and chat adapter contracts plus the Ollama
// implementation the CLI wires in by default. Adapters are stateless from
// the engine's point of view; a nil vector in an Embed result tells the
// engine to take the keyword path for that text.
package ai

import "context"

// Embedder produces one vector per input text. Individual entries may be
// nil when the backend cannot embed that text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// QueryEmbedder is an optional capability for backends with distinct
// query-side embedding models.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, texts []string) ([][]float64, error)
}

// Chatter answers a single prompt with a string. Used for conflict
// detection, summarization and cluster auto-labeling.
type Chatter interface {
	Chat(ctx context.Context, prompt string) (string, error)
}
