// Package embedder provides text embedding for taxonomy chunk retrieval.
package embedder

import (
	"context"
)

// Embedder defines the interface for generating text embeddings
type Embedder interface {
	// Embed generates an embedding vector for a single text input
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple text inputs
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the embedding vectors
	Dimension() int

	// ModelName returns the name of the embedding model being used
	ModelName() string
}
