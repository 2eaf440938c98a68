package embeddings

import "context"

// Vector is a simple float32 slice wrapper.
type Vector []float32

// Embedder turns text into fixed-width vectors.
//
// EmbedBatch is order-preserving: row i of the result belongs to texts[i].
// Every returned vector has Dimension() components.
type Embedder interface {
	Dimension() int
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)
	EmbedSingle(ctx context.Context, text string) (Vector, error)
}
