package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache stores query embeddings so repeated searches skip the embedding provider.
type Cache interface {
	// GetEmbedding retrieves a cached embedding by key.
	// Returns nil if not found
	GetEmbedding(ctx context.Context, key string) ([]float32, error)

	// SetEmbedding stores an embedding with TTL
	SetEmbedding(ctx context.Context, key string, vec []float32, ttl time.Duration) error

	// Flush removes every cached embedding
	Flush(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// EmbeddingKey derives a cache key from the embedding model, dimension and input text.
// Different models or dimensions never share entries.
func EmbeddingKey(model string, dim int, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0, byte(dim >> 24), byte(dim >> 16), byte(dim >> 8), byte(dim)})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
