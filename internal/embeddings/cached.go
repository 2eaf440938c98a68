package embeddings

import (
	"context"
	"log/slog"
	"time"

	"code-index/internal/cache"
)

// CachedEmbedder serves EmbedSingle from a cache, falling through to the wrapped
// embedder on a miss. Cache failures are logged and never fail the call.
// EmbedBatch is passed through uncached; it is used for bulk indexing.
type CachedEmbedder struct {
	next  Embedder
	cache cache.Cache
	model string
	ttl   time.Duration
	log   *slog.Logger
}

// NewCachedEmbedder wraps next; model namespaces the cache keys.
func NewCachedEmbedder(next Embedder, c cache.Cache, model string, ttl time.Duration, log *slog.Logger) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: c, model: model, ttl: ttl, log: log}
}

func (c *CachedEmbedder) Dimension() int {
	return c.next.Dimension()
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	return c.next.EmbedBatch(ctx, texts)
}

func (c *CachedEmbedder) EmbedSingle(ctx context.Context, text string) (Vector, error) {
	key := cache.EmbeddingKey(c.model, c.next.Dimension(), text)
	cached, err := c.cache.GetEmbedding(ctx, key)
	if err != nil {
		c.log.Warn("embedding cache read failed", "err", err)
	} else if len(cached) == c.next.Dimension() {
		c.log.Debug("embedding cache hit")
		return Vector(cached), nil
	}

	vec, err := c.next.EmbedSingle(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetEmbedding(ctx, key, vec, c.ttl); err != nil {
		// Log cache write failure but don't fail the request
		c.log.Warn("failed to cache embedding", "err", err)
	}
	return vec, nil
}
