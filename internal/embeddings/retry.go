package embeddings

import (
	"context"
	"errors"
	"time"

	"code-index/internal/retry"
)

// RetryEmbedder retries failed embedding calls with exponential backoff.
// Context cancellation is never retried.
type RetryEmbedder struct {
	next     Embedder
	attempts int
	base     time.Duration
}

// NewRetryEmbedder wraps next; attempts <= 1 disables retrying.
func NewRetryEmbedder(next Embedder, attempts int, base time.Duration) *RetryEmbedder {
	return &RetryEmbedder{next: next, attempts: attempts, base: base}
}

func (r *RetryEmbedder) Dimension() int {
	return r.next.Dimension()
}

func (r *RetryEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	var out []Vector
	err := retry.Do(ctx, r.attempts, r.base, retryable, func(ctx context.Context) error {
		var err error
		out, err = r.next.EmbedBatch(ctx, texts)
		return err
	})
	return out, err
}

func (r *RetryEmbedder) EmbedSingle(ctx context.Context, text string) (Vector, error) {
	var out Vector
	err := retry.Do(ctx, r.attempts, r.base, retryable, func(ctx context.Context) error {
		var err error
		out, err = r.next.EmbedSingle(ctx, text)
		return err
	})
	return out, err
}

func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
