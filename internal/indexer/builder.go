// Package indexer builds, persists, reloads and queries the code-search index.
//
// A Builder owns the embedder and the currently served vecindex.Index. Each build,
// load or reindex produces a fresh index and swaps it in only once it is complete,
// so searches always see either the old or the new corpus.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"code-index/internal/embeddings"
	"code-index/internal/npy"
	"code-index/internal/vecindex"
)

// ErrEmbedding is returned when the embedder produces output that does not match its input.
var ErrEmbedding = errors.New("embedder returned malformed output")

// Config holds the index settings for a Builder.
type Config struct {
	Metric         vecindex.Metric
	TopK           int
	IndexPath      string
	EmbeddingsPath string
	Compression    vecindex.Compression
	BatchSize      int
	Concurrency    int
}

// Stats describes the served index.
type Stats struct {
	Populated bool   `json:"populated"`
	Size      int    `json:"size"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
}

// Builder embeds documents into an index and answers text queries against it.
type Builder struct {
	cfg      Config
	embedder embeddings.Embedder
	log      *slog.Logger
	dim      int

	mu    sync.RWMutex
	index *vecindex.Index
}

// New creates a Builder. The index dimension is taken from the embedder.
func New(cfg Config, embedder embeddings.Embedder, log *slog.Logger) (*Builder, error) {
	dim := embedder.Dimension()
	if dim <= 0 {
		return nil, fmt.Errorf("embedder reports invalid dimension %d", dim)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = vecindex.DefaultK
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	// validate metric and compression up front
	if _, err := vecindex.New(dim, cfg.Metric, vecindex.WithCompression(cfg.Compression)); err != nil {
		return nil, err
	}
	return &Builder{cfg: cfg, embedder: embedder, log: log, dim: dim}, nil
}

// Dimension returns the embedding width served by this builder.
func (b *Builder) Dimension() int { return b.dim }

// BuildFromDocuments embeds documents in order and replaces the served index with them.
// Document i gets ordinal i. When persist is set, the index and the raw embedding
// matrix are written to the configured paths. The raw (unnormalized) matrix is returned.
func (b *Builder) BuildFromDocuments(ctx context.Context, documents []string, persist bool) ([]embeddings.Vector, error) {
	vectors, err := b.embedAll(ctx, documents)
	if err != nil {
		return nil, err
	}
	rows := toRows(vectors)

	idx, err := b.newIndex()
	if err != nil {
		return nil, err
	}
	if err := idx.Create(rows); err != nil {
		return nil, err
	}
	b.swap(idx)
	b.log.Info("index built", "documents", len(documents), "dimension", b.dim, "metric", b.cfg.Metric)

	if persist {
		if err := b.persist(idx, rows); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

func (b *Builder) embedAll(ctx context.Context, documents []string) ([]embeddings.Vector, error) {
	out := make([]embeddings.Vector, len(documents))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)

	for start := 0; start < len(documents); start += b.cfg.BatchSize {
		end := min(start+b.cfg.BatchSize, len(documents))
		g.Go(func() error {
			vecs, err := b.embedder.EmbedBatch(ctx, documents[start:end])
			if err != nil {
				return fmt.Errorf("embed documents %d..%d: %w", start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("%w: %d vectors for %d documents", ErrEmbedding, len(vecs), end-start)
			}
			for n, v := range vecs {
				if len(v) != b.dim {
					return fmt.Errorf("%w: document %d has %d components, want %d", vecindex.ErrDimensionMismatch, start+n, len(v), b.dim)
				}
				out[start+n] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Builder) persist(idx *vecindex.Index, rows [][]float32) error {
	if err := idx.Save(b.cfg.IndexPath); err != nil {
		return err
	}
	if b.cfg.EmbeddingsPath != "" {
		if err := npy.WriteFile(b.cfg.EmbeddingsPath, rows, b.dim); err != nil {
			return fmt.Errorf("%w: write embeddings %s: %w", vecindex.ErrIO, b.cfg.EmbeddingsPath, err)
		}
	}
	b.log.Info("index saved", "path", b.cfg.IndexPath, "embeddings", b.cfg.EmbeddingsPath, "size", idx.Size())
	return nil
}

// LoadIndex replaces the served index with the one stored at the configured path.
// The stored metric is kept even when it differs from the configured one.
// On failure the previously served index stays in place.
func (b *Builder) LoadIndex() error {
	idx, err := vecindex.Open(b.cfg.IndexPath, vecindex.WithDefaultK(b.cfg.TopK))
	if err != nil {
		return err
	}
	if idx.Dimension() != b.dim {
		return fmt.Errorf("%w: index %s has dimension %d, embedder produces %d",
			vecindex.ErrDimensionMismatch, b.cfg.IndexPath, idx.Dimension(), b.dim)
	}
	if idx.Metric() != b.cfg.Metric {
		b.log.Warn("loaded index metric differs from configuration; using the stored metric",
			"stored", idx.Metric(), "configured", b.cfg.Metric)
	}
	b.swap(idx)
	b.log.Info("index loaded", "path", b.cfg.IndexPath, "size", idx.Size(), "metric", idx.Metric())
	return nil
}

// Reindex rebuilds the index from the persisted embedding matrix with the configured
// metric and compression, then saves it. The embedder is not called.
func (b *Builder) Reindex(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows, dim, err := npy.ReadFile(b.cfg.EmbeddingsPath)
	if err != nil {
		return fmt.Errorf("read embeddings %s: %w", b.cfg.EmbeddingsPath, err)
	}
	if dim != b.dim {
		return fmt.Errorf("%w: embeddings %s have dimension %d, embedder produces %d",
			vecindex.ErrDimensionMismatch, b.cfg.EmbeddingsPath, dim, b.dim)
	}
	idx, err := b.newIndex()
	if err != nil {
		return err
	}
	if err := idx.Create(rows); err != nil {
		return err
	}
	if err := idx.Save(b.cfg.IndexPath); err != nil {
		return err
	}
	b.swap(idx)
	b.log.Info("index rebuilt from embeddings", "path", b.cfg.IndexPath, "size", idx.Size())
	return nil
}

// Search embeds text and returns the k nearest ordinals with their squared distances.
// k <= 0 uses the configured TopK.
func (b *Builder) Search(ctx context.Context, text string, k int) ([]float32, []int, error) {
	idx := b.current()
	if idx == nil {
		return nil, nil, vecindex.ErrUninitialized
	}
	vec, err := b.embedder.EmbedSingle(ctx, text)
	if err != nil {
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}
	if k <= 0 {
		k = b.cfg.TopK
	}
	return idx.Search(vec, k)
}

// Stats reports the state of the served index.
func (b *Builder) Stats() Stats {
	idx := b.current()
	if idx == nil {
		return Stats{Dimension: b.dim, Metric: b.cfg.Metric.String()}
	}
	return Stats{
		Populated: idx.Populated(),
		Size:      idx.Size(),
		Dimension: idx.Dimension(),
		Metric:    idx.Metric().String(),
	}
}

func (b *Builder) newIndex() (*vecindex.Index, error) {
	return vecindex.New(b.dim, b.cfg.Metric,
		vecindex.WithDefaultK(b.cfg.TopK),
		vecindex.WithCompression(b.cfg.Compression))
}

// swap publishes idx. A published index is never mutated again.
func (b *Builder) swap(idx *vecindex.Index) {
	b.mu.Lock()
	b.index = idx
	b.mu.Unlock()
}

func (b *Builder) current() *vecindex.Index {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index
}

func toRows(vectors []embeddings.Vector) [][]float32 {
	rows := make([][]float32, len(vectors))
	for i, v := range vectors {
		rows[i] = v
	}
	return rows
}
