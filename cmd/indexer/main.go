package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"code-index/internal/app"
	"code-index/internal/chunker"
	"code-index/internal/httputil"
	"code-index/internal/queue"
	"code-index/internal/store"
)

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()
	deps.Log.Info("indexer worker starting", "index", deps.Config.IndexPath, "dimension", deps.Index.Dimension())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := newWorker(deps)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeBuild, func(ctx context.Context, _ queue.Task) error {
			return w.build(ctx)
		})
	})
	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeReindex, func(ctx context.Context, _ queue.Task) error {
			return w.reindex(ctx)
		})
	})

	// Run health check server
	g.Go(func() error {
		return httputil.ServeHealth(ctx, deps.Log, deps.Config.HealthPort, "indexer")
	})

	// Wait for either to fail
	if err := g.Wait(); err != nil {
		deps.Log.Error("indexer service stopped", "err", err)
	}
}

// worker runs index jobs one at a time; the index files have a single writer.
type worker struct {
	deps     app.Deps
	chunking chunker.Options
	mu       sync.Mutex
}

func newWorker(deps app.Deps) *worker {
	return &worker{
		deps: deps,
		chunking: chunker.Options{
			MaxLines: deps.Config.ChunkMaxLines,
			Overlap:  deps.Config.ChunkOverlap,
		},
	}
}

// build re-chunks every stored source, embeds and persists the index, replaces
// the catalog and tells the search replicas to reload.
func (w *worker) build(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	start := time.Now()

	sources, err := w.deps.Store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	docs := chunkSources(sources, w.chunking)
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}

	if _, err := w.deps.Index.BuildFromDocuments(ctx, texts, true); err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	if err := w.deps.Store.ReplaceCorpus(ctx, docs); err != nil {
		return fmt.Errorf("replace catalog: %w", err)
	}
	w.deps.Log.Info("build finished", "sources", len(sources), "chunks", len(docs), "duration_ms", time.Since(start).Milliseconds())
	return w.publishReload(ctx)
}

// reindex rebuilds the index file from the stored embeddings; the catalog is unchanged.
func (w *worker) reindex(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.deps.Index.Reindex(ctx); err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	return w.publishReload(ctx)
}

func (w *worker) publishReload(ctx context.Context) error {
	task := queue.Task{Type: queue.TaskTypeReload, NotBefore: time.Now()}
	return queue.EnqueueWithRetry(ctx, w.deps.Queue, task, 3, 200*time.Millisecond)
}

// chunkSources flattens sources into catalog documents; ordinals follow source
// order then chunk order.
func chunkSources(sources []store.Source, opts chunker.Options) []store.Document {
	var docs []store.Document
	for _, src := range sources {
		for _, c := range chunker.ChunkLines(src.Content, opts) {
			docs = append(docs, store.Document{
				Ordinal:   len(docs),
				Source:    src.Name,
				Chunk:     c.Index,
				StartLine: c.StartLine,
				EndLine:   c.EndLine,
				Text:      c.Text,
			})
		}
	}
	return docs
}
