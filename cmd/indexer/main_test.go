package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"

	"code-index/internal/app"
	"code-index/internal/chunker"
	"code-index/internal/config"
	"code-index/internal/embeddings"
	"code-index/internal/indexer"
	"code-index/internal/queue"
	"code-index/internal/store"
	"code-index/internal/vecindex"
)

func newTestDeps(t *testing.T, st store.Store, q queue.Queue) app.Deps {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := embeddings.NewHashEmbedder(128)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	b, err := indexer.New(indexer.Config{
		Metric:         vecindex.Cosine,
		IndexPath:      filepath.Join(dir, "code.idx"),
		EmbeddingsPath: filepath.Join(dir, "embeddings.npy"),
	}, e, log)
	if err != nil {
		t.Fatal(err)
	}
	return app.Deps{
		Store:    st,
		Queue:    q,
		Embedder: e,
		Index:    b,
		Config:   config.Config{ChunkMaxLines: 2, ChunkOverlap: 0},
		Log:      log,
	}
}

var isReload = mock.MatchedBy(func(task queue.Task) bool { return task.Type == queue.TaskTypeReload })

func TestBuild(t *testing.T) {
	sources := []store.Source{
		{Name: "a.go", Content: "package a\n\nfunc A() {}\n"},
		{Name: "b.go", Content: "package b\n"},
	}

	tests := []struct {
		name      string
		setup     func(*store.MockStore, *queue.MockQueue)
		wantErr   bool
		wantSize  int
		wantBuilt bool
	}{
		{
			name: "chunks sources and publishes reload",
			setup: func(s *store.MockStore, q *queue.MockQueue) {
				s.On("ListSources", mock.Anything).Return(sources, nil).Once()
				s.On("ReplaceCorpus", mock.Anything, mock.MatchedBy(func(docs []store.Document) bool {
					return len(docs) == 3 &&
						docs[0].Source == "a.go" && docs[0].StartLine == 1 &&
						docs[1].Source == "a.go" && docs[1].Text == "func A() {}" &&
						docs[2].Source == "b.go" && docs[2].Ordinal == 2
				})).Return(nil).Once()
				q.On("Enqueue", mock.Anything, isReload).Return(nil).Once()
			},
			wantSize:  3,
			wantBuilt: true,
		},
		{
			name: "no sources builds an empty index",
			setup: func(s *store.MockStore, q *queue.MockQueue) {
				s.On("ListSources", mock.Anything).Return([]store.Source{}, nil).Once()
				s.On("ReplaceCorpus", mock.Anything, mock.MatchedBy(func(docs []store.Document) bool {
					return len(docs) == 0
				})).Return(nil).Once()
				q.On("Enqueue", mock.Anything, isReload).Return(nil).Once()
			},
			wantSize:  0,
			wantBuilt: true,
		},
		{
			name: "store failure stops before indexing",
			setup: func(s *store.MockStore, q *queue.MockQueue) {
				s.On("ListSources", mock.Anything).Return(nil, errors.New("db down")).Once()
			},
			wantErr: true,
		},
		{
			name: "catalog failure skips reload",
			setup: func(s *store.MockStore, q *queue.MockQueue) {
				s.On("ListSources", mock.Anything).Return(sources, nil).Once()
				s.On("ReplaceCorpus", mock.Anything, mock.Anything).Return(errors.New("tx aborted")).Once()
			},
			wantErr:   true,
			wantSize:  3,
			wantBuilt: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := new(store.MockStore)
			mockQueue := new(queue.MockQueue)
			tt.setup(mockStore, mockQueue)
			deps := newTestDeps(t, mockStore, mockQueue)

			err := newWorker(deps).build(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("build() error = %v, wantErr %v", err, tt.wantErr)
			}
			stats := deps.Index.Stats()
			if stats.Populated != tt.wantBuilt || stats.Size != tt.wantSize {
				t.Errorf("unexpected index stats %+v", stats)
			}
			mockStore.AssertExpectations(t)
			mockQueue.AssertExpectations(t)
		})
	}
}

func TestReindex(t *testing.T) {
	mockStore := new(store.MockStore)
	mockQueue := new(queue.MockQueue)
	mockStore.On("ListSources", mock.Anything).Return([]store.Source{{Name: "x.go", Content: "package x"}}, nil).Once()
	mockStore.On("ReplaceCorpus", mock.Anything, mock.Anything).Return(nil).Once()
	mockQueue.On("Enqueue", mock.Anything, isReload).Return(nil).Twice()
	deps := newTestDeps(t, mockStore, mockQueue)
	w := newWorker(deps)

	if err := w.build(context.Background()); err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := w.reindex(context.Background()); err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if got := deps.Index.Stats().Size; got != 1 {
		t.Errorf("expected 1 row after reindex, got %d", got)
	}
	mockStore.AssertExpectations(t)
	mockQueue.AssertExpectations(t)
}

func TestReindexWithoutEmbeddings(t *testing.T) {
	mockQueue := new(queue.MockQueue)
	deps := newTestDeps(t, new(store.MockStore), mockQueue)

	if err := newWorker(deps).reindex(context.Background()); err == nil {
		t.Fatal("expected error when no embeddings were persisted")
	}
	mockQueue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestChunkSourcesOrdinals(t *testing.T) {
	sources := []store.Source{
		{Name: "long.go", Content: strings.Repeat("x\n", 5)},
		{Name: "empty.go", Content: ""},
		{Name: "short.go", Content: "y"},
	}
	docs := chunkSources(sources, chunker.Options{MaxLines: 2})
	if len(docs) != 4 {
		t.Fatalf("expected 4 documents, got %d", len(docs))
	}
	for i, d := range docs {
		if d.Ordinal != i {
			t.Errorf("document %d has ordinal %d", i, d.Ordinal)
		}
	}
	if docs[3].Source != "short.go" || docs[3].Chunk != 0 {
		t.Errorf("unexpected last document %+v", docs[3])
	}
}
