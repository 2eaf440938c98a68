package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"code-index/internal/app"
	"code-index/internal/extract"
	"code-index/internal/httputil"
	"code-index/internal/queue"
	"code-index/internal/store"
	"code-index/internal/vecindex"
)

type searchRequest struct {
	Query string `json:"query" validate:"required,min=1,max=2000"`
	TopK  int    `json:"top_k" validate:"omitempty,min=1,max=100"`
}

type searchResult struct {
	Ordinal   int     `json:"ordinal"`
	Distance  float32 `json:"distance"`
	Source    string  `json:"source,omitempty"`
	StartLine int     `json:"start_line,omitempty"`
	EndLine   int     `json:"end_line,omitempty"`
	Preview   string  `json:"preview,omitempty"` // Truncated text preview
}

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loadAtStartup(deps)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httputil.ListenAndServe(ctx, deps.Log, fmt.Sprintf(":%d", deps.Config.Port), newRouter(deps), "search service")
	})

	// Every replica reloads when the indexer publishes a new index
	g.Go(func() error {
		return deps.Queue.Subscribe(ctx, queue.TaskTypeReload, func(ctx context.Context, task queue.Task) error {
			return deps.Index.LoadIndex()
		})
	})

	if err := g.Wait(); err != nil {
		deps.Log.Error("search service stopped", "err", err)
	}
}

func loadAtStartup(deps app.Deps) {
	err := deps.Index.LoadIndex()
	switch {
	case err == nil:
		deps.Log.Info("index loaded", "path", deps.Config.IndexPath, "dimension", deps.Index.Dimension())
	case errors.Is(err, vecindex.ErrIndexNotFound):
		deps.Log.Info("no index on disk yet; searches fail until the first build", "path", deps.Config.IndexPath)
	default:
		deps.Log.Error("failed to load index at startup", "err", err)
	}
}

func newRouter(deps app.Deps) http.Handler {
	r := httputil.NewRouter(deps.Log)

	r.Post("/api/search", searchHandler(deps))
	r.Post("/api/documents", uploadHandler(deps))
	r.Delete("/api/documents/{name}", deleteHandler(deps))
	r.Post("/api/index/build", enqueueHandler(deps, queue.TaskTypeBuild))
	r.Post("/api/index/reindex", enqueueHandler(deps, queue.TaskTypeReindex))
	r.Post("/api/index/reload", reloadHandler(deps))
	r.Get("/api/index/stats", statsHandler(deps))
	r.Delete("/api/cache", flushCacheHandler(deps))
	r.Get("/healthz", httputil.HealthHandler(deps.Log))

	return r
}

func searchHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}

		ctx := r.Context()
		distances, ordinals, err := deps.Index.Search(ctx, req.Query, req.TopK)
		if err != nil {
			httputil.Fail(deps.Log, w, "search failed", err, indexStatus(err))
			return
		}

		docs, err := deps.Store.GetDocuments(ctx, ordinals)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to load documents", err, http.StatusInternalServerError)
			return
		}

		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"query":   req.Query,
			"results": buildResults(distances, ordinals, docs),
		})
	}
}

// buildResults pairs index hits with catalog entries. Hits missing from the
// catalog are still returned, without text.
func buildResults(distances []float32, ordinals []int, docs []store.Document) []searchResult {
	byOrdinal := make(map[int]store.Document, len(docs))
	for _, d := range docs {
		byOrdinal[d.Ordinal] = d
	}
	results := make([]searchResult, len(ordinals))
	for i, o := range ordinals {
		res := searchResult{Ordinal: o, Distance: distances[i]}
		if d, ok := byOrdinal[o]; ok {
			res.Source = d.Source
			res.StartLine = d.StartLine
			res.EndLine = d.EndLine
			res.Preview = truncate(d.Text, 300)
		}
		results[i] = res
	}
	return results
}

// multipartOverhead leaves room for part headers and boundaries around the file.
const multipartOverhead = 64 << 10

func uploadHandler(deps app.Deps) http.HandlerFunc {
	maxFileSize := deps.Config.MaxUploadSize

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// Validate file size before parsing
		if r.ContentLength > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}
		// ContentLength may be unset on chunked requests.
		r.Body = http.MaxBytesReader(w, r.Body, maxFileSize+multipartOverhead)

		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), err, http.StatusBadRequest)
				return
			}
			httputil.Fail(deps.Log, w, "file is required", err, http.StatusBadRequest)
			return
		}
		defer file.Close()

		if header.Size > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}

		content, err := io.ReadAll(file)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to read file", err, http.StatusInternalServerError)
			return
		}
		text, err := extract.Text(header.Filename, header.Header.Get("Content-Type"), content)
		if err != nil {
			status := http.StatusUnprocessableEntity
			if errors.Is(err, extract.ErrUnsupported) {
				status = http.StatusBadRequest
			}
			httputil.Fail(deps.Log, w, "unsupported or unreadable file (PDF or text/source code allowed)", err, status)
			return
		}

		src, err := deps.Store.SaveSource(ctx, header.Filename, text)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to persist document", err, http.StatusInternalServerError)
			return
		}
		if err := enqueue(ctx, deps, queue.TaskTypeBuild); err != nil {
			httputil.Fail(deps.Log, w, "document saved but the index build could not be queued; please retry", err, http.StatusInternalServerError)
			return
		}

		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"source_id": src.ID.String(),
			"source":    src.Name,
			"status":    "queued",
		})
	}
}

func deleteHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := deps.Store.DeleteSource(r.Context(), name); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, store.ErrSourceNotFound) {
				status = http.StatusNotFound
			}
			httputil.Fail(deps.Log, w, "failed to delete document", err, status)
			return
		}
		if err := enqueue(r.Context(), deps, queue.TaskTypeBuild); err != nil {
			httputil.Fail(deps.Log, w, "document deleted but the index build could not be queued; please retry", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"source": name, "status": "queued"})
	}
}

func enqueueHandler(deps app.Deps, taskType queue.TaskType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := enqueue(r.Context(), deps, taskType); err != nil {
			httputil.Fail(deps.Log, w, "failed to queue task", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"task": taskType, "status": "queued"})
	}
}

func enqueue(ctx context.Context, deps app.Deps, taskType queue.TaskType) error {
	task := queue.Task{Type: taskType, NotBefore: time.Now()}
	return queue.EnqueueWithRetry(ctx, deps.Queue, task, 3, 200*time.Millisecond)
}

func reloadHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Index.LoadIndex(); err != nil {
			httputil.Fail(deps.Log, w, "failed to reload index", err, indexStatus(err))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, deps.Index.Stats())
	}
}

func statsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, deps.Index.Stats())
	}
}

func flushCacheHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Cache.Flush(r.Context()); err != nil {
			httputil.Fail(deps.Log, w, "failed to flush cache", err, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// indexStatus maps index errors to HTTP status codes.
func indexStatus(err error) int {
	switch {
	case errors.Is(err, vecindex.ErrUninitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, vecindex.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, vecindex.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// truncate limits text to maxLen bytes, cutting at a line or word boundary.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if idx := strings.LastIndexAny(s[:maxLen], "\n "); idx > 0 {
		return s[:idx] + "..."
	}
	return s[:maxLen] + "..."
}
