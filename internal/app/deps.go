package app

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"

	"code-index/internal/cache"
	"code-index/internal/config"
	"code-index/internal/embeddings"
	"code-index/internal/indexer"
	"code-index/internal/logger"
	"code-index/internal/queue"
	"code-index/internal/store"
)

// Deps bundles common runtime dependencies for services.
type Deps struct {
	Config   config.Config
	Log      *slog.Logger
	Store    store.Store
	Queue    queue.Queue
	Cache    cache.Cache
	Embedder embeddings.Embedder
	Index    *indexer.Builder

	closers []func() error
}

// Close releases connections opened by Build.
func (d Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

// Build loads env, config, and shared components.
func Build() (Deps, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Deps{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	deps := Deps{Config: cfg, Log: log}

	indexCfg, err := cfg.Index()
	if err != nil {
		return Deps{}, fmt.Errorf("invalid index configuration: %w", err)
	}
	// fail releases whatever was opened before a later step errored.
	fail := func(err error) (Deps, error) {
		if cerr := deps.Close(); cerr != nil {
			log.Warn("failed to release dependencies", "err", cerr)
		}
		return Deps{}, err
	}

	st, err := buildStore(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize store: %w", err)
	}
	if c, ok := st.(interface{ Close() error }); ok {
		deps.closers = append(deps.closers, c.Close)
	}
	q, closeQueue, err := connectQueue(cfg, log)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize queue: %w", err))
	}
	deps.closers = append(deps.closers, closeQueue)
	c, err := buildCache(cfg, log)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize cache: %w", err))
	}
	deps.closers = append(deps.closers, c.Close)
	embedder, err := buildEmbedder(cfg, c, log)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize embedder: %w", err))
	}
	builder, err := indexer.New(indexCfg, embedder, log)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize index: %w", err))
	}

	deps.Store = st
	deps.Queue = q
	deps.Cache = c
	deps.Embedder = embedder
	deps.Index = builder
	return deps, nil
}

func buildStore(cfg config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreProvider {
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when STORE_PROVIDER=postgres")
		}
		db, err := store.NewPostgres(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		log.Info("using Postgres store")
		return db, nil
	case "memory":
		log.Warn("using in-memory store; the document catalog is not shared between services")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("invalid STORE_PROVIDER: %s (valid options: postgres, memory)", cfg.StoreProvider)
	}
}

// connectQueue is replaced in tests that run Build without a broker.
var connectQueue = buildQueue

func buildQueue(cfg config.Config, log *slog.Logger) (queue.Queue, func() error, error) {
	switch cfg.QueueProvider {
	case "nats":
		if cfg.QueueURL == "" {
			return nil, nil, fmt.Errorf("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
		nc, err := nats.Connect(cfg.QueueURL, nats.Name("code-index"), nats.MaxReconnects(-1))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("using NATS queue")
		return queue.NewNATS(log, nc), func() error { nc.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid option: nats)", cfg.QueueProvider)
	}
}

func buildCache(cfg config.Config, log *slog.Logger) (cache.Cache, error) {
	switch cfg.CacheProvider {
	case "redis":
		c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Info("using Redis embedding cache", "addr", cfg.RedisAddr)
		return c, nil
	case "none", "":
		return cache.NewNoOpCache(), nil
	default:
		return nil, fmt.Errorf("invalid CACHE_PROVIDER: %s (valid options: redis, none)", cfg.CacheProvider)
	}
}

func buildEmbedder(cfg config.Config, c cache.Cache, log *slog.Logger) (embeddings.Embedder, error) {
	var base embeddings.Embedder
	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when EMBEDDING_PROVIDER=openai")
		}
		e, err := embeddings.NewOpenAIEmbedder(cfg.OpenAIKey, openai.EmbeddingModel(cfg.EmbeddingModel),
			cfg.EmbeddingDimensions, embeddings.WithRateLimit(cfg.EmbedRateLimit))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI embedder: %w", err)
		}
		log.Info("using OpenAI embedder", "model", cfg.EmbeddingModel, "dimensions", cfg.EmbeddingDimensions)
		base = e
	case "hash":
		e, err := embeddings.NewHashEmbedder(cfg.EmbeddingDimensions)
		if err != nil {
			return nil, err
		}
		log.Info("using hashing embedder", "dimensions", cfg.EmbeddingDimensions)
		base = e
	default:
		return nil, fmt.Errorf("invalid EMBEDDING_PROVIDER: %s (valid options: openai, hash)", cfg.EmbeddingProvider)
	}
	retrying := embeddings.NewRetryEmbedder(base, cfg.EmbedMaxAttempts, 500*time.Millisecond)
	return embeddings.NewCachedEmbedder(retrying, c, cfg.EmbeddingProvider+":"+cfg.EmbeddingModel, cfg.CacheTTL, log), nil
}
