package config

import (
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"

	"code-index/internal/indexer"
	"code-index/internal/vecindex"
)

// Config holds runtime configuration shared by the search and indexer services.
type Config struct {
	// Server
	Port       int    `env:"PORT" envDefault:"8080"`
	HealthPort int    `env:"HEALTH_PORT" envDefault:"8081"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"json"` // "json" or "text"

	// Upload limits
	MaxUploadSize int64 `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"` // 10MB in bytes

	// Index
	SimilarityMetric string `env:"SIMILARITY_METRIC" envDefault:"cosine"` // "l2" or "cosine"
	TopK             int    `env:"TOP_K" envDefault:"5"`
	IndexPath        string `env:"INDEX_PATH" envDefault:"data/code.idx"`
	EmbeddingsPath   string `env:"EMBEDDINGS_PATH" envDefault:"data/embeddings.npy"`
	IndexCompression string `env:"INDEX_COMPRESSION" envDefault:"zstd"` // "none", "lz4" or "zstd"

	// Chunking
	ChunkMaxLines int `env:"CHUNK_MAX_LINES" envDefault:"40"`
	ChunkOverlap  int `env:"CHUNK_OVERLAP" envDefault:"10"`

	// Embeddings
	EmbeddingProvider   string  `env:"EMBEDDING_PROVIDER" envDefault:"openai"` // "openai" or "hash" (offline, deterministic)
	OpenAIKey           string  `env:"OPENAI_API_KEY"`
	EmbeddingModel      string  `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDimensions int     `env:"EMBEDDING_DIMENSIONS" envDefault:"1536"`
	EmbedBatchSize      int     `env:"EMBED_BATCH_SIZE" envDefault:"64"`
	EmbedConcurrency    int     `env:"EMBED_CONCURRENCY" envDefault:"4"`
	EmbedMaxAttempts    int     `env:"EMBED_MAX_ATTEMPTS" envDefault:"3"`
	EmbedRateLimit      float64 `env:"EMBED_RATE_LIMIT" envDefault:"0"` // requests per second, 0 = unlimited

	// Store
	StoreProvider string `env:"STORE_PROVIDER" envDefault:"postgres"` // "postgres" or "memory"
	DBURL         string `env:"DB_URL"`

	// Queue
	QueueProvider string `env:"QUEUE_PROVIDER" envDefault:"nats"` // "nats" (required for inter-service communication)
	QueueURL      string `env:"QUEUE_URL"`

	// Cache
	CacheProvider string        `env:"CACHE_PROVIDER" envDefault:"redis"` // "redis" or "none"
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"24h"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}

// Index converts the index settings into a builder configuration.
func (c Config) Index() (indexer.Config, error) {
	metric, err := vecindex.ParseMetric(c.SimilarityMetric)
	if err != nil {
		return indexer.Config{}, err
	}
	compression, err := vecindex.ParseCompression(c.IndexCompression)
	if err != nil {
		return indexer.Config{}, err
	}
	return indexer.Config{
		Metric:         metric,
		TopK:           c.TopK,
		IndexPath:      c.IndexPath,
		EmbeddingsPath: c.EmbeddingsPath,
		Compression:    compression,
		BatchSize:      c.EmbedBatchSize,
		Concurrency:    c.EmbedConcurrency,
	}, nil
}
