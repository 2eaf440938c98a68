package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"
)

// OpenAIEmbedder calls OpenAI's embeddings API.
type OpenAIEmbedder struct {
	model   openai.EmbeddingModel
	dim     int
	client  *openai.Client
	limiter *rate.Limiter
}

const defaultEmbeddingTimeout = 30 * time.Second

// OpenAIOption customizes an OpenAIEmbedder.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	requestsPerSecond float64
	clientOpts        []option.RequestOption
}

// WithRateLimit caps outgoing embedding requests per second. Zero disables the limit.
func WithRateLimit(requestsPerSecond float64) OpenAIOption {
	return func(c *openAIConfig) { c.requestsPerSecond = requestsPerSecond }
}

// WithRequestOptions passes options through to the OpenAI client (base URL, retries).
func WithRequestOptions(opts ...option.RequestOption) OpenAIOption {
	return func(c *openAIConfig) { c.clientOpts = append(c.clientOpts, opts...) }
}

// NewOpenAIEmbedder creates a new OpenAI embedder producing dim-wide vectors.
func NewOpenAIEmbedder(apiKey string, model openai.EmbeddingModel, dim int, opts ...OpenAIOption) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	if model == "" {
		model = openai.EmbeddingModelTextEmbedding3Small
	}
	var cfg openAIConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cli := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, cfg.clientOpts...)...)
	e := &OpenAIEmbedder{
		model:  model,
		dim:    dim,
		client: &cli,
	}
	if cfg.requestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.requestsPerSecond), 1)
	}
	return e, nil
}

// Dimension returns the width requested from the API.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dim
}

// EmbedBatch embeds all texts in one request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return []Vector{}, nil
	}
	return e.embed(ctx, openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts}, len(texts))
}

// EmbedSingle embeds one text.
func (e *OpenAIEmbedder) EmbedSingle(ctx context.Context, text string) (Vector, error) {
	vecs, err := e.embed(ctx, openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)}, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) embed(ctx context.Context, input openai.EmbeddingNewParamsInputUnion, n int) ([]Vector, error) {
	if e == nil || e.client == nil {
		return nil, fmt.Errorf("nil openai client")
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	reqCtx, cancel := context.WithTimeout(ctx, defaultEmbeddingTimeout)
	defer cancel()

	resp, err := e.client.Embeddings.New(reqCtx, openai.EmbeddingNewParams{
		Input:      input,
		Model:      e.model,
		Dimensions: openai.Int(int64(e.dim)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != n {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), n)
	}
	out := make([]Vector, n)
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= n || out[d.Index] != nil {
			return nil, fmt.Errorf("openai embeddings: unexpected index %d", d.Index)
		}
		if len(d.Embedding) != e.dim {
			return nil, fmt.Errorf("openai embeddings: got %d dimensions, want %d", len(d.Embedding), e.dim)
		}
		// Convert []float64 to []float32
		vec := make(Vector, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}
