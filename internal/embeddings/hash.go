package embeddings

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// HashEmbedder maps text to term-frequency vectors by hashing identifier-like
// tokens into Dimension buckets. It needs no network and is deterministic, which
// makes it suitable for local indexing and tests. Similar texts share buckets;
// it carries no semantic knowledge beyond token overlap.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hashing embedder with dim buckets.
func NewHashEmbedder(dim int) (*HashEmbedder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	return &HashEmbedder{dim: dim}, nil
}

func (e *HashEmbedder) Dimension() int {
	return e.dim
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *HashEmbedder) EmbedSingle(ctx context.Context, text string) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embed(text), nil
}

func (e *HashEmbedder) embed(text string) Vector {
	vec := make(Vector, e.dim)
	for _, tok := range Tokenize(text) {
		vec[xxhash.Sum64String(tok)%uint64(e.dim)]++
	}
	return vec
}

// Tokenize lowercases text and splits it on anything that is not a letter or digit,
// also breaking camelCase identifiers apart.
func Tokenize(text string) []string {
	var tokens []string
	var b strings.Builder
	var prev rune
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && unicode.IsLower(prev) {
				flush()
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			flush()
		}
		prev = r
	}
	flush()
	return tokens
}
