package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrSourceNotFound = errors.New("source not found")

// Source is an uploaded file whose extracted text feeds the next index build.
type Source struct {
	ID        uuid.UUID
	Name      string
	Content   string
	UpdatedAt time.Time
}

// Document is one indexed chunk. Ordinal is its row in the served index.
type Document struct {
	ID        uuid.UUID
	Ordinal   int
	Source    string
	Chunk     int
	StartLine int
	EndLine   int
	Text      string
}

// Store defines the persistence contract for sources and the document catalog
// that maps index ordinals back to text.
type Store interface {
	// SaveSource inserts or replaces the source with the given name.
	SaveSource(ctx context.Context, name, content string) (Source, error)
	ListSources(ctx context.Context) ([]Source, error)
	DeleteSource(ctx context.Context, name string) error
	// ReplaceCorpus swaps the whole catalog for docs, whose ordinals must be 0..len-1.
	ReplaceCorpus(ctx context.Context, docs []Document) error
	// GetDocuments returns the documents for ordinals in the requested order,
	// skipping ordinals that are not in the catalog.
	GetDocuments(ctx context.Context, ordinals []int) ([]Document, error)
}
