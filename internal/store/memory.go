package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps sources and the catalog in process memory. It is meant for
// single-process deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	sources map[string]Source
	docs    []Document
}

func NewMemory() *MemoryStore {
	return &MemoryStore{sources: make(map[string]Source)}
}

func (s *MemoryStore) SaveSource(_ context.Context, name, content string) (Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[name]
	if !ok {
		src = Source{ID: uuid.New(), Name: name}
	}
	src.Content = content
	src.UpdatedAt = time.Now()
	s.sources[name] = src
	return src, nil
}

func (s *MemoryStore) ListSources(_ context.Context) ([]Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) DeleteSource(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[name]; !ok {
		return ErrSourceNotFound
	}
	delete(s.sources, name)
	return nil
}

func (s *MemoryStore) ReplaceCorpus(_ context.Context, docs []Document) error {
	if err := checkOrdinals(docs); err != nil {
		return err
	}
	cp := make([]Document, len(docs))
	copy(cp, docs)
	for i := range cp {
		if cp[i].ID == uuid.Nil {
			cp[i].ID = uuid.New()
		}
	}
	s.mu.Lock()
	s.docs = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetDocuments(_ context.Context, ordinals []int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0, len(ordinals))
	for _, o := range ordinals {
		if o >= 0 && o < len(s.docs) {
			out = append(out, s.docs[o])
		}
	}
	return out, nil
}

func checkOrdinals(docs []Document) error {
	for i, d := range docs {
		if d.Ordinal != i {
			return fmt.Errorf("document %d has ordinal %d; ordinals must be dense and ordered", i, d.Ordinal)
		}
	}
	return nil
}
