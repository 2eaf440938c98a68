package store

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of Store using testify/mock.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveSource(ctx context.Context, name, content string) (Source, error) {
	args := m.Called(ctx, name, content)
	return args.Get(0).(Source), args.Error(1)
}

func (m *MockStore) ListSources(ctx context.Context) ([]Source, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Source), args.Error(1)
}

func (m *MockStore) DeleteSource(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockStore) ReplaceCorpus(ctx context.Context, docs []Document) error {
	args := m.Called(ctx, docs)
	return args.Error(0)
}

func (m *MockStore) GetDocuments(ctx context.Context, ordinals []int) ([]Document, error) {
	args := m.Called(ctx, ordinals)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Document), args.Error(1)
}
