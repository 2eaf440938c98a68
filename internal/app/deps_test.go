package app

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code-index/internal/config"
	"code-index/internal/queue"
)

func stubQueue(t *testing.T) *int {
	t.Helper()
	closed := new(int)
	orig := connectQueue
	connectQueue = func(config.Config, *slog.Logger) (queue.Queue, func() error, error) {
		return new(queue.MockQueue), func() error { *closed++; return nil }, nil
	}
	t.Cleanup(func() { connectQueue = orig })
	return closed
}

func TestBuildReleasesConnectionsOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "cache fails after queue connects",
			env:     map[string]string{"CACHE_PROVIDER": "bogus", "EMBEDDING_PROVIDER": "hash"},
			wantErr: "failed to initialize cache",
		},
		{
			name:    "embedder fails after cache connects",
			env:     map[string]string{"CACHE_PROVIDER": "none", "EMBEDDING_PROVIDER": "openai", "OPENAI_API_KEY": ""},
			wantErr: "failed to initialize embedder",
		},
		{
			name:    "embedder rejects zero dimension",
			env:     map[string]string{"CACHE_PROVIDER": "none", "EMBEDDING_PROVIDER": "hash", "EMBEDDING_DIMENSIONS": "0"},
			wantErr: "failed to initialize embedder",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORE_PROVIDER", "memory")
			t.Setenv("LOG_LEVEL", "error")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			closed := stubQueue(t)

			deps, err := Build()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, 1, *closed, "queue connection must be released")
			assert.Nil(t, deps.Index)
		})
	}
}

func TestBuildKeepsConnectionsUntilClose(t *testing.T) {
	t.Setenv("STORE_PROVIDER", "memory")
	t.Setenv("CACHE_PROVIDER", "none")
	t.Setenv("EMBEDDING_PROVIDER", "hash")
	t.Setenv("EMBEDDING_DIMENSIONS", "16")
	t.Setenv("LOG_LEVEL", "error")
	closed := stubQueue(t)

	deps, err := Build()
	require.NoError(t, err)
	assert.Equal(t, 16, deps.Index.Dimension())
	assert.Zero(t, *closed)

	require.NoError(t, deps.Close())
	assert.Equal(t, 1, *closed)
}

func TestDepsCloseOrderAndErrors(t *testing.T) {
	var order []string
	closer := func(name string, err error) func() error {
		return func() error { order = append(order, name); return err }
	}
	errStore := errors.New("store close failed")
	errCache := errors.New("cache close failed")
	deps := Deps{closers: []func() error{
		closer("store", errStore),
		closer("queue", nil),
		closer("cache", errCache),
	}}

	err := deps.Close()
	assert.Equal(t, []string{"cache", "queue", "store"}, order)
	assert.ErrorIs(t, err, errStore)
	assert.ErrorIs(t, err, errCache)
}
