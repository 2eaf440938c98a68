package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"code-index/internal/retry"
)

// TaskType enumerates supported task categories.
type TaskType string

const (
	// TaskTypeBuild re-chunks every stored source and rebuilds the index.
	TaskTypeBuild TaskType = "build"
	// TaskTypeReindex rebuilds the index from the persisted embedding matrix.
	TaskTypeReindex TaskType = "reindex"
	// TaskTypeReload tells every search replica to load the persisted index.
	TaskTypeReload TaskType = "reload"
)

// Task represents a unit of work shared across services.
type Task struct {
	ID          uuid.UUID
	Type        TaskType
	Payload     []byte
	Attempts    int
	MaxAttempts int
	NotBefore   time.Time
}

type Handler func(context.Context, Task) error

// Queue exposes a minimal contract to enqueue and consume tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// Worker consumes tasks of one type; each task goes to exactly one worker.
	Worker(ctx context.Context, taskType TaskType, handler Handler) error
	// Subscribe delivers every task of one type to every subscriber. Failed
	// broadcasts are logged, not retried.
	Subscribe(ctx context.Context, taskType TaskType, handler Handler) error
}

// EnqueueWithRetry attempts to enqueue with retries and exponential backoff.
func EnqueueWithRetry(ctx context.Context, q Queue, task Task, attempts int, base time.Duration) error {
	return retry.Do(ctx, attempts, base, nil, func(ctx context.Context) error {
		return q.Enqueue(ctx, task)
	})
}
