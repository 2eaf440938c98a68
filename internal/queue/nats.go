package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"code-index/internal/retry"
)

// NewNATS constructs a thin NATS-based queue. Tasks are published on "tasks.<type>";
// workers share a queue group per type, subscribers each get every message.
func NewNATS(log *slog.Logger, nc *nats.Conn) Queue {
	return &natsQueue{log: log, nc: nc}
}

type natsQueue struct {
	log *slog.Logger
	nc  *nats.Conn
}

func (q *natsQueue) Enqueue(_ context.Context, task Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Type == "" {
		return errors.New("task type required")
	}
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.nc.Publish("tasks."+string(task.Type), body)
}

func (q *natsQueue) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	subject := "tasks." + string(taskType)
	group := "workers-" + string(taskType)
	sub, err := q.nc.QueueSubscribe(subject, group, func(msg *nats.Msg) {
		q.handleMessage(ctx, msg, handler)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

func (q *natsQueue) Subscribe(ctx context.Context, taskType TaskType, handler Handler) error {
	sub, err := q.nc.Subscribe("tasks."+string(taskType), func(msg *nats.Msg) {
		task, err := decodeTask(msg.Data)
		if err != nil {
			q.log.Error("failed to decode broadcast", "err", err)
			return
		}
		if err := handler(ctx, task); err != nil {
			q.log.Error("broadcast handler failed", "id", task.ID, "type", task.Type, "err", err)
		}
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

func decodeTask(data []byte) (Task, error) {
	var task Task
	err := json.Unmarshal(data, &task)
	return task, err
}

func (q *natsQueue) handleMessage(ctx context.Context, msg *nats.Msg, handler Handler) {
	task, err := decodeTask(msg.Data)
	if err != nil {
		q.log.Error("failed to decode task", "err", err)
		return
	}

	if task.NotBefore.After(time.Now()) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(task.NotBefore)):
		}
	}

	if err := handler(ctx, task); err != nil {
		q.log.Warn("task failed", "id", task.ID, "type", task.Type, "attempt", task.Attempts+1, "err", err)
		q.retryTask(ctx, task, err)
	}
}

func (q *natsQueue) retryTask(ctx context.Context, task Task, handlerErr error) {
	task.Attempts++
	if task.MaxAttempts == 0 {
		task.MaxAttempts = 5
	}

	if task.Attempts < task.MaxAttempts {
		task.NotBefore = time.Now().Add(retry.ExponentialBackoff(task.Attempts, time.Second))
		if err := q.Enqueue(ctx, task); err != nil {
			q.log.Error("failed to re-enqueue task after failure", "id", task.ID, "type", task.Type, "original_err", handlerErr, "enqueue_err", err)
		}
	} else {
		q.log.Error("task permanently failed", "id", task.ID, "type", task.Type, "original_err", handlerErr)
	}
}
