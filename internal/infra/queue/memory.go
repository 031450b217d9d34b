package queue

import (
	"context"

	"horo-bot/internal/domain"
)

// MemoryQueue: очередь внутри процесса для запуска без брокера.
type MemoryQueue struct {
	jobs chan domain.BroadcastJob
}

// NewMemoryQueue создаёт очередь с указанной ёмкостью.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryQueue{jobs: make(chan domain.BroadcastJob, capacity)}
}

// Enqueue кладёт задачу в очередь, ожидая свободного места.
func (q *MemoryQueue) Enqueue(ctx context.Context, job domain.BroadcastJob) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive возвращает следующую задачу.
func (q *MemoryQueue) Receive(ctx context.Context) (domain.BroadcastJob, domain.AckFunc, error) {
	select {
	case <-ctx.Done():
		return domain.BroadcastJob{}, nil, ctx.Err()
	case job := <-q.jobs:
		ack := func(success bool) error {
			if success {
				return nil
			}
			select {
			case q.jobs <- job:
				return nil
			default:
				return ErrQueueClosed
			}
		}
		return job, ack, nil
	}
}
