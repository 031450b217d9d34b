package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"horo-bot/internal/domain"
	"horo-bot/internal/infra/metrics"
)

// RedisQueue реализует очередь рассылки на базе Redis lists.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue создаёт очередь по указанному ключу.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisQueue) Enqueue(ctx context.Context, job domain.BroadcastJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу. Неуспешное подтверждение возвращает задачу в хвост очереди.
func (q *RedisQueue) Receive(ctx context.Context) (domain.BroadcastJob, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.BroadcastJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.BroadcastJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.BroadcastJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.BroadcastJob{}, nil, errors.New("redis queue: unexpected response")
		}
		raw := res[1]
		var job domain.BroadcastJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return domain.BroadcastJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.client.RPush(context.Background(), q.key, raw).Err()
		}
		return job, ack, nil
	}
}
