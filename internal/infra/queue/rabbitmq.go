package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	amqp "github.com/rabbitmq/amqp091-go"

	"horo-bot/internal/domain"
	"horo-bot/internal/infra/metrics"
)

// ErrQueueClosed возвращается, если брокер закрыл канал доставки.
var ErrQueueClosed = errors.New("queue closed")

// RabbitQueue реализует очередь рассылки через AMQP.
type RabbitQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewRabbitQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitQueue(amqpURL, queue string) (*RabbitQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitQueue) Enqueue(ctx context.Context, job domain.BroadcastJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.RequestedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RabbitQueue) Receive(ctx context.Context) (domain.BroadcastJob, domain.AckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.BroadcastJob{}, nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return domain.BroadcastJob{}, nil, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return domain.BroadcastJob{}, nil, ErrQueueClosed
			}
			var job domain.BroadcastJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				_ = d.Nack(false, false)
				return domain.BroadcastJob{}, nil, fmt.Errorf("decode job: %w", err)
			}
			ack := func(success bool) error {
				if success {
					return d.Ack(false)
				}
				return d.Nack(false, true)
			}
			return job, ack, nil
		}
	}
}

func (q *RabbitQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	start := time.Now()
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	metrics.ObserveNetworkRequest("rabbitmq", "consume", q.queue, start, err)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Close закрывает канал и соединение.
func (q *RabbitQueue) Close() error {
	var result *multierror.Error
	if err := q.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		result = multierror.Append(result, err)
	}
	if err := q.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
