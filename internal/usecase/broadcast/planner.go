// Package broadcast планирует и доставляет ежедневные рассылки подписчикам.
package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horo-bot/internal/domain"
)

type recipientSource interface {
	RecipientsByTopic(ctx context.Context) (map[string][]int64, error)
}

// Planner превращает подписки в задачи очереди: одна задача на тему.
type Planner struct {
	queue      domain.BroadcastQueue
	recipients recipientSource
	loc        *time.Location
	now        func() time.Time
	log        zerolog.Logger
}

// NewPlanner создаёт Planner.
func NewPlanner(queue domain.BroadcastQueue, recipients recipientSource, loc *time.Location, now func() time.Time, log zerolog.Logger) *Planner {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Planner{queue: queue, recipients: recipients, loc: loc, now: now, log: log}
}

// Horoscopes ставит в очередь рассылку гороскопов по всем знакам с подписчиками.
func (p *Planner) Horoscopes(ctx context.Context, cause domain.BroadcastCause) (int, error) {
	return p.plan(ctx, cause, domain.IsValidSign)
}

// Jokes ставит в очередь рассылку анекдотов.
func (p *Planner) Jokes(ctx context.Context, cause domain.BroadcastCause) (int, error) {
	return p.plan(ctx, cause, func(topic string) bool { return topic == domain.TopicJoke })
}

func (p *Planner) plan(ctx context.Context, cause domain.BroadcastCause, match func(string) bool) (int, error) {
	byTopic, err := p.recipients.RecipientsByTopic(ctx)
	if err != nil {
		return 0, fmt.Errorf("load recipients: %w", err)
	}
	now := p.now()
	y, m, d := now.In(p.loc).Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	planned := 0
	for _, topic := range sortedKeys(byTopic) {
		ids := byTopic[topic]
		if !match(topic) || len(ids) == 0 {
			continue
		}
		job := domain.BroadcastJob{
			ID:          uuid.NewString(),
			Topic:       topic,
			Date:        day,
			Recipients:  ids,
			RequestedAt: now.UTC(),
			Cause:       cause,
		}
		if err := p.queue.Enqueue(ctx, job); err != nil {
			return planned, fmt.Errorf("enqueue %s: %w", topic, err)
		}
		planned++
		p.log.Info().Str("job_id", job.ID).Str("topic", topic).Int("recipients", len(ids)).Str("cause", string(cause)).Msg("broadcast: задача поставлена")
	}
	return planned, nil
}
