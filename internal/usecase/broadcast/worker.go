package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horo-bot/internal/domain"
	"horo-bot/internal/infra/metrics"
)

// Sender отправляет текст в чат.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, markup any) error
}

// Report: итог обработки задачи.
type Report struct {
	Sent    int
	Skipped int
	Failed  int
}

// Worker читает задачи из очереди и доставляет их получателям.
type Worker struct {
	queue       domain.BroadcastQueue
	content     domain.ContentFetcher
	deliveries  domain.DeliveryRepo
	sender      Sender
	concurrency int
	log         zerolog.Logger
}

// NewWorker создаёт Worker. concurrency ограничивает число одновременных отправок.
func NewWorker(queue domain.BroadcastQueue, content domain.ContentFetcher, deliveries domain.DeliveryRepo, sender Sender, concurrency int, log zerolog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Worker{
		queue:       queue,
		content:     content,
		deliveries:  deliveries,
		sender:      sender,
		concurrency: concurrency,
		log:         log,
	}
}

// Run обрабатывает задачи до отмены ctx.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Error().Err(err).Msg("broadcast: ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		report, err := w.Process(ctx, job)
		if err != nil {
			w.log.Error().Err(err).Str("job_id", job.ID).Str("topic", job.Topic).Msg("broadcast: задача выполнена с ошибками")
		}
		if ctx.Err() != nil {
			if ackErr := ack(false); ackErr != nil {
				w.log.Error().Err(ackErr).Str("job_id", job.ID).Msg("broadcast: не удалось вернуть задачу в очередь")
			}
			return nil
		}
		if ackErr := ack(true); ackErr != nil {
			w.log.Error().Err(ackErr).Str("job_id", job.ID).Msg("broadcast: не удалось подтвердить задачу")
		}
		w.log.Info().Str("job_id", job.ID).Str("topic", job.Topic).Int("sent", report.Sent).Int("skipped", report.Skipped).Int("failed", report.Failed).Msg("broadcast: задача обработана")
	}
}

// Process доставляет одну задачу. Контент получают один раз на задачу,
// каждый получатель проходит отметку доставки до отправки.
func (w *Worker) Process(ctx context.Context, job domain.BroadcastJob) (Report, error) {
	text, err := w.content.Fetch(ctx, job.Topic)
	if err != nil {
		metrics.IncBroadcast(job.Topic, "no_content")
		return Report{}, fmt.Errorf("fetch content: %w", err)
	}
	message := FormatMessage(job.Topic, text)

	var (
		mu     sync.Mutex
		report Report
		errs   *multierror.Error
	)
	record := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		fn()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, chatID := range job.Recipients {
		g.Go(func() error {
			acquired, err := w.deliveries.AcquireDelivery(gctx, chatID, job.Topic, job.Date)
			if err != nil {
				record(func() {
					report.Failed++
					errs = multierror.Append(errs, fmt.Errorf("fence %d: %w", chatID, err))
				})
				metrics.IncBroadcast(job.Topic, "error")
				return nil
			}
			if !acquired {
				record(func() { report.Skipped++ })
				metrics.IncBroadcast(job.Topic, "duplicate")
				return nil
			}
			if err := w.sender.SendText(gctx, chatID, message, nil); err != nil {
				record(func() {
					report.Failed++
					errs = multierror.Append(errs, fmt.Errorf("send %d: %w", chatID, err))
				})
				metrics.IncBroadcast(job.Topic, "error")
				return nil
			}
			record(func() { report.Sent++ })
			metrics.IncBroadcast(job.Topic, "sent")
			return nil
		})
	}
	_ = g.Wait()

	return report, errs.ErrorOrNil()
}

// FormatMessage добавляет заголовок темы к тексту рассылки.
func FormatMessage(topic, text string) string {
	if topic == domain.TopicJoke {
		return "😄 Анекдот дня\n\n" + text
	}
	return "🔮 " + domain.TopicTitle(topic) + "\n\n" + text
}
