package broadcast

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"horo-bot/internal/domain"
)

type onceRunner interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error)
}

// Scheduler запускает планировщик по cron-выражениям в часовом поясе бота.
// Если задан onceRunner, срабатывание на одну дату выполняется одним экземпляром.
type Scheduler struct {
	cron    *cron.Cron
	planner *Planner
	once    onceRunner
	loc     *time.Location
	timeout time.Duration
	log     zerolog.Logger
}

// NewScheduler создаёт Scheduler.
func NewScheduler(planner *Planner, loc *time.Location, once onceRunner, log zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		planner: planner,
		once:    once,
		loc:     loc,
		timeout: 2 * time.Minute,
		log:     log,
	}
}

// Register добавляет задания рассылки гороскопов и анекдотов. Пустое выражение отключает задание.
func (s *Scheduler) Register(horoscopeSpec, jokeSpec string) error {
	if horoscopeSpec != "" {
		if _, err := s.cron.AddFunc(horoscopeSpec, func() { s.fire("horoscope", s.planner.Horoscopes) }); err != nil {
			return fmt.Errorf("horoscope cron %q: %w", horoscopeSpec, err)
		}
	}
	if jokeSpec != "" {
		if _, err := s.cron.AddFunc(jokeSpec, func() { s.fire("joke", s.planner.Jokes) }); err != nil {
			return fmt.Errorf("joke cron %q: %w", jokeSpec, err)
		}
	}
	return nil
}

// Start запускает cron в фоне.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("entries", len(s.cron.Entries())).Msg("scheduler: запущен")
}

// Stop останавливает cron и ждёт завершения запущенных заданий или отмены ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) fire(kind string, plan func(context.Context, domain.BroadcastCause) (int, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	run := func() error {
		n, err := plan(ctx, domain.BroadcastCauseScheduled)
		if err != nil {
			return err
		}
		s.log.Info().Str("kind", kind).Int("jobs", n).Msg("scheduler: рассылка запланирована")
		return nil
	}
	if s.once == nil {
		if err := run(); err != nil {
			s.log.Error().Err(err).Str("kind", kind).Msg("scheduler: не удалось запланировать рассылку")
		}
		return
	}

	key := fmt.Sprintf("broadcast:%s:%s", kind, time.Now().In(s.loc).Format("2006-01-02"))
	acquired, err := s.once.Once(ctx, key, 23*time.Hour, run)
	if err != nil {
		s.log.Error().Err(err).Str("kind", kind).Msg("scheduler: не удалось запланировать рассылку")
		return
	}
	if !acquired {
		s.log.Info().Str("kind", kind).Msg("scheduler: рассылка уже запланирована другим экземпляром")
	}
}

func sortedKeys(m map[string][]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
