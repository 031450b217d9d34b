// Package app собирает зависимости бота для исполняемых файлов.
package app

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"horo-bot/internal/adapters/bot"
	"horo-bot/internal/adapters/repo"
	"horo-bot/internal/adapters/scraper"
	"horo-bot/internal/adapters/tarot"
	"horo-bot/internal/adapters/telegram"
	"horo-bot/internal/domain"
	"horo-bot/internal/infra/cache"
	"horo-bot/internal/infra/config"
	"horo-bot/internal/infra/db"
	"horo-bot/internal/infra/queue"
	"horo-bot/internal/usecase/broadcast"
	"horo-bot/internal/usecase/content"
	"horo-bot/internal/usecase/debounce"
	"horo-bot/internal/usecase/entitlement"
	"horo-bot/internal/usecase/intake"
	"horo-bot/internal/usecase/payments"
	"horo-bot/internal/usecase/quota"
	"horo-bot/internal/usecase/subscriptions"
)

// Commands: команды, которые бот регистрирует в Telegram.
var Commands = []telegram.Command{
	{Name: "start", Description: "Начать работу с ботом"},
	{Name: "list", Description: "Выбрать знак зодиака"},
	{Name: "me", Description: "Мои подписки"},
	{Name: "joke", Description: "Случайный анекдот"},
	{Name: "tarot", Description: "Карта Таро"},
	{Name: "spread", Description: "Расклады Таро (Astro)"},
	{Name: "premium", Description: "Подписка Premium и Astro"},
	{Name: "help", Description: "Справка"},
}

// App содержит собранные компоненты.
type App struct {
	Config   config.AppConfig
	Location *time.Location
	Log      zerolog.Logger

	DB       *pgxpool.Pool
	Repo     *repo.Postgres
	Redis    *redis.Client
	Cache    *cache.RedisCache
	Queue    domain.BroadcastQueue
	Telegram *telegram.Client

	Subscriptions *subscriptions.Service
	Content       *content.Service
	Planner       *broadcast.Planner
	Worker        *broadcast.Worker
	Scheduler     *broadcast.Scheduler
	Gate          *intake.Gate
	Handler       *bot.Handler

	closers []func() error
}

// New подключается к Postgres, Redis и брокеру и собирает сервисы.
func New(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Location: cfg.Location(), Log: logger}

	pool, err := db.Connect(cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, fmt.Errorf("подключение к БД: %w", err)
	}
	a.DB = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	a.Repo = repo.NewPostgres(pool)

	if cfg.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, a.Redis.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := a.Redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis недоступен при старте")
		}
		a.Cache = cache.NewRedis(a.Redis, "horo:")
	}

	if err := a.openQueue(); err != nil {
		_ = a.Close()
		return nil, err
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("создание бота: %w", err)
	}
	a.Telegram = telegram.NewClient(botAPI, logger.With().Str("component", "telegram").Logger())

	a.wire()
	return a, nil
}

func (a *App) openQueue() error {
	cfg := a.Config
	switch {
	case cfg.RabbitURL != "":
		q, err := queue.NewRabbitQueue(cfg.RabbitURL, cfg.Queues.Broadcast)
		if err != nil {
			return fmt.Errorf("очередь RabbitMQ: %w", err)
		}
		a.Queue = q
		a.closers = append(a.closers, q.Close)
		a.Log.Info().Str("queue", cfg.Queues.Broadcast).Msg("очередь рассылки: RabbitMQ")
	case a.Redis != nil:
		a.Queue = queue.NewRedisQueue(a.Redis, cfg.Queues.Broadcast)
		a.Log.Info().Str("queue", cfg.Queues.Broadcast).Msg("очередь рассылки: Redis")
	default:
		a.Queue = queue.NewMemoryQueue(64)
		a.Log.Info().Msg("очередь рассылки: в памяти процесса")
	}
	return nil
}

func (a *App) wire() {
	cfg := a.Config
	logger := a.Log
	now := time.Now

	scraperClient := scraper.NewClient(cfg.Scraper.Timeout, cfg.Scraper.Attempts, logger.With().Str("component", "scraper").Logger())

	var contentOpts []content.Option
	var once interface {
		Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error)
	}
	if a.Cache != nil {
		contentOpts = append(contentOpts, content.WithCache(a.Cache))
		once = a.Cache
	}
	a.Content = content.NewService(
		scraper.NewHoroscope(scraperClient, cfg.Scraper.HoroscopeBaseURL),
		scraper.NewJoke(scraperClient, cfg.Scraper.JokeURL),
		a.Repo,
		a.Location,
		logger.With().Str("component", "content").Logger(),
		contentOpts...,
	)

	a.Subscriptions = subscriptions.NewService(a.Repo, a.Repo)
	resolver := entitlement.NewResolver(a.Repo, now)
	tracker := quota.NewTracker(a.Repo, a.Repo, resolver, quota.Config{
		AdminID:  cfg.Telegram.AdminID,
		Limit:    cfg.Limits.TarotWeekly,
		Location: a.Location,
	})

	broadcastLog := logger.With().Str("component", "broadcast").Logger()
	a.Planner = broadcast.NewPlanner(a.Queue, a.Subscriptions, a.Location, now, broadcastLog)
	a.Worker = broadcast.NewWorker(a.Queue, a.Content, a.Repo, a.Telegram, cfg.Queues.Concurrency, broadcastLog)
	a.Scheduler = broadcast.NewScheduler(a.Planner, a.Location, once, broadcastLog)

	var gateOpts []intake.Option
	if cfg.Intake.AdmitUnfencedUpdates {
		gateOpts = append(gateOpts, intake.WithUnfencedAdmission(true))
	}
	a.Gate = intake.NewGate(a.Repo, cfg.MaxUpdateAge(), logger.With().Str("component", "intake").Logger(), gateOpts...)

	a.Handler = bot.NewHandler(a.Telegram, logger.With().Str("component", "bot").Logger(), bot.Deps{
		AdminID:       cfg.Telegram.AdminID,
		Location:      a.Location,
		Users:         a.Repo,
		Subscriptions: a.Subscriptions,
		Payments:      payments.NewService(a.Repo, now),
		Quota:         tracker,
		Entitlements:  resolver,
		Debouncer:     debounce.New(cfg.Limits.DebounceWindow, cfg.Limits.DebounceMaxEntries),
		Content:       a.Content,
		Reading:       scraper.NewReading(scraperClient, cfg.Scraper.HoroscopeBaseURL),
		Spreads:       scraper.NewSpreader(scraperClient, cfg.Scraper.SpreadBaseURL),
		Deck:          tarot.NewDeck(cfg.Scraper.TarotImageBaseURL),
		Broadcast:     a.Planner,
	})
}

// Migrate применяет миграции базы.
func (a *App) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, a.DB)
}

// Close освобождает ресурсы в обратном порядке открытия.
func (a *App) Close() error {
	var errs *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	a.closers = nil
	return errs.ErrorOrNil()
}
