package main

import (
	"context"
	"errors"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"horo-bot/internal/app"
	"horo-bot/internal/infra/config"
	httpserver "horo-bot/internal/infra/http"
	applog "horo-bot/internal/infra/log"
	"horo-bot/internal/infra/metrics"
	"horo-bot/internal/infra/pool"
)

func main() {
	cfg := config.Load()
	var logOpts []applog.Option
	if cfg.LogFile != "" {
		logOpts = append(logOpts, applog.WithFile(cfg.DataPath(cfg.LogFile)))
	}
	logger := applog.NewLogger(cfg.AppEnv, logOpts...)

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("не указан токен Telegram (TG_BOT_TOKEN)")
	}
	if cfg.Telegram.AdminID == 0 {
		logger.Warn().Msg("ADMIN_ID не задан, админские команды недоступны")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось инициализировать бота")
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("ошибка при освобождении ресурсов")
		}
	}()

	migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
	err = a.Migrate(migrateCtx)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось применить миграции")
	}

	setupCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	if err := a.Telegram.SetCommands(setupCtx, app.Commands); err != nil {
		logger.Error().Err(err).Msg("не удалось зарегистрировать команды")
	}
	if cfg.Telegram.WebhookURL != "" {
		if err := a.Telegram.SetWebhook(setupCtx, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			logger.Error().Err(err).Msg("не удалось установить вебхук")
		}
	}
	cancel()
	if cfg.Telegram.WebhookSecret == "" {
		logger.Warn().Msg("TG_WEBHOOK_SECRET пуст, проверка секрета вебхука отключена")
	}

	go func() {
		if err := a.Worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("воркер рассылки остановлен")
		}
	}()

	if cfg.Scheduler.Enabled {
		lock := flock.New(cfg.DataPath("scheduler.lock"))
		locked, err := lock.TryLock()
		switch {
		case err != nil:
			logger.Error().Err(err).Msg("не удалось взять блокировку планировщика")
		case !locked:
			logger.Info().Msg("планировщик уже запущен другим процессом")
		default:
			defer func() { _ = lock.Unlock() }()
			if err := a.Scheduler.Register(cfg.Scheduler.HoroscopeCron, cfg.Scheduler.JokeCron); err != nil {
				logger.Fatal().Err(err).Msg("некорректное расписание")
			}
			a.Scheduler.Start()
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				a.Scheduler.Stop(stopCtx)
			}()
		}
	}

	workers := pool.New(cfg.Intake.Workers, logger.With().Str("component", "pool").Logger())
	webhookLog := logger.With().Str("component", "webhook").Logger()
	wh := httpserver.NewWebhook(cfg.Telegram.WebhookSecret, a.Gate, a.Handler, workers, 55*time.Second, webhookLog)
	limiter := httpserver.NewRateLimiter(a.Redis, cfg.Intake.RateLimitPerMinute, time.Minute, webhookLog)

	srv := httpserver.NewServer(logger.With().Str("component", "http").Logger(), a.Repo)
	srv.MountWebhook(wh, limiter)

	go func() {
		if err := srv.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("остановка бота")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP сервер не остановился вовремя")
	}
}
