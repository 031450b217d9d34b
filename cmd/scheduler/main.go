package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"horo-bot/internal/app"
	"horo-bot/internal/infra/config"
	applog "horo-bot/internal/infra/log"
	"horo-bot/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv).With().Str("component", "scheduler").Logger()

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("scheduler: не указан токен Telegram (TG_BOT_TOKEN)")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	lock := flock.New(cfg.DataPath("scheduler.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось взять блокировку")
	}
	if !locked {
		logger.Fatal().Msg("scheduler: уже запущен другой экземпляр")
	}
	defer func() { _ = lock.Unlock() }()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать зависимости")
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("scheduler: ошибка при освобождении ресурсов")
		}
	}()

	if err := a.Scheduler.Register(cfg.Scheduler.HoroscopeCron, cfg.Scheduler.JokeCron); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректное расписание")
	}
	a.Scheduler.Start()

	if err := a.Worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("scheduler: воркер рассылки остановлен")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.Scheduler.Stop(stopCtx)
	logger.Info().Msg("scheduler: остановлен")
}
