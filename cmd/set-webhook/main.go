package main

import (
	"context"
	"flag"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"horo-bot/internal/adapters/telegram"
	"horo-bot/internal/infra/config"
	applog "horo-bot/internal/infra/log"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	url := flag.String("url", cfg.Telegram.WebhookURL, "адрес вебхука")
	secret := flag.String("secret", cfg.Telegram.WebhookSecret, "секрет вебхука")
	flag.Parse()

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("не указан токен Telegram (TG_BOT_TOKEN)")
	}
	if *url == "" {
		logger.Fatal().Msg("не указан адрес вебхука (-url или TG_WEBHOOK_URL)")
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать бота")
	}
	client := telegram.NewClient(api, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := client.SetWebhook(ctx, *url, *secret); err != nil {
		logger.Fatal().Err(err).Msg("не удалось установить вебхук")
	}
	logger.Info().Str("url", *url).Msg("вебхук установлен")
}
