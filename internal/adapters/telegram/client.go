// Package telegram отправляет исходящие запросы Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"horo-bot/internal/domain"
	"horo-bot/internal/infra/metrics"
)

// Client реализует исходящий транспорт бота поверх tgbotapi.
type Client struct {
	api *tgbotapi.BotAPI
	log zerolog.Logger
}

// NewClient создаёт клиента.
func NewClient(api *tgbotapi.BotAPI, log zerolog.Logger) *Client {
	return &Client{api: api, log: log}
}

// Command описывает команду меню бота.
type Command struct {
	Name        string
	Description string
}

// SendText отправляет текст без разметки.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, markup any) error {
	return c.send(ctx, chatID, text, "", markup)
}

// SendHTML отправляет текст с HTML-разметкой.
func (c *Client) SendHTML(ctx context.Context, chatID int64, text string, markup any) error {
	return c.send(ctx, chatID, text, tgbotapi.ModeHTML, markup)
}

// SendMarkdown отправляет текст с Markdown-разметкой.
func (c *Client) SendMarkdown(ctx context.Context, chatID int64, text string, markup any) error {
	return c.send(ctx, chatID, text, tgbotapi.ModeMarkdown, markup)
}

func (c *Client) send(ctx context.Context, chatID int64, text, parseMode string, markup any) error {
	for i, part := range SplitMessage(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = parseMode
		if i == 0 && markup != nil {
			msg.ReplyMarkup = markup
		}
		start := time.Now()
		_, err := c.api.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// SendPhoto отправляет фото по URL. Длинная подпись уходит отдельным сообщением.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photoURL, caption string, markup any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(photoURL))
	long := !FitsCaption(caption)
	if !long {
		photo.Caption = caption
		if markup != nil {
			photo.ReplyMarkup = markup
		}
	}
	start := time.Now()
	_, err := c.api.Send(photo)
	metrics.ObserveNetworkRequest("telegram_bot", "send_photo", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		metrics.BotSendErrors.Inc()
		return fmt.Errorf("send photo: %w", err)
	}
	if long {
		return c.SendText(ctx, chatID, caption, markup)
	}
	return nil
}

// EditText заменяет текст и клавиатуру сообщения.
func (c *Client) EditText(ctx context.Context, chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, Truncate(text, messageLimit))
	edit.ReplyMarkup = markup
	return c.request(edit, "edit_message_text", chatID)
}

// EditMarkup заменяет только клавиатуру сообщения.
func (c *Client) EditMarkup(ctx context.Context, chatID int64, messageID int, markup tgbotapi.InlineKeyboardMarkup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.request(tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, markup), "edit_message_markup", chatID)
}

// AnswerCallback отвечает на нажатие кнопки. Пустой текст снимает индикатор загрузки.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := tgbotapi.NewCallback(callbackID, text)
	cfg.ShowAlert = alert
	start := time.Now()
	_, err := c.api.Request(cfg)
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", "callback", start, err)
	return err
}

// SendInvoice выставляет счёт в Telegram Stars.
func (c *Client) SendInvoice(ctx context.Context, chatID int64, product domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	invoice := tgbotapi.InvoiceConfig{
		BaseChat:            tgbotapi.BaseChat{ChatID: chatID},
		Title:               product.Title,
		Description:         product.Description,
		Payload:             product.Payload,
		Currency:            domain.StarsCurrency,
		Prices:              []tgbotapi.LabeledPrice{{Label: product.Label, Amount: product.Amount}},
		SuggestedTipAmounts: []int{},
	}
	start := time.Now()
	_, err := c.api.Send(invoice)
	metrics.ObserveNetworkRequest("telegram_bot", "send_invoice", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		metrics.BotSendErrors.Inc()
		return fmt.Errorf("send invoice: %w", err)
	}
	return nil
}

// AnswerPreCheckout подтверждает или отклоняет оплату.
func (c *Client) AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: queryID, OK: ok}
	if !ok {
		cfg.ErrorMessage = errorMessage
	}
	start := time.Now()
	_, err := c.api.Request(cfg)
	metrics.ObserveNetworkRequest("telegram_bot", "answer_pre_checkout", "pre_checkout", start, err)
	return err
}

// SetCommands регистрирует меню команд.
func (c *Client) SetCommands(ctx context.Context, commands []Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	items := make([]tgbotapi.BotCommand, 0, len(commands))
	for _, cmd := range commands {
		items = append(items, tgbotapi.BotCommand{Command: cmd.Name, Description: cmd.Description})
	}
	start := time.Now()
	_, err := c.api.Request(tgbotapi.NewSetMyCommands(items...))
	metrics.ObserveNetworkRequest("telegram_bot", "set_my_commands", "commands", start, err)
	return err
}

// SetWebhook регистрирует вебхук с секретным токеном.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", []string{"message", "callback_query", "pre_checkout_query"}); err != nil {
		return err
	}
	start := time.Now()
	resp, err := c.api.MakeRequest("setWebhook", params)
	metrics.ObserveNetworkRequest("telegram_bot", "set_webhook", "webhook", start, err)
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	if !resp.Ok {
		return fmt.Errorf("set webhook: %s", resp.Description)
	}
	return nil
}

func (c *Client) request(cfg tgbotapi.Chattable, op string, chatID int64) error {
	start := time.Now()
	_, err := c.api.Request(cfg)
	if err != nil && isNotModified(err) {
		err = nil
	}
	metrics.ObserveNetworkRequest("telegram_bot", op, strconv.FormatInt(chatID, 10), start, err)
	return err
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}
