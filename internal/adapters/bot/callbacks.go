package bot

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"horo-bot/internal/domain"
	"horo-bot/internal/infra/metrics"
	"horo-bot/internal/usecase/subscriptions"
)

const textUnknownSign = "Неизвестный знак"

// callbackAck отвечает на callback-запрос ровно один раз.
type callbackAck struct {
	h    *Handler
	ctx  context.Context
	id   string
	done bool
}

func (a *callbackAck) send(text string, alert bool) {
	if a.done {
		return
	}
	a.done = true
	if err := a.h.tg.AnswerCallback(a.ctx, a.id, text, alert); err != nil {
		a.h.log.Warn().Err(err).Str("callback", a.id).Msg("не удалось ответить на callback")
	}
}

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	ack := &callbackAck{h: h, ctx: ctx, id: q.ID}
	defer ack.send("", false)

	if q.From == nil {
		return nil
	}
	userID := q.From.ID
	if h.deps.Debouncer != nil && h.deps.Debouncer.IsDuplicate(userID, q.Data) {
		metrics.CallbacksDebounced.Inc()
		return nil
	}
	if q.Message == nil {
		return nil
	}
	chatID := q.Message.Chat.ID
	messageID := q.Message.MessageID

	prefix, arg, _ := strings.Cut(q.Data, ":")
	switch prefix {
	case "sign":
		return h.showSign(ctx, ack, chatID, messageID, userID, arg)
	case "sub":
		return h.subscribeSign(ctx, ack, chatID, messageID, userID, arg)
	case "unsub":
		if arg == "all" {
			return h.unsubscribeAll(ctx, ack, chatID, messageID, userID)
		}
		return h.unsubscribeTopic(ctx, ack, chatID, messageID, userID, arg)
	case "back":
		if arg == "list" {
			ack.send("", false)
			if err := h.tg.EditText(ctx, chatID, messageID, "Выберите знак:", ptr(signsKeyboard())); err != nil {
				h.log.Warn().Err(err).Msg("не удалось вернуться к списку")
			}
		}
	case "tarot":
		ack.send("", false)
		switch arg {
		case "draw":
			return h.handleTarot(ctx, chatID, userID)
		case "reading":
			h.handleReading(ctx, chatID)
		case "buy":
			product, _ := domain.ProductByPayload("premium_30d")
			h.sendInvoice(ctx, chatID, product)
		}
	case "spread":
		ack.send("", false)
		return h.handleSpread(ctx, chatID, userID, arg)
	case "buy":
		product, ok := domain.ProductByPayload(arg)
		if !ok {
			ack.send("Товар не найден", true)
			return nil
		}
		ack.send("", false)
		h.sendInvoice(ctx, chatID, product)
	}
	return nil
}

func (h *Handler) showSign(ctx context.Context, ack *callbackAck, chatID int64, messageID int, userID int64, sign string) error {
	if !domain.IsValidSign(sign) {
		ack.send(textUnknownSign, true)
		return nil
	}
	ack.send("", false)
	subscribed, err := h.deps.Subscriptions.IsSubscribed(ctx, userID, sign)
	if err != nil {
		h.log.Error().Err(err).Int64("user", userID).Msg("не удалось проверить подписку")
	}
	text, err := h.deps.Content.Horoscope(ctx, sign)
	if err != nil {
		h.log.Warn().Err(err).Str("sign", sign).Msg("не удалось получить гороскоп")
		text = textHoroscopeFailed
	} else {
		text = "🔮 " + domain.TopicTitle(sign) + "\n\n" + text
	}
	h.reply(ctx, chatID, text, signDetailKeyboard(sign, subscribed))
	return nil
}

func (h *Handler) subscribeSign(ctx context.Context, ack *callbackAck, chatID int64, messageID int, userID int64, sign string) error {
	err := h.deps.Subscriptions.Subscribe(ctx, userID, sign)
	if errors.Is(err, subscriptions.ErrInvalidTopic) {
		ack.send(textUnknownSign, true)
		return nil
	}
	if err != nil {
		ack.send(textTryLater, true)
		return err
	}
	ack.send("Вы подписались на "+domain.TopicTitle(sign), false)
	if err := h.tg.EditMarkup(ctx, chatID, messageID, signDetailKeyboard(sign, true)); err != nil {
		h.log.Warn().Err(err).Msg("не удалось обновить клавиатуру")
	}
	return nil
}

func (h *Handler) unsubscribeTopic(ctx context.Context, ack *callbackAck, chatID int64, messageID int, userID int64, topic string) error {
	err := h.deps.Subscriptions.Unsubscribe(ctx, userID, topic)
	if errors.Is(err, subscriptions.ErrInvalidTopic) {
		ack.send(textUnknownSign, true)
		return nil
	}
	if err != nil {
		ack.send(textTryLater, true)
		return err
	}
	ack.send("Вы отписались от "+domain.TopicTitle(topic), false)
	if topic == domain.TopicJoke {
		return nil
	}
	if err := h.tg.EditMarkup(ctx, chatID, messageID, signDetailKeyboard(topic, false)); err != nil {
		h.log.Warn().Err(err).Msg("не удалось обновить клавиатуру")
	}
	return nil
}

func (h *Handler) unsubscribeAll(ctx context.Context, ack *callbackAck, chatID int64, messageID int, userID int64) error {
	n, err := h.deps.Subscriptions.UnsubscribeAll(ctx, userID)
	if err != nil {
		ack.send(textTryLater, true)
		return err
	}
	if n == 0 {
		ack.send("Вы не были подписаны", false)
		return nil
	}
	ack.send("Отписались от всех", false)
	if err := h.tg.EditText(ctx, chatID, messageID, "Вы подписаны на: ничего", nil); err != nil {
		h.log.Warn().Err(err).Msg("не удалось обновить сообщение")
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
