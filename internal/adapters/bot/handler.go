// Package bot маршрутизирует апдейты Telegram к обработчикам.
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"runtime/debug"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"horo-bot/internal/adapters/scraper"
	"horo-bot/internal/domain"
	"horo-bot/internal/infra/metrics"
	"horo-bot/internal/usecase/payments"
	"horo-bot/internal/usecase/quota"
	"horo-bot/internal/usecase/subscriptions"
)

// ErrHandlerPanic оборачивает панику, перехваченную при обработке апдейта.
var ErrHandlerPanic = errors.New("handler panic")

const (
	textUnknownCommand  = "Неизвестная команда. Используйте /help"
	textNoUser          = "Не удалось определить пользователя"
	textHoroscopeFailed = "Не удалось получить гороскоп — попробуйте позже."
	textJokeFailed      = "Не удалось получить анекдот — попробуйте позже."
	textReadingFailed   = "Не удалось получить расклад — попробуйте позже."
	textSpreadFailed    = "Не удалось сделать расклад — попробуйте позже."
	textTryLater        = "Что-то пошло не так. Попробуйте позже."
	dateLayout          = "02.01.2006 15:04"
)

// Transport: исходящие вызовы Bot API.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, markup any) error
	SendHTML(ctx context.Context, chatID int64, text string, markup any) error
	SendMarkdown(ctx context.Context, chatID int64, text string, markup any) error
	SendPhoto(ctx context.Context, chatID int64, photoURL, caption string, markup any) error
	EditText(ctx context.Context, chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error
	EditMarkup(ctx context.Context, chatID int64, messageID int, markup tgbotapi.InlineKeyboardMarkup) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	SendInvoice(ctx context.Context, chatID int64, product domain.Product) error
	AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error
}

type debouncer interface {
	IsDuplicate(userID int64, payload string) bool
}

type quotaTracker interface {
	CheckAndConsume(ctx context.Context, tgUserID int64) (quota.Result, error)
	Peek(u domain.User) quota.Result
}

type entitlementChecker interface {
	Entitled(u domain.User) bool
	Elevated(u domain.User) bool
	Active(u domain.User, tier domain.Tier) bool
}

type contentSource interface {
	Horoscope(ctx context.Context, sign string) (string, error)
	Joke(ctx context.Context) (string, error)
}

type readingSource interface {
	Fetch(ctx context.Context) (string, error)
}

type spreadSource interface {
	Fetch(ctx context.Context, key string) (string, error)
}

type cardSource interface {
	Draw() domain.Card
}

type broadcastPlanner interface {
	Horoscopes(ctx context.Context, cause domain.BroadcastCause) (int, error)
}

// Deps: зависимости обработчика.
type Deps struct {
	AdminID       int64
	Location      *time.Location
	Users         domain.UserRepo
	Subscriptions *subscriptions.Service
	Payments      *payments.Service
	Quota         quotaTracker
	Entitlements  entitlementChecker
	Debouncer     debouncer
	Content       contentSource
	Reading       readingSource
	Spreads       spreadSource
	Deck          cardSource
	Broadcast     broadcastPlanner
}

// Handler обслуживает апдейты бота.
type Handler struct {
	tg   Transport
	log  zerolog.Logger
	deps Deps
}

// NewHandler создаёт обработчик.
func NewHandler(tg Transport, log zerolog.Logger, deps Deps) *Handler {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &Handler{tg: tg, log: log, deps: deps}
}

// HandleUpdate обрабатывает апдейт. Паника обработчика возвращается как ошибка.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Int("update_id", upd.UpdateID).Msg("паника в обработчике")
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		if err != nil {
			metrics.HandlerErrors.Inc()
		}
	}()

	switch {
	case upd.PreCheckoutQuery != nil:
		return h.handlePreCheckout(ctx, upd.PreCheckoutQuery)
	case upd.Message != nil && upd.Message.SuccessfulPayment != nil:
		return h.handleSuccessfulPayment(ctx, upd.Message)
	case upd.Message != nil:
		return h.handleMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil:
		return h.handleCallback(ctx, upd.CallbackQuery)
	}
	return nil
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	chatID := msg.Chat.ID
	if msg.From == nil {
		h.reply(ctx, chatID, textNoUser, nil)
		return nil
	}
	userID := msg.From.ID

	switch text {
	case jokeSubscribeLabel:
		return h.toggleJoke(ctx, chatID, userID, true)
	case jokeUnsubscribeLabel:
		return h.toggleJoke(ctx, chatID, userID, false)
	}

	switch commandOf(text) {
	case "/start":
		return h.handleStart(ctx, msg)
	case "/list":
		h.reply(ctx, chatID, "Выберите знак:", signsKeyboard())
	case "/me":
		return h.handleMe(ctx, chatID, userID)
	case "/joke":
		return h.handleJoke(ctx, chatID, userID)
	case "/tarot":
		return h.handleTarot(ctx, chatID, userID)
	case "/spread":
		return h.handleSpreadMenu(ctx, chatID, userID)
	case "/premium":
		return h.handlePremium(ctx, chatID, userID)
	case "/help":
		h.reply(ctx, chatID, helpText, nil)
	case "/subscribers":
		if !h.isAdmin(userID) {
			h.reply(ctx, chatID, textUnknownCommand, nil)
			return nil
		}
		return h.handleSubscribers(ctx, chatID)
	case "/send_now":
		if !h.isAdmin(userID) {
			h.reply(ctx, chatID, textUnknownCommand, nil)
			return nil
		}
		return h.handleSendNow(ctx, chatID)
	default:
		h.reply(ctx, chatID, textUnknownCommand, nil)
	}
	return nil
}

func (h *Handler) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	profile := domain.TelegramProfile{
		TGUserID:  msg.From.ID,
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
		LastName:  msg.From.LastName,
	}
	if _, err := h.deps.Subscriptions.Register(ctx, profile); err != nil {
		h.reply(ctx, msg.Chat.ID, textTryLater, nil)
		return err
	}
	h.reply(ctx, msg.Chat.ID, "Привет! Выберите знак зодиака:", signsKeyboard())
	return nil
}

func (h *Handler) handleMe(ctx context.Context, chatID, userID int64) error {
	topics, err := h.deps.Subscriptions.ActiveTopics(ctx, userID)
	if err != nil {
		h.reply(ctx, chatID, textTryLater, nil)
		return err
	}
	if len(topics) == 0 {
		h.reply(ctx, chatID, "Вы подписаны на: ничего", nil)
		return nil
	}
	titles := make([]string, len(topics))
	for i, topic := range topics {
		titles[i] = domain.TopicTitle(topic)
	}
	h.reply(ctx, chatID, "Вы подписаны на: "+strings.Join(titles, ", "), mySubscriptionsKeyboard(topics))
	return nil
}

func (h *Handler) handleJoke(ctx context.Context, chatID, userID int64) error {
	subscribed, err := h.deps.Subscriptions.IsSubscribed(ctx, userID, domain.TopicJoke)
	if err != nil {
		h.log.Error().Err(err).Int64("user", userID).Msg("не удалось проверить подписку на шутки")
	}
	joke, err := h.deps.Content.Joke(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("не удалось получить анекдот")
		h.reply(ctx, chatID, textJokeFailed, jokeKeyboard(subscribed))
		return nil
	}
	h.reply(ctx, chatID, joke, jokeKeyboard(subscribed))
	return nil
}

func (h *Handler) toggleJoke(ctx context.Context, chatID, userID int64, subscribe bool) error {
	var err error
	if subscribe {
		err = h.deps.Subscriptions.Subscribe(ctx, userID, domain.TopicJoke)
	} else {
		err = h.deps.Subscriptions.Unsubscribe(ctx, userID, domain.TopicJoke)
	}
	if err != nil {
		h.reply(ctx, chatID, textTryLater, nil)
		return err
	}
	text := "Вы отписались от ежедневных анекдотов"
	if subscribe {
		text = "Вы подписались на ежедневные анекдоты"
	}
	h.reply(ctx, chatID, text, jokeKeyboard(subscribe))
	return nil
}

func (h *Handler) handleTarot(ctx context.Context, chatID, userID int64) error {
	res, err := h.deps.Quota.CheckAndConsume(ctx, userID)
	if err != nil {
		h.reply(ctx, chatID, textTryLater, nil)
		return err
	}
	if !res.Allowed {
		h.reply(ctx, chatID, "Бесплатные карты на этой неделе закончились. Новые появятся в понедельник, а с подпиской Premium ограничений нет.", limitKeyboard())
		return nil
	}

	card := h.deps.Deck.Draw()
	caption := fmt.Sprintf("🃏 %s (%s)\n\n%s", card.LocalizedName, card.Name, card.Meaning)
	if !res.IsUnlimited() {
		caption += fmt.Sprintf("\n\nОсталось бесплатных карт на этой неделе: %d", res.Remaining)
	}
	if err := h.tg.SendPhoto(ctx, chatID, card.ImageURL, caption, tarotKeyboard()); err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Msg("не удалось отправить карту")
	}
	return nil
}

func (h *Handler) handleReading(ctx context.Context, chatID int64) {
	text, err := h.deps.Reading.Fetch(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("не удалось получить расклад дня")
		h.reply(ctx, chatID, textReadingFailed, nil)
		return
	}
	if err := h.tg.SendMarkdown(ctx, chatID, text, nil); err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Msg("не удалось отправить расклад дня")
	}
}

func (h *Handler) elevated(ctx context.Context, userID int64) (bool, error) {
	if h.isAdmin(userID) {
		return true, nil
	}
	user, err := h.deps.Users.GetByTGID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return h.deps.Entitlements.Elevated(user), nil
}

func (h *Handler) handleSpreadMenu(ctx context.Context, chatID, userID int64) error {
	ok, err := h.elevated(ctx, userID)
	if err != nil {
		h.reply(ctx, chatID, textTryLater, nil)
		return err
	}
	if !ok {
		h.replyAstroRequired(ctx, chatID)
		return nil
	}
	var lines []string
	lines = append(lines, "Выберите расклад:")
	for _, s := range scraper.Spreads() {
		lines = append(lines, fmt.Sprintf("%s: %s", s.Title, s.Description))
	}
	h.reply(ctx, chatID, strings.Join(lines, "\n"), spreadsKeyboard(scraper.Spreads()))
	return nil
}

func (h *Handler) replyAstroRequired(ctx context.Context, chatID int64) {
	product, _ := domain.ProductByPayload("astro_30d")
	h.reply(ctx, chatID, "Расклады доступны с подпиской Astro.", productsKeyboard([]domain.Product{product}))
}

func (h *Handler) handleSpread(ctx context.Context, chatID, userID int64, key string) error {
	spread, ok := scraper.SpreadByKey(key)
	if !ok {
		return nil
	}
	allowed, err := h.elevated(ctx, userID)
	if err != nil {
		h.reply(ctx, chatID, textTryLater, nil)
		return err
	}
	if !allowed {
		h.replyAstroRequired(ctx, chatID)
		return nil
	}
	text, err := h.deps.Spreads.Fetch(ctx, key)
	if err != nil {
		h.log.Warn().Err(err).Str("spread", key).Msg("не удалось получить расклад")
		h.reply(ctx, chatID, textSpreadFailed, nil)
		return nil
	}
	header := fmt.Sprintf("<b>%s</b>\n<i>%s</i>\n\n", html.EscapeString(spread.Title), html.EscapeString(spread.Description))
	if err := h.tg.SendHTML(ctx, chatID, header+text, nil); err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Msg("не удалось отправить расклад")
	}
	return nil
}

func (h *Handler) handlePremium(ctx context.Context, chatID, userID int64) error {
	user, err := h.deps.Users.GetByTGID(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		h.reply(ctx, chatID, textTryLater, nil)
		return err
	}
	user.TGUserID = userID

	lines := []string{
		h.tierLine(user, domain.TierPremium, "Premium"),
		h.tierLine(user, domain.TierAstro, "Astro"),
	}
	if peek := h.deps.Quota.Peek(user); peek.IsUnlimited() {
		lines = append(lines, "Карты Таро: без ограничений")
	} else {
		lines = append(lines, fmt.Sprintf("Бесплатных карт на этой неделе: %d", peek.Remaining))
	}
	lines = append(lines, "", "Premium открывает безлимитные карты Таро, Astro добавляет расклады.")
	h.reply(ctx, chatID, strings.Join(lines, "\n"), productsKeyboard(domain.Products()))
	return nil
}

func (h *Handler) tierLine(user domain.User, tier domain.Tier, name string) string {
	if !h.deps.Entitlements.Active(user, tier) {
		return name + ": не активна"
	}
	return fmt.Sprintf("%s: активна до %s", name, h.formatLocal(*user.ExpiryFor(tier)))
}

// formatLocal печатает время в поясе бота с подписью пояса.
func (h *Handler) formatLocal(t time.Time) string {
	local := t.In(h.deps.Location)
	zone := local.Format("MST")
	if h.deps.Location.String() == "Europe/Moscow" {
		zone = "МСК"
	}
	return fmt.Sprintf("%s (%s)", local.Format(dateLayout), zone)
}

func (h *Handler) handleSubscribers(ctx context.Context, chatID int64) error {
	stats, err := h.deps.Subscriptions.Stats(ctx)
	if err != nil {
		h.reply(ctx, chatID, textTryLater, nil)
		return err
	}
	lines := []string{fmt.Sprintf("Всего пользователей: %d", stats.TotalUsers)}
	for _, topic := range subscriptions.SortedTopics(stats.ByTopic) {
		lines = append(lines, fmt.Sprintf("%s: %d", domain.TopicTitle(topic), stats.ByTopic[topic]))
	}
	h.reply(ctx, chatID, strings.Join(lines, "\n"), nil)
	return nil
}

func (h *Handler) handleSendNow(ctx context.Context, chatID int64) error {
	n, err := h.deps.Broadcast.Horoscopes(ctx, domain.BroadcastCauseManual)
	if err != nil {
		h.reply(ctx, chatID, "Не удалось запустить рассылку", nil)
		return err
	}
	h.reply(ctx, chatID, fmt.Sprintf("Рассылка отправлена (знаков: %d)", n), nil)
	return nil
}

func (h *Handler) sendInvoice(ctx context.Context, chatID int64, product domain.Product) {
	if err := h.tg.SendInvoice(ctx, chatID, product); err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Str("product", product.Payload).Msg("не удалось выставить счёт")
		h.reply(ctx, chatID, "Не удалось выставить счёт. Попробуйте позже.", nil)
	}
}

func (h *Handler) handlePreCheckout(ctx context.Context, q *tgbotapi.PreCheckoutQuery) error {
	_, err := h.deps.Payments.Validate(q.InvoicePayload, q.Currency, q.TotalAmount)
	if err != nil {
		h.log.Warn().Err(err).Str("payload", q.InvoicePayload).Msg("отклонён pre-checkout")
	}
	if ansErr := h.tg.AnswerPreCheckout(ctx, q.ID, err == nil, "Не удалось проверить оплату. Попробуйте ещё раз."); ansErr != nil {
		h.log.Error().Err(ansErr).Msg("не удалось ответить на pre-checkout")
	}
	return nil
}

func (h *Handler) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return errors.New("successful payment without sender")
	}
	sp := msg.SuccessfulPayment
	receipt, err := h.deps.Payments.Complete(ctx, domain.Payment{
		TGUserID:         msg.From.ID,
		ChargeID:         sp.TelegramPaymentChargeID,
		ProviderChargeID: sp.ProviderPaymentChargeID,
		Payload:          sp.InvoicePayload,
		Currency:         sp.Currency,
		Amount:           sp.TotalAmount,
	})
	if err != nil {
		h.reply(ctx, msg.Chat.ID, "Платёж получен, но подписку не удалось активировать. Напишите администратору.", nil)
		return fmt.Errorf("complete payment %s: %w", sp.TelegramPaymentChargeID, err)
	}
	if receipt.Duplicate {
		h.log.Info().Str("charge", sp.TelegramPaymentChargeID).Msg("повторное уведомление о платеже")
		return nil
	}
	h.reply(ctx, msg.Chat.ID, fmt.Sprintf("Спасибо! %s активна до %s.", receipt.Product.Title, h.formatLocal(receipt.ExpiresAt)), nil)
	return nil
}

func (h *Handler) isAdmin(userID int64) bool {
	return h.deps.AdminID != 0 && userID == h.deps.AdminID
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string, markup any) {
	if err := h.tg.SendText(ctx, chatID, text, markup); err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Msg("не удалось отправить сообщение")
	}
}

// commandOf возвращает команду без аргументов и суффикса @botname.
func commandOf(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd
}

const helpText = `Я присылаю гороскопы, анекдоты и карты Таро.

/start — начать работу
/list — выбрать знак зодиака
/me — мои подписки
/joke — случайный анекдот
/tarot — карта Таро (10 бесплатных в неделю)
/spread — расклады Таро (подписка Astro)
/premium — подписка и оплата
/help — эта справка

Гороскоп по подписке приходит каждый день в 11:00 по Москве.`
