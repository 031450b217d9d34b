package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horo-bot/internal/domain"
	"horo-bot/internal/usecase/debounce"
	"horo-bot/internal/usecase/entitlement"
	"horo-bot/internal/usecase/payments"
	"horo-bot/internal/usecase/quota"
	"horo-bot/internal/usecase/subscriptions"
)

type sent struct {
	kind   string
	chatID int64
	text   string
	markup any
}

type fakeTransport struct {
	mu        sync.Mutex
	sent      []sent
	acks      []string
	invoices  []string
	checkouts []bool
}

func (f *fakeTransport) record(kind string, chatID int64, text string, markup any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{kind: kind, chatID: chatID, text: text, markup: markup})
	return nil
}

func (f *fakeTransport) SendText(_ context.Context, chatID int64, text string, markup any) error {
	return f.record("text", chatID, text, markup)
}

func (f *fakeTransport) SendHTML(_ context.Context, chatID int64, text string, markup any) error {
	return f.record("html", chatID, text, markup)
}

func (f *fakeTransport) SendMarkdown(_ context.Context, chatID int64, text string, markup any) error {
	return f.record("markdown", chatID, text, markup)
}

func (f *fakeTransport) SendPhoto(_ context.Context, chatID int64, _, caption string, markup any) error {
	return f.record("photo", chatID, caption, markup)
}

func (f *fakeTransport) EditText(_ context.Context, chatID int64, _ int, text string, _ *tgbotapi.InlineKeyboardMarkup) error {
	return f.record("edit", chatID, text, nil)
}

func (f *fakeTransport) EditMarkup(_ context.Context, chatID int64, _ int, markup tgbotapi.InlineKeyboardMarkup) error {
	return f.record("markup", chatID, "", markup)
}

func (f *fakeTransport) AnswerCallback(_ context.Context, id, text string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, id+"|"+text)
	return nil
}

func (f *fakeTransport) SendInvoice(_ context.Context, _ int64, product domain.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices = append(f.invoices, product.Payload)
	return nil
}

func (f *fakeTransport) AnswerPreCheckout(_ context.Context, _ string, ok bool, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, ok)
	return nil
}

func (f *fakeTransport) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sent{}
	}
	return f.sent[len(f.sent)-1]
}

type store struct {
	users    map[int64]domain.User
	subs     map[int64]map[string]bool
	payments map[string]bool

	extensions int
}

func newStore() *store {
	return &store{users: map[int64]domain.User{}, subs: map[int64]map[string]bool{}, payments: map[string]bool{}}
}

func (s *store) UpsertByTGID(_ context.Context, p domain.TelegramProfile) (domain.User, error) {
	u := s.users[p.TGUserID]
	u.TGUserID = p.TGUserID
	u.Username = p.Username
	s.users[p.TGUserID] = u
	return u, nil
}

func (s *store) GetByTGID(_ context.Context, id int64) (domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *store) CountUsers(context.Context) (int, error) { return len(s.users), nil }

func (s *store) SetSubscription(_ context.Context, id int64, topic string, active bool) error {
	if s.subs[id] == nil {
		s.subs[id] = map[string]bool{}
	}
	s.subs[id][topic] = active
	return nil
}

func (s *store) DeactivateAll(_ context.Context, id int64) (int, error) {
	n := 0
	for topic, active := range s.subs[id] {
		if active {
			s.subs[id][topic] = false
			n++
		}
	}
	return n, nil
}

func (s *store) ListActiveTopics(_ context.Context, id int64) ([]string, error) {
	var out []string
	for topic, active := range s.subs[id] {
		if active {
			out = append(out, topic)
		}
	}
	return out, nil
}

func (s *store) CountActiveByTopic(context.Context) (map[string]int, error) {
	out := map[string]int{}
	for _, topics := range s.subs {
		for topic, active := range topics {
			if active {
				out[topic]++
			}
		}
	}
	return out, nil
}

func (s *store) ListRecipientsByTopic(context.Context) (map[string][]int64, error) {
	return nil, nil
}

func (s *store) CompletePayment(_ context.Context, p domain.Payment, _ domain.Tier, next func(*time.Time) time.Time) (time.Time, bool, error) {
	if s.payments[p.ChargeID] {
		return time.Time{}, false, nil
	}
	s.payments[p.ChargeID] = true
	s.extensions++
	return next(nil), true, nil
}

type stubQuota struct {
	result quota.Result
	err    error
	calls  int
}

func (q *stubQuota) CheckAndConsume(context.Context, int64) (quota.Result, error) {
	q.calls++
	return q.result, q.err
}

func (q *stubQuota) Peek(domain.User) quota.Result { return q.result }

type stubEntitlements struct{ elevated bool }

var stubNow = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func (e stubEntitlements) Entitled(domain.User) bool { return e.elevated }
func (e stubEntitlements) Elevated(domain.User) bool { return e.elevated }
func (e stubEntitlements) Active(u domain.User, tier domain.Tier) bool {
	return entitlement.IsActive(u.ExpiryFor(tier), stubNow)
}

type stubContent struct {
	horoscope string
	err       error
}

func (c stubContent) Horoscope(context.Context, string) (string, error) { return c.horoscope, c.err }
func (c stubContent) Joke(context.Context) (string, error)             { return "Шутка", c.err }

type stubFetch struct {
	text string
	err  error
}

func (s stubFetch) Fetch(context.Context) (string, error) { return s.text, s.err }

type stubSpreads struct{ calls int }

func (s *stubSpreads) Fetch(context.Context, string) (string, error) {
	s.calls++
	return "карты", nil
}

type stubDeck struct{}

func (stubDeck) Draw() domain.Card {
	return domain.Card{Name: "The Fool", LocalizedName: "Шут", Meaning: "Начало пути", ImageURL: "http://img/ar00.jpg"}
}

type stubPlanner struct{ calls int }

func (p *stubPlanner) Horoscopes(context.Context, domain.BroadcastCause) (int, error) {
	p.calls++
	return 12, nil
}

type fixture struct {
	h       *Handler
	tg      *fakeTransport
	store   *store
	quota   *stubQuota
	spreads *stubSpreads
	planner *stubPlanner
}

const adminID = 999

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		tg:      &fakeTransport{},
		store:   newStore(),
		quota:   &stubQuota{result: quota.Result{Allowed: true, Remaining: 9}},
		spreads: &stubSpreads{},
		planner: &stubPlanner{},
	}
	deps := Deps{
		AdminID:       adminID,
		Users:         f.store,
		Subscriptions: subscriptions.NewService(f.store, f.store),
		Payments:      payments.NewService(f.store, nil),
		Quota:         f.quota,
		Entitlements:  stubEntitlements{},
		Debouncer:     debounce.New(time.Second, 100),
		Content:       stubContent{horoscope: "Хороший день"},
		Reading:       stubFetch{text: "расклад"},
		Spreads:       f.spreads,
		Deck:          stubDeck{},
		Broadcast:     f.planner,
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.h = NewHandler(f.tg, zerolog.Nop(), deps)
	return f
}

func message(userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{UpdateID: 1, Message: &tgbotapi.Message{
		MessageID: 10,
		From:      &tgbotapi.User{ID: userID, UserName: "user"},
		Chat:      &tgbotapi.Chat{ID: userID},
		Text:      text,
	}}
}

func callback(userID int64, id, data string) tgbotapi.Update {
	return tgbotapi.Update{UpdateID: 2, CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      id,
		From:    &tgbotapi.User{ID: userID},
		Message: &tgbotapi.Message{MessageID: 11, Chat: &tgbotapi.Chat{ID: userID}},
		Data:    data,
	}}
}

func TestCommandOf(t *testing.T) {
	assert.Equal(t, "/start", commandOf("/start"))
	assert.Equal(t, "/start", commandOf("/start@horo_bot payload"))
	assert.Equal(t, "", commandOf("start"))
}

func TestStartRegistersAndShowsSigns(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.h.HandleUpdate(context.Background(), message(1, "/start")))

	_, ok := f.store.users[1]
	assert.True(t, ok)
	last := f.tg.last()
	assert.Equal(t, "Привет! Выберите знак зодиака:", last.text)
	kb, ok := last.markup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Len(t, kb.InlineKeyboard, 4)
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.h.HandleUpdate(context.Background(), message(1, "/nope")))
	assert.Equal(t, textUnknownCommand, f.tg.last().text)
}

func TestAdminCommandsHiddenFromUsers(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.h.HandleUpdate(context.Background(), message(1, "/send_now")))
	assert.Equal(t, textUnknownCommand, f.tg.last().text)
	assert.Zero(t, f.planner.calls)

	require.NoError(t, f.h.HandleUpdate(context.Background(), message(adminID, "/send_now")))
	assert.Equal(t, 1, f.planner.calls)
	assert.Contains(t, f.tg.last().text, "12")
}

func TestSubscribersStats(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.h.HandleUpdate(ctx, message(1, "/start")))
	require.NoError(t, f.h.HandleUpdate(ctx, callback(1, "c1", "sub:aries")))
	require.NoError(t, f.h.HandleUpdate(ctx, message(adminID, "/subscribers")))

	text := f.tg.last().text
	assert.True(t, strings.HasPrefix(text, "Всего пользователей: 1"))
	assert.Contains(t, text, domain.TopicTitle("aries")+": 1")
}

func TestMeListsSubscriptions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.h.HandleUpdate(ctx, message(1, "/me")))
	assert.Equal(t, "Вы подписаны на: ничего", f.tg.last().text)

	require.NoError(t, f.h.HandleUpdate(ctx, callback(1, "c1", "sub:leo")))
	require.NoError(t, f.h.HandleUpdate(ctx, message(1, "/me")))
	assert.Equal(t, "Вы подписаны на: "+domain.TopicTitle("leo"), f.tg.last().text)
}

func TestJokeLabelsToggleSubscription(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.h.HandleUpdate(ctx, message(1, jokeSubscribeLabel)))
	assert.True(t, f.store.subs[1][domain.TopicJoke])
	kb := f.tg.last().markup.(tgbotapi.ReplyKeyboardMarkup)
	assert.Equal(t, jokeUnsubscribeLabel, kb.Keyboard[0][0].Text)

	require.NoError(t, f.h.HandleUpdate(ctx, message(1, jokeUnsubscribeLabel)))
	assert.False(t, f.store.subs[1][domain.TopicJoke])
}

func TestTarotShowsRemaining(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.h.HandleUpdate(context.Background(), message(1, "/tarot")))
	last := f.tg.last()
	assert.Equal(t, "photo", last.kind)
	assert.Contains(t, last.text, "🃏 Шут (The Fool)")
	assert.Contains(t, last.text, "Осталось бесплатных карт на этой неделе: 9")
}

func TestTarotUnlimitedOmitsCounter(t *testing.T) {
	f := newFixture(t, nil)
	f.quota.result = quota.Result{Allowed: true, Remaining: quota.Unlimited}
	require.NoError(t, f.h.HandleUpdate(context.Background(), message(1, "/tarot")))
	assert.NotContains(t, f.tg.last().text, "Осталось")
}

func TestTarotDenied(t *testing.T) {
	f := newFixture(t, nil)
	f.quota.result = quota.Result{Allowed: false}
	require.NoError(t, f.h.HandleUpdate(context.Background(), message(1, "/tarot")))
	last := f.tg.last()
	assert.Equal(t, "text", last.kind)
	assert.Equal(t, limitKeyboard(), last.markup)
}

func TestCallbackAnsweredOnce(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.h.HandleUpdate(context.Background(), callback(1, "c1", "sub:aries")))
	require.Len(t, f.tg.acks, 1)
	assert.Equal(t, "c1|Вы подписались на "+domain.TopicTitle("aries"), f.tg.acks[0])
}

func TestDuplicateCallbackIsAckedSilently(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.h.HandleUpdate(ctx, callback(1, "c1", "tarot:draw")))
	require.NoError(t, f.h.HandleUpdate(ctx, callback(1, "c2", "tarot:draw")))

	assert.Equal(t, 1, f.quota.calls)
	assert.Equal(t, []string{"c1|", "c2|"}, f.tg.acks)
}

func TestUnknownCallbackAcked(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.h.HandleUpdate(context.Background(), callback(1, "c1", "whatever")))
	assert.Equal(t, []string{"c1|"}, f.tg.acks)
	assert.Empty(t, f.tg.sent)
}

func TestUnsubscribeAll(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.h.HandleUpdate(ctx, callback(1, "c1", "unsub:all")))
	assert.Equal(t, "c1|Вы не были подписаны", f.tg.acks[0])

	require.NoError(t, f.h.HandleUpdate(ctx, callback(1, "c2", "sub:aries")))
	require.NoError(t, f.h.HandleUpdate(ctx, callback(1, "c3", "unsub:all")))
	assert.Equal(t, "c3|Отписались от всех", f.tg.acks[2])
	assert.False(t, f.store.subs[1]["aries"])
}

func TestSignShowsHoroscope(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.h.HandleUpdate(context.Background(), callback(1, "c1", "sign:aries")))
	last := f.tg.last()
	assert.Contains(t, last.text, "Хороший день")
	assert.Equal(t, signDetailKeyboard("aries", false), last.markup)
}

func TestSignFailureText(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Content = stubContent{err: errors.New("down")} })
	require.NoError(t, f.h.HandleUpdate(context.Background(), callback(1, "c1", "sign:aries")))
	assert.Equal(t, textHoroscopeFailed, f.tg.last().text)
}

func TestSpreadRequiresAstro(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.h.HandleUpdate(ctx, callback(1, "c1", "spread:three_cards")))
	assert.Zero(t, f.spreads.calls)
	assert.Contains(t, f.tg.last().text, "Astro")

	f = newFixture(t, func(d *Deps) { d.Entitlements = stubEntitlements{elevated: true} })
	f.store.users[1] = domain.User{TGUserID: 1}
	require.NoError(t, f.h.HandleUpdate(ctx, callback(1, "c1", "spread:three_cards")))
	assert.Equal(t, 1, f.spreads.calls)
	assert.Equal(t, "html", f.tg.last().kind)
}

func TestBuyCallbackSendsInvoice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.h.HandleUpdate(ctx, callback(1, "c1", "buy:astro_30d")))
	require.NoError(t, f.h.HandleUpdate(ctx, callback(1, "c2", "tarot:buy")))
	assert.Equal(t, []string{"astro_30d", "premium_30d"}, f.tg.invoices)

	require.NoError(t, f.h.HandleUpdate(ctx, callback(1, "c3", "buy:unknown")))
	assert.Equal(t, "c3|Товар не найден", f.tg.acks[2])
}

func TestPremiumStatusUsesResolverClock(t *testing.T) {
	f := newFixture(t, nil)
	premium := stubNow.Add(48 * time.Hour)
	astro := stubNow.Add(-time.Hour)
	f.store.users[1] = domain.User{TGUserID: 1, PremiumUntil: &premium, AstroUntil: &astro}

	require.NoError(t, f.h.HandleUpdate(context.Background(), message(1, "/premium")))
	text := f.tg.last().text
	assert.Contains(t, text, "Premium: активна до 03.02.2026 09:00 (UTC)")
	assert.Contains(t, text, "Astro: не активна")
}

func TestFormatLocalLabelsMoscow(t *testing.T) {
	msk, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	f := newFixture(t, func(d *Deps) { d.Location = msk })
	assert.Equal(t, "01.02.2026 12:00 (МСК)", f.h.formatLocal(stubNow))
}

func TestPreCheckout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ok := tgbotapi.Update{PreCheckoutQuery: &tgbotapi.PreCheckoutQuery{ID: "q1", Currency: "XTR", TotalAmount: 50, InvoicePayload: "premium_30d"}}
	bad := tgbotapi.Update{PreCheckoutQuery: &tgbotapi.PreCheckoutQuery{ID: "q2", Currency: "XTR", TotalAmount: 1, InvoicePayload: "premium_30d"}}
	require.NoError(t, f.h.HandleUpdate(ctx, ok))
	require.NoError(t, f.h.HandleUpdate(ctx, bad))
	assert.Equal(t, []bool{true, false}, f.tg.checkouts)
}

func TestSuccessfulPaymentExtendsOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	upd := message(1, "")
	upd.Message.SuccessfulPayment = &tgbotapi.SuccessfulPayment{
		Currency:                "XTR",
		TotalAmount:             50,
		InvoicePayload:          "premium_30d",
		TelegramPaymentChargeID: "charge-1",
	}
	require.NoError(t, f.h.HandleUpdate(ctx, upd))
	require.NoError(t, f.h.HandleUpdate(ctx, upd))

	assert.Equal(t, 1, f.store.extensions)
	require.Len(t, f.tg.sent, 1)
	assert.Contains(t, f.tg.sent[0].text, "Спасибо!")
}

func TestPanicIsRecovered(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Deck = nil })
	err := f.h.HandleUpdate(context.Background(), message(1, "/tarot"))
	require.ErrorIs(t, err, ErrHandlerPanic)
}

func TestUnknownSignRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.h.HandleUpdate(ctx, callback(1, "c1", "sign:Aries")))
	require.NoError(t, f.h.HandleUpdate(ctx, callback(1, "c2", "sub:ophiuchus")))

	assert.Equal(t, []string{"c1|" + textUnknownSign, "c2|" + textUnknownSign}, f.tg.acks)
	assert.Empty(t, f.tg.sent)
	assert.Empty(t, f.store.subs)
}
