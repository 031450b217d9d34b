package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horo-bot/internal/infra/pool"
	"horo-bot/internal/usecase/intake"
)

type memUpdates struct {
	mu   sync.Mutex
	seen map[int64]bool
	err  error
}

func (m *memUpdates) InsertProcessedUpdate(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

type recordingHandler struct {
	mu  sync.Mutex
	ids []int
	err error
}

func (h *recordingHandler) HandleUpdate(_ context.Context, upd tgbotapi.Update) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids = append(h.ids, upd.UpdateID)
	return h.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

const secret = "s3cr3t"

type env struct {
	srv     *Server
	updates *memUpdates
	handler *recordingHandler
}

func newEnv(t *testing.T, limit int) *env {
	t.Helper()
	log := zerolog.Nop()
	e := &env{updates: &memUpdates{seen: map[int64]bool{}}, handler: &recordingHandler{}}
	now := time.Unix(1_700_000_000, 0)
	gate := intake.NewGate(e.updates, 5*time.Minute, log, intake.WithClock(func() time.Time { return now }))
	wh := NewWebhook(secret, gate, e.handler, pool.New(4, log), time.Second, log)
	e.srv = NewServer(log, stubPinger{})
	e.srv.MountWebhook(wh, NewRateLimiter(nil, limit, time.Minute, log))
	return e
}

func (e *env) post(path, body string, header bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if header {
		req.Header.Set(SecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	e.srv.Router.ServeHTTP(rec, req)
	return rec
}

const update = `{"update_id":42,"message":{"message_id":1,"date":1700000000,"chat":{"id":7,"type":"private"},"from":{"id":7,"is_bot":false,"first_name":"A"},"text":"/start"}}`

func TestWebhookRejectsWrongSecret(t *testing.T) {
	e := newEnv(t, 0)
	rec := e.post("/webhook", update, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Forbidden"}`, rec.Body.String())

	rec = e.post("/webhook/wrong", update, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, e.handler.ids)
}

func TestWebhookDispatchesOnce(t *testing.T) {
	e := newEnv(t, 0)
	rec := e.post("/webhook", update, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = e.post("/webhook/"+secret, update, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{42}, e.handler.ids)
}

func TestWebhookAcksMalformed(t *testing.T) {
	e := newEnv(t, 0)
	for _, body := range []string{`{not json`, `{"message":{"text":"x"}}`, `{"update_id":"abc"}`} {
		rec := e.post("/webhook", body, true)
		assert.Equal(t, http.StatusOK, rec.Code, body)
	}
	assert.Empty(t, e.handler.ids)
}

func TestWebhookSkipsStale(t *testing.T) {
	e := newEnv(t, 0)
	stale := `{"update_id":43,"message":{"message_id":1,"date":1699990000,"chat":{"id":7,"type":"private"},"text":"/start"}}`
	rec := e.post("/webhook", stale, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, e.handler.ids)
}

func TestWebhookAcksHandlerFailure(t *testing.T) {
	e := newEnv(t, 0)
	e.handler.err = errors.New("boom")
	rec := e.post("/webhook", update, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, []int{42}, e.handler.ids)
}

func TestWebhookAcksStoreFailure(t *testing.T) {
	e := newEnv(t, 0)
	e.updates.err = errors.New("db down")
	rec := e.post("/webhook", update, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, e.handler.ids)
}

func TestWebhookRateLimitBeforeAuth(t *testing.T) {
	e := newEnv(t, 2)
	assert.Equal(t, http.StatusForbidden, e.post("/webhook", update, false).Code)
	assert.Equal(t, http.StatusOK, e.post("/webhook", update, true).Code)

	rec := e.post("/webhook", update, true)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Rate limit exceeded"}`, rec.Body.String())
}

func TestEmptySecretDisablesAuth(t *testing.T) {
	wh := NewWebhook("", nil, nil, nil, 0, zerolog.Nop())
	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	assert.True(t, wh.Authorized(req))
}

func TestRateLimitIgnoresForwardedFor(t *testing.T) {
	e := newEnv(t, 2)
	codes := map[int]int{}
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(update))
		req.RemoteAddr = "203.0.113.7:1234"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		rec := httptest.NewRecorder()
		e.srv.Router.ServeHTTP(rec, req)
		codes[rec.Code]++
	}
	assert.Equal(t, map[int]int{http.StatusForbidden: 2, http.StatusTooManyRequests: 8}, codes)
}
