package http

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"horo-bot/internal/infra/metrics"
	"horo-bot/internal/usecase/intake"
)

// SecretHeader: заголовок, в котором Telegram передаёт секрет вебхука.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxBodyBytes = 1 << 20

// UpdateHandler обрабатывает разобранный апдейт.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd tgbotapi.Update) error
}

type admitter interface {
	Admit(ctx context.Context, raw map[string]any) (intake.Decision, error)
}

type runner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Webhook принимает апдейты Telegram.
type Webhook struct {
	secret  string
	gate    admitter
	handler UpdateHandler
	pool    runner
	timeout time.Duration
	log     zerolog.Logger
}

// NewWebhook создаёт обработчик вебхука. Пустой secret отключает проверку.
func NewWebhook(secret string, gate admitter, handler UpdateHandler, pool runner, timeout time.Duration, log zerolog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 55 * time.Second
	}
	return &Webhook{secret: secret, gate: gate, handler: handler, pool: pool, timeout: timeout, log: log}
}

// Authorized проверяет секрет из заголовка или сегмента пути.
func (wh *Webhook) Authorized(r *http.Request) bool {
	if wh.secret == "" {
		return true
	}
	for _, candidate := range []string{r.Header.Get(SecretHeader), chi.URLParam(r, "secret")} {
		if candidate != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(wh.secret)) == 1 {
			return true
		}
	}
	return false
}

// ServeHTTP подтверждает любой апдейт после авторизации, даже если обработка не удалась.
func (wh *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !wh.Authorized(r) {
		metrics.IncWebhookRejected("forbidden")
		wh.log.Warn().Str("request_id", RequestID(r)).Str("remote", r.RemoteAddr).Msg("webhook: неверный секрет")
		WriteError(w, http.StatusForbidden, "Forbidden")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), wh.timeout)
	defer cancel()
	outcome := wh.process(ctx, r)
	metrics.IncUpdate(outcome)
	WriteJSON(w, http.StatusOK, Ack{OK: true})
}

func (wh *Webhook) process(ctx context.Context, r *http.Request) string {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		wh.log.Warn().Err(err).Msg("webhook: не удалось прочитать тело")
		return "malformed"
	}

	raw := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		wh.log.Warn().Err(err).Msg("webhook: некорректный JSON")
		return "malformed"
	}

	decision, err := wh.gate.Admit(ctx, raw)
	if err != nil {
		wh.log.Error().Err(err).Msg("webhook: хранилище апдейтов недоступно")
		return "error"
	}
	if decision != intake.Accepted {
		return string(decision)
	}

	var upd tgbotapi.Update
	if err := json.Unmarshal(body, &upd); err != nil {
		wh.log.Warn().Err(err).Msg("webhook: апдейт не разобран")
		return "malformed"
	}

	err = wh.pool.Do(ctx, func(ctx context.Context) error {
		return wh.handler.HandleUpdate(ctx, upd)
	})
	if err != nil {
		ev := wh.log.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			ev = wh.log.Warn()
		}
		ev.Err(err).Int("update_id", upd.UpdateID).Msg("webhook: ошибка обработки апдейта")
		return "failed"
	}
	return string(intake.Accepted)
}
