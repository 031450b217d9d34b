// Package intake решает, допускать ли входящий апдейт к обработке:
// отсекает повторы по update_id и устаревшие апдейты.
package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"horo-bot/internal/domain"
)

// Decision: результат приёма апдейта.
type Decision string

const (
	Accepted  Decision = "accepted"
	Duplicate Decision = "duplicate"
	Stale     Decision = "stale"
	// Unfenced: апдейт без числового update_id, отклонённый политикой.
	Unfenced Decision = "unfenced"
)

// Gate объединяет идемпотентность и фильтр устаревания.
type Gate struct {
	updates       domain.ProcessedUpdateRepo
	maxAge        time.Duration
	admitUnfenced bool
	now           func() time.Time
	log           zerolog.Logger
}

// Option настраивает Gate.
type Option func(*Gate)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithUnfencedAdmission пропускает апдейты без update_id как новые.
func WithUnfencedAdmission(admit bool) Option {
	return func(g *Gate) { g.admitUnfenced = admit }
}

// NewGate создаёт Gate.
func NewGate(updates domain.ProcessedUpdateRepo, maxAge time.Duration, log zerolog.Logger, opts ...Option) *Gate {
	g := &Gate{updates: updates, maxAge: maxAge, now: time.Now, log: log}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TryAdmit возвращает true только для первой попытки с данным updateID.
func (g *Gate) TryAdmit(ctx context.Context, updateID int64) (bool, error) {
	inserted, err := g.updates.InsertProcessedUpdate(ctx, updateID)
	if err != nil {
		return false, fmt.Errorf("insert processed update: %w", err)
	}
	return inserted, nil
}

// Admit проверяет сырой документ апдейта. Ошибка возвращается только при сбое хранилища.
func (g *Gate) Admit(ctx context.Context, raw map[string]any) (Decision, error) {
	updateID, ok := ExtractUpdateID(raw)
	if !ok {
		if !g.admitUnfenced {
			g.log.Warn().Msg("intake: апдейт без update_id отклонён")
			return Unfenced, nil
		}
		g.log.Warn().Msg("intake: апдейт без update_id принят без проверки повторов")
	} else {
		admitted, err := g.TryAdmit(ctx, updateID)
		if err != nil {
			return "", err
		}
		if !admitted {
			return Duplicate, nil
		}
	}

	ts := ExtractTimestamp(raw)
	if IsStale(ts, g.now().Unix(), int64(g.maxAge/time.Second)) {
		g.log.Info().Int64("update_id", updateID).Int64("date", ts).Msg("intake: устаревший апдейт пропущен")
		return Stale, nil
	}
	return Accepted, nil
}

// IsStale сообщает, старше ли апдейт порога. Нулевая метка означает отсутствие даты
// и никогда не считается устаревшей.
func IsStale(embedded, now, maxAgeSeconds int64) bool {
	if embedded <= 0 {
		return false
	}
	return now-embedded > maxAgeSeconds
}

// ExtractUpdateID достаёт числовой update_id.
func ExtractUpdateID(raw map[string]any) (int64, bool) {
	value, ok := raw["update_id"]
	if !ok || value == nil {
		return 0, false
	}
	if _, isBool := value.(bool); isBool {
		return 0, false
	}
	id, err := cast.ToInt64E(value)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ExtractTimestamp ищет дату в message, edited_message или callback_query.message.
// Возвращает 0, если даты нет.
func ExtractTimestamp(raw map[string]any) int64 {
	for _, key := range []string{"message", "edited_message"} {
		if ts := dateOf(raw[key]); ts > 0 {
			return ts
		}
	}
	if cb, ok := raw["callback_query"].(map[string]any); ok {
		if ts := dateOf(cb["message"]); ts > 0 {
			return ts
		}
	}
	return 0
}

func dateOf(v any) int64 {
	obj, ok := v.(map[string]any)
	if !ok {
		return 0
	}
	ts, err := cast.ToInt64E(obj["date"])
	if err != nil {
		return 0
	}
	return ts
}
