// Package quota ведёт недельный лимит раскладов Таро.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"horo-bot/internal/domain"
	"horo-bot/internal/infra/metrics"
)

const (
	// DefaultWeeklyLimit: бесплатных карт в неделю.
	DefaultWeeklyLimit = 10
	// Unlimited: значение остатка для администраторов и подписчиков.
	Unlimited = 999
)

// ErrInvalidUser возвращается для нулевого идентификатора пользователя.
var ErrInvalidUser = errors.New("invalid user id")

// Result: решение по запросу.
type Result struct {
	Allowed   bool
	Remaining int
}

// IsUnlimited сообщает, что лимит не применялся.
func (r Result) IsUnlimited() bool {
	return r.Remaining == Unlimited
}

var unlimited = Result{Allowed: true, Remaining: Unlimited}

type userReader interface {
	GetByTGID(ctx context.Context, tgUserID int64) (domain.User, error)
}

type entitlementChecker interface {
	Entitled(u domain.User) bool
}

// Tracker списывает попытки из недельного лимита.
type Tracker struct {
	repo         domain.QuotaRepo
	users        userReader
	entitlements entitlementChecker
	adminID      int64
	limit        int
	loc          *time.Location
	now          func() time.Time
}

// Config задаёт параметры Tracker.
type Config struct {
	AdminID  int64
	Limit    int
	Location *time.Location
	Now      func() time.Time
}

// NewTracker создаёт Tracker.
func NewTracker(repo domain.QuotaRepo, users userReader, entitlements entitlementChecker, cfg Config) *Tracker {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultWeeklyLimit
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		repo:         repo,
		users:        users,
		entitlements: entitlements,
		adminID:      cfg.AdminID,
		limit:        cfg.Limit,
		loc:          cfg.Location,
		now:          cfg.Now,
	}
}

// Limit возвращает недельный лимит.
func (t *Tracker) Limit() int { return t.limit }

// CheckAndConsume проверяет лимит и, если он не исчерпан, списывает одну попытку.
// Администраторы и подписчики проходят без записи в хранилище.
func (t *Tracker) CheckAndConsume(ctx context.Context, tgUserID int64) (Result, error) {
	if tgUserID == 0 {
		return Result{}, ErrInvalidUser
	}
	if t.adminID != 0 && tgUserID == t.adminID {
		metrics.IncQuota("bypass_admin")
		return unlimited, nil
	}

	user, err := t.users.GetByTGID(ctx, tgUserID)
	switch {
	case err == nil:
		if t.entitlements.Entitled(user) {
			metrics.IncQuota("bypass_entitled")
			return unlimited, nil
		}
	case errors.Is(err, domain.ErrNotFound):
	default:
		return Result{}, fmt.Errorf("get user: %w", err)
	}

	weekStart := WeekStart(t.now(), t.loc)
	var res Result
	err = t.repo.UpdateQuota(ctx, tgUserID, func(state domain.QuotaState) (domain.QuotaState, error) {
		var next domain.QuotaState
		next, res = Consume(state, weekStart, t.limit)
		return next, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("update quota: %w", err)
	}
	if res.Allowed {
		metrics.IncQuota("allowed")
	} else {
		metrics.IncQuota("denied")
	}
	return res, nil
}

// Peek считает остаток без списания.
func (t *Tracker) Peek(u domain.User) Result {
	if (t.adminID != 0 && u.TGUserID == t.adminID) || t.entitlements.Entitled(u) {
		return unlimited
	}
	used := u.WeeklyCount
	if u.WeekStart == nil || !sameDate(*u.WeekStart, WeekStart(t.now(), t.loc)) {
		used = 0
	}
	remaining := t.limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: remaining > 0, Remaining: remaining}
}

// Consume применяет ленивый сброс недели и списание к состоянию счётчика.
func Consume(state domain.QuotaState, weekStart time.Time, limit int) (domain.QuotaState, Result) {
	if state.WeekStart == nil || !sameDate(*state.WeekStart, weekStart) {
		ws := weekStart
		state.WeekStart = &ws
		state.WeeklyCount = 0
	}
	if state.WeeklyCount >= limit {
		return state, Result{Allowed: false, Remaining: 0}
	}
	state.WeeklyCount++
	return state, Result{Allowed: true, Remaining: limit - state.WeeklyCount}
}

// WeekStart возвращает понедельник недели, содержащей t в часовом поясе loc.
// Результат: календарная дата в UTC на полночь.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	offset := (int(local.Weekday()) + 6) % 7
	y, m, d := local.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, time.UTC)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
