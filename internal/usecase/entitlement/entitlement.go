// Package entitlement проверяет и продлевает платные уровни подписки.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"horo-bot/internal/domain"
)

// ErrInvalidDays возвращается при попытке продлить подписку на неположительный срок.
var ErrInvalidDays = errors.New("days must be positive")

// ErrUnknownTier возвращается для неизвестного уровня.
var ErrUnknownTier = errors.New("unknown tier")

// IsActive сообщает, действует ли срок на момент now.
func IsActive(expiry *time.Time, now time.Time) bool {
	return expiry != nil && expiry.After(now)
}

// NextExpiry считает новый срок: отсчёт идёт от max(now, current).
func NextExpiry(now time.Time, current *time.Time, days int) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	return base.Add(time.Duration(days) * 24 * time.Hour)
}

// Resolver проверяет и продлевает уровни подписки.
type Resolver struct {
	repo domain.EntitlementRepo
	now  func() time.Time
}

// NewResolver создаёт Resolver.
func NewResolver(repo domain.EntitlementRepo, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{repo: repo, now: now}
}

// Entitled сообщает, действует ли хотя бы один уровень.
func (r *Resolver) Entitled(u domain.User) bool {
	now := r.now()
	return IsActive(u.PremiumUntil, now) || IsActive(u.AstroUntil, now)
}

// Elevated сообщает, действует ли расширенный уровень.
func (r *Resolver) Elevated(u domain.User) bool {
	return IsActive(u.AstroUntil, r.now())
}

// Active сообщает, действует ли уровень tier.
func (r *Resolver) Active(u domain.User, tier domain.Tier) bool {
	return IsActive(u.ExpiryFor(tier), r.now())
}

// Extend продлевает уровень на days дней и возвращает новый срок.
func (r *Resolver) Extend(ctx context.Context, tgUserID int64, tier domain.Tier, days int) (time.Time, error) {
	if !tier.Valid() {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	if days <= 0 {
		return time.Time{}, ErrInvalidDays
	}
	now := r.now().UTC()
	expiry, err := r.repo.ExtendEntitlement(ctx, tgUserID, tier, func(current *time.Time) time.Time {
		return NextExpiry(now, current, days)
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("extend %s: %w", tier, err)
	}
	return expiry, nil
}
