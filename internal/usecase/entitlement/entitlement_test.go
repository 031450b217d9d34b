package entitlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horo-bot/internal/domain"
)

type memRepo struct {
	users map[int64]*domain.User
}

func (m *memRepo) ExtendEntitlement(_ context.Context, tgUserID int64, tier domain.Tier, next func(*time.Time) time.Time) (time.Time, error) {
	u, ok := m.users[tgUserID]
	if !ok {
		u = &domain.User{TGUserID: tgUserID}
		m.users[tgUserID] = u
	}
	expiry := next(u.ExpiryFor(tier))
	switch tier {
	case domain.TierPremium:
		u.PremiumUntil = &expiry
	case domain.TierAstro:
		u.AstroUntil = &expiry
	}
	return expiry, nil
}

func ptr(t time.Time) *time.Time { return &t }

func TestIsActive(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.False(t, IsActive(nil, now))
	assert.False(t, IsActive(ptr(now), now))
	assert.False(t, IsActive(ptr(now.Add(-time.Second)), now))
	assert.True(t, IsActive(ptr(now.Add(time.Second)), now))
}

func TestExtendKeepsBankedDays(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := &memRepo{users: map[int64]*domain.User{
		1: {TGUserID: 1, PremiumUntil: ptr(now.Add(15 * 24 * time.Hour))},
	}}
	r := NewResolver(repo, func() time.Time { return now })

	expiry, err := r.Extend(context.Background(), 1, domain.TierPremium, 30)
	require.NoError(t, err)
	assert.Equal(t, now.Add(45*24*time.Hour), expiry)
}

func TestExtendExpiredStartsFromNow(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := &memRepo{users: map[int64]*domain.User{
		1: {TGUserID: 1, AstroUntil: ptr(now.Add(-5 * 24 * time.Hour))},
	}}
	r := NewResolver(repo, func() time.Time { return now })

	expiry, err := r.Extend(context.Background(), 1, domain.TierAstro, 30)
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*24*time.Hour), expiry)
}

func TestExtendNewUser(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := &memRepo{users: map[int64]*domain.User{}}
	r := NewResolver(repo, func() time.Time { return now })

	expiry, err := r.Extend(context.Background(), 5, domain.TierPremium, 30)
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*24*time.Hour), expiry)
	assert.True(t, r.Entitled(*repo.users[5]))
	assert.False(t, r.Elevated(*repo.users[5]))
}

func TestExtendValidation(t *testing.T) {
	r := NewResolver(&memRepo{users: map[int64]*domain.User{}}, nil)
	_, err := r.Extend(context.Background(), 1, domain.Tier("gold"), 30)
	assert.ErrorIs(t, err, ErrUnknownTier)
	_, err = r.Extend(context.Background(), 1, domain.TierPremium, 0)
	assert.ErrorIs(t, err, ErrInvalidDays)
}

func TestEntitledEitherTier(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := NewResolver(nil, func() time.Time { return now })
	future := ptr(now.Add(time.Hour))
	past := ptr(now.Add(-time.Hour))

	assert.False(t, r.Entitled(domain.User{}))
	assert.True(t, r.Entitled(domain.User{PremiumUntil: future}))
	assert.True(t, r.Entitled(domain.User{PremiumUntil: past, AstroUntil: future}))
	assert.True(t, r.Elevated(domain.User{AstroUntil: future}))
	assert.False(t, r.Elevated(domain.User{PremiumUntil: future, AstroUntil: past}))
}

func TestActiveUsesResolverClock(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := NewResolver(&memRepo{users: map[int64]*domain.User{}}, func() time.Time { return now })
	u := domain.User{PremiumUntil: ptr(now.Add(time.Hour)), AstroUntil: ptr(now.Add(-time.Hour))}
	assert.True(t, r.Active(u, domain.TierPremium))
	assert.False(t, r.Active(u, domain.TierAstro))
}
