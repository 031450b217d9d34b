package domain

import (
	"sort"
	"time"
)

// Tier описывает уровень платной подписки.
type Tier string

const (
	// TierPremium: базовый уровень: безлимитные карты Таро.
	TierPremium Tier = "premium"
	// TierAstro: расширенный уровень: расклады и всё из базового.
	TierAstro Tier = "astro"
)

// Valid сообщает, известен ли уровень.
func (t Tier) Valid() bool {
	return t == TierPremium || t == TierAstro
}

// ExpiryFor возвращает срок действия указанного уровня.
func (u User) ExpiryFor(t Tier) *time.Time {
	switch t {
	case TierPremium:
		return u.PremiumUntil
	case TierAstro:
		return u.AstroUntil
	}
	return nil
}

// StarsCurrency: валюта Telegram Stars.
const StarsCurrency = "XTR"

// Product описывает товар, продаваемый через инвойс.
type Product struct {
	Payload     string
	Tier        Tier
	Days        int
	Amount      int
	Title       string
	Description string
	Label       string
}

var products = map[string]Product{
	"premium_30d": {
		Payload:     "premium_30d",
		Tier:        TierPremium,
		Days:        30,
		Amount:      50,
		Title:       "Premium подписка Таро",
		Description: "Безлимитные предсказания Таро на 30 дней",
		Label:       "Premium 30 дней",
	},
	"astro_30d": {
		Payload:     "astro_30d",
		Tier:        TierAstro,
		Days:        30,
		Amount:      100,
		Title:       "Astro подписка",
		Description: "Расклады Таро и безлимитные карты на 30 дней",
		Label:       "Astro 30 дней",
	},
}

// ProductByPayload ищет товар по payload инвойса.
func ProductByPayload(payload string) (Product, bool) {
	p, ok := products[payload]
	return p, ok
}

// Products возвращает все товары, отсортированные по цене.
func Products() []Product {
	out := make([]Product, 0, len(products))
	for _, p := range products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Amount < out[j].Amount })
	return out
}
