// Package payments проверяет и проводит оплату подписок звёздами Telegram.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"horo-bot/internal/domain"
	"horo-bot/internal/infra/metrics"
	"horo-bot/internal/usecase/entitlement"
)

var (
	// ErrUnknownProduct: payload инвойса не соответствует ни одному товару.
	ErrUnknownProduct = errors.New("unknown product")
	// ErrPriceMismatch: сумма или валюта не совпадают с ценой товара.
	ErrPriceMismatch = errors.New("price mismatch")
)

// Receipt: результат проведения платежа.
type Receipt struct {
	Product   domain.Product
	ExpiresAt time.Time
	Duplicate bool
}

// Service проводит платежи.
type Service struct {
	repo domain.PaymentRepo
	now  func() time.Time
}

// NewService создаёт сервис платежей.
func NewService(repo domain.PaymentRepo, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, now: now}
}

// Validate проверяет запрос pre-checkout.
func (s *Service) Validate(payload, currency string, amount int) (domain.Product, error) {
	product, ok := domain.ProductByPayload(payload)
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: %q", ErrUnknownProduct, payload)
	}
	if currency != domain.StarsCurrency || amount != product.Amount {
		return domain.Product{}, fmt.Errorf("%w: %d %s", ErrPriceMismatch, amount, currency)
	}
	return product, nil
}

// Complete записывает успешный платёж и продлевает подписку одной транзакцией.
// Повторное уведомление с тем же charge id подписку не продлевает,
// а после неудачной попытки повтор продлевает её заново.
func (s *Service) Complete(ctx context.Context, p domain.Payment) (Receipt, error) {
	product, err := s.Validate(p.Payload, p.Currency, p.Amount)
	if err != nil {
		return Receipt{}, err
	}
	if p.ChargeID == "" {
		return Receipt{}, errors.New("empty charge id")
	}
	if p.PaidAt.IsZero() {
		p.PaidAt = s.now().UTC()
	}

	now := s.now().UTC()
	expiry, created, err := s.repo.CompletePayment(ctx, p, product.Tier, func(current *time.Time) time.Time {
		return entitlement.NextExpiry(now, current, product.Days)
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("complete payment: %w", err)
	}
	if !created {
		return Receipt{Product: product, Duplicate: true}, nil
	}
	metrics.IncPayment(product.Payload)
	return Receipt{Product: product, ExpiresAt: expiry}, nil
}
