package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"horo-bot/internal/domain"
	"horo-bot/internal/infra/metrics"
)

// CompletePayment в одной транзакции сохраняет платёж и продлевает уровень.
// Если charge id уже записан, срок не меняется и возвращается created=false.
func (p *Postgres) CompletePayment(ctx context.Context, payment domain.Payment, tier domain.Tier, next func(current *time.Time) time.Time) (time.Time, bool, error) {
	if _, err := expiryColumn(tier); err != nil {
		return time.Time{}, false, err
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "payments", start, err)
	if err != nil {
		return time.Time{}, false, err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	res, err := tx.Exec(ctx, `
INSERT INTO payments (tg_user_id, telegram_payment_charge_id, provider_payment_charge_id, payload, currency, amount, paid_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (telegram_payment_charge_id) DO NOTHING
`, payment.TGUserID, payment.ChargeID, nullString(payment.ProviderChargeID), payment.Payload, payment.Currency, payment.Amount, payment.PaidAt)
	metrics.ObserveNetworkRequest("postgres", "payments_insert", "payments", start, err)
	if err != nil {
		return time.Time{}, false, err
	}
	if res.RowsAffected() == 0 {
		return time.Time{}, false, nil
	}

	expiry, err := extendTx(ctx, tx, payment.TGUserID, tier, next)
	if err != nil {
		return time.Time{}, false, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "payments", start, err)
	if err != nil {
		return time.Time{}, false, err
	}
	return expiry, true, nil
}
