package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"horo-bot/internal/domain"
	"horo-bot/internal/infra/metrics"
)

// SetSubscription включает или выключает подписку. Включение создаёт пользователя при необходимости.
func (p *Postgres) SetSubscription(ctx context.Context, tgUserID int64, topic string, active bool) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	if !active {
		_, err := p.pool.Exec(ctx, `
UPDATE subscriptions s SET active=false, updated_at=now()
FROM users u
WHERE s.user_id = u.id AND u.tg_user_id = $1 AND s.topic = $2
`, tgUserID, topic)
		metrics.ObserveNetworkRequest("postgres", "subscriptions_deactivate", "subscriptions", start, err)
		return err
	}

	_, err := p.pool.Exec(ctx, `
WITH u AS (
	INSERT INTO users (tg_user_id) VALUES ($1)
	ON CONFLICT (tg_user_id) DO UPDATE SET updated_at = users.updated_at
	RETURNING id
)
INSERT INTO subscriptions (user_id, topic, active)
SELECT id, $2, true FROM u
ON CONFLICT (user_id, topic) DO UPDATE SET active = true, updated_at = now()
`, tgUserID, topic)
	metrics.ObserveNetworkRequest("postgres", "subscriptions_upsert", "subscriptions", start, err)
	return err
}

// DeactivateAll выключает все активные подписки пользователя и возвращает их число.
func (p *Postgres) DeactivateAll(ctx context.Context, tgUserID int64) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE subscriptions s SET active=false, updated_at=now()
FROM users u
WHERE s.user_id = u.id AND u.tg_user_id = $1 AND s.active
`, tgUserID)
	metrics.ObserveNetworkRequest("postgres", "subscriptions_deactivate_all", "subscriptions", start, err)
	if err != nil {
		return 0, err
	}
	return int(res.RowsAffected()), nil
}

// ListActiveTopics возвращает активные темы пользователя.
func (p *Postgres) ListActiveTopics(ctx context.Context, tgUserID int64) ([]string, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT s.topic FROM subscriptions s
JOIN users u ON u.id = s.user_id
WHERE u.tg_user_id = $1 AND s.active
ORDER BY s.created_at
`, tgUserID)
	metrics.ObserveNetworkRequest("postgres", "subscriptions_list_active", "subscriptions", start, err)
	if err != nil {
		return nil, err
	}
	topics, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return topics, nil
}

// CountActiveByTopic считает активные подписки по темам.
func (p *Postgres) CountActiveByTopic(ctx context.Context) (map[string]int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT topic, count(*) FROM subscriptions WHERE active GROUP BY topic`)
	metrics.ObserveNetworkRequest("postgres", "subscriptions_count", "subscriptions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			topic string
			count int
		)
		if err := rows.Scan(&topic, &count); err != nil {
			return nil, err
		}
		out[topic] = count
	}
	return out, rows.Err()
}

// ListRecipientsByTopic группирует Telegram ID активных подписчиков по темам.
func (p *Postgres) ListRecipientsByTopic(ctx context.Context) (map[string][]int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT s.topic, u.tg_user_id FROM subscriptions s
JOIN users u ON u.id = s.user_id
WHERE s.active
ORDER BY s.topic, u.tg_user_id
`)
	metrics.ObserveNetworkRequest("postgres", "subscriptions_recipients", "subscriptions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]int64)
	for rows.Next() {
		var (
			topic string
			id    int64
		)
		if err := rows.Scan(&topic, &id); err != nil {
			return nil, err
		}
		out[topic] = append(out[topic], id)
	}
	return out, rows.Err()
}

// GetArtifact возвращает сохранённый контент темы за день.
func (p *Postgres) GetArtifact(ctx context.Context, topic string, day time.Time) (string, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var content string
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT content FROM cached_artifacts WHERE topic=$1 AND day=$2`, topic, day).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "artifacts_get", "cached_artifacts", start, nil)
		return "", domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "artifacts_get", "cached_artifacts", start, err)
	return content, err
}

// SaveArtifact сохраняет контент, если запись за день ещё не создана.
func (p *Postgres) SaveArtifact(ctx context.Context, topic string, day time.Time, content string) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
INSERT INTO cached_artifacts (topic, day, content)
VALUES ($1, $2, $3)
ON CONFLICT (topic, day) DO NOTHING
`, topic, day, content)
	metrics.ObserveNetworkRequest("postgres", "artifacts_insert", "cached_artifacts", start, err)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// AcquireDelivery отмечает доставку рассылки получателю. false означает, что отправка уже была.
func (p *Postgres) AcquireDelivery(ctx context.Context, tgUserID int64, topic string, day time.Time) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
INSERT INTO broadcast_deliveries (tg_user_id, topic, day)
VALUES ($1, $2, $3)
ON CONFLICT (tg_user_id, topic, day) DO NOTHING
`, tgUserID, topic, day)
	metrics.ObserveNetworkRequest("postgres", "deliveries_acquire", "broadcast_deliveries", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}
