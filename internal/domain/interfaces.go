package domain

import (
	"context"
	"time"
)

// UserRepo управляет пользователями.
type UserRepo interface {
	UpsertByTGID(ctx context.Context, profile TelegramProfile) (User, error)
	GetByTGID(ctx context.Context, tgUserID int64) (User, error)
	CountUsers(ctx context.Context) (int, error)
}

// ProcessedUpdateRepo хранит идентификаторы обработанных апдейтов.
type ProcessedUpdateRepo interface {
	// InsertProcessedUpdate атомарно вставляет идентификатор и возвращает true,
	// если запись создана. Повтор возвращает false без ошибки.
	InsertProcessedUpdate(ctx context.Context, updateID int64) (bool, error)
}

// QuotaRepo выполняет изменение недельного счётчика под блокировкой строки пользователя.
type QuotaRepo interface {
	UpdateQuota(ctx context.Context, tgUserID int64, fn func(QuotaState) (QuotaState, error)) error
}

// EntitlementRepo продлевает уровни подписки под блокировкой строки пользователя.
type EntitlementRepo interface {
	ExtendEntitlement(ctx context.Context, tgUserID int64, tier Tier, next func(current *time.Time) time.Time) (time.Time, error)
}

// SubscriptionRepo управляет подписками на темы.
type SubscriptionRepo interface {
	SetSubscription(ctx context.Context, tgUserID int64, topic string, active bool) error
	DeactivateAll(ctx context.Context, tgUserID int64) (int, error)
	ListActiveTopics(ctx context.Context, tgUserID int64) ([]string, error)
	CountActiveByTopic(ctx context.Context) (map[string]int, error)
	ListRecipientsByTopic(ctx context.Context) (map[string][]int64, error)
}

// ArtifactRepo кэширует контент по теме и календарному дню.
type ArtifactRepo interface {
	GetArtifact(ctx context.Context, topic string, day time.Time) (string, error)
	SaveArtifact(ctx context.Context, topic string, day time.Time, content string) (bool, error)
}

// PaymentRepo сохраняет платежи.
type PaymentRepo interface {
	// CompletePayment атомарно записывает платёж и продлевает уровень tier.
	// Если платёж с таким charge id уже записан, возвращает created=false и срок не меняет.
	CompletePayment(ctx context.Context, payment Payment, tier Tier, next func(current *time.Time) time.Time) (expiry time.Time, created bool, err error)
}

// DeliveryRepo отмечает доставку рассылки получателю.
type DeliveryRepo interface {
	AcquireDelivery(ctx context.Context, tgUserID int64, topic string, day time.Time) (bool, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// ContentFetcher получает текст темы из внешнего источника.
type ContentFetcher interface {
	Fetch(ctx context.Context, topic string) (string, error)
}
