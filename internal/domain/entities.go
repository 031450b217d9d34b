package domain

import (
	"errors"
	"time"
)

// ErrNotFound возвращается репозиториями, если запись отсутствует.
var ErrNotFound = errors.New("not found")

// User описывает пользователя Telegram в системе.
type User struct {
	ID           int64
	TGUserID     int64
	Username     string
	FirstName    string
	LastName     string
	WeeklyCount  int
	WeekStart    *time.Time
	PremiumUntil *time.Time
	AstroUntil   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TelegramProfile содержит данные профиля из апдейта.
type TelegramProfile struct {
	TGUserID  int64
	Username  string
	FirstName string
	LastName  string
}

// Subscription связывает пользователя с темой рассылки (знак зодиака или шутки).
type Subscription struct {
	ID        int64
	UserID    int64
	Topic     string
	Active    bool
	CreatedAt time.Time
}

// QuotaState хранит недельный счётчик пользователя.
type QuotaState struct {
	WeeklyCount int
	WeekStart   *time.Time
}

// Payment описывает успешный платёж в Telegram Stars.
type Payment struct {
	TGUserID         int64
	ChargeID         string
	ProviderChargeID string
	Payload          string
	Currency         string
	Amount           int
	PaidAt           time.Time
}

// Card описывает карту Таро.
type Card struct {
	Name          string
	LocalizedName string
	Ordinal       int
	ImageURL      string
	Meaning       string
	Major         bool
}
