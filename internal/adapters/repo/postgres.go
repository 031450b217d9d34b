package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"horo-bot/internal/domain"
	"horo-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo            = (*Postgres)(nil)
	_ domain.ProcessedUpdateRepo = (*Postgres)(nil)
	_ domain.QuotaRepo           = (*Postgres)(nil)
	_ domain.EntitlementRepo     = (*Postgres)(nil)
	_ domain.SubscriptionRepo    = (*Postgres)(nil)
	_ domain.ArtifactRepo        = (*Postgres)(nil)
	_ domain.PaymentRepo         = (*Postgres)(nil)
	_ domain.DeliveryRepo        = (*Postgres)(nil)
)

const userColumns = `id, tg_user_id, username, first_name, last_name, weekly_count, week_start, premium_until, astro_until, created_at, updated_at`

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// Ping проверяет доступность БД.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.Ping(ctx)
	metrics.ObserveNetworkRequest("postgres", "ping", "pool", start, err)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	return sql.NullString{String: value, Valid: value != ""}
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		user         domain.User
		username     sql.NullString
		firstName    sql.NullString
		lastName     sql.NullString
		weekStart    sql.NullTime
		premiumUntil sql.NullTime
		astroUntil   sql.NullTime
	)
	if err := row.Scan(&user.ID, &user.TGUserID, &username, &firstName, &lastName, &user.WeeklyCount, &weekStart, &premiumUntil, &astroUntil, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return domain.User{}, err
	}
	user.Username = username.String
	user.FirstName = firstName.String
	user.LastName = lastName.String
	user.WeekStart = timePtr(weekStart)
	user.PremiumUntil = timePtr(premiumUntil)
	user.AstroUntil = timePtr(astroUntil)
	return user, nil
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	ts := v.Time
	return &ts
}

// UpsertByTGID создаёт пользователя или обновляет профиль.
func (p *Postgres) UpsertByTGID(ctx context.Context, profile domain.TelegramProfile) (domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	user, err := scanUser(p.pool.QueryRow(ctx, `
INSERT INTO users (tg_user_id, username, first_name, last_name)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tg_user_id) DO UPDATE SET
	username = COALESCE(EXCLUDED.username, users.username),
	first_name = COALESCE(EXCLUDED.first_name, users.first_name),
	last_name = COALESCE(EXCLUDED.last_name, users.last_name),
	updated_at = now()
RETURNING `+userColumns,
		profile.TGUserID, nullString(profile.Username), nullString(profile.FirstName), nullString(profile.LastName)))
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// GetByTGID ищет пользователя по Telegram ID.
func (p *Postgres) GetByTGID(ctx context.Context, tgUserID int64) (domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	user, err := scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE tg_user_id=$1`, tgUserID))
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, nil)
		return domain.User{}, domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// CountUsers возвращает общее число пользователей.
func (p *Postgres) CountUsers(ctx context.Context) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var total int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&total)
	metrics.ObserveNetworkRequest("postgres", "users_count", "users", start, err)
	return total, err
}

// InsertProcessedUpdate вставляет идентификатор апдейта и возвращает true, если он новый.
func (p *Postgres) InsertProcessedUpdate(ctx context.Context, updateID int64) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
INSERT INTO processed_updates (update_id)
VALUES ($1)
ON CONFLICT (update_id) DO NOTHING
`, updateID)
	metrics.ObserveNetworkRequest("postgres", "processed_updates_insert", "processed_updates", start, err)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// lockUserTx гарантирует наличие строки пользователя и блокирует её до конца транзакции.
func lockUserTx(ctx context.Context, tx pgx.Tx, tgUserID int64) (domain.User, error) {
	start := time.Now()
	_, err := tx.Exec(ctx, `INSERT INTO users (tg_user_id) VALUES ($1) ON CONFLICT (tg_user_id) DO NOTHING`, tgUserID)
	metrics.ObserveNetworkRequest("postgres", "users_ensure_tx", "users", start, err)
	if err != nil {
		return domain.User{}, err
	}

	start = time.Now()
	user, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE tg_user_id=$1 FOR UPDATE`, tgUserID))
	metrics.ObserveNetworkRequest("postgres", "users_get_for_update", "users", start, err)
	return user, err
}

// UpdateQuota читает счётчик под блокировкой строки, применяет fn и сохраняет результат.
func (p *Postgres) UpdateQuota(ctx context.Context, tgUserID int64, fn func(domain.QuotaState) (domain.QuotaState, error)) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "users", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	user, err := lockUserTx(ctx, tx, tgUserID)
	if err != nil {
		return err
	}
	current := domain.QuotaState{WeeklyCount: user.WeeklyCount, WeekStart: user.WeekStart}
	next, err := fn(current)
	if err != nil {
		return err
	}

	if next.WeeklyCount != current.WeeklyCount || !sameDay(next.WeekStart, current.WeekStart) {
		var weekStart any
		if next.WeekStart != nil {
			weekStart = *next.WeekStart
		}
		start = time.Now()
		_, err = tx.Exec(ctx, `UPDATE users SET weekly_count=$2, week_start=$3, updated_at=now() WHERE id=$1`, user.ID, next.WeeklyCount, weekStart)
		metrics.ObserveNetworkRequest("postgres", "users_update_quota", "users", start, err)
		if err != nil {
			return err
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "users", start, err)
	return err
}

// ExtendEntitlement продлевает уровень подписки под блокировкой строки пользователя.
func (p *Postgres) ExtendEntitlement(ctx context.Context, tgUserID int64, tier domain.Tier, next func(current *time.Time) time.Time) (time.Time, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "users", start, err)
	if err != nil {
		return time.Time{}, err
	}
	defer tx.Rollback(ctx)

	expiry, err := extendTx(ctx, tx, tgUserID, tier, next)
	if err != nil {
		return time.Time{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "users", start, err)
	if err != nil {
		return time.Time{}, err
	}
	return expiry, nil
}

func expiryColumn(tier domain.Tier) (string, error) {
	switch tier {
	case domain.TierPremium:
		return "premium_until", nil
	case domain.TierAstro:
		return "astro_until", nil
	default:
		return "", fmt.Errorf("unknown tier %q", tier)
	}
}

// extendTx блокирует строку пользователя и записывает новый срок уровня в рамках tx.
func extendTx(ctx context.Context, tx pgx.Tx, tgUserID int64, tier domain.Tier, next func(current *time.Time) time.Time) (time.Time, error) {
	column, err := expiryColumn(tier)
	if err != nil {
		return time.Time{}, err
	}
	user, err := lockUserTx(ctx, tx, tgUserID)
	if err != nil {
		return time.Time{}, err
	}
	expiry := next(user.ExpiryFor(tier)).UTC()

	start := time.Now()
	_, err = tx.Exec(ctx, `UPDATE users SET `+column+`=$2, updated_at=now() WHERE id=$1`, user.ID, expiry)
	metrics.ObserveNetworkRequest("postgres", "users_extend_"+string(tier), "users", start, err)
	if err != nil {
		return time.Time{}, err
	}
	return expiry, nil
}

func sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
