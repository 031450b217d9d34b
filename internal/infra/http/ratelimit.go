package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"horo-bot/internal/infra/metrics"
)

// RateLimiter ограничивает число запросов с одного адреса в фиксированном окне.
// При наличии Redis счётчики общие для всех реплик, иначе хранятся в памяти.
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
	log    zerolog.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	start time.Time
	count int
}

// NewRateLimiter создаёт лимитер. limit <= 0 отключает ограничение.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		redis:   client,
		limit:   limit,
		window:  window,
		now:     time.Now,
		log:     log,
		buckets: make(map[string]*bucket),
	}
}

// Allow учитывает запрос и сообщает, укладывается ли он в лимит.
func (l *RateLimiter) Allow(ctx context.Context, key string) bool {
	if l.limit <= 0 {
		return true
	}
	if l.redis != nil {
		allowed, err := l.allowRedis(ctx, key)
		if err == nil {
			return allowed
		}
		l.log.Warn().Err(err).Msg("ratelimit: Redis недоступен, считаем в памяти")
	}
	return l.allowMemory(key)
}

func (l *RateLimiter) allowRedis(ctx context.Context, key string) (bool, error) {
	now := l.now()
	slot := now.UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, slot)

	start := time.Now()
	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	_, err := pipe.Exec(ctx)
	metrics.ObserveNetworkRequest("redis", "incr", "ratelimit", start, err)
	if err != nil {
		return false, err
	}
	return incr.Val() <= int64(l.limit), nil
}

func (l *RateLimiter) allowMemory(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.start) >= l.window {
		if len(l.buckets) > 10000 {
			l.purge(now)
		}
		b = &bucket{start: now}
		l.buckets[key] = b
	}
	b.count++
	return b.count <= l.limit
}

func (l *RateLimiter) purge(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.start) >= l.window {
			delete(l.buckets, k)
		}
	}
}

// Middleware отвечает 429, если адрес превысил лимит.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(r.Context(), clientIP(r)) {
			metrics.IncWebhookRejected("rate_limited")
			WriteError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type peerAddrKey struct{}

// PeerAddr сохраняет адрес сокета до того, как RealIP перепишет RemoteAddr
// по X-Forwarded-For. Лимит считается по этому адресу.
func PeerAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), peerAddrKey{}, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if peer, ok := r.Context().Value(peerAddrKey{}).(string); ok && peer != "" {
		addr = peer
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
