// Package content выдаёт тексты рассылок: гороскопы с кэшем на день и анекдоты.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horo-bot/internal/domain"
)

// ErrUnknownTopic возвращается для темы без источника.
var ErrUnknownTopic = errors.New("unknown topic")

const cacheTTL = 36 * time.Hour

// Service объединяет источники контента и кэш.
type Service struct {
	horoscopes domain.ContentFetcher
	jokes      domain.ContentFetcher
	artifacts  domain.ArtifactRepo
	cache      domain.Cache
	loc        *time.Location
	now        func() time.Time
	log        zerolog.Logger
}

// Option настраивает Service.
type Option func(*Service)

// WithCache включает Redis перед таблицей артефактов.
func WithCache(c domain.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService создаёт сервис контента.
func NewService(horoscopes, jokes domain.ContentFetcher, artifacts domain.ArtifactRepo, loc *time.Location, log zerolog.Logger, opts ...Option) *Service {
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		horoscopes: horoscopes,
		jokes:      jokes,
		artifacts:  artifacts,
		loc:        loc,
		now:        time.Now,
		log:        log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Day возвращает календарный день момента t в часовом поясе сервиса.
func (s *Service) Day(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Fetch реализует domain.ContentFetcher: знак зодиака или анекдот.
func (s *Service) Fetch(ctx context.Context, topic string) (string, error) {
	switch {
	case topic == domain.TopicJoke:
		return s.Joke(ctx)
	case domain.IsValidSign(topic):
		return s.Horoscope(ctx, topic)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
}

// Joke возвращает случайный анекдот без кэширования.
func (s *Service) Joke(ctx context.Context) (string, error) {
	return s.jokes.Fetch(ctx, domain.TopicJoke)
}

// Horoscope возвращает гороскоп знака на сегодня. Текст дня получают один раз:
// Redis, затем Postgres, затем источник с сохранением «вставить, если нет».
func (s *Service) Horoscope(ctx context.Context, sign string) (string, error) {
	if !domain.IsValidSign(sign) {
		return "", fmt.Errorf("%w: %q", ErrUnknownTopic, sign)
	}
	day := s.Day(s.now())
	key := cacheKey(sign, day)

	if s.cache != nil {
		data, err := s.cache.Get(ctx, key)
		switch {
		case err == nil && len(data) > 0:
			return string(data), nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			s.log.Warn().Err(err).Str("sign", sign).Msg("content: redis недоступен")
		}
	}

	text, err := s.artifacts.GetArtifact(ctx, sign, day)
	switch {
	case err == nil:
		s.remember(ctx, key, text)
		return text, nil
	case !errors.Is(err, domain.ErrNotFound):
		return "", fmt.Errorf("get artifact: %w", err)
	}

	text, err = s.horoscopes.Fetch(ctx, sign)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)

	created, err := s.artifacts.SaveArtifact(ctx, sign, day, text)
	if err != nil {
		s.log.Error().Err(err).Str("sign", sign).Msg("content: не удалось сохранить гороскоп")
		return text, nil
	}
	if !created {
		stored, err := s.artifacts.GetArtifact(ctx, sign, day)
		if err == nil {
			text = stored
		}
	}
	s.remember(ctx, key, text)
	return text, nil
}

func (s *Service) remember(ctx context.Context, key, text string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, []byte(text), cacheTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("content: не удалось записать в redis")
	}
}

func cacheKey(sign string, day time.Time) string {
	return "horoscope:" + sign + ":" + day.Format("2006-01-02")
}
