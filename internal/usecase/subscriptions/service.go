package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"horo-bot/internal/domain"
)

// ErrInvalidTopic возвращается для неизвестной темы.
var ErrInvalidTopic = errors.New("invalid topic")

// Stats: сводка для администратора.
type Stats struct {
	TotalUsers int
	ByTopic    map[string]int
}

// Service отвечает за подписки на темы рассылки.
type Service struct {
	users domain.UserRepo
	subs  domain.SubscriptionRepo
}

// NewService создаёт сервис.
func NewService(users domain.UserRepo, subs domain.SubscriptionRepo) *Service {
	return &Service{users: users, subs: subs}
}

// Register создаёт пользователя при первом обращении или обновляет профиль.
func (s *Service) Register(ctx context.Context, profile domain.TelegramProfile) (domain.User, error) {
	user, err := s.users.UpsertByTGID(ctx, profile)
	if err != nil {
		return domain.User{}, fmt.Errorf("сохранение пользователя: %w", err)
	}
	return user, nil
}

// Subscribe включает подписку. Повторный вызов не создаёт дубликат.
func (s *Service) Subscribe(ctx context.Context, tgUserID int64, topic string) error {
	if !domain.IsValidTopic(topic) {
		return ErrInvalidTopic
	}
	return s.subs.SetSubscription(ctx, tgUserID, topic, true)
}

// Unsubscribe выключает подписку.
func (s *Service) Unsubscribe(ctx context.Context, tgUserID int64, topic string) error {
	if !domain.IsValidTopic(topic) {
		return ErrInvalidTopic
	}
	return s.subs.SetSubscription(ctx, tgUserID, topic, false)
}

// UnsubscribeAll выключает все подписки пользователя.
func (s *Service) UnsubscribeAll(ctx context.Context, tgUserID int64) (int, error) {
	return s.subs.DeactivateAll(ctx, tgUserID)
}

// ActiveTopics возвращает активные подписки в порядке отображения.
func (s *Service) ActiveTopics(ctx context.Context, tgUserID int64) ([]string, error) {
	topics, err := s.subs.ListActiveTopics(ctx, tgUserID)
	if err != nil {
		return nil, err
	}
	sortTopics(topics)
	return topics, nil
}

// IsSubscribed сообщает, активна ли подписка на тему.
func (s *Service) IsSubscribed(ctx context.Context, tgUserID int64, topic string) (bool, error) {
	topics, err := s.subs.ListActiveTopics(ctx, tgUserID)
	if err != nil {
		return false, err
	}
	for _, t := range topics {
		if t == topic {
			return true, nil
		}
	}
	return false, nil
}

// Stats собирает число пользователей и активных подписок по темам.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	total, err := s.users.CountUsers(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("подсчёт пользователей: %w", err)
	}
	byTopic, err := s.subs.CountActiveByTopic(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("подсчёт подписок: %w", err)
	}
	return Stats{TotalUsers: total, ByTopic: byTopic}, nil
}

// RecipientsByTopic группирует получателей рассылки по темам.
func (s *Service) RecipientsByTopic(ctx context.Context) (map[string][]int64, error) {
	return s.subs.ListRecipientsByTopic(ctx)
}

// SortedTopics возвращает ключи карты в порядке отображения.
func SortedTopics[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for topic := range m {
		out = append(out, topic)
	}
	sortTopics(out)
	return out
}

func sortTopics(topics []string) {
	rank := make(map[string]int, len(domain.ZodiacSigns)+1)
	for i, sign := range domain.ZodiacSigns {
		rank[sign] = i
	}
	rank[domain.TopicJoke] = len(domain.ZodiacSigns)
	sort.SliceStable(topics, func(i, j int) bool {
		ri, iok := rank[topics[i]]
		rj, jok := rank[topics[j]]
		if iok && jok {
			return ri < rj
		}
		if iok != jok {
			return iok
		}
		return topics[i] < topics[j]
	})
}
