package domain

import (
	"context"
	"time"
)

// BroadcastCause описывает источник рассылки.
type BroadcastCause string

const (
	// BroadcastCauseScheduled: рассылка по расписанию.
	BroadcastCauseScheduled BroadcastCause = "scheduled"
	// BroadcastCauseManual: рассылку запустил администратор.
	BroadcastCauseManual BroadcastCause = "manual"
)

// BroadcastJob содержит задачу рассылки одной темы.
type BroadcastJob struct {
	ID          string         `json:"job_id"`
	Topic       string         `json:"topic"`
	Date        time.Time      `json:"date"`
	Recipients  []int64        `json:"recipients"`
	RequestedAt time.Time      `json:"requested_at"`
	Cause       BroadcastCause `json:"cause"`
}

// BroadcastQueue описывает очередь задач рассылки.
type BroadcastQueue interface {
	Enqueue(ctx context.Context, job BroadcastJob) error
	Receive(ctx context.Context) (BroadcastJob, AckFunc, error)
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type AckFunc func(success bool) error
