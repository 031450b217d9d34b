package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	UpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_updates_total",
		Help: "Входящие апдейты по результату приёма",
	}, []string{"outcome"})
	HandlerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_handler_errors_total",
		Help: "Ошибки обработчиков апдейтов",
	})
	CallbacksDebounced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_callbacks_debounced_total",
		Help: "Подавленные повторные нажатия кнопок",
	})
	QuotaDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_quota_decisions_total",
		Help: "Решения недельного лимита",
	}, []string{"decision"})
	PaymentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_payments_total",
		Help: "Успешные платежи по товарам",
	}, []string{"payload"})
	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})
	BroadcastDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_deliveries_total",
		Help: "Доставки рассылки по теме и статусу",
	}, []string{"topic", "status"})
	WebhookRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_rejected_total",
		Help: "Отклонённые запросы вебхука",
	}, []string{"reason"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		UpdatesTotal,
		HandlerErrors,
		CallbacksDebounced,
		QuotaDecisions,
		PaymentsTotal,
		BotSendErrors,
		BroadcastDeliveries,
		WebhookRejected,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// IncUpdate учитывает результат приёма апдейта.
func IncUpdate(outcome string) {
	UpdatesTotal.WithLabelValues(outcome).Inc()
}

// IncQuota учитывает решение лимита.
func IncQuota(decision string) {
	QuotaDecisions.WithLabelValues(decision).Inc()
}

// IncPayment учитывает успешный платёж.
func IncPayment(payload string) {
	PaymentsTotal.WithLabelValues(payload).Inc()
}

// IncBroadcast учитывает доставку рассылки.
func IncBroadcast(topic, status string) {
	BroadcastDeliveries.WithLabelValues(topic, status).Inc()
}

// IncWebhookRejected учитывает отклонённый запрос вебхука.
func IncWebhookRejected(reason string) {
	WebhookRejected.WithLabelValues(reason).Inc()
}
