package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Metrics содержит все метрики приложения.
// Методы безопасны на nil-приемнике: в тестах сервисы создаются без метрик.
type Metrics struct {
	logger *zap.Logger

	// Счетчики
	sessionsCreated   *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	settlements       *prometheus.CounterVec
	commissionsPosted prometheus.Counter
	commissionUSD     prometheus.Counter
	unexpectedPays    prometheus.Counter
	sweeps            *prometheus.CounterVec

	// Гистограммы
	notificationTime prometheus.Histogram

	// Gauge метрики
	pendingSweeps prometheus.Gauge
}

// New создает новый экземпляр метрик
func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		logger: logger,

		sessionsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_sessions_created_total",
				Help: "Общее количество созданных платежных сессий",
			},
			[]string{"tier", "asset"},
		),

		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custodian_notifications_total",
				Help: "Общее количество webhook-уведомлений кастодиана",
			},
			[]string{"outcome"}, // matched, unmatched, late, rejected
		),

		settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlements_total",
				Help: "Общее количество переходов сессий по статусам",
			},
			[]string{"status"}, // completed, partial, confirming, failed, expired
		),

		commissionsPosted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "commissions_posted_total",
				Help: "Общее количество начисленных комиссий",
			},
		),

		commissionUSD: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "commissions_posted_usd_total",
				Help: "Суммарный объем начисленных комиссий в USD",
			},
		),

		unexpectedPays: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "unexpected_payments_total",
				Help: "Количество платежей без сопоставленной сессии",
			},
		),

		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_sweeps_total",
				Help: "Общее количество переводов в казначейство",
			},
			[]string{"outcome"}, // submitted, skipped, failed
		),

		notificationTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "notification_processing_seconds",
				Help:    "Время обработки webhook-уведомления в секундах",
				Buckets: prometheus.DefBuckets,
			},
		),

		pendingSweeps: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "treasury_pending_sweeps",
				Help: "Количество завершенных сессий, ожидающих подбора",
			},
		),
	}

	prometheus.MustRegister(
		m.sessionsCreated,
		m.notifications,
		m.settlements,
		m.commissionsPosted,
		m.commissionUSD,
		m.unexpectedPays,
		m.sweeps,
		m.notificationTime,
		m.pendingSweeps,
	)

	return m
}

// SessionCreated учитывает созданную платежную сессию
func (m *Metrics) SessionCreated(tier, asset string) {
	if m == nil {
		return
	}
	m.sessionsCreated.WithLabelValues(tier, asset).Inc()
}

// NotificationProcessed учитывает исход обработки уведомления
func (m *Metrics) NotificationProcessed(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

// SettlementTransition учитывает переход сессии в новый статус
func (m *Metrics) SettlementTransition(status string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(status).Inc()
}

// CommissionsPosted учитывает начисленные комиссии
func (m *Metrics) CommissionsPosted(count int, totalUSD float64) {
	if m == nil {
		return
	}
	m.commissionsPosted.Add(float64(count))
	m.commissionUSD.Add(totalUSD)
}

// UnexpectedPayment учитывает платеж без сопоставленной сессии
func (m *Metrics) UnexpectedPayment() {
	if m == nil {
		return
	}
	m.unexpectedPays.Inc()
}

// SweepOutcome учитывает исход подбора средств
func (m *Metrics) SweepOutcome(outcome string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(outcome).Inc()
}

// ObserveNotificationTime учитывает длительность обработки уведомления
func (m *Metrics) ObserveNotificationTime(seconds float64) {
	if m == nil {
		return
	}
	m.notificationTime.Observe(seconds)
}

// SetPendingSweeps обновляет число сессий в очереди на подбор
func (m *Metrics) SetPendingSweeps(count int) {
	if m == nil {
		return
	}
	m.pendingSweeps.Set(float64(count))
}
