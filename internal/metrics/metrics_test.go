package metrics

import (
	"testing"

	"go.uber.org/zap"
)

func TestMetrics(t *testing.T) {
	logger := zap.NewNop()
	m := New(logger)

	m.SessionCreated("gold", "BTC")
	m.NotificationProcessed("matched")
	m.SettlementTransition("completed")
	m.CommissionsPosted(3, 812.50)
	m.UnexpectedPayment()
	m.SweepOutcome("submitted")
	m.ObserveNotificationTime(0.42)
	m.SetPendingSweeps(7)
}

func TestMetricsNilReceiver(t *testing.T) {
	// Сервисы в тестах создаются без метрик
	var m *Metrics

	m.SessionCreated("gold", "BTC")
	m.NotificationProcessed("matched")
	m.SettlementTransition("completed")
	m.CommissionsPosted(1, 50)
	m.UnexpectedPayment()
	m.SweepOutcome("failed")
	m.ObserveNotificationTime(0.1)
	m.SetPendingSweeps(0)
}
