package settlement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"titan-pay/internal/alerts"
	"titan-pay/internal/catalog"
	"titan-pay/internal/commission"
	"titan-pay/internal/config"
	"titan-pay/internal/custodian"
	"titan-pay/internal/store/storetest"
	"titan-pay/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*Service, *storetest.Fake) {
	t.Helper()

	f := storetest.New()
	f.Pkgs = storetest.SeedPackages()

	cat, err := catalog.New(context.Background(), f.Packages(), zap.NewNop())
	require.NoError(t, err)

	engine := commission.NewEngine(cat, zap.NewNop())
	cfg := config.SettlementConfig{
		TolerancePct:    2.0,
		SessionTTL:      30 * time.Minute,
		ExpiryBatchSize: 100,
	}

	svc := NewService(f, engine, cat, (*alerts.TelegramNotifier)(nil), nil, cfg, zap.NewNop())
	return svc, f
}

// seedPendingSession создает покупателя с рефералом, покупку и pending-сессию
func seedPendingSession(f *storetest.Fake, tier string, priceUSD float64) *models.PaymentSession {
	referrer := int64(1)
	f.UsersByID[1] = &models.User{ID: 1}
	f.UsersByID[100] = &models.User{ID: 100, ReferredBy: &referrer}
	f.Affs[1] = &models.AffiliateStatus{UserID: 1, Tier: "titan", TierDepthLimit: 8, IsActive: true}
	f.Refs = append(f.Refs, &models.Referral{
		ID:             1,
		ReferrerUserID: 1,
		ReferredUserID: 100,
		Status:         string(models.ReferralStatusPending),
	})

	purchase := &models.Purchase{
		ID:               "p-1",
		UserID:           100,
		Tier:             tier,
		AmountUSD:        priceUSD,
		Status:           models.PurchaseStatusPending,
		ReferredByUserID: &referrer,
	}
	f.PurchasesByID["p-1"] = purchase

	session := &models.PaymentSession{
		ID:             "s-1",
		UserID:         100,
		PurchaseID:     "p-1",
		Tier:           tier,
		AssetID:        "BTC",
		PriceUSD:       priceUSD,
		DepositAddress: "addr-1",
		VaultAccountID: "v-100",
		Status:         models.SessionStatusPending,
		ExpiresAt:      time.Now().Add(30 * time.Minute),
		CreatedAt:      time.Now(),
	}
	f.SessionsByID["s-1"] = session

	return session
}

func notification(txID string, status custodian.TxStatus, address string, usd float64) *custodian.Notification {
	return &custodian.Notification{
		Type: custodian.NotificationTypeStatusUpdated,
		Data: custodian.TxData{
			ID:                 txID,
			Status:             status,
			AssetID:            "BTC",
			Destination:        custodian.Destination{Type: custodian.DestinationTypeVaultAccount, ID: "v-100"},
			DestinationAddress: address,
			AmountInfo: custodian.AmountInfo{
				Amount:    "0.01",
				AmountUSD: fmt.Sprintf("%.2f", usd),
			},
			TxHash: "0xabc",
		},
	}
}

func TestCompletedSettlement(t *testing.T) {
	svc, f := newTestService(t)
	seedPendingSession(f, "gold", 500)

	err := svc.ProcessNotification(context.Background(), notification("tx-1", custodian.TxStatusCompleted, "addr-1", 500))
	require.NoError(t, err)

	session := f.SessionsByID["s-1"]
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	assert.Equal(t, 500.0, session.AmountReceivedUSD)
	require.NotNil(t, session.CustodianTxID)
	assert.Equal(t, "tx-1", *session.CustodianTxID)

	assert.Equal(t, models.PurchaseStatusCompleted, f.PurchasesByID["p-1"].Status)

	// Событие выручки создано ровно одно
	require.Len(t, f.Revenue, 1)
	assert.Equal(t, "tx-1", f.Revenue[0].CustodianTxID)

	// Покупатель повышен до gold с глубиной выплат 3
	buyer := f.Affs[100]
	require.NotNil(t, buyer)
	assert.Equal(t, "gold", buyer.Tier)
	assert.Equal(t, 3, buyer.TierDepthLimit)
	assert.True(t, buyer.IsActive)

	// Реферальное ребро активировано
	assert.Equal(t, string(models.ReferralStatusActive), f.Refs[0].Status)

	// Комиссия реферера: 10% от 500
	require.Len(t, f.Comms, 1)
	assert.Equal(t, int64(1), f.Comms[0].BeneficiaryUserID)
	assert.Equal(t, 50.0, f.Comms[0].AmountUSD)
	assert.Equal(t, models.CommissionStatusPending, f.Comms[0].Status)
}

func TestDuplicateNotificationIsNoOp(t *testing.T) {
	svc, f := newTestService(t)
	seedPendingSession(f, "gold", 500)

	n := notification("tx-1", custodian.TxStatusCompleted, "addr-1", 500)
	require.NoError(t, svc.ProcessNotification(context.Background(), n))
	require.NoError(t, svc.ProcessNotification(context.Background(), n))

	assert.Len(t, f.Revenue, 1)
	assert.Len(t, f.Comms, 1)
}

func TestToleranceBoundary(t *testing.T) {
	tests := []struct {
		name     string
		received float64
		want     models.SessionStatus
	}{
		{"ровно на пороге допуска", 490.00, models.SessionStatusCompleted},
		{"цент ниже порога", 489.99, models.SessionStatusPartial},
		{"переплата", 510.00, models.SessionStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, f := newTestService(t)
			seedPendingSession(f, "gold", 500)

			err := svc.ProcessNotification(context.Background(),
				notification("tx-1", custodian.TxStatusCompleted, "addr-1", tt.received))
			require.NoError(t, err)

			assert.Equal(t, tt.want, f.SessionsByID["s-1"].Status)
			if tt.want == models.SessionStatusPartial {
				assert.Empty(t, f.Revenue)
				assert.Empty(t, f.Comms)
				assert.Equal(t, models.PurchaseStatusPartial, f.PurchasesByID["p-1"].Status)
			}
		})
	}
}

func TestTerminalStatusIsImmutable(t *testing.T) {
	svc, f := newTestService(t)
	seedPendingSession(f, "gold", 500)

	require.NoError(t, svc.ProcessNotification(context.Background(),
		notification("tx-1", custodian.TxStatusCompleted, "addr-1", 500)))

	// Поздний неуспех по той же сессии не откатывает завершение
	require.NoError(t, svc.ProcessNotification(context.Background(),
		notification("tx-2", custodian.TxStatusFailed, "addr-1", 0)))

	assert.Equal(t, models.SessionStatusCompleted, f.SessionsByID["s-1"].Status)
	assert.Equal(t, models.PurchaseStatusCompleted, f.PurchasesByID["p-1"].Status)

	var late int
	for _, rec := range f.AuditRecords {
		if rec.Kind == models.AuditKindLateNotification {
			late++
		}
	}
	assert.Equal(t, 1, late)
}

func TestUnmatchedPaymentIsAcked(t *testing.T) {
	svc, f := newTestService(t)

	n := notification("tx-9", custodian.TxStatusCompleted, "unknown-addr", 100)
	n.Data.Destination.ID = "unknown-vault"

	err := svc.ProcessNotification(context.Background(), n)
	require.NoError(t, err)

	require.Len(t, f.AuditRecords, 1)
	assert.Equal(t, models.AuditKindUnexpectedPayment, f.AuditRecords[0].Kind)
}

func TestNonVaultDestinationIsUnexpected(t *testing.T) {
	svc, f := newTestService(t)
	seedPendingSession(f, "gold", 500)

	n := notification("tx-1", custodian.TxStatusCompleted, "addr-1", 500)
	n.Data.Destination.Type = "ONE_TIME_ADDRESS"

	require.NoError(t, svc.ProcessNotification(context.Background(), n))

	assert.Equal(t, models.SessionStatusPending, f.SessionsByID["s-1"].Status)
	require.Len(t, f.AuditRecords, 1)
	assert.Equal(t, models.AuditKindUnexpectedPayment, f.AuditRecords[0].Kind)
}

func TestConfirmingTransition(t *testing.T) {
	svc, f := newTestService(t)
	seedPendingSession(f, "gold", 500)

	err := svc.ProcessNotification(context.Background(),
		notification("tx-1", custodian.TxStatusConfirming, "addr-1", 500))
	require.NoError(t, err)

	session := f.SessionsByID["s-1"]
	assert.Equal(t, models.SessionStatusConfirming, session.Status)
	assert.Equal(t, 500.0, session.AmountReceivedUSD)
	assert.Empty(t, f.Revenue)
}

func TestPendingSignatureKeepsStatus(t *testing.T) {
	svc, f := newTestService(t)
	seedPendingSession(f, "gold", 500)

	err := svc.ProcessNotification(context.Background(),
		notification("tx-1", custodian.TxStatusPendingSignature, "addr-1", 0))
	require.NoError(t, err)

	session := f.SessionsByID["s-1"]
	assert.Equal(t, models.SessionStatusPending, session.Status)
	require.NotNil(t, session.CustodianTxID)
	assert.Equal(t, "tx-1", *session.CustodianTxID)
}

func TestFailureFamily(t *testing.T) {
	for _, status := range []custodian.TxStatus{
		custodian.TxStatusFailed,
		custodian.TxStatusCancelled,
		custodian.TxStatusRejected,
		custodian.TxStatusBlocked,
	} {
		t.Run(string(status), func(t *testing.T) {
			svc, f := newTestService(t)
			seedPendingSession(f, "gold", 500)

			err := svc.ProcessNotification(context.Background(),
				notification("tx-1", status, "addr-1", 0))
			require.NoError(t, err)

			assert.Equal(t, models.SessionStatusFailed, f.SessionsByID["s-1"].Status)
			assert.Equal(t, models.PurchaseStatusFailed, f.PurchasesByID["p-1"].Status)
		})
	}
}

func TestMatchByVaultFallback(t *testing.T) {
	svc, f := newTestService(t)
	seedPendingSession(f, "gold", 500)

	// Адрес в уведомлении пуст: сопоставление идет по хранилищу
	err := svc.ProcessNotification(context.Background(),
		notification("tx-1", custodian.TxStatusCompleted, "", 500))
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCompleted, f.SessionsByID["s-1"].Status)
}

func TestCircularChainIsAudited(t *testing.T) {
	svc, f := newTestService(t)
	seedPendingSession(f, "gold", 500)

	// Порча данных: реферер покупателя приглашен самим покупателем
	buyer := int64(100)
	f.UsersByID[1].ReferredBy = &buyer

	err := svc.ProcessNotification(context.Background(),
		notification("tx-1", custodian.TxStatusCompleted, "addr-1", 500))
	require.NoError(t, err)

	// Сессия завершена, комиссия до точки цикла начислена
	assert.Equal(t, models.SessionStatusCompleted, f.SessionsByID["s-1"].Status)
	assert.Len(t, f.Comms, 1)

	var circular int
	for _, rec := range f.AuditRecords {
		if rec.Kind == models.AuditKindCircularReferral {
			circular++
		}
	}
	assert.Equal(t, 1, circular)
}

func TestUpgradeCommissionBase(t *testing.T) {
	svc, f := newTestService(t)
	session := seedPendingSession(f, "platinum", 750)

	// Апгрейд с silver: база комиссии — разница цен
	silver := "silver"
	purchase := f.PurchasesByID["p-1"]
	purchase.AmountUSD = 750
	purchase.IsUpgrade = true
	purchase.PreviousTier = &silver
	session.PriceUSD = 750
	f.Affs[100] = &models.AffiliateStatus{UserID: 100, Tier: "silver", TierDepthLimit: 2, IsActive: true}

	err := svc.ProcessNotification(context.Background(),
		notification("tx-1", custodian.TxStatusCompleted, "addr-1", 750))
	require.NoError(t, err)

	require.Len(t, f.Comms, 1)
	assert.Equal(t, 75.0, f.Comms[0].AmountUSD) // 10% от (1000-250)

	// Статус покупателя повышен до platinum
	assert.Equal(t, "platinum", f.Affs[100].Tier)
	assert.Equal(t, 4, f.Affs[100].TierDepthLimit)
}

func TestExpireStale(t *testing.T) {
	svc, f := newTestService(t)
	session := seedPendingSession(f, "gold", 500)
	session.ExpiresAt = time.Now().Add(-time.Minute)

	expired, err := svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	assert.Equal(t, models.SessionStatusExpired, f.SessionsByID["s-1"].Status)
	assert.Equal(t, models.PurchaseStatusExpired, f.PurchasesByID["p-1"].Status)
}
