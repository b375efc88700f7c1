package treasury

import (
	"context"
	"errors"
	"testing"
	"time"

	"titan-pay/internal/alerts"
	"titan-pay/internal/config"
	"titan-pay/internal/custodian"
	"titan-pay/internal/store/storetest"
	"titan-pay/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTransfers эмулирует переводы кастодиана
type fakeTransfers struct {
	requests []*custodian.TransferRequest
	failFor  map[string]error
}

func (p *fakeTransfers) CreateTransfer(ctx context.Context, req *custodian.TransferRequest) (*custodian.TransferResult, error) {
	if err, ok := p.failFor[req.SourceVaultID]; ok {
		return nil, err
	}
	p.requests = append(p.requests, req)
	return &custodian.TransferResult{ID: "sweep-tx", Status: custodian.TxStatusPendingSignature}, nil
}

func newTestSweeper(t *testing.T) (*Service, *storetest.Fake, *fakeTransfers) {
	t.Helper()

	f := storetest.New()
	transfers := &fakeTransfers{failFor: map[string]error{}}
	cfg := config.TreasuryConfig{VaultAccountID: "treasury", SweepBatchSize: 50}

	svc := NewService(f, transfers, (*alerts.TelegramNotifier)(nil), nil, cfg, zap.NewNop())
	return svc, f, transfers
}

func completedSession(f *storetest.Fake, id, asset string, usd float64) *models.PaymentSession {
	s := &models.PaymentSession{
		ID:                id,
		UserID:            100,
		Tier:              "gold",
		AssetID:           asset,
		VaultAccountID:    "v-" + id,
		Status:            models.SessionStatusCompleted,
		AmountReceivedUSD: usd,
		CreatedAt:         time.Now(),
	}
	f.SessionsByID[id] = s
	return s
}

func TestSweepBatch(t *testing.T) {
	svc, f, transfers := newTestSweeper(t)
	completedSession(f, "s-1", "BTC", 500)
	completedSession(f, "s-2", "ETH", 1000)

	// Незавершенные сессии в подбор не попадают
	f.SessionsByID["s-3"] = &models.PaymentSession{
		ID: "s-3", Status: models.SessionStatusPartial, AssetID: "BTC",
	}

	outcomes, err := svc.SweepBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	for _, o := range outcomes {
		assert.False(t, o.Skipped)
		assert.Equal(t, models.SweepStatusSubmitted, o.Status)
	}

	require.Len(t, transfers.requests, 2)
	assert.Equal(t, "treasury", transfers.requests[0].DestinationVaultID)

	// Статус подбора записан на сессиях
	require.NotNil(t, f.SessionsByID["s-1"].TreasurySweepStatus)
	assert.Equal(t, models.SweepStatusSubmitted, *f.SessionsByID["s-1"].TreasurySweepStatus)
}

func TestSweepIsIdempotent(t *testing.T) {
	svc, f, transfers := newTestSweeper(t)
	completedSession(f, "s-1", "BTC", 500)

	_, err := svc.SweepBatch(context.Background(), nil)
	require.NoError(t, err)

	// Повторный проход не создает второй перевод
	outcomes, err := svc.SweepBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Len(t, transfers.requests, 1)
}

func TestSweepAssetFilter(t *testing.T) {
	svc, f, transfers := newTestSweeper(t)
	completedSession(f, "s-1", "BTC", 500)
	completedSession(f, "s-2", "ETH", 1000)

	asset := "ETH"
	outcomes, err := svc.SweepBatch(context.Background(), &asset)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "s-2", outcomes[0].SessionID)
	assert.Len(t, transfers.requests, 1)
}

func TestSweepFailureKeepsSessionInQueue(t *testing.T) {
	svc, f, transfers := newTestSweeper(t)
	s := completedSession(f, "s-1", "BTC", 500)
	transfers.failFor[s.VaultAccountID] = errors.New("кастодиан недоступен")

	outcomes, err := svc.SweepBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Skipped)

	// Статус failed, ошибка записана, аудит создан
	require.NotNil(t, s.TreasurySweepStatus)
	assert.Equal(t, models.SweepStatusFailed, *f.SessionsByID["s-1"].TreasurySweepStatus)
	require.NotNil(t, f.SessionsByID["s-1"].TreasurySweepError)
	require.Len(t, f.AuditRecords, 1)
	assert.Equal(t, models.AuditKindSweepFailure, f.AuditRecords[0].Kind)

	// Неуспешная сессия остается кандидатом на следующий проход
	delete(transfers.failFor, s.VaultAccountID)
	outcomes, err = svc.SweepBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Skipped)
}

func TestPendingTotals(t *testing.T) {
	svc, f, _ := newTestSweeper(t)
	completedSession(f, "s-1", "BTC", 500)
	completedSession(f, "s-2", "BTC", 1000)
	completedSession(f, "s-3", "ETH", 250)

	totals, err := svc.PendingTotals(context.Background())
	require.NoError(t, err)
	require.Len(t, totals, 2)

	assert.Equal(t, "BTC", totals[0].AssetID)
	assert.Equal(t, 2, totals[0].Sessions)
	assert.Equal(t, 1500.0, totals[0].AmountUSD)
}
