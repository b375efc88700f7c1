package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"titan-pay/internal/catalog"
	"titan-pay/internal/config"
	"titan-pay/internal/custodian"
	"titan-pay/internal/store"
	"titan-pay/internal/store/storetest"
	"titan-pay/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeVaults эмулирует кастодиана
type fakeVaults struct {
	created   int
	activated []string
	addresses int
}

func (v *fakeVaults) CreateVaultAccount(ctx context.Context, name string) (string, error) {
	v.created++
	return "v-new", nil
}

func (v *fakeVaults) ActivateVaultAsset(ctx context.Context, vaultAccountID, assetID string) error {
	v.activated = append(v.activated, assetID)
	return nil
}

func (v *fakeVaults) CreateDepositAddress(ctx context.Context, vaultAccountID, assetID, description string) (*custodian.DepositAddress, error) {
	v.addresses++
	return &custodian.DepositAddress{Address: "addr-1"}, nil
}

// fakeRates отдает фиксированный курс
type fakeRates struct {
	price float64
	err   error
}

func (r *fakeRates) GetUSDPrice(ctx context.Context, assetID string) (float64, error) {
	if r.err != nil {
		return 0, r.err
	}
	return r.price, nil
}

func newTestService(t *testing.T) (*Service, *storetest.Fake, *fakeVaults) {
	t.Helper()

	f := storetest.New()
	f.Pkgs = storetest.SeedPackages()
	f.UsersByID[100] = &models.User{ID: 100, Email: "buyer@example.com"}

	cat, err := catalog.New(context.Background(), f.Packages(), zap.NewNop())
	require.NoError(t, err)

	vaults := &fakeVaults{}
	cfg := config.SettlementConfig{SessionTTL: 30 * time.Minute}
	svc := NewService(f, cat, vaults, &fakeRates{price: 50000}, nil, cfg,
		[]string{"BTC", "ETH"}, zap.NewNop())

	return svc, f, vaults
}

func TestCreateSession(t *testing.T) {
	svc, f, vaults := newTestService(t)

	session, err := svc.Create(context.Background(), 100, "gold", "BTC")
	require.NoError(t, err)

	assert.Equal(t, "gold", session.Tier)
	assert.Equal(t, 500.0, session.PriceUSD)
	assert.Equal(t, 0.01, session.QuotedCryptoAmount) // 500 / 50000
	assert.Equal(t, "addr-1", session.DepositAddress)
	assert.Equal(t, "v-new", session.VaultAccountID)
	assert.Equal(t, models.SessionStatusPending, session.Status)
	assert.False(t, session.ExpiresAt.IsZero())

	// Сессия и покупка созданы вместе
	assert.Len(t, f.SessionsByID, 1)
	purchase, ok := f.PurchasesByID[session.PurchaseID]
	require.True(t, ok)
	assert.Equal(t, models.PurchaseStatusPending, purchase.Status)
	assert.Equal(t, 500.0, purchase.AmountUSD)
	assert.False(t, purchase.IsUpgrade)

	// Хранилище создано и привязано к пользователю
	assert.Equal(t, 1, vaults.created)
	require.NotNil(t, f.UsersByID[100].VaultAccountID)
	assert.Equal(t, "v-new", *f.UsersByID[100].VaultAccountID)
}

func TestCreateSessionValidation(t *testing.T) {
	tests := []struct {
		name    string
		tier    string
		asset   string
		wantErr error
	}{
		{"неизвестный тир", "mythril", "BTC", ErrUnknownTier},
		{"неподдерживаемый актив", "gold", "DOGE", ErrUnsupportedAsset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(t)
			_, err := svc.Create(context.Background(), 100, tt.tier, tt.asset)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateSessionInactiveTier(t *testing.T) {
	svc, f, _ := newTestService(t)
	// Пакеты уже загружены в каталог: деактивация в леджере до перезагрузки
	// снимка не видна, поэтому собираем сервис заново
	for _, p := range f.Pkgs {
		if p.Name == "gold" {
			p.IsActive = false
		}
	}
	cat, err := catalog.New(context.Background(), f.Packages(), zap.NewNop())
	require.NoError(t, err)
	svc.catalog = cat

	_, err = svc.Create(context.Background(), 100, "gold", "BTC")
	assert.ErrorIs(t, err, ErrTierNotAvailable)
}

func TestCreateSessionConflict(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), 100, "gold", "BTC")
	require.NoError(t, err)

	// Повторная сессия того же тира при открытой первой запрещена
	_, err = svc.Create(context.Background(), 100, "gold", "BTC")
	assert.ErrorIs(t, err, ErrOpenSessionExists)

	// Другой тир — можно
	_, err = svc.Create(context.Background(), 100, "platinum", "BTC")
	require.NoError(t, err)
}

func TestCreateSessionUpgrade(t *testing.T) {
	svc, f, _ := newTestService(t)
	f.Affs[100] = &models.AffiliateStatus{UserID: 100, Tier: "silver", TierDepthLimit: 2, IsActive: true}

	session, err := svc.Create(context.Background(), 100, "platinum", "BTC")
	require.NoError(t, err)

	// Оплачивается разница цен: 1000 - 250
	assert.Equal(t, 750.0, session.PriceUSD)
	assert.Equal(t, 0.015, session.QuotedCryptoAmount)

	purchase := f.PurchasesByID[session.PurchaseID]
	assert.True(t, purchase.IsUpgrade)
	require.NotNil(t, purchase.PreviousTier)
	assert.Equal(t, "silver", *purchase.PreviousTier)
	assert.Equal(t, 750.0, purchase.AmountUSD)
}

func TestCreateSessionDowngradeRejected(t *testing.T) {
	svc, f, _ := newTestService(t)
	f.Affs[100] = &models.AffiliateStatus{UserID: 100, Tier: "gold", TierDepthLimit: 3, IsActive: true}

	_, err := svc.Create(context.Background(), 100, "silver", "BTC")
	assert.ErrorIs(t, err, ErrNotUpgrade)

	_, err = svc.Create(context.Background(), 100, "gold", "BTC")
	assert.ErrorIs(t, err, ErrNotUpgrade)
}

func TestCreateSessionReusesVault(t *testing.T) {
	svc, f, vaults := newTestService(t)
	existing := "v-old"
	f.UsersByID[100].VaultAccountID = &existing

	session, err := svc.Create(context.Background(), 100, "gold", "BTC")
	require.NoError(t, err)

	assert.Equal(t, "v-old", session.VaultAccountID)
	assert.Equal(t, 0, vaults.created)
}

func TestCreateSessionRatesFailure(t *testing.T) {
	svc, f, _ := newTestService(t)
	svc.rates = &fakeRates{err: errors.New("источник недоступен")}

	_, err := svc.Create(context.Background(), 100, "gold", "BTC")
	require.Error(t, err)

	// Без котировки ничего не создается
	assert.Empty(t, f.SessionsByID)
	assert.Empty(t, f.PurchasesByID)
}

func TestGetStatusOwnership(t *testing.T) {
	svc, _, _ := newTestService(t)

	created, err := svc.Create(context.Background(), 100, "gold", "BTC")
	require.NoError(t, err)

	view, err := svc.GetStatus(context.Background(), created.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, created.ID, view.SessionID)
	assert.Equal(t, created.QuotedCryptoAmount, view.AmountCrypto)

	// Чужая сессия не видна
	_, err = svc.GetStatus(context.Background(), created.ID, 200)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
