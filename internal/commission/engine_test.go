package commission

import (
	"context"
	"testing"

	"titan-pay/internal/catalog"
	"titan-pay/internal/store/storetest"
	"titan-pay/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestEngine собирает движок с каталогом из стандартного набора пакетов
func newTestEngine(t *testing.T, f *storetest.Fake) *Engine {
	t.Helper()

	f.Pkgs = storetest.SeedPackages()
	cat, err := catalog.New(context.Background(), f.Packages(), zap.NewNop())
	require.NoError(t, err)

	return NewEngine(cat, zap.NewNop())
}

// seedChain создает покупателя и цепочку предков: users[i] приглашен users[i+1]
func seedChain(f *storetest.Fake, ids ...int64) {
	for i, id := range ids {
		u := &models.User{ID: id}
		if i+1 < len(ids) {
			next := ids[i+1]
			u.ReferredBy = &next
		}
		f.UsersByID[id] = u
	}
}

func activeAffiliate(f *storetest.Fake, userID int64, tier string, level int) {
	f.Affs[userID] = &models.AffiliateStatus{
		UserID:         userID,
		Tier:           tier,
		TierDepthLimit: level,
		IsActive:       true,
	}
}

func TestPlanFullChain(t *testing.T) {
	f := storetest.New()
	engine := newTestEngine(t, f)

	// Покупатель 100, предки 1..8, все с пакетом titan
	seedChain(f, 100, 1, 2, 3, 4, 5, 6, 7, 8)
	for id := int64(1); id <= 8; id++ {
		activeAffiliate(f, id, "titan", 8)
	}

	first := int64(1)
	chain, err := engine.LoadChain(context.Background(), f.Users(), f.Affiliates(), 100, &first)
	require.NoError(t, err)
	require.Len(t, chain.Ancestors, 8)

	result := engine.Plan(chain, 25000)

	require.Len(t, result.Payouts, 8)
	assert.Empty(t, result.Skips)

	expected := []float64{2500, 1250, 625, 312.50, 156.25, 79.38, 39.69, 19.84}
	for i, payout := range result.Payouts {
		assert.Equal(t, i+1, payout.Layer)
		assert.Equal(t, int64(i+1), payout.BeneficiaryUserID)
		assert.Equal(t, expected[i], payout.AmountUSD,
			"слой %d: ожидалось %.2f, получено %.2f", i+1, expected[i], payout.AmountUSD)
	}

	assert.InDelta(t, 4982.66, result.TotalUSD(), 0.001)
}

func TestPlanMixedEligibility(t *testing.T) {
	f := storetest.New()
	engine := newTestEngine(t, f)

	// Слой 1 — titan, платится. Слой 2 — bronze (уровень 1 < слой 2), пропуск.
	// Слой 3 — без пакета, пропуск. Слой 4 — platinum неактивный, пропуск.
	// Слой 5 — sapphire (уровень 5 >= слой 5), платится.
	seedChain(f, 100, 1, 2, 3, 4, 5)
	activeAffiliate(f, 1, "titan", 8)
	activeAffiliate(f, 2, "bronze", 1)
	activeAffiliate(f, 4, "platinum", 4)
	f.Affs[4].IsActive = false
	activeAffiliate(f, 5, "sapphire", 5)

	first := int64(1)
	chain, err := engine.LoadChain(context.Background(), f.Users(), f.Affiliates(), 100, &first)
	require.NoError(t, err)

	result := engine.Plan(chain, 500)

	require.Len(t, result.Payouts, 2)
	assert.Equal(t, int64(1), result.Payouts[0].BeneficiaryUserID)
	assert.Equal(t, 50.0, result.Payouts[0].AmountUSD)
	assert.Equal(t, int64(5), result.Payouts[1].BeneficiaryUserID)
	assert.Equal(t, 5, result.Payouts[1].Layer)
	assert.Equal(t, 3.13, result.Payouts[1].AmountUSD) // 500 * 0.625%

	require.Len(t, result.Skips, 3)
	assert.Equal(t, models.SkipReasonTierTooLow, result.Skips[0].Reason)
	assert.Equal(t, 2, result.Skips[0].Layer)
	assert.Equal(t, models.SkipReasonNoPackage, result.Skips[1].Reason)
	assert.Equal(t, 3, result.Skips[1].Layer)
	assert.Equal(t, models.SkipReasonInactive, result.Skips[2].Reason)
	assert.Equal(t, 4, result.Skips[2].Layer)
}

func TestTierSkipDoesNotTerminateChain(t *testing.T) {
	f := storetest.New()
	engine := newTestEngine(t, f)

	// Младший пакет в середине цепочки не обрывает выплаты выше
	seedChain(f, 100, 1, 2, 3)
	activeAffiliate(f, 1, "titan", 8)
	activeAffiliate(f, 2, "bronze", 1)
	activeAffiliate(f, 3, "titan", 8)

	first := int64(1)
	chain, err := engine.LoadChain(context.Background(), f.Users(), f.Affiliates(), 100, &first)
	require.NoError(t, err)

	result := engine.Plan(chain, 1000)

	require.Len(t, result.Payouts, 2)
	assert.Equal(t, int64(3), result.Payouts[1].BeneficiaryUserID)
	assert.Equal(t, 3, result.Payouts[1].Layer)
}

func TestCycleAbortsWalk(t *testing.T) {
	f := storetest.New()
	engine := newTestEngine(t, f)

	// Порча данных: 1 приглашен 2, 2 приглашен 1
	one, two := int64(1), int64(2)
	f.UsersByID[1] = &models.User{ID: 1, ReferredBy: &two}
	f.UsersByID[2] = &models.User{ID: 2, ReferredBy: &one}
	f.UsersByID[100] = &models.User{ID: 100, ReferredBy: &one}
	activeAffiliate(f, 1, "titan", 8)
	activeAffiliate(f, 2, "titan", 8)

	chain, err := engine.LoadChain(context.Background(), f.Users(), f.Affiliates(), 100, &one)
	require.NoError(t, err)

	// Обход дошел до 1 и 2, затем снова увидел 1 и оборвался
	require.Len(t, chain.Ancestors, 2)
	assert.Equal(t, int64(1), chain.CycleUserID)
	assert.Equal(t, 3, chain.CycleLayer)

	result := engine.Plan(chain, 25000)

	// Выплаты до точки цикла сохраняются
	require.Len(t, result.Payouts, 2)
	assert.True(t, result.HasCycle())

	last := result.Skips[len(result.Skips)-1]
	assert.Equal(t, models.SkipReasonCircularRef, last.Reason)
	assert.Equal(t, 3, last.Layer)
}

func TestSelfCycleBuyerIsOwnReferrer(t *testing.T) {
	f := storetest.New()
	engine := newTestEngine(t, f)

	buyer := int64(100)
	f.UsersByID[100] = &models.User{ID: 100, ReferredBy: &buyer}

	chain, err := engine.LoadChain(context.Background(), f.Users(), f.Affiliates(), 100, &buyer)
	require.NoError(t, err)

	assert.Empty(t, chain.Ancestors)
	assert.Equal(t, buyer, chain.CycleUserID)
	assert.Equal(t, 1, chain.CycleLayer)
}

func TestBaseUpgrade(t *testing.T) {
	f := storetest.New()
	engine := newTestEngine(t, f)

	silver := "silver"
	base, err := engine.Base(&models.Purchase{
		Tier:         "platinum",
		AmountUSD:    750,
		IsUpgrade:    true,
		PreviousTier: &silver,
	})
	require.NoError(t, err)
	assert.Equal(t, 750.0, base) // 1000 - 250

	base, err = engine.Base(&models.Purchase{Tier: "gold", AmountUSD: 500})
	require.NoError(t, err)
	assert.Equal(t, 500.0, base)
}

func TestDistributeIdempotent(t *testing.T) {
	f := storetest.New()
	engine := newTestEngine(t, f)

	seedChain(f, 100, 1, 2)
	activeAffiliate(f, 1, "titan", 8)
	activeAffiliate(f, 2, "titan", 8)

	first := int64(1)
	purchase := &models.Purchase{
		ID:               "p-1",
		UserID:           100,
		Tier:             "gold",
		AmountUSD:        500,
		ReferredByUserID: &first,
	}
	event := &models.RevenueEvent{ID: 7, UserID: 100, PurchaseID: "p-1", AmountUSD: 500}

	result, err := engine.Distribute(context.Background(), f.Users(), f.Affiliates(), f.Commissions(), event, purchase)
	require.NoError(t, err)
	require.Len(t, result.Payouts, 2)
	assert.Len(t, f.Comms, 2)

	// Повторное распределение того же события не создает дублей
	_, err = engine.Distribute(context.Background(), f.Users(), f.Affiliates(), f.Commissions(), event, purchase)
	require.NoError(t, err)
	assert.Len(t, f.Comms, 2)
}

func TestSimulateDoesNotWrite(t *testing.T) {
	f := storetest.New()
	engine := newTestEngine(t, f)

	seedChain(f, 100, 1)
	activeAffiliate(f, 1, "titan", 8)

	result, err := engine.Simulate(context.Background(), f.Users(), f.Affiliates(), 100, "gold", false)
	require.NoError(t, err)
	require.Len(t, result.Payouts, 1)
	assert.Equal(t, 50.0, result.Payouts[0].AmountUSD)
	assert.Empty(t, f.Comms)
}

func TestSimulateUpgradeBase(t *testing.T) {
	f := storetest.New()
	engine := newTestEngine(t, f)

	seedChain(f, 100, 1)
	activeAffiliate(f, 100, "silver", 2)
	activeAffiliate(f, 1, "titan", 8)

	result, err := engine.Simulate(context.Background(), f.Users(), f.Affiliates(), 100, "platinum", true)
	require.NoError(t, err)
	require.Len(t, result.Payouts, 1)
	assert.Equal(t, 75.0, result.Payouts[0].AmountUSD) // 10% от (1000-250)
}
