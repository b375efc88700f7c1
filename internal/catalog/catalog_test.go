package catalog

import (
	"context"
	"testing"

	"titan-pay/internal/store/storetest"
	"titan-pay/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCatalog(t *testing.T) (*Catalog, *storetest.Fake) {
	t.Helper()

	f := storetest.New()
	f.Pkgs = storetest.SeedPackages()

	cat, err := New(context.Background(), f.Packages(), zap.NewNop())
	require.NoError(t, err)

	return cat, f
}

func TestCatalogLookup(t *testing.T) {
	cat, _ := newTestCatalog(t)

	p, ok := cat.Get("titan")
	require.True(t, ok)
	assert.Equal(t, 8, p.Level)
	assert.Equal(t, 25000.0, p.PriceUSD)
	assert.Equal(t, 8, p.MaxDepth())

	// Регистр имени не важен
	_, ok = cat.Get("TITAN")
	assert.True(t, ok)

	_, ok = cat.Get("mythril")
	assert.False(t, ok)

	assert.Equal(t, 3, cat.Level("gold"))
	assert.Equal(t, 0, cat.Level("mythril"))

	price, ok := cat.PriceUSD("silver")
	require.True(t, ok)
	assert.Equal(t, 250.0, price)
}

func TestCatalogRateTables(t *testing.T) {
	cat, _ := newTestCatalog(t)

	// Младший слой общий для всех пакетов
	for _, p := range cat.All() {
		rate, ok := p.RateFor(1)
		require.True(t, ok, p.Name)
		assert.Equal(t, 10.0, rate)
	}

	titan, _ := cat.Get("titan")
	rate, ok := titan.RateFor(8)
	require.True(t, ok)
	assert.Equal(t, 0.079375, rate)

	bronze, _ := cat.Get("bronze")
	_, ok = bronze.RateFor(2)
	assert.False(t, ok)
}

func TestReloadRejectsCorruptCatalog(t *testing.T) {
	cat, f := newTestCatalog(t)

	// Таблица ставок короче уровня пакета — снимок не подменяется
	f.Pkgs = []*models.Package{
		{
			Name:     "gold",
			Level:    3,
			PriceUSD: 500,
			IsActive: true,
			Rates:    []models.Rate{{Layer: 1, RatePercent: 10}},
		},
	}

	err := cat.Reload(context.Background())
	require.Error(t, err)

	// Старый снимок продолжает работать
	_, ok := cat.Get("titan")
	assert.True(t, ok)
}

func TestReloadRejectsEmptyCatalog(t *testing.T) {
	cat, f := newTestCatalog(t)
	f.Pkgs = nil

	assert.Error(t, cat.Reload(context.Background()))
}

func TestGetActive(t *testing.T) {
	f := storetest.New()
	f.Pkgs = storetest.SeedPackages()
	f.Pkgs[2].IsActive = false // gold

	cat, err := New(context.Background(), f.Packages(), zap.NewNop())
	require.NoError(t, err)

	_, ok := cat.GetActive("gold")
	assert.False(t, ok)

	_, ok = cat.GetActive("silver")
	assert.True(t, ok)
}
