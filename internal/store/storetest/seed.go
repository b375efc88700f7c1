package storetest

import (
	"titan-pay/pkg/models"
)

// ladder — стандартная лестница ставок: пакет уровня N получает первые N ставок
var ladder = []float64{10, 5, 2.5, 1.25, 0.625, 0.3175, 0.15875, 0.079375}

// SeedPackages возвращает стандартный каталог пакетов для тестов
func SeedPackages() []*models.Package {
	defs := []struct {
		name  string
		level int
		price float64
	}{
		{"bronze", 1, 100},
		{"silver", 2, 250},
		{"gold", 3, 500},
		{"platinum", 4, 1000},
		{"sapphire", 5, 1500},
		{"emerald", 6, 2000},
		{"diamond", 7, 2500},
		{"titan", 8, 25000},
	}

	packages := make([]*models.Package, 0, len(defs))
	for _, d := range defs {
		p := &models.Package{
			Name:     d.name,
			Level:    d.level,
			PriceUSD: d.price,
			IsActive: true,
		}
		for layer := 1; layer <= d.level; layer++ {
			p.Rates = append(p.Rates, models.Rate{Layer: layer, RatePercent: ladder[layer-1]})
		}
		packages = append(packages, p)
	}
	return packages
}
