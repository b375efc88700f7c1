package models

import (
	"time"
)

// AffiliateStatus представляет аффилиатский статус пользователя.
// Обновляется реконсилятором сразу после завершения собственной покупки
// пользователя: тир повышается, глубина выплат берется из уровня пакета.
type AffiliateStatus struct {
	UserID         int64     `json:"user_id" db:"user_id"`
	Tier           string    `json:"tier" db:"tier"`
	TierDepthLimit int       `json:"tier_depth_limit" db:"tier_depth_limit"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Package представляет пакет из каталога: цена, уровень и таблица ставок.
// Каталог читается движком комиссий, но никогда им не изменяется.
type Package struct {
	Name      string    `json:"name" db:"name"`
	Level     int       `json:"level" db:"level"`
	PriceUSD  float64   `json:"price_usd" db:"price_usd"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	Rates     []Rate    `json:"commission_levels"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Rate представляет ставку комиссии для конкретного слоя
type Rate struct {
	Layer       int     `json:"level" db:"layer"`
	RatePercent float64 `json:"rate_percent" db:"rate_percent"`
}

// MaxDepth возвращает максимальную глубину выплат пакета —
// длину его таблицы ставок
func (p *Package) MaxDepth() int {
	return len(p.Rates)
}

// RateFor возвращает ставку пакета для слоя (1..MaxDepth)
func (p *Package) RateFor(layer int) (float64, bool) {
	for _, r := range p.Rates {
		if r.Layer == layer {
			return r.RatePercent, true
		}
	}
	return 0, false
}
