package models

import (
	"time"
)

// CommissionStatus представляет статус комиссионного начисления
type CommissionStatus string

const (
	CommissionStatusPending  CommissionStatus = "pending"
	CommissionStatusApproved CommissionStatus = "approved"
	CommissionStatusPaid     CommissionStatus = "paid"
	CommissionStatusHeld     CommissionStatus = "held"
	CommissionStatusReversed CommissionStatus = "reversed"
)

// IsValid проверяет валидность статуса комиссии
func (s CommissionStatus) IsValid() bool {
	switch s {
	case CommissionStatusPending, CommissionStatusApproved, CommissionStatusPaid,
		CommissionStatusHeld, CommissionStatusReversed:
		return true
	default:
		return false
	}
}

// Commission представляет начисление одному бенефициару за одно событие выручки.
// Уникальный индекс (beneficiary_user_id, source_revenue_event_id) гарантирует,
// что за одно событие бенефициар не получит начисление дважды.
type Commission struct {
	ID                   int64            `json:"id" db:"id"`
	BeneficiaryUserID    int64            `json:"beneficiary_user_id" db:"beneficiary_user_id"`
	SourceRevenueEventID int64            `json:"source_revenue_event_id" db:"source_revenue_event_id"`
	Layer                int              `json:"layer" db:"layer"`
	ReferredUserID       int64            `json:"referred_user_id" db:"referred_user_id"`
	AmountUSD            float64          `json:"amount_usd" db:"amount_usd"`
	RatePercent          float64          `json:"rate_percent" db:"rate_percent"`
	Status               CommissionStatus `json:"status" db:"status"`
	Notes                *string          `json:"notes,omitempty" db:"notes"`
	CreatedAt            time.Time        `json:"created_at" db:"created_at"`
}

// SkipReason представляет причину пропуска слоя при обходе реферальной цепочки
type SkipReason string

const (
	SkipReasonNoPackage   SkipReason = "no_package"
	SkipReasonInactive    SkipReason = "inactive"
	SkipReasonTierTooLow  SkipReason = "tier_too_low"
	SkipReasonCircularRef SkipReason = "circular_reference"
)

// CommissionSkip представляет пропущенный слой в результате распределения
type CommissionSkip struct {
	Layer  int        `json:"layer"`
	UserID int64      `json:"user_id,omitempty"`
	Reason SkipReason `json:"reason"`
}

// CommissionPayout представляет одну запланированную выплату
type CommissionPayout struct {
	Layer             int     `json:"layer"`
	BeneficiaryUserID int64   `json:"beneficiary_user_id"`
	Tier              string  `json:"tier"`
	RatePercent       float64 `json:"rate_percent"`
	AmountUSD         float64 `json:"amount_usd"`
}

// DistributionResult представляет итог распределения комиссий по одному событию
type DistributionResult struct {
	Payouts []CommissionPayout `json:"payouts"`
	Skips   []CommissionSkip   `json:"skipped"`
}

// TotalUSD возвращает суммарный объем выплат
func (r *DistributionResult) TotalUSD() float64 {
	var total float64
	for _, p := range r.Payouts {
		total += p.AmountUSD
	}
	return total
}

// HasCycle проверяет, был ли обход остановлен из-за цикла в цепочке
func (r *DistributionResult) HasCycle() bool {
	for _, s := range r.Skips {
		if s.Reason == SkipReasonCircularRef {
			return true
		}
	}
	return false
}
