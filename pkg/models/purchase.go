package models

import (
	"time"
)

// PurchaseStatus представляет статус покупки пакета
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusPartial   PurchaseStatus = "partial"
	PurchaseStatusFailed    PurchaseStatus = "failed"
	PurchaseStatusExpired   PurchaseStatus = "expired"
)

// IsValid проверяет валидность статуса покупки
func (s PurchaseStatus) IsValid() bool {
	switch s {
	case PurchaseStatusPending, PurchaseStatusCompleted, PurchaseStatusPartial,
		PurchaseStatusFailed, PurchaseStatusExpired:
		return true
	default:
		return false
	}
}

// Purchase представляет коммерческую запись о покупке пакета.
// ReferredByUserID фиксируется в момент покупки и дальше не меняется —
// комиссии считаются по цепочке, какой она была на момент покупки.
type Purchase struct {
	ID               string         `json:"id" db:"id"`
	UserID           int64          `json:"user_id" db:"user_id"`
	Tier             string         `json:"tier" db:"tier"`
	AmountUSD        float64        `json:"amount_usd" db:"amount_usd"`
	Status           PurchaseStatus `json:"status" db:"status"`
	ReferredByUserID *int64         `json:"referred_by_user_id,omitempty" db:"referred_by_user_id"`
	PreviousTier     *string        `json:"previous_tier,omitempty" db:"previous_tier"`
	IsUpgrade        bool           `json:"is_upgrade" db:"is_upgrade"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
}

// RevenueEvent представляет неизменяемый факт зачтенной выручки.
// Создается ровно один раз на завершенную сессию: уникальный индекс по
// custodian_tx_id — это и есть защита от повторной обработки уведомления.
type RevenueEvent struct {
	ID            int64     `json:"id" db:"id"`
	UserID        int64     `json:"user_id" db:"user_id"`
	PurchaseID    string    `json:"purchase_id" db:"purchase_id"`
	SessionID     string    `json:"session_id" db:"session_id"`
	CustodianTxID string    `json:"custodian_tx_id" db:"custodian_tx_id"`
	AmountUSD     float64   `json:"amount_usd" db:"amount_usd"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
