package models

import (
	"time"
)

// PendingSweepTotal представляет агрегат по завершенным сессиям,
// еще не переведенным в казначейство
type PendingSweepTotal struct {
	AssetID   string  `json:"asset_id" db:"asset_id"`
	Tier      string  `json:"tier" db:"tier"`
	Sessions  int     `json:"sessions" db:"sessions"`
	AmountUSD float64 `json:"amount_usd" db:"amount_usd"`
}

// SweepOutcome представляет результат подбора средств по одной сессии
type SweepOutcome struct {
	SessionID string      `json:"session_id"`
	Skipped   bool        `json:"skipped"`
	Reason    string      `json:"reason,omitempty"`
	TxID      string      `json:"tx_id,omitempty"`
	Status    SweepStatus `json:"status,omitempty"`
	SweptAt   time.Time   `json:"swept_at,omitempty"`
}
