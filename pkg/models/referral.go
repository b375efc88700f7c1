package models

import (
	"time"
)

// Referral представляет реферальную связь между пользователями.
// У пользователя может быть не более одного реферера: уникальный индекс
// по referred_user_id. Ребро должно быть согласовано с users.referred_by.
type Referral struct {
	ID             int64     `json:"id" db:"id"`
	ReferrerUserID int64     `json:"referrer_user_id" db:"referrer_user_id"`
	ReferredUserID int64     `json:"referred_user_id" db:"referred_user_id"`
	Status         string    `json:"status" db:"status"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ReferralStatus представляет статус реферальной связи
type ReferralStatus string

const (
	ReferralStatusActive  ReferralStatus = "active"
	ReferralStatusPending ReferralStatus = "pending"
	ReferralStatusInvalid ReferralStatus = "invalid"
)

// IsValid проверяет валидность статуса реферала
func (rs ReferralStatus) IsValid() bool {
	switch rs {
	case ReferralStatusActive, ReferralStatusPending, ReferralStatusInvalid:
		return true
	default:
		return false
	}
}

// ReferralStats представляет статистику рефералов пользователя
type ReferralStats struct {
	TotalReferrals  int `json:"total_referrals"`
	ActiveReferrals int `json:"active_referrals"`
}
