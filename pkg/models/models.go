package models

import (
	"time"
)

// User представляет пользователя платформы.
// Аутентификация и профиль живут во внешнем сервисе, ядру нужны только
// реферальная цепочка и привязка к кастодиальному хранилищу.
// ReferredBy устанавливается один раз и дальше не меняется — обход цепочки
// комиссий идет именно по этому указателю.
type User struct {
	ID             int64     `json:"id" db:"id"`
	Email          string    `json:"email" db:"email"`
	ReferralCode   *string   `json:"referral_code" db:"referral_code"`
	ReferredBy     *int64    `json:"referred_by" db:"referred_by"`
	VaultAccountID *string   `json:"vault_account_id" db:"vault_account_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// AuditKind представляет тип аудиторской записи
type AuditKind string

const (
	AuditKindUnexpectedPayment AuditKind = "unexpected_payment"
	AuditKindLateNotification  AuditKind = "late_notification"
	AuditKindCircularReferral  AuditKind = "circular_referral"
	AuditKindSweepFailure      AuditKind = "sweep_failure"
)

// AuditRecord представляет запись для ручного разбора.
// Аудит — побочный канал: его отказ никогда не валит обработку уведомления.
type AuditRecord struct {
	ID            int64     `json:"id" db:"id"`
	Kind          AuditKind `json:"kind" db:"kind"`
	SessionID     *string   `json:"session_id,omitempty" db:"session_id"`
	CustodianTxID *string   `json:"custodian_tx_id,omitempty" db:"custodian_tx_id"`
	Detail        string    `json:"detail" db:"detail"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
