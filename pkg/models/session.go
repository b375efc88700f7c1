package models

import (
	"time"
)

// SessionStatus представляет статус платежной сессии
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusConfirming SessionStatus = "confirming"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusPartial    SessionStatus = "partial"
	SessionStatusFailed     SessionStatus = "failed"
	SessionStatusExpired    SessionStatus = "expired"
)

// IsValid проверяет валидность статуса сессии
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusPending, SessionStatusConfirming, SessionStatusCompleted,
		SessionStatusPartial, SessionStatusFailed, SessionStatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal проверяет, является ли статус терминальным.
// Терминальная сессия никогда не меняет статус, какие бы уведомления ни пришли.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusExpired:
		return true
	default:
		return false
	}
}

// Message возвращает статическое сообщение для пользователя по статусу.
// Наружу уходят только эти строки, внутренние ошибки не показываются.
func (s SessionStatus) Message() string {
	switch s {
	case SessionStatusPending:
		return "Ожидаем перевод. Отправьте указанную сумму на адрес депозита."
	case SessionStatusConfirming:
		return "Перевод получен и подтверждается в сети."
	case SessionStatusCompleted:
		return "Оплата подтверждена, пакет активирован."
	case SessionStatusPartial:
		return "Получена неполная сумма. Отправьте остаток на тот же адрес."
	case SessionStatusFailed:
		return "Перевод не прошел. Создайте новую сессию оплаты."
	case SessionStatusExpired:
		return "Время сессии истекло. Создайте новую сессию оплаты."
	default:
		return "Статус неизвестен."
	}
}

// SweepStatus представляет статус перевода средств в казначейство
type SweepStatus string

const (
	SweepStatusPending   SweepStatus = "pending"
	SweepStatusSubmitted SweepStatus = "submitted"
	SweepStatusCompleted SweepStatus = "completed"
	SweepStatusFailed    SweepStatus = "failed"
)

// PaymentSession представляет платежную сессию: одна попытка оплаты пакета.
// QuotedCryptoAmount фиксируется при создании и больше никогда не пересчитывается —
// пользователю была показана именно эта сумма к отправке.
type PaymentSession struct {
	ID                  string        `json:"id" db:"id"`
	UserID              int64         `json:"user_id" db:"user_id"`
	PurchaseID          string        `json:"purchase_id" db:"purchase_id"`
	Tier                string        `json:"tier" db:"tier"`
	AssetID             string        `json:"asset_id" db:"asset_id"`
	PriceUSD            float64       `json:"price_usd" db:"price_usd"`
	QuotedCryptoAmount  float64       `json:"quoted_crypto_amount" db:"quoted_crypto_amount"`
	DepositAddress      string        `json:"deposit_address" db:"deposit_address"`
	DepositTag          *string       `json:"deposit_tag,omitempty" db:"deposit_tag"`
	VaultAccountID      string        `json:"vault_account_id" db:"vault_account_id"`
	Status              SessionStatus `json:"status" db:"status"`
	CustodianTxID       *string       `json:"custodian_tx_id,omitempty" db:"custodian_tx_id"`
	TxHash              *string       `json:"tx_hash,omitempty" db:"tx_hash"`
	AmountReceivedUSD   float64       `json:"amount_received_usd" db:"amount_received_usd"`
	AmountReceivedCrypt float64       `json:"amount_received_crypto" db:"amount_received_crypto"`
	TreasurySweepTxID   *string       `json:"treasury_sweep_tx_id,omitempty" db:"treasury_sweep_tx_id"`
	TreasurySweepStatus *SweepStatus  `json:"treasury_sweep_status,omitempty" db:"treasury_sweep_status"`
	TreasurySweepError  *string       `json:"treasury_sweep_error,omitempty" db:"treasury_sweep_error"`
	ExpiresAt           time.Time     `json:"expires_at" db:"expires_at"`
	CreatedAt           time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at" db:"updated_at"`
}

// SessionStatusView представляет ответ API статуса сессии
type SessionStatusView struct {
	SessionID      string        `json:"session_id"`
	PurchaseID     string        `json:"purchase_id"`
	Tier           string        `json:"tier"`
	PriceUSD       float64       `json:"price_usd"`
	AmountCrypto   float64       `json:"amount_crypto"`
	AssetID        string        `json:"asset_id"`
	DepositAddress string        `json:"deposit_address"`
	DepositTag     *string       `json:"deposit_tag,omitempty"`
	Status         SessionStatus `json:"status"`
	StatusMessage  string        `json:"status_message"`
	CustodianTxID  *string       `json:"custodian_tx_id,omitempty"`
	TxHash         *string       `json:"tx_hash,omitempty"`
	AmountReceived float64       `json:"amount_received"`
	ExpiresAt      time.Time     `json:"expires_at"`
	CreatedAt      time.Time     `json:"created_at"`
}

// StatusView формирует представление сессии для API
func (s *PaymentSession) StatusView() *SessionStatusView {
	return &SessionStatusView{
		SessionID:      s.ID,
		PurchaseID:     s.PurchaseID,
		Tier:           s.Tier,
		PriceUSD:       s.PriceUSD,
		AmountCrypto:   s.QuotedCryptoAmount,
		AssetID:        s.AssetID,
		DepositAddress: s.DepositAddress,
		DepositTag:     s.DepositTag,
		Status:         s.Status,
		StatusMessage:  s.Status.Message(),
		CustodianTxID:  s.CustodianTxID,
		TxHash:         s.TxHash,
		AmountReceived: s.AmountReceivedUSD,
		ExpiresAt:      s.ExpiresAt,
		CreatedAt:      s.CreatedAt,
	}
}
