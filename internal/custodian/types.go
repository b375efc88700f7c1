package custodian

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// NotificationType представляет тип webhook-уведомления от кастодиана
type NotificationType string

const (
	NotificationTypeCreated       NotificationType = "CREATED"
	NotificationTypeStatusUpdated NotificationType = "STATUS_UPDATED"
)

// TxStatus представляет статус транзакции у кастодиана
type TxStatus string

const (
	TxStatusPendingSignature TxStatus = "PENDING_SIGNATURE"
	TxStatusConfirming       TxStatus = "CONFIRMING"
	TxStatusCompleted        TxStatus = "COMPLETED"
	TxStatusFailed           TxStatus = "FAILED"
	TxStatusCancelled        TxStatus = "CANCELLED"
	TxStatusRejected         TxStatus = "REJECTED"
	TxStatusBlocked          TxStatus = "BLOCKED"
)

// IsFailure проверяет, означает ли статус неуспех перевода
func (s TxStatus) IsFailure() bool {
	switch s {
	case TxStatusFailed, TxStatusCancelled, TxStatusRejected, TxStatusBlocked:
		return true
	default:
		return false
	}
}

// DestinationTypeVaultAccount — тип назначения, который ядро готово обрабатывать
const DestinationTypeVaultAccount = "VAULT_ACCOUNT"

// Destination представляет назначение перевода в уведомлении
type Destination struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// AmountInfo представляет суммы перевода. Кастодиан передает суммы строками
type AmountInfo struct {
	Amount    string `json:"amount"`
	AmountUSD string `json:"amountUSD"`
}

// TxData представляет данные транзакции внутри уведомления
type TxData struct {
	ID                 string      `json:"id"`
	Status             TxStatus    `json:"status"`
	AssetID            string      `json:"assetId"`
	Destination        Destination `json:"destination"`
	DestinationAddress string      `json:"destinationAddress"`
	DestinationTag     string      `json:"destinationTag,omitempty"`
	AmountInfo         AmountInfo  `json:"amountInfo"`
	TxHash             string      `json:"txHash"`
}

// Notification представляет webhook-уведомление кастодиана.
// Тип — закрытое множество: неизвестные значения отклоняются при разборе,
// а не пропускаются молча.
type Notification struct {
	Type NotificationType `json:"type"`
	Data TxData           `json:"data"`
}

// ParseNotification разбирает сырое тело webhook'а и валидирует тип
func ParseNotification(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("ошибка разбора уведомления: %w", err)
	}

	switch n.Type {
	case NotificationTypeCreated, NotificationTypeStatusUpdated:
	default:
		return nil, fmt.Errorf("неизвестный тип уведомления: %q", n.Type)
	}

	if n.Data.ID == "" {
		return nil, fmt.Errorf("уведомление без идентификатора транзакции")
	}

	return &n, nil
}

// AmountUSDFloat возвращает сумму перевода в USD числом
func (a AmountInfo) AmountUSDFloat() (float64, error) {
	if a.AmountUSD == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(a.AmountUSD, 64)
	if err != nil {
		return 0, fmt.Errorf("ошибка разбора суммы USD %q: %w", a.AmountUSD, err)
	}
	return v, nil
}

// AmountFloat возвращает сумму перевода в криптовалюте числом
func (a AmountInfo) AmountFloat() (float64, error) {
	if a.Amount == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(a.Amount, 64)
	if err != nil {
		return 0, fmt.Errorf("ошибка разбора суммы %q: %w", a.Amount, err)
	}
	return v, nil
}

// DepositAddress представляет выданный адрес депозита
type DepositAddress struct {
	Address string `json:"address"`
	Tag     string `json:"tag,omitempty"`
}

// TransferRequest представляет запрос на перевод между хранилищами
type TransferRequest struct {
	AssetID            string `json:"assetId"`
	SourceVaultID      string `json:"sourceVaultId"`
	DestinationVaultID string `json:"destinationVaultId"`
	Note               string `json:"note,omitempty"`
}

// TransferResult представляет ответ кастодиана на запрос перевода
type TransferResult struct {
	ID     string   `json:"id"`
	Status TxStatus `json:"status"`
}
