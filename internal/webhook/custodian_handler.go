package webhook

import (
	"context"
	"io"
	"net/http"

	"titan-pay/internal/custodian"

	"go.uber.org/zap"
)

// Reconciler интерфейс реконсилятора платежей
type Reconciler interface {
	ProcessNotification(ctx context.Context, n *custodian.Notification) error
}

// CustodianWebhookHandler обрабатывает webhook'и от кастодиана
type CustodianWebhookHandler struct {
	settlement Reconciler
	verifier   *custodian.Verifier
	logger     *zap.Logger
}

// NewCustodianWebhookHandler создает новый обработчик webhook'ов
func NewCustodianWebhookHandler(settlement Reconciler, verifier *custodian.Verifier, logger *zap.Logger) *CustodianWebhookHandler {
	return &CustodianWebhookHandler{
		settlement: settlement,
		verifier:   verifier,
		logger:     logger,
	}
}

// HandleWebhook обрабатывает входящий webhook от кастодиана.
// Ответ 200 подтверждает доставку, любой другой код провайдер
// воспринимает как сигнал повторить уведомление позже.
func (h *CustodianWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("получен webhook запрос",
		zap.String("method", r.Method),
		zap.String("url", r.URL.String()),
		zap.String("content_type", r.Header.Get("Content-Type")))

	// Проверяем метод запроса
	if r.Method != http.MethodPost {
		h.logger.Warn("неверный метод webhook запроса", zap.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Подпись считается по сырому телу, поэтому тело читается до разбора
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("ошибка чтения тела запроса", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer r.Body.Close()

	if err := h.verifier.Verify(body, r.Header.Get("Fireblocks-Signature")); err != nil {
		h.logger.Warn("неверная подпись webhook'а", zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	notification, err := custodian.ParseNotification(body)
	if err != nil {
		h.logger.Error("ошибка парсинга webhook'а", zap.Error(err))
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	h.logger.Info("получен webhook от кастодиана",
		zap.String("type", string(notification.Type)),
		zap.String("custodian_tx_id", notification.Data.ID),
		zap.String("status", string(notification.Data.Status)))

	if err := h.settlement.ProcessNotification(r.Context(), notification); err != nil {
		h.logger.Error("ошибка обработки уведомления", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Отвечаем успехом
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
