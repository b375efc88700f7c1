// Package treasury переводит средства из пользовательских хранилищ
// в казначейское. Подбор идет по завершенным сессиям: каждая сессия
// подбирается не более одного раза, неуспех оставляет ее в очереди.
package treasury

import (
	"context"
	"fmt"

	"titan-pay/internal/alerts"
	"titan-pay/internal/config"
	"titan-pay/internal/custodian"
	"titan-pay/internal/metrics"
	"titan-pay/internal/store"
	"titan-pay/pkg/models"

	"go.uber.org/zap"
)

// TransferProvider интерфейс кастодиана для переводов между хранилищами
type TransferProvider interface {
	CreateTransfer(ctx context.Context, req *custodian.TransferRequest) (*custodian.TransferResult, error)
}

// Service представляет сервис подбора средств в казначейство
type Service struct {
	store     store.Store
	transfers TransferProvider
	notifier  alerts.Notifier
	metrics   *metrics.Metrics
	cfg       config.TreasuryConfig
	logger    *zap.Logger
}

// NewService создает новый сервис казначейства
func NewService(st store.Store, transfers TransferProvider, notifier alerts.Notifier, m *metrics.Metrics, cfg config.TreasuryConfig, logger *zap.Logger) *Service {
	return &Service{
		store:     st,
		transfers: transfers,
		notifier:  notifier,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
	}
}

// SweepBatch подбирает пакет завершенных сессий. При assetID == nil
// подбираются все активы. Ошибка одной сессии не прерывает пакет.
func (s *Service) SweepBatch(ctx context.Context, assetID *string) ([]*models.SweepOutcome, error) {
	candidates, err := s.store.Sessions().SweepCandidates(ctx, assetID, s.cfg.SweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки кандидатов на подбор: %w", err)
	}

	outcomes := make([]*models.SweepOutcome, 0, len(candidates))
	for _, session := range candidates {
		outcomes = append(outcomes, s.sweepSession(ctx, session))
	}

	if len(outcomes) > 0 {
		s.logger.Info("пакет подбора обработан",
			zap.Int("candidates", len(outcomes)))
	}

	return outcomes, nil
}

// sweepSession переводит средства одной сессии в казначейство.
// Перевод всегда на сумму MAX: повторный запуск по уже опустевшему
// хранилищу безопасен, но статус submitted выводит сессию из очереди
// и при штатной работе второго перевода не бывает.
func (s *Service) sweepSession(ctx context.Context, session *models.PaymentSession) *models.SweepOutcome {
	result, err := s.transfers.CreateTransfer(ctx, &custodian.TransferRequest{
		AssetID:            session.AssetID,
		SourceVaultID:      session.VaultAccountID,
		DestinationVaultID: s.cfg.VaultAccountID,
		Note:               fmt.Sprintf("sweep session %s", session.ID),
	})
	if err != nil {
		s.recordFailure(ctx, session, err)
		return &models.SweepOutcome{
			SessionID: session.ID,
			Skipped:   true,
			Reason:    "ошибка перевода в казначейство",
			Status:    models.SweepStatusFailed,
		}
	}

	if err := s.store.Sessions().UpdateSweep(ctx, session.ID, &result.ID, models.SweepStatusSubmitted, nil); err != nil {
		// Перевод ушел, а статус не записан: сессия останется в очереди
		// и на следующем проходе уйдет пустой перевод MAX. Требует внимания.
		s.logger.Error("перевод создан, но статус подбора не записан",
			zap.String("session_id", session.ID),
			zap.String("tx_id", result.ID),
			zap.Error(err))
		s.notifier.Notify(ctx, fmt.Sprintf(
			"Подбор сессии %s: перевод %s создан, но статус не записан. Проверьте вручную.",
			session.ID, result.ID))
	}

	s.metrics.SweepOutcome("submitted")
	s.logger.Info("средства сессии отправлены в казначейство",
		zap.String("session_id", session.ID),
		zap.String("asset_id", session.AssetID),
		zap.String("tx_id", result.ID))

	return &models.SweepOutcome{
		SessionID: session.ID,
		TxID:      result.ID,
		Status:    models.SweepStatusSubmitted,
	}
}

// recordFailure фиксирует неуспех подбора: статус failed с текстом ошибки,
// аудиторская запись и оповещение операторов
func (s *Service) recordFailure(ctx context.Context, session *models.PaymentSession, cause error) {
	s.logger.Error("ошибка подбора средств сессии",
		zap.String("session_id", session.ID),
		zap.Error(cause))

	msg := cause.Error()
	if err := s.store.Sessions().UpdateSweep(ctx, session.ID, nil, models.SweepStatusFailed, &msg); err != nil {
		s.logger.Error("ошибка записи статуса подбора", zap.Error(err))
	}

	record := &models.AuditRecord{
		Kind:      models.AuditKindSweepFailure,
		SessionID: &session.ID,
		Detail:    fmt.Sprintf("ошибка перевода в казначейство: %s", msg),
	}
	if err := s.store.Audit().Create(ctx, record); err != nil {
		s.logger.Error("ошибка записи аудита подбора", zap.Error(err))
	}

	s.metrics.SweepOutcome("failed")
	s.notifier.Notify(ctx, fmt.Sprintf(
		"Ошибка подбора средств сессии %s, требуется ручной разбор.", session.ID))
}

// PendingTotals возвращает агрегаты по сессиям, ожидающим подбора
func (s *Service) PendingTotals(ctx context.Context) ([]*models.PendingSweepTotal, error) {
	totals, err := s.store.Sessions().PendingSweepTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки очереди подбора: %w", err)
	}

	pending := 0
	for _, t := range totals {
		pending += t.Sessions
	}
	s.metrics.SetPendingSweeps(pending)

	return totals, nil
}
