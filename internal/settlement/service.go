package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"titan-pay/internal/alerts"
	"titan-pay/internal/catalog"
	"titan-pay/internal/commission"
	"titan-pay/internal/config"
	"titan-pay/internal/custodian"
	"titan-pay/internal/metrics"
	"titan-pay/internal/store"
	"titan-pay/pkg/models"
	"titan-pay/pkg/money"

	"go.uber.org/zap"
)

// errAlreadyProcessed сигнализирует, что событие выручки по этой
// транзакции кастодиана уже существует: уведомление доставлено повторно
var errAlreadyProcessed = errors.New("уведомление уже обработано")

// Service представляет реконсилятор платежей: сопоставляет уведомления
// кастодиана с сессиями и двигает машину состояний сессии/покупки.
// Вся взаимная блокировка — на стороне базы: строчная блокировка сессии
// плюс уникальный индекс события выручки. Внутрипроцессных замков нет,
// корректность не зависит от числа экземпляров сервиса.
type Service struct {
	store    store.Store
	engine   *commission.Engine
	catalog  *catalog.Catalog
	notifier alerts.Notifier
	metrics  *metrics.Metrics
	cfg      config.SettlementConfig
	logger   *zap.Logger
}

// NewService создает новый сервис реконсиляции
func NewService(st store.Store, engine *commission.Engine, cat *catalog.Catalog, notifier alerts.Notifier, m *metrics.Metrics, cfg config.SettlementConfig, logger *zap.Logger) *Service {
	return &Service{
		store:    st,
		engine:   engine,
		catalog:  cat,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
		logger:   logger,
	}
}

// ProcessNotification обрабатывает одно webhook-уведомление кастодиана.
// Возврат nil означает, что провайдеру можно подтвердить доставку;
// ошибка — что провайдер должен повторить уведомление позже.
func (s *Service) ProcessNotification(ctx context.Context, n *custodian.Notification) error {
	start := time.Now()
	defer func() {
		s.metrics.ObserveNotificationTime(time.Since(start).Seconds())
	}()

	// Подбор зависших сессий — оппортунистический и не влияет на ответ
	defer s.expireOpportunistically(ctx)

	reportedUSD, err := n.Data.AmountInfo.AmountUSDFloat()
	if err != nil {
		return fmt.Errorf("некорректное уведомление: %w", err)
	}
	reportedCrypto, err := n.Data.AmountInfo.AmountFloat()
	if err != nil {
		return fmt.Errorf("некорректное уведомление: %w", err)
	}

	// Рассматриваются только переводы в хранилища: все остальное —
	// неожиданный платеж для ручного разбора
	if n.Data.Destination.Type != custodian.DestinationTypeVaultAccount {
		s.recordUnexpected(ctx, n, "назначение перевода не является хранилищем")
		return nil
	}

	session, err := s.matchSession(ctx, n)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.recordUnexpected(ctx, n, "сессия для перевода не найдена")
			return nil
		}
		return fmt.Errorf("ошибка сопоставления уведомления: %w", err)
	}

	s.logger.Info("уведомление сопоставлено с сессией",
		zap.String("session_id", session.ID),
		zap.String("custodian_tx_id", n.Data.ID),
		zap.String("tx_status", string(n.Data.Status)),
		zap.Float64("reported_usd", reportedUSD))

	switch {
	case n.Data.Status == custodian.TxStatusCompleted:
		return s.handleCompleted(ctx, session.ID, n, reportedUSD, reportedCrypto)
	case n.Data.Status == custodian.TxStatusConfirming,
		n.Data.Status == custodian.TxStatusPendingSignature:
		return s.handleConfirming(ctx, session.ID, n, reportedUSD, reportedCrypto)
	case n.Data.Status.IsFailure():
		return s.handleFailed(ctx, session.ID, n)
	default:
		s.logger.Warn("необрабатываемый статус транзакции",
			zap.String("status", string(n.Data.Status)),
			zap.String("custodian_tx_id", n.Data.ID))
		return nil
	}
}

// matchSession сопоставляет уведомление с сессией: сначала по адресу
// депозита (уникален в пределах сессии), затем по хранилищу (грубее,
// но хранилище приватно для пользователя и перепутать можно только
// его собственные параллельные сессии).
func (s *Service) matchSession(ctx context.Context, n *custodian.Notification) (*models.PaymentSession, error) {
	if n.Data.DestinationAddress != "" {
		session, err := s.store.Sessions().GetByDepositAddress(ctx, n.Data.DestinationAddress)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	if n.Data.Destination.ID == "" {
		return nil, store.ErrNotFound
	}

	return s.store.Sessions().GetLatestOpenByVault(ctx, n.Data.Destination.ID)
}

// handleCompleted обрабатывает завершенный перевод: проверка достаточности,
// завершение сессии и покупки, повышение аффилиатского статуса, событие
// выручки и распределение комиссий — все в одной транзакции.
func (s *Service) handleCompleted(ctx context.Context, sessionID string, n *custodian.Notification, reportedUSD, reportedCrypto float64) error {
	var (
		result   *models.DistributionResult
		outcome  models.SessionStatus
		buyerID  int64
		lateNote bool
	)

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		session, err := tx.Sessions().GetByIDForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}

		if session.Status.IsTerminal() {
			lateNote = true
			return s.recordLate(ctx, tx, session, n)
		}

		if !money.SufficientUSD(reportedUSD, session.PriceUSD, s.cfg.TolerancePct) {
			outcome = models.SessionStatusPartial
			return s.applyTransition(ctx, tx, session, models.SessionStatusPartial, n, reportedUSD, reportedCrypto)
		}

		// Событие выручки вставляется первым: уникальный индекс по
		// custodian_tx_id — это и есть замок идемпотентности. Проигравшая
		// сторона откатывается и отвечает провайдеру успехом.
		purchase, err := tx.Purchases().GetByID(ctx, session.PurchaseID)
		if err != nil {
			return err
		}

		event := &models.RevenueEvent{
			UserID:        session.UserID,
			PurchaseID:    session.PurchaseID,
			SessionID:     session.ID,
			CustodianTxID: n.Data.ID,
			AmountUSD:     reportedUSD,
		}
		if err := tx.RevenueEvents().Create(ctx, event); err != nil {
			if store.IsUniqueViolation(err) {
				return errAlreadyProcessed
			}
			return err
		}

		if err := s.applyTransition(ctx, tx, session, models.SessionStatusCompleted, n, reportedUSD, reportedCrypto); err != nil {
			return err
		}

		if err := s.promoteAffiliate(ctx, tx, session); err != nil {
			return err
		}

		if err := s.activateReferralEdge(ctx, tx, purchase); err != nil {
			return err
		}

		result, err = s.engine.Distribute(ctx, tx.Users(), tx.Affiliates(), tx.Commissions(), event, purchase)
		if err != nil {
			return err
		}

		if result.HasCycle() {
			detail := fmt.Sprintf("цикл в реферальной цепочке покупателя %d, событие выручки %d", purchase.UserID, event.ID)
			record := &models.AuditRecord{
				Kind:          models.AuditKindCircularReferral,
				SessionID:     &session.ID,
				CustodianTxID: &event.CustodianTxID,
				Detail:        detail,
			}
			if err := tx.Audit().Create(ctx, record); err != nil {
				return err
			}
		}

		outcome = models.SessionStatusCompleted
		buyerID = session.UserID
		return nil
	})

	if err != nil {
		if errors.Is(err, errAlreadyProcessed) {
			s.logger.Info("повторное уведомление о завершенном переводе, изменений нет",
				zap.String("session_id", sessionID),
				zap.String("custodian_tx_id", n.Data.ID))
			s.metrics.NotificationProcessed("duplicate")
			return nil
		}
		return fmt.Errorf("ошибка реконсиляции сессии %s: %w", sessionID, err)
	}

	if lateNote {
		s.metrics.NotificationProcessed("late")
		return nil
	}

	s.metrics.NotificationProcessed("matched")
	s.metrics.SettlementTransition(string(outcome))

	if outcome == models.SessionStatusCompleted && result != nil {
		s.metrics.CommissionsPosted(len(result.Payouts), result.TotalUSD())
		if result.HasCycle() {
			s.notifier.Notify(ctx, fmt.Sprintf(
				"Обнаружен цикл в реферальной цепочке покупателя %d (сессия %s). Комиссии начислены до точки цикла, требуется ручной разбор.",
				buyerID, sessionID))
		}
	}

	return nil
}

// handleConfirming фиксирует подтверждающийся перевод
func (s *Service) handleConfirming(ctx context.Context, sessionID string, n *custodian.Notification, reportedUSD, reportedCrypto float64) error {
	var late bool

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		session, err := tx.Sessions().GetByIDForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}

		if session.Status.IsTerminal() {
			late = true
			return s.recordLate(ctx, tx, session, n)
		}

		// PENDING_SIGNATURE перевода статус сессии не меняет:
		// фиксируются только идентификаторы
		target := models.SessionStatusConfirming
		if n.Data.Status == custodian.TxStatusPendingSignature {
			target = session.Status
		}

		return s.applyTransition(ctx, tx, session, target, n, reportedUSD, reportedCrypto)
	})

	if err != nil {
		return fmt.Errorf("ошибка обработки подтверждения сессии %s: %w", sessionID, err)
	}

	if late {
		s.metrics.NotificationProcessed("late")
	} else {
		s.metrics.NotificationProcessed("matched")
		s.metrics.SettlementTransition(string(models.SessionStatusConfirming))
	}

	return nil
}

// handleFailed фиксирует неуспех перевода
func (s *Service) handleFailed(ctx context.Context, sessionID string, n *custodian.Notification) error {
	var late bool

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		session, err := tx.Sessions().GetByIDForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}

		if session.Status.IsTerminal() {
			late = true
			return s.recordLate(ctx, tx, session, n)
		}

		if err := s.applyTransition(ctx, tx, session, models.SessionStatusFailed, n, session.AmountReceivedUSD, session.AmountReceivedCrypt); err != nil {
			return err
		}

		return tx.Purchases().UpdateStatus(ctx, session.PurchaseID, models.PurchaseStatusFailed)
	})

	if err != nil {
		return fmt.Errorf("ошибка обработки неуспеха сессии %s: %w", sessionID, err)
	}

	if late {
		s.metrics.NotificationProcessed("late")
	} else {
		s.metrics.NotificationProcessed("matched")
		s.metrics.SettlementTransition(string(models.SessionStatusFailed))
	}

	return nil
}

// applyTransition записывает новый статус сессии и данные перевода.
// Вызывается только под строчной блокировкой и только для нетерминальных сессий.
func (s *Service) applyTransition(ctx context.Context, tx store.Store, session *models.PaymentSession, status models.SessionStatus, n *custodian.Notification, reportedUSD, reportedCrypto float64) error {
	session.Status = status
	txID := n.Data.ID
	session.CustodianTxID = &txID
	if n.Data.TxHash != "" {
		hash := n.Data.TxHash
		session.TxHash = &hash
	}
	session.AmountReceivedUSD = reportedUSD
	session.AmountReceivedCrypt = reportedCrypto

	if err := tx.Sessions().UpdateSettlement(ctx, session); err != nil {
		return err
	}

	switch status {
	case models.SessionStatusCompleted:
		return tx.Purchases().UpdateStatus(ctx, session.PurchaseID, models.PurchaseStatusCompleted)
	case models.SessionStatusPartial:
		return tx.Purchases().UpdateStatus(ctx, session.PurchaseID, models.PurchaseStatusPartial)
	default:
		return nil
	}
}

// promoteAffiliate повышает аффилиатский статус покупателя до купленного тира
func (s *Service) promoteAffiliate(ctx context.Context, tx store.Store, session *models.PaymentSession) error {
	level := s.catalog.Level(session.Tier)
	if level == 0 {
		return fmt.Errorf("неизвестный тир сессии: %s", session.Tier)
	}

	return tx.Affiliates().Upsert(ctx, &models.AffiliateStatus{
		UserID:         session.UserID,
		Tier:           session.Tier,
		TierDepthLimit: level,
		IsActive:       true,
	})
}

// activateReferralEdge отмечает реферальное ребро покупателя активным
func (s *Service) activateReferralEdge(ctx context.Context, tx store.Store, purchase *models.Purchase) error {
	if purchase.ReferredByUserID == nil {
		return nil
	}

	referral, err := tx.Referrals().GetByReferredUserID(ctx, purchase.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	if referral.Status == string(models.ReferralStatusActive) {
		return nil
	}

	return tx.Referrals().UpdateStatus(ctx, referral.ID, models.ReferralStatusActive)
}

// recordLate фиксирует уведомление, пришедшее после терминального статуса.
// Состояние сессии не меняется — записывается только аудиторский след.
func (s *Service) recordLate(ctx context.Context, tx store.Store, session *models.PaymentSession, n *custodian.Notification) error {
	s.logger.Info("уведомление после терминального статуса, игнорируется",
		zap.String("session_id", session.ID),
		zap.String("session_status", string(session.Status)),
		zap.String("custodian_tx_id", n.Data.ID),
		zap.String("tx_status", string(n.Data.Status)))

	txID := n.Data.ID
	return tx.Audit().Create(ctx, &models.AuditRecord{
		Kind:          models.AuditKindLateNotification,
		SessionID:     &session.ID,
		CustodianTxID: &txID,
		Detail: fmt.Sprintf("уведомление %s для сессии в статусе %s",
			n.Data.Status, session.Status),
	})
}

// recordUnexpected фиксирует платеж без сопоставленной сессии.
// Провайдеру отвечается успехом: бесконечные повторы не приблизят
// сопоставление, а запись уже лежит в аудите для ручного разбора.
func (s *Service) recordUnexpected(ctx context.Context, n *custodian.Notification, reason string) {
	s.logger.Warn("неожиданный платеж",
		zap.String("custodian_tx_id", n.Data.ID),
		zap.String("destination_address", n.Data.DestinationAddress),
		zap.String("destination_id", n.Data.Destination.ID),
		zap.String("reason", reason))

	txID := n.Data.ID
	record := &models.AuditRecord{
		Kind:          models.AuditKindUnexpectedPayment,
		CustodianTxID: &txID,
		Detail: fmt.Sprintf("%s: актив %s, адрес %q, хранилище %q, сумма USD %q",
			reason, n.Data.AssetID, n.Data.DestinationAddress,
			n.Data.Destination.ID, n.Data.AmountInfo.AmountUSD),
	}
	if err := s.store.Audit().Create(ctx, record); err != nil {
		s.logger.Error("ошибка записи аудита неожиданного платежа", zap.Error(err))
	}

	s.metrics.NotificationProcessed("unmatched")
	s.metrics.UnexpectedPayment()
	s.notifier.Notify(ctx, fmt.Sprintf(
		"Неожиданный платеж: транзакция %s, актив %s, требуется ручной разбор.",
		n.Data.ID, n.Data.AssetID))
}

// ExpireStale переводит зависшие pending-сессии в expired пакетом
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	expired, err := s.store.Sessions().ExpireStale(ctx, time.Now(), s.cfg.ExpiryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("ошибка просрочки сессий: %w", err)
	}

	if expired > 0 {
		s.metrics.SettlementTransition(string(models.SessionStatusExpired))
	}

	return expired, nil
}

// expireOpportunistically запускает просрочку после обработки уведомления.
// Отказ здесь не должен влиять на ответ провайдеру.
func (s *Service) expireOpportunistically(ctx context.Context) {
	if _, err := s.ExpireStale(ctx); err != nil {
		s.logger.Error("ошибка оппортунистической просрочки сессий", zap.Error(err))
	}
}
