package referral

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"titan-pay/internal/store"
	"titan-pay/pkg/models"

	"go.uber.org/zap"
)

// Ошибки сервиса, различимые на уровне API
var (
	ErrSelfReferral   = errors.New("пользователь не может пригласить сам себя")
	ErrAlreadyInvited = errors.New("у пользователя уже есть реферер")
	ErrInvalidCode    = errors.New("неверный реферальный код")
)

// Service представляет сервис для управления реферальной системой.
// Ребро referrals и указатель users.referred_by записываются в одной
// транзакции: комиссионный обход цепочки не должен видеть их врозь.
type Service struct {
	store  store.Store
	logger *zap.Logger
}

// NewService создает новый сервис рефералов
func NewService(st store.Store, logger *zap.Logger) *Service {
	return &Service{
		store:  st,
		logger: logger,
	}
}

// GetOrGenerateReferralCode получает существующий или генерирует новый реферальный код
func (s *Service) GetOrGenerateReferralCode(ctx context.Context, userID int64) (string, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("ошибка получения пользователя: %w", err)
	}

	// Если код уже есть, возвращаем его
	if user.ReferralCode != nil {
		return *user.ReferralCode, nil
	}

	maxAttempts := 10
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return "", fmt.Errorf("ошибка генерации реферального кода: %w", err)
		}

		_, err = s.store.Users().GetByReferralCode(ctx, code)
		if err == nil {
			s.logger.Warn("сгенерированный код уже существует, пробуем снова",
				zap.String("code", code),
				zap.Int("attempt", attempt+1))
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("ошибка проверки реферального кода: %w", err)
		}

		if err := s.store.Users().SetReferralCode(ctx, userID, code); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Параллельный запрос выдал код первым: возвращаем его
				refreshed, gerr := s.store.Users().GetByID(ctx, userID)
				if gerr == nil && refreshed.ReferralCode != nil {
					return *refreshed.ReferralCode, nil
				}
			}
			return "", fmt.Errorf("ошибка выдачи реферального кода: %w", err)
		}

		return code, nil
	}

	return "", fmt.Errorf("не удалось сгенерировать уникальный реферальный код после %d попыток", maxAttempts)
}

// AttachByCode привязывает пользователя к рефереру по коду.
// Привязка однократна и не меняется: реферер фиксируется навсегда.
func (s *Service) AttachByCode(ctx context.Context, userID int64, code string) (*models.Referral, error) {
	referrer, err := s.store.Users().GetByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("ошибка поиска реферера по коду: %w", err)
	}

	return s.Attach(ctx, referrer.ID, userID)
}

// Attach создает реферальную связь между пользователями
func (s *Service) Attach(ctx context.Context, referrerID, referredID int64) (*models.Referral, error) {
	if referrerID == referredID {
		return nil, ErrSelfReferral
	}

	referral := &models.Referral{
		ReferrerUserID: referrerID,
		ReferredUserID: referredID,
		Status:         string(models.ReferralStatusPending),
	}

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Users().SetReferredBy(ctx, referredID, referrerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrAlreadyInvited
			}
			return fmt.Errorf("ошибка установки реферера: %w", err)
		}

		if err := tx.Referrals().Create(ctx, referral); err != nil {
			if store.IsUniqueViolation(err) {
				return ErrAlreadyInvited
			}
			return fmt.Errorf("ошибка создания реферала: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("создан новый реферал",
		zap.Int64("referrer_id", referrerID),
		zap.Int64("referred_id", referredID))

	return referral, nil
}

// GetReferralStats получает статистику рефералов пользователя
func (s *Service) GetReferralStats(ctx context.Context, userID int64) (*models.ReferralStats, error) {
	stats, err := s.store.Referrals().GetStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики рефералов: %w", err)
	}

	return stats, nil
}

// codeAlphabet без визуально похожих символов (0/O, 1/I/l)
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// generateCode генерирует случайный реферальный код из 8 символов
func generateCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}

	return string(buf), nil
}
