package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"titan-pay/pkg/models"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ReferralRepository определяет интерфейс для работы с рефералами
type ReferralRepository interface {
	// Create вставляет ребро. Нарушение уникальности по referred_user_id
	// означает, что у пользователя уже есть реферер.
	Create(ctx context.Context, referral *models.Referral) error
	GetByReferredUserID(ctx context.Context, referredUserID int64) (*models.Referral, error)
	UpdateStatus(ctx context.Context, referralID int64, status models.ReferralStatus) error
	GetStats(ctx context.Context, referrerUserID int64) (*models.ReferralStats, error)
}

// PostgresReferralRepository реализует ReferralRepository для PostgreSQL
type PostgresReferralRepository struct {
	db     Querier
	logger *zap.Logger
}

// NewReferralRepository создает новый репозиторий рефералов
func NewReferralRepository(db Querier, logger *zap.Logger) ReferralRepository {
	return &PostgresReferralRepository{
		db:     db,
		logger: logger,
	}
}

// Create создает новую реферальную связь
func (r *PostgresReferralRepository) Create(ctx context.Context, referral *models.Referral) error {
	query := `
		INSERT INTO referrals (referrer_user_id, referred_user_id, status, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	referral.CreatedAt = time.Now()

	err := r.db.QueryRow(ctx, query,
		referral.ReferrerUserID,
		referral.ReferredUserID,
		referral.Status,
		referral.CreatedAt,
	).Scan(&referral.ID)

	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("ошибка создания реферала: %w", err)
	}

	r.logger.Info("создан новый реферал",
		zap.Int64("referrer_user_id", referral.ReferrerUserID),
		zap.Int64("referred_user_id", referral.ReferredUserID))

	return nil
}

// GetByReferredUserID получает реферал по ID приглашенного пользователя
func (r *PostgresReferralRepository) GetByReferredUserID(ctx context.Context, referredUserID int64) (*models.Referral, error) {
	query := `
		SELECT id, referrer_user_id, referred_user_id, status, created_at
		FROM referrals
		WHERE referred_user_id = $1`

	referral := &models.Referral{}
	err := r.db.QueryRow(ctx, query, referredUserID).Scan(
		&referral.ID,
		&referral.ReferrerUserID,
		&referral.ReferredUserID,
		&referral.Status,
		&referral.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения реферала: %w", err)
	}

	return referral, nil
}

// UpdateStatus обновляет статус реферала
func (r *PostgresReferralRepository) UpdateStatus(ctx context.Context, referralID int64, status models.ReferralStatus) error {
	query := `UPDATE referrals SET status = $2 WHERE id = $1`

	result, err := r.db.Exec(ctx, query, referralID, status)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса реферала: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("реферал с ID %d не найден", referralID)
	}

	return nil
}

// GetStats получает статистику рефералов пользователя
func (r *PostgresReferralRepository) GetStats(ctx context.Context, referrerUserID int64) (*models.ReferralStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'active')
		FROM referrals
		WHERE referrer_user_id = $1`

	stats := &models.ReferralStats{}
	err := r.db.QueryRow(ctx, query, referrerUserID).Scan(
		&stats.TotalReferrals,
		&stats.ActiveReferrals,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики рефералов: %w", err)
	}

	return stats, nil
}
