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

// AffiliateRepository интерфейс для работы с аффилиатскими статусами
type AffiliateRepository interface {
	GetByUserID(ctx context.Context, userID int64) (*models.AffiliateStatus, error)
	// Upsert создает или обновляет статус. Тир никогда не понижается:
	// при апгрейде записывается новый, при повторной покупке того же
	// тира запись просто освежается.
	Upsert(ctx context.Context, status *models.AffiliateStatus) error
}

// PostgresAffiliateRepository реализует AffiliateRepository для PostgreSQL
type PostgresAffiliateRepository struct {
	db     Querier
	logger *zap.Logger
}

// NewAffiliateRepository создает новый репозиторий аффилиатских статусов
func NewAffiliateRepository(db Querier, logger *zap.Logger) AffiliateRepository {
	return &PostgresAffiliateRepository{
		db:     db,
		logger: logger,
	}
}

// GetByUserID получает аффилиатский статус пользователя
func (r *PostgresAffiliateRepository) GetByUserID(ctx context.Context, userID int64) (*models.AffiliateStatus, error) {
	query := `
		SELECT user_id, tier, tier_depth_limit, is_active, updated_at
		FROM affiliate_status WHERE user_id = $1`

	s := &models.AffiliateStatus{}
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&s.UserID, &s.Tier, &s.TierDepthLimit, &s.IsActive, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения аффилиатского статуса: %w", err)
	}

	return s, nil
}

// Upsert создает или обновляет аффилиатский статус пользователя
func (r *PostgresAffiliateRepository) Upsert(ctx context.Context, status *models.AffiliateStatus) error {
	query := `
		INSERT INTO affiliate_status (user_id, tier, tier_depth_limit, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET tier = EXCLUDED.tier,
		    tier_depth_limit = EXCLUDED.tier_depth_limit,
		    is_active = EXCLUDED.is_active,
		    updated_at = EXCLUDED.updated_at
		WHERE EXCLUDED.tier_depth_limit >= affiliate_status.tier_depth_limit`

	status.UpdatedAt = time.Now()

	_, err := r.db.Exec(ctx, query,
		status.UserID, status.Tier, status.TierDepthLimit,
		status.IsActive, status.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления аффилиатского статуса: %w", err)
	}

	r.logger.Info("аффилиатский статус обновлен",
		zap.Int64("user_id", status.UserID),
		zap.String("tier", status.Tier),
		zap.Int("tier_depth_limit", status.TierDepthLimit))

	return nil
}
