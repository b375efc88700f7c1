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

// PurchaseRepository интерфейс для работы с покупками
type PurchaseRepository interface {
	Create(ctx context.Context, purchase *models.Purchase) error
	GetByID(ctx context.Context, id string) (*models.Purchase, error)
	UpdateStatus(ctx context.Context, id string, status models.PurchaseStatus) error
}

// PostgresPurchaseRepository реализует PurchaseRepository для PostgreSQL
type PostgresPurchaseRepository struct {
	db     Querier
	logger *zap.Logger
}

// NewPurchaseRepository создает новый репозиторий покупок
func NewPurchaseRepository(db Querier, logger *zap.Logger) PurchaseRepository {
	return &PostgresPurchaseRepository{
		db:     db,
		logger: logger,
	}
}

// Create создает новую покупку
func (r *PostgresPurchaseRepository) Create(ctx context.Context, purchase *models.Purchase) error {
	query := `
		INSERT INTO purchases (id, user_id, tier, amount_usd, status, referred_by_user_id, previous_tier, is_upgrade, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	purchase.CreatedAt = time.Now()

	_, err := r.db.Exec(ctx, query,
		purchase.ID, purchase.UserID, purchase.Tier, purchase.AmountUSD,
		purchase.Status, purchase.ReferredByUserID, purchase.PreviousTier,
		purchase.IsUpgrade, purchase.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания покупки: %w", err)
	}

	r.logger.Info("покупка создана",
		zap.String("purchase_id", purchase.ID),
		zap.Int64("user_id", purchase.UserID),
		zap.String("tier", purchase.Tier),
		zap.Bool("is_upgrade", purchase.IsUpgrade))

	return nil
}

// GetByID получает покупку по идентификатору
func (r *PostgresPurchaseRepository) GetByID(ctx context.Context, id string) (*models.Purchase, error) {
	query := `
		SELECT id, user_id, tier, amount_usd, status, referred_by_user_id, previous_tier, is_upgrade, created_at
		FROM purchases WHERE id = $1`

	p := &models.Purchase{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.UserID, &p.Tier, &p.AmountUSD, &p.Status,
		&p.ReferredByUserID, &p.PreviousTier, &p.IsUpgrade, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения покупки: %w", err)
	}

	return p, nil
}

// UpdateStatus обновляет статус покупки
func (r *PostgresPurchaseRepository) UpdateStatus(ctx context.Context, id string, status models.PurchaseStatus) error {
	query := `UPDATE purchases SET status = $2 WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса покупки: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("покупка %s не найдена", id)
	}

	return nil
}
