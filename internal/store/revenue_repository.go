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

// RevenueEventRepository интерфейс для работы с событиями выручки
type RevenueEventRepository interface {
	// Create вставляет событие. Нарушение уникальности по custodian_tx_id
	// возвращается как есть: вызывающий обязан трактовать его как
	// "уже обработано" (проверка через IsUniqueViolation).
	Create(ctx context.Context, event *models.RevenueEvent) error
	GetByCustodianTxID(ctx context.Context, custodianTxID string) (*models.RevenueEvent, error)
}

// PostgresRevenueEventRepository реализует RevenueEventRepository для PostgreSQL
type PostgresRevenueEventRepository struct {
	db     Querier
	logger *zap.Logger
}

// NewRevenueEventRepository создает новый репозиторий событий выручки
func NewRevenueEventRepository(db Querier, logger *zap.Logger) RevenueEventRepository {
	return &PostgresRevenueEventRepository{
		db:     db,
		logger: logger,
	}
}

// Create создает событие выручки
func (r *PostgresRevenueEventRepository) Create(ctx context.Context, event *models.RevenueEvent) error {
	query := `
		INSERT INTO revenue_events (user_id, purchase_id, session_id, custodian_tx_id, amount_usd, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	event.CreatedAt = time.Now()

	err := r.db.QueryRow(ctx, query,
		event.UserID, event.PurchaseID, event.SessionID,
		event.CustodianTxID, event.AmountUSD, event.CreatedAt,
	).Scan(&event.ID)

	if err != nil {
		// Нарушение уникальности не логируем как ошибку: это штатный
		// исход при повторной доставке уведомления
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("ошибка создания события выручки: %w", err)
	}

	r.logger.Info("событие выручки создано",
		zap.Int64("revenue_event_id", event.ID),
		zap.Int64("user_id", event.UserID),
		zap.String("custodian_tx_id", event.CustodianTxID),
		zap.Float64("amount_usd", event.AmountUSD))

	return nil
}

// GetByCustodianTxID получает событие выручки по идентификатору транзакции кастодиана
func (r *PostgresRevenueEventRepository) GetByCustodianTxID(ctx context.Context, custodianTxID string) (*models.RevenueEvent, error) {
	query := `
		SELECT id, user_id, purchase_id, session_id, custodian_tx_id, amount_usd, created_at
		FROM revenue_events WHERE custodian_tx_id = $1`

	e := &models.RevenueEvent{}
	err := r.db.QueryRow(ctx, query, custodianTxID).Scan(
		&e.ID, &e.UserID, &e.PurchaseID, &e.SessionID,
		&e.CustodianTxID, &e.AmountUSD, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения события выручки: %w", err)
	}

	return e, nil
}
