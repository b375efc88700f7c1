package store

import (
	"context"
	"fmt"
	"time"

	"titan-pay/pkg/models"

	"go.uber.org/zap"
)

// CommissionRepository интерфейс для работы с комиссиями
type CommissionRepository interface {
	// Create вставляет начисление. Нарушение уникальности
	// (beneficiary_user_id, source_revenue_event_id) возвращается как есть.
	Create(ctx context.Context, commission *models.Commission) error
	ListByRevenueEvent(ctx context.Context, revenueEventID int64) ([]*models.Commission, error)
	ListByBeneficiary(ctx context.Context, beneficiaryUserID int64, limit int) ([]*models.Commission, error)
}

// PostgresCommissionRepository реализует CommissionRepository для PostgreSQL
type PostgresCommissionRepository struct {
	db     Querier
	logger *zap.Logger
}

// NewCommissionRepository создает новый репозиторий комиссий
func NewCommissionRepository(db Querier, logger *zap.Logger) CommissionRepository {
	return &PostgresCommissionRepository{
		db:     db,
		logger: logger,
	}
}

// Create создает комиссионное начисление
func (r *PostgresCommissionRepository) Create(ctx context.Context, commission *models.Commission) error {
	query := `
		INSERT INTO commissions (
			beneficiary_user_id, source_revenue_event_id, layer, referred_user_id,
			amount_usd, rate_percent, status, notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	commission.CreatedAt = time.Now()

	err := r.db.QueryRow(ctx, query,
		commission.BeneficiaryUserID, commission.SourceRevenueEventID,
		commission.Layer, commission.ReferredUserID, commission.AmountUSD,
		commission.RatePercent, commission.Status, commission.Notes,
		commission.CreatedAt,
	).Scan(&commission.ID)

	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("ошибка создания комиссии: %w", err)
	}

	r.logger.Info("комиссия начислена",
		zap.Int64("commission_id", commission.ID),
		zap.Int64("beneficiary_user_id", commission.BeneficiaryUserID),
		zap.Int("layer", commission.Layer),
		zap.Float64("amount_usd", commission.AmountUSD),
		zap.Float64("rate_percent", commission.RatePercent))

	return nil
}

const commissionColumns = `
	id, beneficiary_user_id, source_revenue_event_id, layer, referred_user_id,
	amount_usd, rate_percent, status, notes, created_at`

// ListByRevenueEvent возвращает все начисления по событию выручки
func (r *PostgresCommissionRepository) ListByRevenueEvent(ctx context.Context, revenueEventID int64) ([]*models.Commission, error) {
	query := `SELECT ` + commissionColumns + `
		FROM commissions WHERE source_revenue_event_id = $1 ORDER BY layer`

	rows, err := r.db.Query(ctx, query, revenueEventID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки комиссий по событию: %w", err)
	}
	defer rows.Close()

	var commissions []*models.Commission
	for rows.Next() {
		c := &models.Commission{}
		err := rows.Scan(
			&c.ID, &c.BeneficiaryUserID, &c.SourceRevenueEventID, &c.Layer,
			&c.ReferredUserID, &c.AmountUSD, &c.RatePercent, &c.Status,
			&c.Notes, &c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования комиссии: %w", err)
		}
		commissions = append(commissions, c)
	}

	return commissions, nil
}

// ListByBeneficiary возвращает начисления бенефициара, новые первыми
func (r *PostgresCommissionRepository) ListByBeneficiary(ctx context.Context, beneficiaryUserID int64, limit int) ([]*models.Commission, error) {
	query := `SELECT ` + commissionColumns + `
		FROM commissions WHERE beneficiary_user_id = $1
		ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.Query(ctx, query, beneficiaryUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки комиссий бенефициара: %w", err)
	}
	defer rows.Close()

	var commissions []*models.Commission
	for rows.Next() {
		c := &models.Commission{}
		err := rows.Scan(
			&c.ID, &c.BeneficiaryUserID, &c.SourceRevenueEventID, &c.Layer,
			&c.ReferredUserID, &c.AmountUSD, &c.RatePercent, &c.Status,
			&c.Notes, &c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования комиссии: %w", err)
		}
		commissions = append(commissions, c)
	}

	return commissions, nil
}
