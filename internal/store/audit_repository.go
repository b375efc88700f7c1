package store

import (
	"context"
	"fmt"
	"time"

	"titan-pay/pkg/models"

	"go.uber.org/zap"
)

// AuditRepository интерфейс для аудиторских записей
type AuditRepository interface {
	Create(ctx context.Context, record *models.AuditRecord) error
}

// PostgresAuditRepository реализует AuditRepository для PostgreSQL
type PostgresAuditRepository struct {
	db     Querier
	logger *zap.Logger
}

// NewAuditRepository создает новый репозиторий аудита
func NewAuditRepository(db Querier, logger *zap.Logger) AuditRepository {
	return &PostgresAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Create создает аудиторскую запись
func (r *PostgresAuditRepository) Create(ctx context.Context, record *models.AuditRecord) error {
	query := `
		INSERT INTO audit_log (kind, session_id, custodian_tx_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	record.CreatedAt = time.Now()

	err := r.db.QueryRow(ctx, query,
		record.Kind, record.SessionID, record.CustodianTxID,
		record.Detail, record.CreatedAt,
	).Scan(&record.ID)

	if err != nil {
		return fmt.Errorf("ошибка создания аудиторской записи: %w", err)
	}

	r.logger.Info("аудиторская запись создана",
		zap.String("kind", string(record.Kind)),
		zap.Int64("audit_id", record.ID))

	return nil
}
