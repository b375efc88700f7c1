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

// SessionRepository интерфейс для работы с платежными сессиями
type SessionRepository interface {
	Create(ctx context.Context, session *models.PaymentSession) error
	GetByID(ctx context.Context, id string) (*models.PaymentSession, error)
	GetByIDForUser(ctx context.Context, id string, userID int64) (*models.PaymentSession, error)
	// GetByIDForUpdate читает сессию под блокировкой строки.
	// Имеет смысл только внутри транзакции (Store.WithTx).
	GetByIDForUpdate(ctx context.Context, id string) (*models.PaymentSession, error)
	GetByDepositAddress(ctx context.Context, address string) (*models.PaymentSession, error)
	GetLatestOpenByVault(ctx context.Context, vaultAccountID string) (*models.PaymentSession, error)
	HasOpenForUserTier(ctx context.Context, userID int64, tier string) (bool, error)
	UpdateSettlement(ctx context.Context, session *models.PaymentSession) error
	ExpireStale(ctx context.Context, now time.Time, limit int) (int64, error)
	SweepCandidates(ctx context.Context, assetID *string, limit int) ([]*models.PaymentSession, error)
	UpdateSweep(ctx context.Context, sessionID string, txID *string, status models.SweepStatus, sweepErr *string) error
	PendingSweepTotals(ctx context.Context) ([]*models.PendingSweepTotal, error)
}

// PostgresSessionRepository реализует SessionRepository для PostgreSQL
type PostgresSessionRepository struct {
	db     Querier
	logger *zap.Logger
}

// NewSessionRepository создает новый репозиторий платежных сессий
func NewSessionRepository(db Querier, logger *zap.Logger) SessionRepository {
	return &PostgresSessionRepository{
		db:     db,
		logger: logger,
	}
}

const sessionColumns = `
	id, user_id, purchase_id, tier, asset_id, price_usd, quoted_crypto_amount,
	deposit_address, deposit_tag, vault_account_id, status, custodian_tx_id,
	tx_hash, amount_received_usd, amount_received_crypto,
	treasury_sweep_tx_id, treasury_sweep_status, treasury_sweep_error,
	expires_at, created_at, updated_at`

// Create создает новую платежную сессию
func (r *PostgresSessionRepository) Create(ctx context.Context, session *models.PaymentSession) error {
	query := `
		INSERT INTO payment_sessions (
			id, user_id, purchase_id, tier, asset_id, price_usd, quoted_crypto_amount,
			deposit_address, deposit_tag, vault_account_id, status,
			amount_received_usd, amount_received_crypto, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := r.db.Exec(ctx, query,
		session.ID, session.UserID, session.PurchaseID, session.Tier, session.AssetID,
		session.PriceUSD, session.QuotedCryptoAmount, session.DepositAddress,
		session.DepositTag, session.VaultAccountID, session.Status,
		session.AmountReceivedUSD, session.AmountReceivedCrypt,
		session.ExpiresAt, session.CreatedAt, session.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("ошибка создания платежной сессии: %w", err)
	}

	r.logger.Info("платежная сессия создана",
		zap.String("session_id", session.ID),
		zap.Int64("user_id", session.UserID),
		zap.String("tier", session.Tier),
		zap.String("asset_id", session.AssetID),
		zap.Float64("price_usd", session.PriceUSD))

	return nil
}

// scanSession читает одну сессию из строки результата
func scanSession(row pgx.Row) (*models.PaymentSession, error) {
	s := &models.PaymentSession{}
	err := row.Scan(
		&s.ID, &s.UserID, &s.PurchaseID, &s.Tier, &s.AssetID, &s.PriceUSD,
		&s.QuotedCryptoAmount, &s.DepositAddress, &s.DepositTag, &s.VaultAccountID,
		&s.Status, &s.CustodianTxID, &s.TxHash, &s.AmountReceivedUSD,
		&s.AmountReceivedCrypt, &s.TreasurySweepTxID, &s.TreasurySweepStatus,
		&s.TreasurySweepError, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения платежной сессии: %w", err)
	}
	return s, nil
}

// GetByID получает сессию по идентификатору
func (r *PostgresSessionRepository) GetByID(ctx context.Context, id string) (*models.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE id = $1`
	return scanSession(r.db.QueryRow(ctx, query, id))
}

// GetByIDForUser получает сессию по идентификатору с проверкой владельца
func (r *PostgresSessionRepository) GetByIDForUser(ctx context.Context, id string, userID int64) (*models.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE id = $1 AND user_id = $2`
	return scanSession(r.db.QueryRow(ctx, query, id, userID))
}

// GetByIDForUpdate получает сессию под блокировкой строки
func (r *PostgresSessionRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE id = $1 FOR UPDATE`
	return scanSession(r.db.QueryRow(ctx, query, id))
}

// GetByDepositAddress получает сессию по адресу депозита.
// Адрес уникален в пределах сессии — это самое точное сопоставление.
func (r *PostgresSessionRepository) GetByDepositAddress(ctx context.Context, address string) (*models.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE deposit_address = $1`
	return scanSession(r.db.QueryRow(ctx, query, address))
}

// GetLatestOpenByVault получает самую свежую незавершенную сессию хранилища.
// Хранилище приватно для пользователя, поэтому такое сопоставление может
// перепутать только параллельные сессии одного и того же пользователя.
func (r *PostgresSessionRepository) GetLatestOpenByVault(ctx context.Context, vaultAccountID string) (*models.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM payment_sessions
		WHERE vault_account_id = $1 AND status IN ('pending', 'confirming', 'partial')
		ORDER BY created_at DESC
		LIMIT 1`
	return scanSession(r.db.QueryRow(ctx, query, vaultAccountID))
}

// HasOpenForUserTier проверяет наличие незавершенной неистекшей сессии
// пользователя на тот же тир
func (r *PostgresSessionRepository) HasOpenForUserTier(ctx context.Context, userID int64, tier string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM payment_sessions
			WHERE user_id = $1 AND tier = $2 AND status = 'pending' AND expires_at > now()
		)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, tier).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки открытых сессий: %w", err)
	}
	return exists, nil
}

// UpdateSettlement записывает результат реконсиляции сессии
func (r *PostgresSessionRepository) UpdateSettlement(ctx context.Context, session *models.PaymentSession) error {
	query := `
		UPDATE payment_sessions
		SET status = $2, custodian_tx_id = $3, tx_hash = $4,
		    amount_received_usd = $5, amount_received_crypto = $6, updated_at = $7
		WHERE id = $1`

	session.UpdatedAt = time.Now()

	result, err := r.db.Exec(ctx, query,
		session.ID, session.Status, session.CustodianTxID, session.TxHash,
		session.AmountReceivedUSD, session.AmountReceivedCrypt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления платежной сессии: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("платежная сессия %s не найдена", session.ID)
	}

	r.logger.Info("платежная сессия обновлена",
		zap.String("session_id", session.ID),
		zap.String("status", string(session.Status)))

	return nil
}

// ExpireStale переводит зависшие pending-сессии в expired.
// Терминальные статусы не трогаются: условие на статус в WHERE.
func (r *PostgresSessionRepository) ExpireStale(ctx context.Context, now time.Time, limit int) (int64, error) {
	query := `
		WITH expired AS (
			UPDATE payment_sessions
			SET status = 'expired', updated_at = $1
			WHERE id IN (
				SELECT id FROM payment_sessions
				WHERE status = 'pending' AND expires_at < $1
				LIMIT $2
			)
			RETURNING purchase_id
		)
		UPDATE purchases SET status = 'expired'
		WHERE id IN (SELECT purchase_id FROM expired)`

	result, err := r.db.Exec(ctx, query, now, limit)
	if err != nil {
		return 0, fmt.Errorf("ошибка просрочки зависших сессий: %w", err)
	}

	expired := result.RowsAffected()
	if expired > 0 {
		r.logger.Info("зависшие сессии переведены в expired", zap.Int64("count", expired))
	}

	return expired, nil
}

// SweepCandidates возвращает завершенные сессии без успешного перевода в казначейство
func (r *PostgresSessionRepository) SweepCandidates(ctx context.Context, assetID *string, limit int) ([]*models.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM payment_sessions
		WHERE status = 'completed'
		  AND (treasury_sweep_tx_id IS NULL OR treasury_sweep_status = 'failed')
		  AND ($1::text IS NULL OR asset_id = $1)
		ORDER BY updated_at ASC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, assetID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки кандидатов на подбор: %w", err)
	}
	defer rows.Close()

	var sessions []*models.PaymentSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			r.logger.Error("ошибка сканирования сессии", zap.Error(err))
			continue
		}
		sessions = append(sessions, s)
	}

	return sessions, nil
}

// UpdateSweep записывает результат перевода средств сессии в казначейство
func (r *PostgresSessionRepository) UpdateSweep(ctx context.Context, sessionID string, txID *string, status models.SweepStatus, sweepErr *string) error {
	query := `
		UPDATE payment_sessions
		SET treasury_sweep_tx_id = $2, treasury_sweep_status = $3,
		    treasury_sweep_error = $4, updated_at = $5
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, sessionID, txID, status, sweepErr, time.Now())
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса подбора: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("платежная сессия %s не найдена", sessionID)
	}

	return nil
}

// PendingSweepTotals возвращает агрегаты по незаметенным сессиям
func (r *PostgresSessionRepository) PendingSweepTotals(ctx context.Context) ([]*models.PendingSweepTotal, error) {
	query := `
		SELECT asset_id, tier, COUNT(*), COALESCE(SUM(amount_received_usd), 0)
		FROM payment_sessions
		WHERE status = 'completed'
		  AND (treasury_sweep_tx_id IS NULL OR treasury_sweep_status = 'failed')
		GROUP BY asset_id, tier
		ORDER BY asset_id, tier`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения агрегатов подбора: %w", err)
	}
	defer rows.Close()

	var totals []*models.PendingSweepTotal
	for rows.Next() {
		t := &models.PendingSweepTotal{}
		if err := rows.Scan(&t.AssetID, &t.Tier, &t.Sessions, &t.AmountUSD); err != nil {
			return nil, fmt.Errorf("ошибка сканирования агрегата: %w", err)
		}
		totals = append(totals, t)
	}

	return totals, nil
}
