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

// UserRepository интерфейс для работы с пользователями
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByReferralCode(ctx context.Context, code string) (*models.User, error)
	// SetReferredBy устанавливает реферера, только если он еще не установлен.
	// Возвращает ErrNotFound, если пользователь не найден или реферер уже задан.
	SetReferredBy(ctx context.Context, userID, referrerID int64) error
	// SetReferralCode записывает код, только если он еще не выдан.
	// Возвращает ErrNotFound, если пользователь не найден или код уже есть.
	SetReferralCode(ctx context.Context, userID int64, code string) error
	SetVaultAccount(ctx context.Context, userID int64, vaultAccountID string) error
}

// PostgresUserRepository реализует UserRepository для PostgreSQL
type PostgresUserRepository struct {
	db     Querier
	logger *zap.Logger
}

// NewUserRepository создает новый репозиторий пользователей
func NewUserRepository(db Querier, logger *zap.Logger) UserRepository {
	return &PostgresUserRepository{
		db:     db,
		logger: logger,
	}
}

// Create создает нового пользователя
func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, referral_code, referred_by, vault_account_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	err := r.db.QueryRow(ctx, query,
		user.Email, user.ReferralCode, user.ReferredBy, user.VaultAccountID,
		user.CreatedAt, user.UpdatedAt,
	).Scan(&user.ID)

	if err != nil {
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}

	r.logger.Info("пользователь создан",
		zap.Int64("user_id", user.ID),
		zap.String("email", user.Email))

	return nil
}

// scanUser читает одного пользователя из строки результата
func scanUser(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(
		&u.ID, &u.Email, &u.ReferralCode, &u.ReferredBy, &u.VaultAccountID,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения пользователя: %w", err)
	}
	return u, nil
}

// GetByID получает пользователя по ID
func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT id, email, referral_code, referred_by, vault_account_id, created_at, updated_at
		FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

// GetByReferralCode получает пользователя по реферальному коду
func (r *PostgresUserRepository) GetByReferralCode(ctx context.Context, code string) (*models.User, error) {
	query := `
		SELECT id, email, referral_code, referred_by, vault_account_id, created_at, updated_at
		FROM users WHERE referral_code = $1`
	return scanUser(r.db.QueryRow(ctx, query, code))
}

// SetReferredBy устанавливает реферера пользователя один раз
func (r *PostgresUserRepository) SetReferredBy(ctx context.Context, userID, referrerID int64) error {
	query := `
		UPDATE users SET referred_by = $2, updated_at = $3
		WHERE id = $1 AND referred_by IS NULL`

	result, err := r.db.Exec(ctx, query, userID, referrerID, time.Now())
	if err != nil {
		return fmt.Errorf("ошибка установки реферера: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.logger.Info("реферер установлен",
		zap.Int64("user_id", userID),
		zap.Int64("referrer_id", referrerID))

	return nil
}

// SetReferralCode выдает пользователю реферальный код один раз
func (r *PostgresUserRepository) SetReferralCode(ctx context.Context, userID int64, code string) error {
	query := `
		UPDATE users SET referral_code = $2, updated_at = $3
		WHERE id = $1 AND referral_code IS NULL`

	result, err := r.db.Exec(ctx, query, userID, code, time.Now())
	if err != nil {
		return fmt.Errorf("ошибка выдачи реферального кода: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// SetVaultAccount привязывает хранилище кастодиана к пользователю
func (r *PostgresUserRepository) SetVaultAccount(ctx context.Context, userID int64, vaultAccountID string) error {
	query := `UPDATE users SET vault_account_id = $2, updated_at = $3 WHERE id = $1`

	result, err := r.db.Exec(ctx, query, userID, vaultAccountID, time.Now())
	if err != nil {
		return fmt.Errorf("ошибка привязки хранилища: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("пользователь с ID %d не найден", userID)
	}

	return nil
}
