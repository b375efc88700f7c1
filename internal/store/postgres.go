package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"titan-pay/internal/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrNotFound возвращается репозиториями, когда запись отсутствует
var ErrNotFound = errors.New("запись не найдена")

// Querier объединяет pgxpool.Pool и pgx.Tx: репозитории работают одинаково
// и в пуле, и внутри транзакции
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store представляет интерфейс для работы с базой данных
type Store interface {
	Users() UserRepository
	Sessions() SessionRepository
	Purchases() PurchaseRepository
	RevenueEvents() RevenueEventRepository
	Commissions() CommissionRepository
	Affiliates() AffiliateRepository
	Referrals() ReferralRepository
	Packages() PackageRepository
	Audit() AuditRepository
	// WithTx выполняет fn внутри одной транзакции: все репозитории
	// переданного Store работают через нее. Вложенные вызовы WithTx
	// продолжают текущую транзакцию.
	WithTx(ctx context.Context, fn func(Store) error) error
	DB() *pgxpool.Pool
	Close() error
}

// store реализует интерфейс Store
type store struct {
	pool   *pgxpool.Pool
	tx     pgx.Tx
	logger *zap.Logger

	users     UserRepository
	sessions  SessionRepository
	purchases PurchaseRepository
	revenue   RevenueEventRepository
	comms     CommissionRepository
	affs      AffiliateRepository
	referrals ReferralRepository
	packages  PackageRepository
	audit     AuditRepository
}

// NewStore создает новое подключение к базе данных
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	// Настройка пула
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ошибка проверки подключения к базе данных: %w", err)
	}

	logger.Info("успешное подключение к базе данных PostgreSQL")

	s := &store{
		pool:   pool,
		logger: logger,
	}
	s.initRepositories(pool)

	return s, nil
}

// initRepositories создает репозитории поверх переданного исполнителя запросов
func (s *store) initRepositories(q Querier) {
	s.users = NewUserRepository(q, s.logger)
	s.sessions = NewSessionRepository(q, s.logger)
	s.purchases = NewPurchaseRepository(q, s.logger)
	s.revenue = NewRevenueEventRepository(q, s.logger)
	s.comms = NewCommissionRepository(q, s.logger)
	s.affs = NewAffiliateRepository(q, s.logger)
	s.referrals = NewReferralRepository(q, s.logger)
	s.packages = NewPackageRepository(q, s.logger)
	s.audit = NewAuditRepository(q, s.logger)
}

// WithTx выполняет fn в транзакции с транзакционным набором репозиториев
func (s *store) WithTx(ctx context.Context, fn func(Store) error) error {
	// Уже внутри транзакции: продолжаем ее, отдельного savepoint не создаем
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}

	txStore := &store{
		pool:   s.pool,
		tx:     tx,
		logger: s.logger,
	}
	txStore.initRepositories(tx)

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("ошибка отката транзакции", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	return nil
}

// Users возвращает репозиторий пользователей
func (s *store) Users() UserRepository {
	return s.users
}

// Sessions возвращает репозиторий платежных сессий
func (s *store) Sessions() SessionRepository {
	return s.sessions
}

// Purchases возвращает репозиторий покупок
func (s *store) Purchases() PurchaseRepository {
	return s.purchases
}

// RevenueEvents возвращает репозиторий событий выручки
func (s *store) RevenueEvents() RevenueEventRepository {
	return s.revenue
}

// Commissions возвращает репозиторий комиссий
func (s *store) Commissions() CommissionRepository {
	return s.comms
}

// Affiliates возвращает репозиторий аффилиатских статусов
func (s *store) Affiliates() AffiliateRepository {
	return s.affs
}

// Referrals возвращает репозиторий рефералов
func (s *store) Referrals() ReferralRepository {
	return s.referrals
}

// Packages возвращает репозиторий каталога пакетов
func (s *store) Packages() PackageRepository {
	return s.packages
}

// Audit возвращает репозиторий аудиторских записей
func (s *store) Audit() AuditRepository {
	return s.audit
}

// DB возвращает пул подключений к базе данных
func (s *store) DB() *pgxpool.Pool {
	return s.pool
}

// Close закрывает подключение к базе данных
func (s *store) Close() error {
	s.logger.Info("закрытие подключения к базе данных")
	s.pool.Close()
	return nil
}

// IsUniqueViolation проверяет, является ли ошибка нарушением уникального
// ограничения. Для идемпотентных вставок это сигнал "уже обработано".
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
