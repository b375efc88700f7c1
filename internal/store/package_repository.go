package store

import (
	"context"
	"fmt"

	"titan-pay/pkg/models"

	"go.uber.org/zap"
)

// PackageRepository интерфейс для чтения каталога пакетов.
// Каталог — конфигурационные данные: ядро их только читает,
// источник правды — таблицы packages и package_rates (наполняются миграциями).
type PackageRepository interface {
	GetAll(ctx context.Context) ([]*models.Package, error)
}

// PostgresPackageRepository реализует PackageRepository для PostgreSQL
type PostgresPackageRepository struct {
	db     Querier
	logger *zap.Logger
}

// NewPackageRepository создает новый репозиторий каталога пакетов
func NewPackageRepository(db Querier, logger *zap.Logger) PackageRepository {
	return &PostgresPackageRepository{
		db:     db,
		logger: logger,
	}
}

// GetAll возвращает все пакеты каталога вместе с таблицами ставок
func (r *PostgresPackageRepository) GetAll(ctx context.Context) ([]*models.Package, error) {
	query := `
		SELECT name, level, price_usd, is_active, created_at
		FROM packages
		ORDER BY level`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения каталога пакетов: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]*models.Package)
	var packages []*models.Package
	for rows.Next() {
		p := &models.Package{}
		if err := rows.Scan(&p.Name, &p.Level, &p.PriceUSD, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования пакета: %w", err)
		}
		byName[p.Name] = p
		packages = append(packages, p)
	}
	rows.Close()

	ratesQuery := `
		SELECT package_name, layer, rate_percent
		FROM package_rates
		ORDER BY package_name, layer`

	rateRows, err := r.db.Query(ctx, ratesQuery)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения таблиц ставок: %w", err)
	}
	defer rateRows.Close()

	for rateRows.Next() {
		var name string
		rate := models.Rate{}
		if err := rateRows.Scan(&name, &rate.Layer, &rate.RatePercent); err != nil {
			return nil, fmt.Errorf("ошибка сканирования ставки: %w", err)
		}
		if p, ok := byName[name]; ok {
			p.Rates = append(p.Rates, rate)
		} else {
			r.logger.Warn("ставка для неизвестного пакета", zap.String("package", name))
		}
	}

	return packages, nil
}
