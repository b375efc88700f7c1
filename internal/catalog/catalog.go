package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"titan-pay/pkg/models"

	"go.uber.org/zap"
)

// MaxDepth — максимальная глубина реферальной цепочки, по которой
// распределяются комиссии
const MaxDepth = 8

// PackageRepository интерфейс чтения каталога из леджера
type PackageRepository interface {
	GetAll(ctx context.Context) ([]*models.Package, error)
}

// Catalog хранит снимок каталога пакетов в памяти.
// Снимок неизменяемый: Reload подменяет его целиком, читатели никогда
// не видят частично обновленный каталог. Источник правды — база данных.
type Catalog struct {
	repo   PackageRepository
	logger *zap.Logger

	mu     sync.RWMutex
	byName map[string]*models.Package
}

// New создает каталог и загружает первый снимок
func New(ctx context.Context, repo PackageRepository, logger *zap.Logger) (*Catalog, error) {
	c := &Catalog{
		repo:   repo,
		logger: logger,
	}

	if err := c.Reload(ctx); err != nil {
		return nil, fmt.Errorf("ошибка загрузки каталога пакетов: %w", err)
	}

	return c, nil
}

// Reload перечитывает каталог из базы и подменяет снимок
func (c *Catalog) Reload(ctx context.Context) error {
	packages, err := c.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("ошибка перечитывания каталога: %w", err)
	}

	if len(packages) == 0 {
		return fmt.Errorf("каталог пакетов пуст")
	}

	byName := make(map[string]*models.Package, len(packages))
	for _, p := range packages {
		if p.MaxDepth() != p.Level {
			return fmt.Errorf("пакет %s: длина таблицы ставок %d не равна уровню %d",
				p.Name, p.MaxDepth(), p.Level)
		}
		byName[strings.ToLower(p.Name)] = p
	}

	c.mu.Lock()
	c.byName = byName
	c.mu.Unlock()

	c.logger.Info("каталог пакетов загружен", zap.Int("packages", len(packages)))
	return nil
}

// Get возвращает пакет по имени тира (без учета регистра)
func (c *Catalog) Get(tier string) (*models.Package, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.byName[strings.ToLower(tier)]
	return p, ok
}

// GetActive возвращает активный пакет по имени тира
func (c *Catalog) GetActive(tier string) (*models.Package, bool) {
	p, ok := c.Get(tier)
	if !ok || !p.IsActive {
		return nil, false
	}
	return p, true
}

// Level возвращает уровень пакета (bronze=1 … titan=8), 0 если тир неизвестен
func (c *Catalog) Level(tier string) int {
	p, ok := c.Get(tier)
	if !ok {
		return 0
	}
	return p.Level
}

// PriceUSD возвращает цену пакета
func (c *Catalog) PriceUSD(tier string) (float64, bool) {
	p, ok := c.Get(tier)
	if !ok {
		return 0, false
	}
	return p.PriceUSD, true
}

// All возвращает все пакеты текущего снимка
func (c *Catalog) All() []*models.Package {
	c.mu.RLock()
	defer c.mu.RUnlock()

	packages := make([]*models.Package, 0, len(c.byName))
	for _, p := range c.byName {
		packages = append(packages, p)
	}
	return packages
}
