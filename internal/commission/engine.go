package commission

import (
	"context"
	"errors"
	"fmt"

	"titan-pay/internal/catalog"
	"titan-pay/internal/store"
	"titan-pay/pkg/models"
	"titan-pay/pkg/money"

	"go.uber.org/zap"
)

// UserSource интерфейс чтения пользователей (реферальной цепочки)
type UserSource interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// AffiliateSource интерфейс чтения аффилиатских статусов
type AffiliateSource interface {
	GetByUserID(ctx context.Context, userID int64) (*models.AffiliateStatus, error)
}

// CommissionSink интерфейс записи начислений
type CommissionSink interface {
	Create(ctx context.Context, commission *models.Commission) error
}

// Engine распределяет комиссии по реферальной цепочке покупателя.
// Расчет — чистая функция от снимка цепочки, базы и таблиц ставок,
// поэтому режим симуляции дает тот же результат без записи в леджер.
type Engine struct {
	catalog *catalog.Catalog
	logger  *zap.Logger
}

// NewEngine создает новый движок комиссий
func NewEngine(cat *catalog.Catalog, logger *zap.Logger) *Engine {
	return &Engine{
		catalog: cat,
		logger:  logger,
	}
}

// Ancestor представляет одного предка в снимке цепочки
type Ancestor struct {
	UserID    int64
	Affiliate *models.AffiliateStatus // nil — статуса нет
	Pkg       *models.Package         // nil — пакета нет или тир неизвестен
}

// Chain представляет предзагруженный снимок реферальной цепочки.
// Цепочка ограничена MaxDepth предками; цикл фиксируется на слое,
// где он обнаружен, и обрывает снимок.
type Chain struct {
	Ancestors []Ancestor
	// CycleUserID — пользователь, замкнувший цикл; 0, если цикла нет
	CycleUserID int64
	// CycleLayer — слой, на котором обнаружен цикл; 0, если цикла нет
	CycleLayer int
}

// LoadChain предзагружает цепочку предков покупателя.
// Обход — явный ограниченный цикл по указателю referred_by с множеством
// посещенных: порча данных (цикл) не приводит к бесконечной работе.
// firstReferrerID — атрибуция, зафиксированная на покупке.
func (e *Engine) LoadChain(ctx context.Context, users UserSource, affiliates AffiliateSource, buyerID int64, firstReferrerID *int64) (*Chain, error) {
	chain := &Chain{
		Ancestors: make([]Ancestor, 0, catalog.MaxDepth),
	}

	visited := make(map[int64]struct{}, catalog.MaxDepth+1)
	visited[buyerID] = struct{}{}

	next := firstReferrerID
	for layer := 1; layer <= catalog.MaxDepth && next != nil; layer++ {
		ancestorID := *next

		if _, seen := visited[ancestorID]; seen {
			// Цикл — порча данных. Остаток цепочки недостоверен,
			// обход обрывается целиком, а не пропускает один слой.
			chain.CycleUserID = ancestorID
			chain.CycleLayer = layer
			break
		}
		visited[ancestorID] = struct{}{}

		ancestor := Ancestor{UserID: ancestorID}

		status, err := affiliates.GetByUserID(ctx, ancestorID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("ошибка чтения статуса предка %d: %w", ancestorID, err)
		}
		if status != nil {
			ancestor.Affiliate = status
			if pkg, ok := e.catalog.Get(status.Tier); ok {
				ancestor.Pkg = pkg
			}
		}

		chain.Ancestors = append(chain.Ancestors, ancestor)

		user, err := users.GetByID(ctx, ancestorID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				break
			}
			return nil, fmt.Errorf("ошибка чтения предка %d: %w", ancestorID, err)
		}
		next = user.ReferredBy
	}

	return chain, nil
}

// Plan вычисляет выплаты и пропуски по снимку цепочки. Чистая функция.
func (e *Engine) Plan(chain *Chain, baseUSD float64) *models.DistributionResult {
	result := &models.DistributionResult{}

	for i, ancestor := range chain.Ancestors {
		layer := i + 1

		switch {
		case ancestor.Affiliate == nil || ancestor.Pkg == nil:
			result.Skips = append(result.Skips, models.CommissionSkip{
				Layer:  layer,
				UserID: ancestor.UserID,
				Reason: models.SkipReasonNoPackage,
			})
			continue
		case !ancestor.Affiliate.IsActive:
			result.Skips = append(result.Skips, models.CommissionSkip{
				Layer:  layer,
				UserID: ancestor.UserID,
				Reason: models.SkipReasonInactive,
			})
			continue
		case ancestor.Pkg.Level < layer:
			// Предок зарабатывает только на слоях 1..уровень его пакета.
			// Пропуск не обрывает цепочку: выше могут быть старшие пакеты.
			result.Skips = append(result.Skips, models.CommissionSkip{
				Layer:  layer,
				UserID: ancestor.UserID,
				Reason: models.SkipReasonTierTooLow,
			})
			continue
		}

		rate, ok := ancestor.Pkg.RateFor(layer)
		if !ok {
			result.Skips = append(result.Skips, models.CommissionSkip{
				Layer:  layer,
				UserID: ancestor.UserID,
				Reason: models.SkipReasonTierTooLow,
			})
			continue
		}

		// Каждый слой округляется независимо; накопленный остаток
		// не переносится между слоями
		amount := money.Round2(baseUSD * rate / 100)

		result.Payouts = append(result.Payouts, models.CommissionPayout{
			Layer:             layer,
			BeneficiaryUserID: ancestor.UserID,
			Tier:              ancestor.Pkg.Name,
			RatePercent:       rate,
			AmountUSD:         amount,
		})
	}

	if chain.CycleLayer > 0 {
		result.Skips = append(result.Skips, models.CommissionSkip{
			Layer:  chain.CycleLayer,
			UserID: chain.CycleUserID,
			Reason: models.SkipReasonCircularRef,
		})
	}

	return result
}

// Base возвращает базу комиссий покупки: полная цена для новой покупки,
// разница цен для апгрейда — повторно комиссия на уже оплаченную часть
// не начисляется.
func (e *Engine) Base(purchase *models.Purchase) (float64, error) {
	newPrice, ok := e.catalog.PriceUSD(purchase.Tier)
	if !ok {
		return 0, fmt.Errorf("неизвестный тир покупки: %s", purchase.Tier)
	}

	if !purchase.IsUpgrade || purchase.PreviousTier == nil {
		return purchase.AmountUSD, nil
	}

	oldPrice, ok := e.catalog.PriceUSD(*purchase.PreviousTier)
	if !ok {
		return 0, fmt.Errorf("неизвестный прежний тир покупки: %s", *purchase.PreviousTier)
	}

	return money.Round2(newPrice - oldPrice), nil
}

// Distribute распределяет комиссии по событию выручки.
// Вызывается реконсилятором внутри той же транзакции, что и создание
// события выручки: либо все начисления существуют вместе с событием,
// либо ни одного.
func (e *Engine) Distribute(ctx context.Context, users UserSource, affiliates AffiliateSource, sink CommissionSink, event *models.RevenueEvent, purchase *models.Purchase) (*models.DistributionResult, error) {
	base, err := e.Base(purchase)
	if err != nil {
		return nil, err
	}

	chain, err := e.LoadChain(ctx, users, affiliates, purchase.UserID, purchase.ReferredByUserID)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки реферальной цепочки: %w", err)
	}

	result := e.Plan(chain, base)

	for _, payout := range result.Payouts {
		commission := &models.Commission{
			BeneficiaryUserID:    payout.BeneficiaryUserID,
			SourceRevenueEventID: event.ID,
			Layer:                payout.Layer,
			ReferredUserID:       purchase.UserID,
			AmountUSD:            payout.AmountUSD,
			RatePercent:          payout.RatePercent,
			Status:               models.CommissionStatusPending,
		}

		if err := sink.Create(ctx, commission); err != nil {
			if store.IsUniqueViolation(err) {
				// Начисление этому бенефициару за это событие уже есть
				e.logger.Info("комиссия уже начислена, пропускаем",
					zap.Int64("beneficiary_user_id", payout.BeneficiaryUserID),
					zap.Int64("revenue_event_id", event.ID))
				continue
			}
			return nil, fmt.Errorf("ошибка начисления комиссии слоя %d: %w", payout.Layer, err)
		}
	}

	e.logger.Info("комиссии распределены",
		zap.Int64("revenue_event_id", event.ID),
		zap.Int64("buyer_id", purchase.UserID),
		zap.Float64("base_usd", base),
		zap.Int("payouts", len(result.Payouts)),
		zap.Int("skips", len(result.Skips)),
		zap.Float64("total_usd", result.TotalUSD()))

	return result, nil
}

// Simulate считает распределение для гипотетической покупки без записи.
// Используется для предпросмотра "сколько заработает моя цепочка".
func (e *Engine) Simulate(ctx context.Context, users UserSource, affiliates AffiliateSource, buyerID int64, tier string, isUpgrade bool) (*models.DistributionResult, error) {
	pkg, ok := e.catalog.GetActive(tier)
	if !ok {
		return nil, fmt.Errorf("неизвестный или неактивный тир: %s", tier)
	}

	base := pkg.PriceUSD
	if isUpgrade {
		current, err := affiliates.GetByUserID(ctx, buyerID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("ошибка чтения статуса покупателя: %w", err)
		}
		if current != nil {
			if oldPrice, ok := e.catalog.PriceUSD(current.Tier); ok && oldPrice < pkg.PriceUSD {
				base = money.Round2(pkg.PriceUSD - oldPrice)
			}
		}
	}

	buyer, err := users.GetByID(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения покупателя: %w", err)
	}

	chain, err := e.LoadChain(ctx, users, affiliates, buyerID, buyer.ReferredBy)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки реферальной цепочки: %w", err)
	}

	return e.Plan(chain, base), nil
}
