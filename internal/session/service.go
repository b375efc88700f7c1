package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"titan-pay/internal/catalog"
	"titan-pay/internal/config"
	"titan-pay/internal/custodian"
	"titan-pay/internal/metrics"
	"titan-pay/internal/rates"
	"titan-pay/internal/store"
	"titan-pay/pkg/models"
	"titan-pay/pkg/money"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ошибки сервиса, различимые на уровне API
var (
	ErrUnknownTier       = errors.New("неизвестный тир пакета")
	ErrTierNotAvailable  = errors.New("пакет недоступен для покупки")
	ErrUnsupportedAsset  = errors.New("актив не поддерживается")
	ErrOpenSessionExists = errors.New("открытая сессия для этого тира уже существует")
	ErrNotUpgrade        = errors.New("тир не выше текущего пакета")
)

// VaultProvider интерфейс кастодиана для выпуска хранилищ и адресов
type VaultProvider interface {
	CreateVaultAccount(ctx context.Context, name string) (string, error)
	ActivateVaultAsset(ctx context.Context, vaultAccountID, assetID string) error
	CreateDepositAddress(ctx context.Context, vaultAccountID, assetID, description string) (*custodian.DepositAddress, error)
}

// Service представляет сервис платежных сессий: создание сессии с фиксацией
// котировки и выдача статуса. Движение статусов — зона реконсилятора.
type Service struct {
	store     store.Store
	catalog   *catalog.Catalog
	vaults    VaultProvider
	rates     rates.Source
	metrics   *metrics.Metrics
	cfg       config.SettlementConfig
	supported map[string]bool
	logger    *zap.Logger
}

// NewService создает новый сервис платежных сессий
func NewService(st store.Store, cat *catalog.Catalog, vaults VaultProvider, rateSource rates.Source, m *metrics.Metrics, cfg config.SettlementConfig, supportedAssets []string, logger *zap.Logger) *Service {
	supported := make(map[string]bool, len(supportedAssets))
	for _, a := range supportedAssets {
		supported[a] = true
	}

	return &Service{
		store:     st,
		catalog:   cat,
		vaults:    vaults,
		rates:     rateSource,
		metrics:   m,
		cfg:       cfg,
		supported: supported,
		logger:    logger,
	}
}

// Create создает платежную сессию для покупки или апгрейда пакета.
// Котировка берется у источника курсов один раз и фиксируется в сессии:
// пользователю показывается именно она, пересчетов дальше не происходит.
func (s *Service) Create(ctx context.Context, userID int64, tier, assetID string) (*models.PaymentSession, error) {
	pkg, ok := s.catalog.Get(tier)
	if !ok {
		return nil, ErrUnknownTier
	}
	if !pkg.IsActive {
		return nil, ErrTierNotAvailable
	}
	if !s.supported[assetID] {
		return nil, ErrUnsupportedAsset
	}

	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пользователя %d: %w", userID, err)
	}

	open, err := s.store.Sessions().HasOpenForUserTier(ctx, userID, pkg.Name)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки открытых сессий: %w", err)
	}
	if open {
		return nil, ErrOpenSessionExists
	}

	chargeUSD, previousTier, isUpgrade, err := s.chargeFor(ctx, userID, pkg)
	if err != nil {
		return nil, err
	}

	usdPrice, err := s.rates.GetUSDPrice(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения курса %s: %w", assetID, err)
	}
	quoted := money.RoundCrypto(chargeUSD / usdPrice)

	vaultID, err := s.ensureVault(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.vaults.ActivateVaultAsset(ctx, vaultID, assetID); err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	addr, err := s.vaults.CreateDepositAddress(ctx, vaultID, assetID, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	purchase := &models.Purchase{
		ID:               uuid.NewString(),
		UserID:           userID,
		Tier:             pkg.Name,
		AmountUSD:        chargeUSD,
		Status:           models.PurchaseStatusPending,
		ReferredByUserID: user.ReferredBy,
		PreviousTier:     previousTier,
		IsUpgrade:        isUpgrade,
	}

	session := &models.PaymentSession{
		ID:                 sessionID,
		UserID:             userID,
		PurchaseID:         purchase.ID,
		Tier:               pkg.Name,
		AssetID:            assetID,
		PriceUSD:           chargeUSD,
		QuotedCryptoAmount: quoted,
		DepositAddress:     addr.Address,
		VaultAccountID:     vaultID,
		Status:             models.SessionStatusPending,
		ExpiresAt:          now.Add(s.cfg.SessionTTL),
	}
	if addr.Tag != "" {
		tag := addr.Tag
		session.DepositTag = &tag
	}

	// Покупка и сессия создаются атомарно: сессия без покупки или
	// покупка без сессии невозможны
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Purchases().Create(ctx, purchase); err != nil {
			return err
		}
		return tx.Sessions().Create(ctx, session)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания сессии: %w", err)
	}

	s.metrics.SessionCreated(pkg.Name, assetID)
	s.logger.Info("платежная сессия создана",
		zap.String("session_id", session.ID),
		zap.Int64("user_id", userID),
		zap.String("tier", pkg.Name),
		zap.String("asset_id", assetID),
		zap.Float64("price_usd", chargeUSD),
		zap.Float64("quoted_crypto", quoted),
		zap.Bool("is_upgrade", isUpgrade))

	return session, nil
}

// chargeFor определяет сумму к оплате: полная цена пакета либо разница цен
// при апгрейде с текущего тира
func (s *Service) chargeFor(ctx context.Context, userID int64, pkg *models.Package) (float64, *string, bool, error) {
	aff, err := s.store.Affiliates().GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return pkg.PriceUSD, nil, false, nil
		}
		return 0, nil, false, fmt.Errorf("ошибка получения аффилиатского статуса: %w", err)
	}

	currentLevel := s.catalog.Level(aff.Tier)
	if currentLevel == 0 {
		return pkg.PriceUSD, nil, false, nil
	}
	if pkg.Level <= currentLevel {
		return 0, nil, false, ErrNotUpgrade
	}

	currentPrice, ok := s.catalog.PriceUSD(aff.Tier)
	if !ok {
		return 0, nil, false, fmt.Errorf("нет цены для текущего тира %s", aff.Tier)
	}

	previousTier := aff.Tier
	return money.Round2(pkg.PriceUSD - currentPrice), &previousTier, true, nil
}

// ensureVault возвращает хранилище пользователя, создавая его при первой оплате
func (s *Service) ensureVault(ctx context.Context, user *models.User) (string, error) {
	if user.VaultAccountID != nil && *user.VaultAccountID != "" {
		return *user.VaultAccountID, nil
	}

	vaultID, err := s.vaults.CreateVaultAccount(ctx, fmt.Sprintf("user-%d", user.ID))
	if err != nil {
		return "", err
	}

	if err := s.store.Users().SetVaultAccount(ctx, user.ID, vaultID); err != nil {
		return "", fmt.Errorf("ошибка привязки хранилища к пользователю %d: %w", user.ID, err)
	}

	return vaultID, nil
}

// GetStatus возвращает статус сессии для ее владельца
func (s *Service) GetStatus(ctx context.Context, sessionID string, userID int64) (*models.SessionStatusView, error) {
	session, err := s.store.Sessions().GetByIDForUser(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	return session.StatusView(), nil
}
