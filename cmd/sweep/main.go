// Утилита ручного подбора средств: переводит остатки завершенных сессий
// из пользовательских хранилищ в казначейство. Используется операторами,
// когда нужно прогнать очередь вне расписания.
package main

import (
	"context"
	"flag"
	"log"

	"titan-pay/internal/alerts"
	"titan-pay/internal/config"
	"titan-pay/internal/custodian"
	"titan-pay/internal/store"
	"titan-pay/internal/treasury"

	"go.uber.org/zap"
)

func main() {
	var (
		asset  = flag.String("asset", "", "Ограничить подбор одним активом (пусто = все активы)")
		dryRun = flag.Bool("dry-run", false, "Показать очередь подбора без создания переводов")
	)
	flag.Parse()

	// Инициализация логгера
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Ошибка инициализации логгера:", err)
	}
	defer logger.Sync()

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	// Подключение к базе данных
	st, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("Ошибка подключения к базе данных", zap.Error(err))
	}
	defer st.Close()

	ctx := context.Background()

	custodianClient := custodian.NewClient(cfg.Custodian.BaseURL, cfg.Custodian.APIKey, cfg.Custodian.RequestTimeout, logger)

	notifier, err := alerts.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.OpsChatID, logger)
	if err != nil {
		logger.Fatal("Ошибка инициализации оповещений", zap.Error(err))
	}

	// Метрики в разовой утилите не регистрируются: методы безопасны на nil
	treasuryService := treasury.NewService(st, custodianClient, notifier, nil, cfg.Treasury, logger)

	totals, err := treasuryService.PendingTotals(ctx)
	if err != nil {
		logger.Fatal("Ошибка чтения очереди подбора", zap.Error(err))
	}

	for _, t := range totals {
		logger.Info("очередь подбора",
			zap.String("asset_id", t.AssetID),
			zap.String("tier", t.Tier),
			zap.Int("sessions", t.Sessions),
			zap.Float64("amount_usd", t.AmountUSD))
	}

	if *dryRun {
		logger.Info("DRY RUN: переводы не создаются")
		return
	}

	var assetID *string
	if *asset != "" {
		assetID = asset
	}

	outcomes, err := treasuryService.SweepBatch(ctx, assetID)
	if err != nil {
		logger.Fatal("Ошибка подбора средств", zap.Error(err))
	}

	submitted := 0
	for _, o := range outcomes {
		if !o.Skipped {
			submitted++
		}
	}

	logger.Info("Подбор средств завершен",
		zap.Int("candidates", len(outcomes)),
		zap.Int("submitted", submitted))
}
