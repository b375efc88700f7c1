package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"titan-pay/internal/alerts"
	"titan-pay/internal/api"
	"titan-pay/internal/catalog"
	"titan-pay/internal/commission"
	"titan-pay/internal/config"
	"titan-pay/internal/custodian"
	"titan-pay/internal/metrics"
	"titan-pay/internal/migrations"
	"titan-pay/internal/rates"
	"titan-pay/internal/referral"
	"titan-pay/internal/scheduler"
	"titan-pay/internal/session"
	"titan-pay/internal/settlement"
	"titan-pay/internal/store"
	"titan-pay/internal/treasury"
	"titan-pay/internal/webhook"

	"go.uber.org/zap"
)

func main() {
	// Инициализация логгера
	logger, err := initLogger()
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("запуск приложения Titan Pay")

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("ошибка загрузки конфигурации", zap.Error(err))
	}

	// Инициализация базы данных
	st, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации базы данных", zap.Error(err))
	}
	defer st.Close()

	// Применение миграций
	if err := migrations.RunMigrations(cfg, logger); err != nil {
		logger.Fatal("ошибка применения миграций", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Каталог пакетов: снимок в памяти, источник правды — база
	cat, err := catalog.New(ctx, st.Packages(), logger)
	if err != nil {
		logger.Fatal("ошибка загрузки каталога пакетов", zap.Error(err))
	}

	// Клиент кастодиана и проверка подписи webhook'ов
	custodianClient := custodian.NewClient(cfg.Custodian.BaseURL, cfg.Custodian.APIKey, cfg.Custodian.RequestTimeout, logger)

	verifier, err := custodian.NewVerifier(cfg.WebhookPublicKey(), cfg.Custodian.SkipSignatureVerification, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации проверки подписи", zap.Error(err))
	}

	// Источник курсов
	ratesClient := rates.NewClient(cfg.Rates.BaseURL, cfg.Rates.RequestTimeout, logger)

	// Оповещения операторов
	notifier, err := alerts.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.OpsChatID, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации оповещений", zap.Error(err))
	}

	// Инициализация метрик
	metricsSystem := metrics.New(logger)
	metricsHandler := metrics.NewHandler(metricsSystem, logger)

	// Инициализация сервисов
	engine := commission.NewEngine(cat, logger)
	settlementService := settlement.NewService(st, engine, cat, notifier, metricsSystem, cfg.Settlement, logger)
	sessionService := session.NewService(st, cat, custodianClient, ratesClient, metricsSystem, cfg.Settlement, cfg.Custodian.SupportedAssets, logger)
	treasuryService := treasury.NewService(st, custodianClient, notifier, metricsSystem, cfg.Treasury, logger)
	referralService := referral.NewService(st, logger)

	// Инициализация планировщика задач
	taskScheduler := scheduler.NewScheduler(logger)
	taskScheduler.AddJob(scheduler.NewExpiryJob(settlementService, logger), time.Minute)
	taskScheduler.AddJob(scheduler.NewSweepJob(treasuryService, logger), cfg.Treasury.SweepInterval)

	// Обработка сигналов для graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Запуск HTTP сервера
	go startHTTPServer(ctx, cfg.App.Port, metricsHandler, settlementService, verifier,
		sessionService, referralService, engine, treasuryService, st, cat, logger)

	// Запуск планировщика задач
	go taskScheduler.Start(ctx)

	logger.Info("приложение запущено и готово к работе",
		zap.String("address", fmt.Sprintf("http://localhost:%d", cfg.App.Port)),
	)

	// Ожидание сигнала завершения
	<-sigChan
	logger.Info("получен сигнал завершения, начинаем graceful shutdown")

	cancel()
	time.Sleep(time.Second)

	logger.Info("приложение завершено")
}

// initLogger инициализирует логгер
func initLogger() (*zap.Logger, error) {
	// В продакшене можно использовать JSON формат
	config := zap.NewDevelopmentConfig()
	config.OutputPaths = []string{"stdout", "logs/app.log"}
	config.ErrorOutputPaths = []string{"stderr", "logs/error.log"}

	// Создаем директорию для логов если её нет
	if err := os.MkdirAll("logs", 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории логов: %w", err)
	}

	return config.Build()
}

// startHTTPServer запускает HTTP сервер: клиентский API, webhook кастодиана и метрики
func startHTTPServer(ctx context.Context, port int, metricsHandler *metrics.Handler,
	settlementService *settlement.Service, verifier *custodian.Verifier,
	sessionService *session.Service, referralService *referral.Service,
	engine *commission.Engine, treasuryService *treasury.Service,
	st store.Store, cat *catalog.Catalog, logger *zap.Logger) {

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler.MetricsHandler())
	mux.HandleFunc("/health", metricsHandler.HealthHandler)

	// Webhook endpoint кастодиана
	webhookHandler := webhook.NewCustodianWebhookHandler(settlementService, verifier, logger)
	mux.HandleFunc("/webhook/custodian", webhookHandler.HandleWebhook)

	// Клиентский API
	apiHandler := api.NewHandler(sessionService, referralService, engine, treasuryService, st, cat, logger)
	apiHandler.Register(mux)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	logger.Info("HTTP сервер запущен", zap.String("address", server.Addr))

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ошибка HTTP сервера", zap.Error(err))
		}
	}()

	// Ожидание сигнала завершения
	<-ctx.Done()

	// Graceful shutdown HTTP сервера
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ошибка при остановке HTTP сервера", zap.Error(err))
	}

	logger.Info("HTTP сервер остановлен")
}
