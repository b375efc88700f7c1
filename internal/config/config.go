package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config содержит все конфигурационные параметры приложения
type Config struct {
	Database   DatabaseConfig
	Custodian  CustodianConfig
	Rates      RatesConfig
	Settlement SettlementConfig
	Treasury   TreasuryConfig
	Telegram   TelegramConfig
	App        AppConfig
}

// DatabaseConfig содержит настройки подключения к PostgreSQL
type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MigrationPath string
}

// CustodianConfig содержит настройки кастодиального провайдера
type CustodianConfig struct {
	BaseURL string
	APIKey  string
	// PEM-ключи для проверки подписи webhook'ов, выбираются по окружению
	WebhookPublicKeySandbox    string
	WebhookPublicKeyProduction string
	// Пропуск проверки подписи. Никогда не действует в production (см. Load)
	SkipSignatureVerification bool
	RequestTimeout            time.Duration
	// Активы, в которых принимается оплата
	SupportedAssets []string
}

// RatesConfig содержит настройки источника курсов валют
type RatesConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// SettlementConfig содержит настройки реконсиляции платежей
type SettlementConfig struct {
	// Допуск недоплаты в процентах от ожидаемой суммы
	TolerancePct float64
	// Время жизни платежной сессии
	SessionTTL time.Duration
	// Размер пакета при просрочке зависших сессий
	ExpiryBatchSize int
}

// TreasuryConfig содержит настройки переводов в казначейство
type TreasuryConfig struct {
	VaultAccountID string
	SweepBatchSize int
	SweepInterval  time.Duration
}

// TelegramConfig содержит настройки оповещений операторов.
// Оповещения отключены, если токен не задан.
type TelegramConfig struct {
	BotToken  string
	OpsChatID int64
}

// AppConfig содержит общие настройки приложения
type AppConfig struct {
	Env      string
	LogLevel string
	Port     int
}

// Load загружает конфигурацию из переменных окружения и .env
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Database
	cfg.Database.Host = getEnvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getEnvIntDefault("DB_PORT", 5432)
	cfg.Database.User = os.Getenv("DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Name = os.Getenv("DB_NAME")
	cfg.Database.SSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	cfg.Database.MigrationPath = getEnvDefault("MIGRATION_PATH", "scripts/migrations")

	// Custodian
	cfg.Custodian.BaseURL = getEnvDefault("CUSTODIAN_BASE_URL", "https://api.custodian.example.com/v1")
	cfg.Custodian.APIKey = os.Getenv("CUSTODIAN_API_KEY")
	cfg.Custodian.WebhookPublicKeySandbox = os.Getenv("CUSTODIAN_WEBHOOK_PUBKEY_SANDBOX")
	cfg.Custodian.WebhookPublicKeyProduction = os.Getenv("CUSTODIAN_WEBHOOK_PUBKEY_PRODUCTION")
	cfg.Custodian.SkipSignatureVerification = getEnvBoolDefault("CUSTODIAN_SKIP_SIGNATURE_VERIFICATION", false)
	cfg.Custodian.RequestTimeout = getEnvDurationDefault("CUSTODIAN_REQUEST_TIMEOUT", 30*time.Second)
	cfg.Custodian.SupportedAssets = getEnvListDefault("SUPPORTED_ASSETS", []string{"BTC", "ETH", "USDT_TRC20", "USDC"})

	// Rates
	cfg.Rates.BaseURL = getEnvDefault("RATES_BASE_URL", "https://api.rates.example.com/v1")
	cfg.Rates.RequestTimeout = getEnvDurationDefault("RATES_REQUEST_TIMEOUT", 10*time.Second)

	// Settlement
	cfg.Settlement.TolerancePct = getEnvFloatDefault("SETTLEMENT_TOLERANCE_PCT", 2.0)
	cfg.Settlement.SessionTTL = getEnvDurationDefault("SESSION_TTL", 30*time.Minute)
	cfg.Settlement.ExpiryBatchSize = getEnvIntDefault("SESSION_EXPIRY_BATCH_SIZE", 100)

	// Treasury
	cfg.Treasury.VaultAccountID = os.Getenv("TREASURY_VAULT_ACCOUNT_ID")
	cfg.Treasury.SweepBatchSize = getEnvIntDefault("TREASURY_SWEEP_BATCH_SIZE", 50)
	cfg.Treasury.SweepInterval = getEnvDurationDefault("TREASURY_SWEEP_INTERVAL", 4*time.Hour)

	// Telegram
	cfg.Telegram.BotToken = os.Getenv("OPS_TELEGRAM_BOT_TOKEN")
	cfg.Telegram.OpsChatID = getEnvInt64Default("OPS_TELEGRAM_CHAT_ID", 0)

	// App
	cfg.App.Env = getEnvDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvDefault("LOG_LEVEL", "info")
	cfg.App.Port = getEnvIntDefault("APP_PORT", 8080)

	// Обход проверки подписи в production недопустим ни при какой конфигурации
	if cfg.App.IsProduction() {
		cfg.Custodian.SkipSignatureVerification = false
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("ошибка валидации конфигурации: %w", err)
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvInt64Default(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return i
}

func getEnvFloatDefault(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvListDefault(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return def
	}
	return items
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// validateConfig проверяет корректность конфигурации
func validateConfig(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("DB_HOST не установлен")
	}
	if config.Database.User == "" {
		return fmt.Errorf("DB_USER не установлен")
	}
	if config.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD не установлен")
	}
	if config.Database.Name == "" {
		return fmt.Errorf("DB_NAME не установлен")
	}
	if config.Custodian.APIKey == "" {
		return fmt.Errorf("CUSTODIAN_API_KEY не установлен")
	}
	if config.Treasury.VaultAccountID == "" {
		return fmt.Errorf("TREASURY_VAULT_ACCOUNT_ID не установлен")
	}
	if config.App.IsProduction() && config.Custodian.WebhookPublicKeyProduction == "" {
		return fmt.Errorf("CUSTODIAN_WEBHOOK_PUBKEY_PRODUCTION не установлен")
	}
	if config.Settlement.TolerancePct < 0 || config.Settlement.TolerancePct >= 100 {
		return fmt.Errorf("SETTLEMENT_TOLERANCE_PCT вне допустимого диапазона: %f", config.Settlement.TolerancePct)
	}
	return nil
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// WebhookPublicKey возвращает PEM-ключ проверки подписи для текущего окружения
func (c *Config) WebhookPublicKey() string {
	if c.App.IsProduction() {
		return c.Custodian.WebhookPublicKeyProduction
	}
	return c.Custodian.WebhookPublicKeySandbox
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction проверяет, запущено ли приложение в продакшн режиме
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// GetLogLevel возвращает уровень логирования в формате zap
func (c *AppConfig) GetLogLevel() zap.AtomicLevel {
	switch c.LogLevel {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
