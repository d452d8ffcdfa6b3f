package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Env         string
	HTTPPort    int
	StoreDriver string

	HTTP struct {
		AllowedOrigins []string
		RequestTimeout time.Duration
	}

	DBConfig struct {
		Host     string
		Port     int
		User     string
		Password string
		Name     string
		SSLMode  string
	}
	MigrationsPath string

	KafkaBrokerURL          string
	KafkaNotificationsTopic string
	NotificationsEnabled    bool
	NotificationTimeout     time.Duration
	KafkaPaymentEventsTopic   string
	KafkaPaymentEventsGroupID string
	PaymentEventsEnabled      bool

	AlatPay struct {
		APIKey     string
		BusinessID string
		BaseURL    string
		Timeout    time.Duration
	}

	Payment struct {
		Currency           string
		Description        string
		SupportedBankCode  string
		SupportedBankName  string
		VirtualAccountName string
		SubscriptionPeriod time.Duration
	}

	Jobs struct {
		Enabled          bool
		CheckInterval    time.Duration
		CheckTimeout     time.Duration
		ArchiveHour      int
		ArchiveRetention time.Duration
		ArchiveBatchSize int
	}
}

// LoadConfig reads an optional .env file (ENV_FILE, default ".env") and then the process environment.
func LoadConfig() (*Config, error) {
	envFile := getEnvOrDefault("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	cfg := &Config{}

	cfg.Env = getEnvOrDefault("APP_ENV", "production")
	cfg.HTTPPort = getEnvAsInt("HTTP_PORT", 8082)
	cfg.StoreDriver = strings.ToLower(getEnvOrDefault("STORE_DRIVER", StoreDriverPostgres))
	cfg.HTTP.AllowedOrigins = splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))
	cfg.HTTP.RequestTimeout = getEnvAsDuration("HTTP_REQUEST_TIMEOUT", 60*time.Second)

	cfg.DBConfig.Host = getEnvOrDefault("PAYMENTS_DB_HOST", "localhost")
	cfg.DBConfig.Port = getEnvAsInt("PAYMENTS_DB_PORT", 5432)
	cfg.DBConfig.User = getEnvOrDefault("PAYMENTS_DB_USER", "user")
	cfg.DBConfig.Password = getEnvOrDefault("PAYMENTS_DB_PASSWORD", "password")
	cfg.DBConfig.Name = getEnvOrDefault("PAYMENTS_DB_NAME", "payments_db")
	cfg.DBConfig.SSLMode = getEnvOrDefault("PAYMENTS_DB_SSLMODE", "disable")
	cfg.MigrationsPath = getEnvOrDefault("MIGRATIONS_PATH", "file://migrations")

	cfg.KafkaBrokerURL = getEnvOrDefault("KAFKA_BROKER_URL", "localhost:9092")
	cfg.KafkaNotificationsTopic = getEnvOrDefault("KAFKA_NOTIFICATIONS_TOPIC", "subscription_notifications")
	cfg.NotificationsEnabled = getEnvAsBool("NOTIFICATIONS_ENABLED", true)
	cfg.NotificationTimeout = getEnvAsDuration("NOTIFICATION_TIMEOUT", 10*time.Second)
	cfg.KafkaPaymentEventsTopic = getEnvOrDefault("KAFKA_PAYMENT_EVENTS_TOPIC", "payment_notifications")
	cfg.KafkaPaymentEventsGroupID = getEnvOrDefault("KAFKA_PAYMENT_EVENTS_GROUP_ID", "payments-reconciliation")
	cfg.PaymentEventsEnabled = getEnvAsBool("PAYMENT_EVENTS_CONSUMER_ENABLED", false)

	cfg.AlatPay.APIKey = getEnvOrDefault("ALATPAY_API_KEY", "")
	cfg.AlatPay.BusinessID = getEnvOrDefault("ALATPAY_BUSINESS_ID", "")
	cfg.AlatPay.BaseURL = strings.TrimRight(getEnvOrDefault("ALATPAY_BASE_URL", "https://api.wemapay.com"), "/")
	cfg.AlatPay.Timeout = getEnvAsDuration("ALATPAY_TIMEOUT", 30*time.Second)

	cfg.Payment.Currency = getEnvOrDefault("PAYMENT_CURRENCY", "NGN")
	cfg.Payment.Description = getEnvOrDefault("PAYMENT_DESCRIPTION", "Safe App Subscription Payment")
	cfg.Payment.SupportedBankCode = getEnvOrDefault("SUPPORTED_BANK_CODE", "035")
	cfg.Payment.SupportedBankName = getEnvOrDefault("SUPPORTED_BANK_NAME", "WEMA Bank")
	cfg.Payment.VirtualAccountName = getEnvOrDefault("VIRTUAL_ACCOUNT_NAME", "AJAY INNOVATIONS LTD")
	cfg.Payment.SubscriptionPeriod = getEnvAsDuration("SUBSCRIPTION_PERIOD", 30*24*time.Hour)

	cfg.Jobs.Enabled = getEnvAsBool("RUN_JOBS", false)
	cfg.Jobs.CheckInterval = getEnvAsDuration("CHECK_INTERVAL", 30*time.Second)
	cfg.Jobs.CheckTimeout = getEnvAsDuration("CHECK_TIMEOUT", 5*time.Minute)
	cfg.Jobs.ArchiveHour = getEnvAsInt("ARCHIVE_HOUR", 0)
	cfg.Jobs.ArchiveRetention = getEnvAsDuration("ARCHIVE_RETENTION", 365*24*time.Hour)
	cfg.Jobs.ArchiveBatchSize = getEnvAsInt("ARCHIVE_BATCH_SIZE", 100)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.IsProduction() && (c.AlatPay.APIKey == "" || c.AlatPay.BusinessID == "") {
		return errors.New("ALATPAY_API_KEY and ALATPAY_BUSINESS_ID are required in production")
	}
	if (c.NotificationsEnabled || c.PaymentEventsEnabled) && len(c.GetKafkaBrokers()) == 0 {
		return errors.New("KAFKA_BROKER_URL is required when Kafka is in use")
	}
	if c.Payment.SupportedBankCode == "" {
		return errors.New("SUPPORTED_BANK_CODE must not be empty")
	}
	if c.Payment.SubscriptionPeriod <= 0 {
		return errors.New("SUBSCRIPTION_PERIOD must be positive")
	}
	if c.Jobs.CheckInterval <= 0 || c.Jobs.ArchiveRetention <= 0 {
		return errors.New("CHECK_INTERVAL and ARCHIVE_RETENTION must be positive")
	}
	if c.Jobs.ArchiveHour < 0 || c.Jobs.ArchiveHour > 23 {
		return fmt.Errorf("ARCHIVE_HOUR must be within 0-23, got %d", c.Jobs.ArchiveHour)
	}
	if c.Jobs.ArchiveBatchSize <= 0 {
		return errors.New("ARCHIVE_BATCH_SIZE must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) GetDBMigrationConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetKafkaBrokers() []string {
	return splitList(c.KafkaBrokerURL)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnvOrDefault(key, strconv.FormatBool(defaultValue))
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
