package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port string
	// CallbackURL is the public base URL the payment gateway calls back
	// on, e.g. https://shop.example.com.
	CallbackURL string
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MigrationsPath  string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type CryptomusConfig struct {
	BaseURL       string
	MerchantID    string
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	FailURL       string
	Timeout       time.Duration
}

type Seven11Config struct {
	BaseURL  string
	APIKey   string
	Username string
	Password string
	Timeout  time.Duration
}

type OrdersConfig struct {
	// PendingHours is how long an unpaid order lives before the sweep
	// expires it.
	PendingHours int
	// SweepSchedule is a cron spec for the expiry sweep.
	SweepSchedule string
}

type KafkaConfig struct {
	// Brokers is a comma-separated broker list; empty disables events.
	Brokers string
}

type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Cryptomus CryptomusConfig
	Seven11   Seven11Config
	Orders    OrdersConfig
	Kafka     KafkaConfig
}

func NewConfig() (*Config, error) {
	// Missing .env is fine, the environment may be set directly.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.App.Port = getEnv("APP_PORT", "8080")
	cfg.App.CallbackURL = getEnv("APP_CALLBACK_URL", "http://localhost:8080")

	var err error
	if cfg.Postgres.Host, err = requireEnv("DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.Postgres.User, err = requireEnv("DB_USER"); err != nil {
		return nil, err
	}
	if cfg.Postgres.Password, err = requireEnv("DB_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.Postgres.DBName, err = requireEnv("DB_NAME"); err != nil {
		return nil, err
	}
	cfg.Postgres.Port = getEnv("DB_PORT", "5432")
	cfg.Postgres.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Postgres.MigrationsPath = getEnv("DB_MIGRATIONS_PATH", "migrations")
	cfg.Postgres.MaxConns = int32(getEnvInt("DB_MAX_CONNS", 10))
	cfg.Postgres.MinConns = int32(getEnvInt("DB_MIN_CONNS", 2))
	cfg.Postgres.MaxConnLifetime = getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour)

	cfg.Cryptomus.BaseURL = os.Getenv("CRYPTOMUS_BASE_URL")
	if cfg.Cryptomus.MerchantID, err = requireEnv("CRYPTOMUS_MERCHANT_ID"); err != nil {
		return nil, err
	}
	if cfg.Cryptomus.APIKey, err = requireEnv("CRYPTOMUS_API_KEY"); err != nil {
		return nil, err
	}
	if cfg.Cryptomus.WebhookSecret, err = requireEnv("CRYPTOMUS_WEBHOOK_SECRET"); err != nil {
		return nil, err
	}
	cfg.Cryptomus.SuccessURL = os.Getenv("CRYPTOMUS_SUCCESS_URL")
	cfg.Cryptomus.FailURL = os.Getenv("CRYPTOMUS_FAIL_URL")
	cfg.Cryptomus.Timeout = getEnvDuration("CRYPTOMUS_TIMEOUT", 30*time.Second)

	cfg.Seven11.BaseURL = os.Getenv("PROXY711_BASE_URL")
	if cfg.Seven11.APIKey, err = requireEnv("PROXY711_API_KEY"); err != nil {
		return nil, err
	}
	cfg.Seven11.Username = os.Getenv("PROXY711_USERNAME")
	cfg.Seven11.Password = os.Getenv("PROXY711_PASSWORD")
	cfg.Seven11.Timeout = getEnvDuration("PROXY711_TIMEOUT", 30*time.Second)

	cfg.Orders.PendingHours = getEnvInt("ORDER_PENDING_HOURS", 24)
	cfg.Orders.SweepSchedule = getEnv("ORDER_SWEEP_SCHEDULE", "@every 1m")

	cfg.Kafka.Brokers = os.Getenv("KAFKA_BROKERS")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("config: %s is required", key)
	}
	return v, nil
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
