package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type PostgresConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MigrationsPath string
}

type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

type Config struct {
	App struct {
		Port string
	}
	Postgres PostgresConfig
	Redis    struct {
		Addr     string
		CacheTTL time.Duration
	}
	Kafka struct {
		Brokers []string
		Topic   string
	}
	Stripe StripeConfig
	Orders struct {
		// PaymentGracePeriod is how long a pending order holds its stock
		// before the expiration sweep reclaims it.
		PaymentGracePeriod time.Duration
		SweepInterval      time.Duration
	}
}

// Load reads configuration from the environment, optionally seeded from a
// .env file. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := &Config{}
	cfg.App.Port = getenv("APP_PORT", "8080")

	var err error
	if cfg.Postgres.Host, err = required("DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.Postgres.Port, err = required("DB_PORT"); err != nil {
		return nil, err
	}
	if cfg.Postgres.User, err = required("DB_USER"); err != nil {
		return nil, err
	}
	if cfg.Postgres.Password, err = required("DB_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.Postgres.DBName, err = required("DB_NAME"); err != nil {
		return nil, err
	}
	cfg.Postgres.SSLMode = getenv("DB_SSLMODE", "disable")
	cfg.Postgres.MigrationsPath = getenv("MIGRATIONS_PATH", "migrations")

	cfg.Redis.Addr = getenv("REDIS_ADDR", "")
	if cfg.Redis.CacheTTL, err = duration("CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}

	cfg.Kafka.Brokers = splitCSV(getenv("KAFKA_BROKERS", ""))
	cfg.Kafka.Topic = getenv("KAFKA_TOPIC", "laptophub.order-events")

	if cfg.Stripe.APIKey, err = required("STRIPE_API_KEY"); err != nil {
		return nil, err
	}
	cfg.Stripe.WebhookSecret = getenv("STRIPE_WEBHOOK_SECRET", "")

	if cfg.Orders.PaymentGracePeriod, err = duration("ORDER_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Orders.SweepInterval, err = duration("SWEEP_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func required(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
