// Package config provides configuration management for the alert engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Scheduler SchedulerConfig
	Feeds     FeedsConfig
	Cache     CacheConfig
	Quota     QuotaConfig
	Telegram  TelegramConfig
	Ops       OpsConfig
	Logging   LoggingConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration for the event history sink
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// SchedulerConfig holds tick loop configuration
type SchedulerConfig struct {
	TickInterval time.Duration
	TickDeadline time.Duration
	Workers      int
	Cooldowns    CooldownConfig
}

// CooldownConfig holds per-kind minimum re-evaluation intervals
type CooldownConfig struct {
	Price          time.Duration
	PortfolioValue time.Duration
	WalletTx       time.Duration
	TrackedTx      time.Duration
}

// FeedsConfig holds external feed configuration
type FeedsConfig struct {
	Price     FeedConfig
	Valuation FeedConfig
	Wallet    FeedConfig

	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration

	BreakerMaxFailures int
	BreakerCooldown    time.Duration
}

// FeedConfig holds per-feed endpoint and rate-limit parameters
type FeedConfig struct {
	BaseURL        string
	APIKey         string
	RequestsPerSec float64
	Burst          int
	QueueDepth     int
	Timeout        time.Duration
}

// CacheConfig holds per-resource-kind freshness windows
type CacheConfig struct {
	PriceTTL     time.Duration
	ValuationTTL time.Duration
	WalletTTL    time.Duration
	TxFeedTTL    time.Duration
}

// QuotaConfig holds the tier quota table
type QuotaConfig struct {
	Free    TierLimits
	Premium TierLimits
}

// TierLimits holds per-tier ceilings
type TierLimits struct {
	MaxWallets     int
	MaxAlerts      int
	MaxCallsPerDay int
}

// TelegramConfig holds the messaging collaborator configuration
type TelegramConfig struct {
	BotToken string
}

// OpsConfig holds the operational HTTP server configuration
type OpsConfig struct {
	Host string
	Port string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "alert_engine"),
				User:           getEnv("POSTGRES_USER", "alerts"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "alert_engine"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 25),
			},
		},
		Scheduler: SchedulerConfig{
			TickInterval: getEnvAsDuration("TICK_INTERVAL", 60*time.Second),
			TickDeadline: getEnvAsDuration("TICK_DEADLINE", 45*time.Second),
			Workers:      getEnvAsInt("TICK_WORKERS", 8),
			Cooldowns: CooldownConfig{
				Price:          getEnvAsDuration("COOLDOWN_PRICE", 5*time.Minute),
				PortfolioValue: getEnvAsDuration("COOLDOWN_PORTFOLIO_VALUE", 15*time.Minute),
				WalletTx:       getEnvAsDuration("COOLDOWN_WALLET_TX", 2*time.Minute),
				TrackedTx:      getEnvAsDuration("COOLDOWN_TRACKED_WALLET_TX", 2*time.Minute),
			},
		},
		Feeds: FeedsConfig{
			Price: FeedConfig{
				BaseURL:        getEnv("PRICE_FEED_URL", "https://pro-api.coinmarketcap.com/v2/cryptocurrency"),
				APIKey:         getEnv("PRICE_FEED_API_KEY", ""),
				RequestsPerSec: getEnvAsFloat("PRICE_FEED_RPS", 5),
				Burst:          getEnvAsInt("PRICE_FEED_BURST", 10),
				QueueDepth:     getEnvAsInt("PRICE_FEED_QUEUE_DEPTH", 64),
				Timeout:        getEnvAsDuration("PRICE_FEED_TIMEOUT", 15*time.Second),
			},
			Valuation: FeedConfig{
				BaseURL:        getEnv("VALUATION_FEED_URL", "https://api.zerion.io/v1"),
				APIKey:         getEnv("VALUATION_FEED_API_KEY", ""),
				RequestsPerSec: getEnvAsFloat("VALUATION_FEED_RPS", 2),
				Burst:          getEnvAsInt("VALUATION_FEED_BURST", 4),
				QueueDepth:     getEnvAsInt("VALUATION_FEED_QUEUE_DEPTH", 32),
				Timeout:        getEnvAsDuration("VALUATION_FEED_TIMEOUT", 30*time.Second),
			},
			Wallet: FeedConfig{
				BaseURL:        getEnv("WALLET_FEED_URL", "https://api.mobula.io/api/1"),
				APIKey:         getEnv("WALLET_FEED_API_KEY", ""),
				RequestsPerSec: getEnvAsFloat("WALLET_FEED_RPS", 3),
				Burst:          getEnvAsInt("WALLET_FEED_BURST", 6),
				QueueDepth:     getEnvAsInt("WALLET_FEED_QUEUE_DEPTH", 32),
				Timeout:        getEnvAsDuration("WALLET_FEED_TIMEOUT", 20*time.Second),
			},
			RetryMaxAttempts:   getEnvAsInt("FEED_RETRY_MAX_ATTEMPTS", 4),
			RetryInitialDelay:  getEnvAsDuration("FEED_RETRY_INITIAL_DELAY", 500*time.Millisecond),
			RetryMaxDelay:      getEnvAsDuration("FEED_RETRY_MAX_DELAY", 10*time.Second),
			BreakerMaxFailures: getEnvAsInt("FEED_BREAKER_MAX_FAILURES", 5),
			BreakerCooldown:    getEnvAsDuration("FEED_BREAKER_COOLDOWN", 60*time.Second),
		},
		Cache: CacheConfig{
			PriceTTL:     getEnvAsDuration("CACHE_PRICE_TTL", 30*time.Second),
			ValuationTTL: getEnvAsDuration("CACHE_VALUATION_TTL", 5*time.Minute),
			WalletTTL:    getEnvAsDuration("CACHE_WALLET_TTL", 2*time.Minute),
			TxFeedTTL:    getEnvAsDuration("CACHE_TXFEED_TTL", 30*time.Second),
		},
		Quota: QuotaConfig{
			Free: TierLimits{
				MaxWallets:     getEnvAsInt("QUOTA_FREE_MAX_WALLETS", 3),
				MaxAlerts:      getEnvAsInt("QUOTA_FREE_MAX_ALERTS", 3),
				MaxCallsPerDay: getEnvAsInt("QUOTA_FREE_MAX_CALLS_PER_DAY", 10),
			},
			Premium: TierLimits{
				MaxWallets:     getEnvAsInt("QUOTA_PREMIUM_MAX_WALLETS", 10),
				MaxAlerts:      getEnvAsInt("QUOTA_PREMIUM_MAX_ALERTS", 10),
				MaxCallsPerDay: getEnvAsInt("QUOTA_PREMIUM_MAX_CALLS_PER_DAY", 30),
			},
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		},
		Ops: OpsConfig{
			Host: getEnv("OPS_HOST", "0.0.0.0"),
			Port: getEnv("OPS_PORT", "8080"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime behavior.
func (c *Config) Validate() error {
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %v", c.Scheduler.TickInterval)
	}
	if c.Scheduler.TickDeadline <= 0 || c.Scheduler.TickDeadline > c.Scheduler.TickInterval {
		return fmt.Errorf("tick deadline must be positive and not exceed the tick interval, got %v", c.Scheduler.TickDeadline)
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", c.Scheduler.Workers)
	}
	if c.Quota.Free.MaxCallsPerDay <= 0 || c.Quota.Premium.MaxCallsPerDay <= 0 {
		return fmt.Errorf("daily call quotas must be positive")
	}
	if c.Quota.Premium.MaxAlerts < c.Quota.Free.MaxAlerts {
		return fmt.Errorf("premium alert ceiling (%d) cannot be below free ceiling (%d)",
			c.Quota.Premium.MaxAlerts, c.Quota.Free.MaxAlerts)
	}
	return nil
}

// TierLimitsFor returns the quota ceilings for a tier string ("free"/"premium").
func (c *Config) TierLimitsFor(premium bool) TierLimits {
	if premium {
		return c.Quota.Premium
	}
	return c.Quota.Free
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
