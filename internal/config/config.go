// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds application configuration.
type Config struct {
	Port      int
	LogLevel  string
	LogPretty bool

	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	DecisionAPIURL  string
	ForecastHorizon string
	ModelType       string

	SupabaseURL       string
	SupabaseAnonKey   string
	PortfolioTable    string
	PortfolioIDColumn string
	TransactionTable  string

	StartingBalance    decimal.Decimal
	AutoFetchInterval  time.Duration
	FeedTimeout        time.Duration
	DefaultPortfolioID string
	CORSOrigins        []string

	RefreshRateLimit int // requests per second per client; 0 disables
	RefreshBurst     int
}

// Load reads configuration from environment variables, after loading a
// .env file when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:      getEnvAsInt("PORT", 8080),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		CacheTTL:    getEnvAsDuration("CACHE_TTL", 30*time.Second),

		DecisionAPIURL:  strings.TrimRight(getEnv("DECISION_API_URL", ""), "/"),
		ForecastHorizon: getEnv("FORECAST_HORIZON", "EOY"),
		ModelType:       getEnv("MODEL_TYPE", "random-forest-regression"),

		SupabaseURL:       strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseAnonKey:   getEnv("SUPABASE_ANON_KEY", ""),
		PortfolioTable:    getEnv("PORTFOLIO_TABLE", "portfolios"),
		PortfolioIDColumn: getEnv("PORTFOLIO_ID_COLUMN", "id"),
		TransactionTable:  getEnv("TRANSACTION_TABLE", "portfolio_transaction_history"),

		StartingBalance:    getEnvAsDecimal("STARTING_BALANCE", decimal.NewFromInt(100000)),
		AutoFetchInterval:  getEnvAsDuration("AUTO_FETCH_INTERVAL", 5*time.Minute),
		FeedTimeout:        getEnvAsDuration("FEED_TIMEOUT", 30*time.Second),
		DefaultPortfolioID: getEnv("DEFAULT_PORTFOLIO_ID", ""),
		CORSOrigins:        getEnvAsList("CORS_ORIGINS", []string{"*"}),

		RefreshRateLimit: getEnvAsInt("REFRESH_RATE_LIMIT", 2),
		RefreshBurst:     getEnvAsInt("REFRESH_BURST", 5),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if !c.StartingBalance.IsPositive() {
		return fmt.Errorf("STARTING_BALANCE must be positive, got %s", c.StartingBalance)
	}
	if c.AutoFetchInterval <= 0 {
		return fmt.Errorf("AUTO_FETCH_INTERVAL must be positive, got %s", c.AutoFetchInterval)
	}
	if c.FeedTimeout <= 0 {
		return fmt.Errorf("FEED_TIMEOUT must be positive, got %s", c.FeedTimeout)
	}
	if c.RefreshRateLimit < 0 {
		return fmt.Errorf("REFRESH_RATE_LIMIT must not be negative, got %d", c.RefreshRateLimit)
	}
	if c.PortfolioIDColumn == "" {
		return fmt.Errorf("PORTFOLIO_ID_COLUMN must not be empty")
	}
	return nil
}

// DecisionsConfigured reports whether the decision API base URL is set.
func (c *Config) DecisionsConfigured() bool {
	return c.DecisionAPIURL != ""
}

// SupabaseConfigured reports whether both Supabase URL and key are set.
func (c *Config) SupabaseConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseAnonKey != ""
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
