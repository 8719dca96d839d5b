// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Transfer settings
	SingleTransactionMax string // System-wide cap on a single transfer amount
	Currency             string // Ledger currency code

	// Risk policy
	AllowUnverifiedMediumRisk bool // Proceed on medium risk without step-up verification
	RiskBlockScore            int  // Score at or above which transfers are blocked
	RiskVerifyScore           int  // Score at or above which step-up verification is required

	// Rate limiting
	RateLimitRPM int

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultSingleTxMax     = "100000"
	DefaultCurrency        = "USD"
	DefaultRiskBlockScore  = 70
	DefaultRiskVerifyScore = 40
	DefaultRateLimit       = 60
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                      getEnv("PORT", DefaultPort),
		Env:                       getEnv("ENV", DefaultEnv),
		LogLevel:                  getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:               os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		SingleTransactionMax:      getEnv("SINGLE_TX_MAX", DefaultSingleTxMax),
		Currency:                  getEnv("CURRENCY", DefaultCurrency),
		AllowUnverifiedMediumRisk: getEnvBool("ALLOW_UNVERIFIED_MEDIUM_RISK", false),
		RiskBlockScore:            int(getEnvInt64("RISK_BLOCK_SCORE", DefaultRiskBlockScore)),
		RiskVerifyScore:           int(getEnvInt64("RISK_VERIFY_SCORE", DefaultRiskVerifyScore)),
		RateLimitRPM:              int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:              os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all configuration values are coherent
func (c *Config) Validate() error {
	if c.SingleTransactionMax == "" {
		return fmt.Errorf("SINGLE_TX_MAX must not be empty")
	}
	if _, err := strconv.ParseFloat(c.SingleTransactionMax, 64); err != nil {
		return fmt.Errorf("SINGLE_TX_MAX must be a decimal amount: %w", err)
	}
	if c.RiskBlockScore <= c.RiskVerifyScore {
		return fmt.Errorf("RISK_BLOCK_SCORE (%d) must be above RISK_VERIFY_SCORE (%d)", c.RiskBlockScore, c.RiskVerifyScore)
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
