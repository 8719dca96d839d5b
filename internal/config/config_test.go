package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "SINGLE_TX_MAX", "50000")
	setEnv(t, "ALLOW_UNVERIFIED_MEDIUM_RISK", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "50000", cfg.SingleTransactionMax)
	assert.Equal(t, DefaultCurrency, cfg.Currency)
	assert.True(t, cfg.AllowUnverifiedMediumRisk)
	assert.Equal(t, DefaultRiskBlockScore, cfg.RiskBlockScore)
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "SINGLE_TX_MAX", "ALLOW_UNVERIFIED_MEDIUM_RISK", "RISK_BLOCK_SCORE"} {
		setEnv(t, key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultSingleTxMax, cfg.SingleTransactionMax)
	assert.False(t, cfg.AllowUnverifiedMediumRisk)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid config",
			config: Config{
				SingleTransactionMax: "100000",
				RiskBlockScore:       70,
				RiskVerifyScore:      40,
				RateLimitRPM:         60,
			},
			wantErr: "",
		},
		{
			name: "empty single tx max",
			config: Config{
				SingleTransactionMax: "",
				RiskBlockScore:       70,
				RiskVerifyScore:      40,
				RateLimitRPM:         60,
			},
			wantErr: "SINGLE_TX_MAX must not be empty",
		},
		{
			name: "non-numeric single tx max",
			config: Config{
				SingleTransactionMax: "lots",
				RiskBlockScore:       70,
				RiskVerifyScore:      40,
				RateLimitRPM:         60,
			},
			wantErr: "SINGLE_TX_MAX must be a decimal amount",
		},
		{
			name: "inverted risk thresholds",
			config: Config{
				SingleTransactionMax: "100000",
				RiskBlockScore:       40,
				RiskVerifyScore:      70,
				RateLimitRPM:         60,
			},
			wantErr: "must be above",
		},
		{
			name: "zero rate limit",
			config: Config{
				SingleTransactionMax: "100000",
				RiskBlockScore:       70,
				RiskVerifyScore:      40,
				RateLimitRPM:         0,
			},
			wantErr: "RATE_LIMIT_RPM must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvBool(t *testing.T) {
	setEnv(t, "TEST_BOOL", "true")
	setEnv(t, "TEST_BAD_BOOL", "yep")

	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.False(t, getEnvBool("TEST_BAD_BOOL", false))
	assert.True(t, getEnvBool("NONEXISTENT_VAR", true))
}
