package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequiredEnv populates the minimum environment for LoadConfig to succeed.
// t.Setenv restores prior values automatically.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/pitchcraft")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("GENERATION_API_KEY", "gen_key_123")
	t.Setenv("GENERATION_ENDPOINT_URL", "https://api.example.com/v1/completions")
	t.Setenv("SESSION_KEY", "0123456789abcdef0123456789abcdef")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Database.CallTimeout)
	assert.Equal(t, 3, cfg.Quota.AnonymousAllowance)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, "gpt-4o-mini", cfg.Generation.Model)
}

func TestLoadConfig_MissingDatabaseURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")

	_, err := LoadConfig()
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ErrValidation, cfgErr.Type)
}

func TestLoadConfig_InvalidEnvironment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production-ish")

	_, err := LoadConfig()
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ErrValidation, cfgErr.Type)
}

func TestLoadConfig_ShortSessionKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SESSION_KEY", "too-short")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_ParsesDurations(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_CALL_TIMEOUT", "750ms")
	t.Setenv("GENERATION_TIMEOUT", "20s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.Database.CallTimeout)
	assert.Equal(t, 20*time.Second, cfg.Generation.Timeout)
}

func TestLoadConfig_BadDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_CALL_TIMEOUT", "not-a-duration")

	_, err := LoadConfig()
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ErrParsing, cfgErr.Type)
}

func TestLoadConfig_SecretsRedactedInLogs(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "***REDACTED***", cfg.Database.URL.String())
	assert.Equal(t, "postgres://localhost:5432/pitchcraft", cfg.Database.URL.Unmask())
}
