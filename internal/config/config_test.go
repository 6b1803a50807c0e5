package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "SERVER_PORT", "LOG_LEVEL", "DATABASE_URL",
		"ACCESS_TOKEN_SECRET", "CSRF_SECRET",
		"ARGON_MEMORY_KB", "ARGON_TIME", "ARGON_PARALLELISM",
		"REDIS_ADDR", "KAFKA_BROKERS", "TURNSTILE_SECRET_KEY",
		"SEED_ADMIN_PASSWORD",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_DevelopmentDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.AppEnv)
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.False(t, cfg.Production())

	// Development falls back to an insecure built-in secret and seeds the
	// default admin.
	assert.NotEmpty(t, cfg.AccessTokenSecret)
	assert.Equal(t, cfg.AccessTokenSecret, cfg.CSRFSecret)
	assert.Equal(t, "admin", cfg.SeedAdminPassword)

	assert.EqualValues(t, 16*1024, cfg.ArgonMemoryKB)
	assert.EqualValues(t, 1, cfg.ArgonTime)
	assert.EqualValues(t, 1, cfg.ArgonParallelism)
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", EnvProduction)

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_Production(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", EnvProduction)
	t.Setenv("ACCESS_TOKEN_SECRET", "prod-secret")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Production())
	assert.Equal(t, []byte("prod-secret"), cfg.AccessTokenSecret)
	// CSRF falls back to the access-token secret when unset.
	assert.Equal(t, []byte("prod-secret"), cfg.CSRFSecret)
	// No admin seeding unless asked for.
	assert.Empty(t, cfg.SeedAdminPassword)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)

	assert.EqualValues(t, 64*1024, cfg.ArgonMemoryKB)
	assert.EqualValues(t, 3, cfg.ArgonTime)
	assert.EqualValues(t, 2, cfg.ArgonParallelism)
}

func TestLoad_DistinctCSRFSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("ACCESS_TOKEN_SECRET", "access")
	t.Setenv("CSRF_SECRET", "csrf")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("access"), cfg.AccessTokenSecret)
	assert.Equal(t, []byte("csrf"), cfg.CSRFSecret)
}

func TestCSV(t *testing.T) {
	assert.Nil(t, CSV(""))
	assert.Equal(t, []string{"a"}, CSV("a"))
	assert.Equal(t, []string{"a", "b"}, CSV(" a ,, b "))
}

func TestEnvIntDefault(t *testing.T) {
	t.Setenv("TEST_INT_KEY", "")
	assert.Equal(t, 42, EnvIntDefault("TEST_INT_KEY", 42))
	t.Setenv("TEST_INT_KEY", "7")
	assert.Equal(t, 7, EnvIntDefault("TEST_INT_KEY", 42))
	t.Setenv("TEST_INT_KEY", "not-a-number")
	assert.Equal(t, 42, EnvIntDefault("TEST_INT_KEY", 42))
}
