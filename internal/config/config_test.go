package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "HTTP_HOST", "HTTP_PORT", "DATABASE_MODE", "LOCAL_DB_PATH", "DATABASE_URL",
		"POSTGRES_DSN", "MIGRATIONS_DIR", "JWT_ACCESS_SECRET", "JWT_REFRESH_SECRET",
		"ACCESS_TOKEN_TTL", "REFRESH_TOKEN_TTL", "CORS_ORIGIN", "REDIS_URL", "REDIS_ADDR",
		"REDIS_USERNAME", "REDIS_PASSWORD", "LOCK_TTL", "LOG_LEVEL", "LOG_FORMAT",
		"SHUTDOWN_TIMEOUT", "SWEEP_INTERVAL", "BACKUP_ENABLED", "BACKUP_SCHEDULE", "BACKUP_PATH",
		"BACKUP_KEEP",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeLocal, cfg.Mode)
	assert.True(t, cfg.IsLocal())
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "0.0.0.0:3001", cfg.Addr())
	assert.Equal(t, "./data/dermaclinic.db", cfg.LocalDBPath)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "0 2 * * *", cfg.BackupSchedule)
	assert.False(t, cfg.BackupEnabled)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoad_CloudRequiresDSN(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_MODE", "cloud")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	t.Setenv("POSTGRES_DSN", "postgres://u:p@localhost:5432/derma")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ModeCloud, cfg.Mode)
	assert.Equal(t, "postgres://u:p@localhost:5432/derma", cfg.PostgresDSN)
}

func TestLoad_UnknownMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_MODE", "hybrid")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_MODE")
}

func TestLoad_ProductionSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_MODE", "cloud")
	t.Setenv("DATABASE_URL", "postgres://localhost/derma")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("JWT_ACCESS_SECRET", "a-secret")
	t.Setenv("JWT_REFRESH_SECRET", "a-secret")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")

	t.Setenv("JWT_REFRESH_SECRET", "r-secret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_Parsing(t *testing.T) {
	clearEnv(t)
	t.Setenv("ACCESS_TOKEN_TTL", "90")
	t.Setenv("REFRESH_TOKEN_TTL", "48h")
	t.Setenv("LOCK_TTL", "not-a-duration")
	t.Setenv("CORS_ORIGIN", "http://localhost:5173, https://clinic.example.com ,")
	t.Setenv("BACKUP_ENABLED", "true")
	t.Setenv("BACKUP_KEEP", "3")
	t.Setenv("REDIS_URL", "redis://user:pw@cache:6380")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.AccessTokenTTL)
	assert.Equal(t, 48*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 5*time.Second, cfg.LockTTL)
	assert.Equal(t, []string{"http://localhost:5173", "https://clinic.example.com"}, cfg.CORSOrigins)
	assert.True(t, cfg.BackupEnabled)
	assert.Equal(t, 3, cfg.BackupKeep)
	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, "user", cfg.RedisUsername)
	assert.Equal(t, "pw", cfg.RedisPassword)
}
