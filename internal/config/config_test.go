package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every AMPELHUB_ env var that Load() reads.
var allConfigKeys = []string{
	"AMPELHUB_JWT_SECRET",
	"AMPELHUB_LISTEN_ADDR",
	"AMPELHUB_DB_PATH",
	"AMPELHUB_ENCRYPTION_KEY",
	"AMPELHUB_DEFAULT_POLL_INTERVAL_SECONDS",
	"AMPELHUB_MIN_POLL_INTERVAL_SECONDS",
	"AMPELHUB_WORKER_POOL_SIZE",
	"AMPELHUB_PER_ACCOUNT_CONCURRENCY",
	"AMPELHUB_RATE_LIMIT_SAFETY_MARGIN",
	"AMPELHUB_GITHUB_BASE_URL",
	"AMPELHUB_GITLAB_BASE_URL",
	"AMPELHUB_BITBUCKET_BASE_URL",
	"AMPELHUB_REQUEST_TIMEOUT_SECONDS",
	"AMPELHUB_RETRY_MAX_ATTEMPTS",
	"AMPELHUB_RETRY_BASE_DELAY_MILLIS",
	"AMPELHUB_ACCESS_TOKEN_TTL",
	"AMPELHUB_REFRESH_TOKEN_TTL",
	"AMPELHUB_SENDGRID_API_KEY",
	"AMPELHUB_SENDGRID_SENDER_ADDRESS",
}

// isolateConfigEnv saves and unsets all AMPELHUB_ env vars so tests don't
// inherit values from the host environment (e.g. a running dev server).
// t.Cleanup restores original values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Success(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AMPELHUB_JWT_SECRET", "test-secret")
	t.Setenv("AMPELHUB_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("AMPELHUB_DB_PATH", "/tmp/test.db")
	t.Setenv("AMPELHUB_WORKER_POOL_SIZE", "16")
	t.Setenv("AMPELHUB_GITLAB_BASE_URL", "https://gitlab.example.com")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, []byte("test-secret"), cfg.JWTSecret)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, int64(16), cfg.WorkerPoolSize)
	assert.Equal(t, "https://gitlab.example.com", cfg.ProviderBaseURLs["gitlab"])
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AMPELHUB_JWT_SECRET", "test-secret")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr)
	assert.Equal(t, "ampelhub.db", cfg.DBPath)
	assert.Equal(t, 300, cfg.DefaultPollIntervalSeconds)
	assert.Equal(t, 60, cfg.MinPollIntervalSeconds)
	assert.Equal(t, int64(8), cfg.WorkerPoolSize)
	assert.Equal(t, int64(2), cfg.PerAccountConcurrency)
	assert.Equal(t, 50, cfg.RateLimitSafetyMargin)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.RefreshTokenTTL)
	assert.Empty(t, cfg.ProviderBaseURLs)
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AMPELHUB_JWT_SECRET")
}

func TestLoad_EncryptionKey_Absent(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AMPELHUB_JWT_SECRET", "test-secret")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Nil(t, cfg.EncryptionKey)
}

func TestLoad_EncryptionKey_Valid(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AMPELHUB_JWT_SECRET", "test-secret")
	// 64 hex chars = 32 bytes
	t.Setenv("AMPELHUB_ENCRYPTION_KEY", "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Len(t, cfg.EncryptionKey, 32)
}

func TestLoad_EncryptionKey_TooShort(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AMPELHUB_JWT_SECRET", "test-secret")
	t.Setenv("AMPELHUB_ENCRYPTION_KEY", "deadbeef")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AMPELHUB_ENCRYPTION_KEY")
}

func TestLoad_EncryptionKey_NotHex(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AMPELHUB_JWT_SECRET", "test-secret")
	// 64 chars but not valid hex
	t.Setenv("AMPELHUB_ENCRYPTION_KEY", "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AMPELHUB_ENCRYPTION_KEY")
}

func TestLoad_InvalidIntegerOption(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AMPELHUB_JWT_SECRET", "test-secret")
	t.Setenv("AMPELHUB_WORKER_POOL_SIZE", "not-a-number")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AMPELHUB_WORKER_POOL_SIZE")
}

func TestLoad_InvalidAccessTokenTTL(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AMPELHUB_JWT_SECRET", "test-secret")
	t.Setenv("AMPELHUB_ACCESS_TOKEN_TTL", "not-a-duration")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AMPELHUB_ACCESS_TOKEN_TTL")
}

func TestLoad_SendGridAbsent(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AMPELHUB_JWT_SECRET", "test-secret")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Empty(t, cfg.SendGridAPIKey)
}

func TestLoad_SendGridConfigured(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AMPELHUB_JWT_SECRET", "test-secret")
	t.Setenv("AMPELHUB_SENDGRID_API_KEY", "SG.fake")
	t.Setenv("AMPELHUB_SENDGRID_SENDER_ADDRESS", "alerts@example.com")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "SG.fake", cfg.SendGridAPIKey)
	assert.Equal(t, "alerts@example.com", cfg.SendGridSenderAddress)
}
