// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration loaded from environment
// variables, covering every option of spec §6's configuration table plus
// the auth-specific additions the teacher's single-user design never
// needed.
type Config struct {
	ListenAddr string
	DBPath     string

	// EncryptionKey is a 32-byte AES-256 key for CredentialStore's
	// at-rest encryption; nil when AMPELHUB_ENCRYPTION_KEY is not set, in
	// which case credential storage is disabled.
	EncryptionKey []byte

	// DefaultPollIntervalSeconds applies to repositories with no explicit
	// per-repository override.
	DefaultPollIntervalSeconds int
	// MinPollIntervalSeconds floors whatever value a user sets.
	MinPollIntervalSeconds int

	// WorkerPoolSize bounds concurrent polls across every account.
	WorkerPoolSize int64
	// PerAccountConcurrency bounds concurrent polls against one account.
	PerAccountConcurrency int64
	// RateLimitSafetyMargin is the minimum remaining request budget an
	// adapter requires before issuing another call.
	RateLimitSafetyMargin int

	// ProviderBaseURLs sets a provider's default API base URL, keyed by
	// provider name ("github", "gitlab", "bitbucket"). Only the GitHub
	// adapter is built with it; for GitLab and Bitbucket it changes only
	// the provider factory's cache key.
	ProviderBaseURLs map[string]string

	// RequestTimeout bounds a single outbound provider call.
	RequestTimeout time.Duration
	// RetryMaxAttempts and RetryBaseDelay configure the shared transient-
	// failure retry policy (internal/adapter/driven/provider/retry).
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	// JWTSecret signs and verifies access tokens. Required.
	JWTSecret []byte
	// AccessTokenTTL and RefreshTokenTTL bound session lifetimes.
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// SendGridAPIKey and SendGridSenderAddress configure outbound email
	// notifications; email notifications are disabled when the key is
	// unset.
	SendGridAPIKey        string
	SendGridSenderAddress string
}

// Load reads configuration from environment variables and returns a
// validated Config. Required: AMPELHUB_JWT_SECRET. Everything else is
// optional with a documented default, following the teacher's
// fail-fast-on-required / warn-and-default-on-optional pattern.
func Load() (*Config, error) {
	var cfg Config

	secret, ok := os.LookupEnv("AMPELHUB_JWT_SECRET")
	if !ok || secret == "" {
		return nil, fmt.Errorf("AMPELHUB_JWT_SECRET is required but not set")
	}
	cfg.JWTSecret = []byte(secret)

	cfg.ListenAddr = "0.0.0.0:8080"
	if v, ok := os.LookupEnv("AMPELHUB_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}

	cfg.DBPath = "ampelhub.db"
	if v, ok := os.LookupEnv("AMPELHUB_DB_PATH"); ok {
		cfg.DBPath = v
	}

	if keyHex, ok := os.LookupEnv("AMPELHUB_ENCRYPTION_KEY"); ok && keyHex != "" {
		if len(keyHex) != 64 {
			return nil, fmt.Errorf("AMPELHUB_ENCRYPTION_KEY must be a 64-character hex string (32 bytes)")
		}
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("AMPELHUB_ENCRYPTION_KEY must be a 64-character hex string (32 bytes)")
		}
		cfg.EncryptionKey = key
	} else {
		slog.Warn("AMPELHUB_ENCRYPTION_KEY not set — credential storage disabled")
	}

	var err error
	if cfg.DefaultPollIntervalSeconds, err = intEnv("AMPELHUB_DEFAULT_POLL_INTERVAL_SECONDS", 300); err != nil {
		return nil, err
	}
	if cfg.MinPollIntervalSeconds, err = intEnv("AMPELHUB_MIN_POLL_INTERVAL_SECONDS", 60); err != nil {
		return nil, err
	}

	workerPoolSize, err := intEnv("AMPELHUB_WORKER_POOL_SIZE", 8)
	if err != nil {
		return nil, err
	}
	cfg.WorkerPoolSize = int64(workerPoolSize)

	perAccountConcurrency, err := intEnv("AMPELHUB_PER_ACCOUNT_CONCURRENCY", 2)
	if err != nil {
		return nil, err
	}
	cfg.PerAccountConcurrency = int64(perAccountConcurrency)

	if cfg.RateLimitSafetyMargin, err = intEnv("AMPELHUB_RATE_LIMIT_SAFETY_MARGIN", 50); err != nil {
		return nil, err
	}

	cfg.ProviderBaseURLs = map[string]string{}
	for _, provider := range []string{"github", "gitlab", "bitbucket"} {
		envVar := "AMPELHUB_" + strings.ToUpper(provider) + "_BASE_URL"
		if v, ok := os.LookupEnv(envVar); ok && v != "" {
			cfg.ProviderBaseURLs[provider] = v
		}
	}

	requestTimeoutSeconds, err := intEnv("AMPELHUB_REQUEST_TIMEOUT_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	cfg.RequestTimeout = time.Duration(requestTimeoutSeconds) * time.Second

	if cfg.RetryMaxAttempts, err = intEnv("AMPELHUB_RETRY_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	retryBaseDelayMillis, err := intEnv("AMPELHUB_RETRY_BASE_DELAY_MILLIS", 500)
	if err != nil {
		return nil, err
	}
	cfg.RetryBaseDelay = time.Duration(retryBaseDelayMillis) * time.Millisecond

	cfg.AccessTokenTTL = 15 * time.Minute
	if v, ok := os.LookupEnv("AMPELHUB_ACCESS_TOKEN_TTL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("AMPELHUB_ACCESS_TOKEN_TTL has invalid duration %q: %w", v, err)
		}
		cfg.AccessTokenTTL = parsed
	}

	cfg.RefreshTokenTTL = 30 * 24 * time.Hour
	if v, ok := os.LookupEnv("AMPELHUB_REFRESH_TOKEN_TTL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("AMPELHUB_REFRESH_TOKEN_TTL has invalid duration %q: %w", v, err)
		}
		cfg.RefreshTokenTTL = parsed
	}

	cfg.SendGridAPIKey = os.Getenv("AMPELHUB_SENDGRID_API_KEY")
	cfg.SendGridSenderAddress = os.Getenv("AMPELHUB_SENDGRID_SENDER_ADDRESS")
	if cfg.SendGridAPIKey == "" {
		slog.Warn("AMPELHUB_SENDGRID_API_KEY not set — email notifications disabled")
	}

	return &cfg, nil
}

func intEnv(name string, def int) (int, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer value %q: %w", name, v, err)
	}
	return n, nil
}
