package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName         = "NovoinWallet"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultStoreTimeout    = 5 * time.Second
	defaultExchangeRate    = 1000
	defaultDebitRate       = 60
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Reconcile tunes the provider reconciliation worker.
type Reconcile struct {
	Interval      time.Duration
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	RatePerSecond float64
}

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	StoreTimeout       time.Duration
	ExchangeRate       int64
	CatalogFile        string
	AccountTokenSecret string
	ServiceToken       string
	WebhookSecret      string
	ProviderURL        string
	ProviderToken      string
	DebitRatePerMinute int
	Reconcile          Reconcile
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		AppEnv:             strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		CatalogFile:        os.Getenv("CATALOG_FILE"),
		AccountTokenSecret: os.Getenv("ACCOUNT_TOKEN_SECRET"),
		ServiceToken:       os.Getenv("SERVICE_TOKEN"),
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
		ProviderURL:        os.Getenv("PROVIDER_URL"),
		ProviderToken:      os.Getenv("PROVIDER_TOKEN"),
	}

	var err error
	if cfg.ShutdownPeriod, err = pairedDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = pairedDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.StoreTimeout, err = duration("STORE_TIMEOUT", defaultStoreTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ExchangeRate, err = int64Env("EXCHANGE_RATE", defaultExchangeRate); err != nil {
		return Config{}, err
	}
	if cfg.ExchangeRate <= 0 {
		return Config{}, fmt.Errorf("EXCHANGE_RATE must be positive")
	}
	debitRate, err := int64Env("DEBIT_RATE_PER_MINUTE", defaultDebitRate)
	if err != nil {
		return Config{}, err
	}
	cfg.DebitRatePerMinute = int(debitRate)

	if cfg.Reconcile, err = loadReconcile(); err != nil {
		return Config{}, err
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
		if cfg.AccountTokenSecret == "" {
			return Config{}, fmt.Errorf("ACCOUNT_TOKEN_SECRET must be set")
		}
	}

	return cfg, nil
}

func loadReconcile() (Reconcile, error) {
	var (
		r   Reconcile
		err error
	)
	if r.Interval, err = duration("RECONCILE_INTERVAL", 30*time.Second); err != nil {
		return r, err
	}
	attempts, err := int64Env("RECONCILE_MAX_ATTEMPTS", 8)
	if err != nil {
		return r, err
	}
	r.MaxAttempts = int(attempts)
	if r.BaseBackoff, err = duration("RECONCILE_BASE_BACKOFF", 2*time.Second); err != nil {
		return r, err
	}
	if r.MaxBackoff, err = duration("RECONCILE_MAX_BACKOFF", 10*time.Minute); err != nil {
		return r, err
	}
	r.RatePerSecond = 50
	if v := os.Getenv("RECONCILE_RATE_PER_SECOND"); v != "" {
		if r.RatePerSecond, err = strconv.ParseFloat(v, 64); err != nil {
			return r, fmt.Errorf("invalid RECONCILE_RATE_PER_SECOND: %w", err)
		}
	}
	if r.MaxAttempts <= 0 {
		return r, fmt.Errorf("RECONCILE_MAX_ATTEMPTS must be positive")
	}
	if r.MaxBackoff < r.BaseBackoff {
		return r, fmt.Errorf("RECONCILE_MAX_BACKOFF must not be below RECONCILE_BASE_BACKOFF")
	}
	return r, nil
}

// IsDev reports whether the service runs in a development environment, where
// Postgres and Redis are optional.
func (c Config) IsDev() bool {
	switch c.AppEnv {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// pairedDuration reads an integer seconds variable, falling back to a Go
// duration string variable.
func pairedDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return duration(durationKey, fallback)
}

// duration accepts plain seconds ("30") or a Go duration ("1m30s").
func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func int64Env(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
