package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type (
	// Config holds configuration settings for the automation engine
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Stores & Artifacts
		Store             StoreConfig
		ArtifactBucketURL string
		TestsDir          string

		// Browser
		Headless        bool
		StepTimeout     int64
		VisualThreshold float64

		// Engine
		WebhookTimeout      int64
		SuiteConcurrency    int
		MaxSuiteConcurrency int
		ScriptCacheSize     int
		ShutdownTimeout     time.Duration
	}

	// StoreConfig locates the Redis instance that backs the persistence
	// sink and the page object, function and dataset stores
	StoreConfig struct {
		Addr     string
		Password string
		DB       int
		Prefix   string
	}
)

const (
	Second = 1000
	Minute = 60 * Second

	DefaultStepTimeout     = 30 * Second
	DefaultWebhookTimeout  = 10 * Second
	DefaultShutdownTimeout = 10 * time.Second

	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535
	DefaultRedisDB = 0

	DefaultRedisEndpoint     = "localhost:6379"
	DefaultRedisPrefix       = "marionette"
	DefaultArtifactBucketURL = "file:///tmp/marionette-artifacts"
	DefaultTestsDir          = "tests"

	DefaultSuiteConcurrency    = 3
	DefaultMaxSuiteConcurrency = 16
	DefaultScriptCacheSize     = 1024
	DefaultVisualThreshold     = 0.1

	MaxStepTimeout       = 60 * Minute
	MaxWebhookTimeout    = 10 * Minute
	MaxSuiteConcurrency  = 256
	MaxScriptCacheSize   = 1_000_000
	MaxRedisDB           = 1 << 16
	MaxShutdownTimeoutMs = 10 * Minute
)

var (
	ErrInvalidAPIPort          = errors.New("invalid API port")
	ErrInvalidStepTimeout      = errors.New("step timeout must be positive")
	ErrInvalidWebhookTimeout   = errors.New("webhook timeout must be positive")
	ErrInvalidSuiteConcurrency = errors.New(
		"suite concurrency must be positive",
	)
	ErrSuiteConcurrencyTooLarge = errors.New(
		"suite concurrency must be <= max suite concurrency",
	)
	ErrInvalidVisualThreshold = errors.New(
		"visual threshold must be in range (0, 1]",
	)
	ErrArtifactBucketEmpty = errors.New("artifact bucket URL empty")
	ErrStoreAddrEmpty      = errors.New("redis address empty")
)

// NewDefaultConfig creates a configuration with sensible defaults for the
// engine, its stores, and its browser sessions
func NewDefaultConfig() *Config {
	return &Config{
		APIPort: DefaultAPIPort,
		APIHost: DefaultAPIHost,
		Store: StoreConfig{
			Addr:   DefaultRedisEndpoint,
			DB:     DefaultRedisDB,
			Prefix: DefaultRedisPrefix,
		},
		ArtifactBucketURL:   DefaultArtifactBucketURL,
		TestsDir:            DefaultTestsDir,
		Headless:            true,
		StepTimeout:         DefaultStepTimeout,
		VisualThreshold:     DefaultVisualThreshold,
		WebhookTimeout:      DefaultWebhookTimeout,
		SuiteConcurrency:    DefaultSuiteConcurrency,
		MaxSuiteConcurrency: DefaultMaxSuiteConcurrency,
		ScriptCacheSize:     DefaultScriptCacheSize,
		ShutdownTimeout:     DefaultShutdownTimeout,
		LogLevel:            "info",
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	LoadStoreConfigFromEnv(&c.Store)

	if apiHost := os.Getenv("API_HOST"); apiHost != "" {
		c.APIHost = apiHost
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if bucket := os.Getenv("ARTIFACT_BUCKET_URL"); bucket != "" {
		c.ArtifactBucketURL = bucket
	}
	if dir := os.Getenv("TESTS_DIR"); dir != "" {
		c.TestsDir = dir
	}
	if s := os.Getenv("HEADLESS"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid HEADLESS: %q", s)
		}
		c.Headless = v
	}
	if s := os.Getenv("VISUAL_THRESHOLD"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 || v > 1 {
			return fmt.Errorf("invalid VISUAL_THRESHOLD: %q", s)
		}
		c.VisualThreshold = v
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"STEP_TIMEOUT", &c.StepTimeout, 0, MaxStepTimeout,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"WEBHOOK_TIMEOUT", &c.WebhookTimeout, 0, MaxWebhookTimeout,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"SUITE_CONCURRENCY", &c.SuiteConcurrency, 0, MaxSuiteConcurrency,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"MAX_SUITE_CONCURRENCY", &c.MaxSuiteConcurrency,
		0, MaxSuiteConcurrency,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"SCRIPT_CACHE_SIZE", &c.ScriptCacheSize, 0, MaxScriptCacheSize,
	); err != nil {
		return err
	}

	shutdownMs := c.ShutdownTimeout.Milliseconds()
	if err := loadEnvInt(
		"SHUTDOWN_TIMEOUT", &shutdownMs, 0, MaxShutdownTimeoutMs,
	); err != nil {
		return err
	}
	c.ShutdownTimeout = time.Duration(shutdownMs) * time.Millisecond

	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}

	if c.StepTimeout <= 0 {
		return ErrInvalidStepTimeout
	}

	if c.WebhookTimeout <= 0 {
		return ErrInvalidWebhookTimeout
	}

	if c.SuiteConcurrency <= 0 || c.MaxSuiteConcurrency <= 0 {
		return ErrInvalidSuiteConcurrency
	}

	if c.SuiteConcurrency > c.MaxSuiteConcurrency {
		return fmt.Errorf("%w: %d > %d", ErrSuiteConcurrencyTooLarge,
			c.SuiteConcurrency, c.MaxSuiteConcurrency)
	}

	if c.VisualThreshold <= 0 || c.VisualThreshold > 1 {
		return fmt.Errorf("%w: %v",
			ErrInvalidVisualThreshold, c.VisualThreshold)
	}

	if c.ArtifactBucketURL == "" {
		return ErrArtifactBucketEmpty
	}

	if c.Store.Addr == "" {
		return ErrStoreAddrEmpty
	}

	return nil
}

// StepTimeoutDuration returns the per-action browser timeout
func (c *Config) StepTimeoutDuration() time.Duration {
	return time.Duration(c.StepTimeout) * time.Millisecond
}

// WebhookTimeoutDuration returns the per-call webhook and API timeout
func (c *Config) WebhookTimeoutDuration() time.Duration {
	return time.Duration(c.WebhookTimeout) * time.Millisecond
}

// LoadStoreConfigFromEnv loads Redis store configuration from the REDIS_*
// environment variables
func LoadStoreConfigFromEnv(s *StoreConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		s.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		s.Password = password
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err == nil && db >= 0 && db < MaxRedisDB {
			s.DB = db
		}
	}
	if envPrefix := os.Getenv("REDIS_PREFIX"); envPrefix != "" {
		s.Prefix = envPrefix
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]. Returns an error if
// the value cannot be parsed or falls outside the valid range.
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}
