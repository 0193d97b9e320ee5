// Package config handles process configuration from environment variables
// and the fraud engine document loaded through koanf.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all process configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage
	DatabaseURL string // PostgreSQL for audit stores (optional, in-memory if not set)
	RedisURL    string // Redis for the velocity window (optional, in-memory if not set)

	// Engine
	EngineConfigPath string

	// Observability
	OTLPEndpoint     string
	OTLPInsecure     bool
	TraceSampleRatio float64

	// HTTP limits
	RateLimitRPM       int
	RateLimitBurst     int
	RequestTimeout     time.Duration
	MaxRequestSize     int64
	CORSAllowedOrigins []string

	// Operator access
	AdminAPIKey             string // guards webhook management, assessment history and /ws
	WebhookAllowPrivateURLs bool   // lets webhooks target loopback and private networks

	// Witness sealing
	WitnessSigningKey string // hex secp256k1 key, with or without 0x
	MerkleBatchSize   int
	ChainCheckEvery   time.Duration
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultEngineConfigPath = "config/fraud_detection_config.json"
	DefaultRateLimitRPM     = 600
	DefaultRateLimitBurst   = 50
	DefaultRequestTimeout   = 30 * time.Second
	DefaultMaxRequestSize   = 1 << 20
	DefaultMerkleBatchSize  = 10
	DefaultChainCheckEvery  = 5 * time.Minute
	MinAdminAPIKeyLength    = 24
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", DefaultEnv)
	defaultFormat := "json"
	if env == DefaultEnv {
		defaultFormat = "text"
	}

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                env,
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", defaultFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		EngineConfigPath:   getEnv("ENGINE_CONFIG_PATH", DefaultEngineConfigPath),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:       getEnv("OTEL_EXPORTER_OTLP_INSECURE", "true") == "true",
		TraceSampleRatio:   getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst:     int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", DefaultRequestTimeout),
		MaxRequestSize:     getEnvInt64("MAX_REQUEST_SIZE", DefaultMaxRequestSize),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		WitnessSigningKey:  os.Getenv("WITNESS_SIGNING_KEY"),
		MerkleBatchSize:    int(getEnvInt64("MERKLE_BATCH_SIZE", DefaultMerkleBatchSize)),
		ChainCheckEvery:    getEnvDuration("AUDIT_CHAIN_CHECK_INTERVAL", DefaultChainCheckEvery),

		AdminAPIKey:             os.Getenv("ADMIN_API_KEY"),
		WebhookAllowPrivateURLs: getEnv("WEBHOOK_ALLOW_PRIVATE_URLS", "false") == "true",
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 0 and 65535, got %q", c.Port)
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be positive")
	}
	if c.MaxRequestSize <= 0 {
		return fmt.Errorf("MAX_REQUEST_SIZE must be positive")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be between 0 and 1")
	}
	if c.MerkleBatchSize <= 0 {
		return fmt.Errorf("MERKLE_BATCH_SIZE must be positive")
	}
	if c.ChainCheckEvery <= 0 {
		return fmt.Errorf("AUDIT_CHAIN_CHECK_INTERVAL must be positive")
	}

	if c.WitnessSigningKey != "" {
		key := strings.TrimPrefix(c.WitnessSigningKey, "0x")
		if len(key) != 64 {
			return fmt.Errorf("WITNESS_SIGNING_KEY must be 64 hex characters (with or without 0x prefix)")
		}
	} else if !c.IsDevelopment() {
		return fmt.Errorf("WITNESS_SIGNING_KEY is required outside development")
	}

	if c.AdminAPIKey != "" {
		if len(c.AdminAPIKey) < MinAdminAPIKeyLength {
			return fmt.Errorf("ADMIN_API_KEY must be at least %d characters", MinAdminAPIKeyLength)
		}
	} else if !c.IsDevelopment() {
		return fmt.Errorf("ADMIN_API_KEY is required outside development")
	}
	if c.WebhookAllowPrivateURLs && c.IsProduction() {
		return fmt.Errorf("WEBHOOK_ALLOW_PRIVATE_URLS cannot be enabled in production")
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
