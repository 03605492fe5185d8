// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Redis for one-time codes (optional, uses in-memory if not set)

	// Sessions and one-time codes
	JWTSecret  string
	SessionTTL time.Duration
	OTPTTL     time.Duration
	OTPLength  int

	// SMS delivery (optional, codes are logged if unset)
	SMSGatewayURL   string
	SMSGatewayToken string

	// Reputation
	ReputationHMACSecret string        // Signs reputation responses (optional)
	RefreshInterval      time.Duration // Decay sweep period, 0 disables the worker
	MaxEventRetries      int

	// Security
	AdminSecret  string // Guards event ingestion (optional, disables it if unset)
	RateLimitRPM int
	CORSOrigins  string // Comma separated, empty allows any origin

	// Tracing
	OTLPEndpoint     string
	TraceSampleRatio float64 // Fraction of root spans kept, 1 samples everything
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultSessionTTL      = 24 * time.Hour
	DefaultOTPTTL          = 5 * time.Minute
	DefaultOTPLength       = 6
	DefaultRefreshInterval = time.Hour
	DefaultMaxEventRetries = 5
	DefaultRateLimitRPM    = 120
	DefaultTraceSample     = 1.0

	minJWTSecretLength = 32
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:            getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		JWTSecret:            os.Getenv("JWT_SECRET"), // Required, no default
		SessionTTL:           getEnvDuration("SESSION_TTL", DefaultSessionTTL),
		OTPTTL:               getEnvDuration("OTP_TTL", DefaultOTPTTL),
		OTPLength:            getEnvInt("OTP_LENGTH", DefaultOTPLength),
		SMSGatewayURL:        os.Getenv("SMS_GATEWAY_URL"),
		SMSGatewayToken:      os.Getenv("SMS_GATEWAY_TOKEN"),
		ReputationHMACSecret: os.Getenv("REPUTATION_HMAC_SECRET"),
		RefreshInterval:      getEnvDuration("REFRESH_INTERVAL", DefaultRefreshInterval),
		MaxEventRetries:      getEnvInt("MAX_EVENT_RETRIES", DefaultMaxEventRetries),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:         getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		CORSOrigins:          os.Getenv("CORS_ORIGINS"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:     getEnvFloat("OTEL_TRACES_SAMPLER_ARG", DefaultTraceSample),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
	}
	if c.OTPLength < 4 || c.OTPLength > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10")
	}
	if c.SessionTTL <= 0 || c.OTPTTL <= 0 {
		return fmt.Errorf("SESSION_TTL and OTP_TTL must be positive")
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("REFRESH_INTERVAL must not be negative")
	}
	if c.MaxEventRetries < 1 {
		return fmt.Errorf("MAX_EVENT_RETRIES must be at least 1")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be between 0 and 1")
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	if c.IsProduction() && c.SMSGatewayURL == "" {
		return fmt.Errorf("SMS_GATEWAY_URL is required in production")
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
