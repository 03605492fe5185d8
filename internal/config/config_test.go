package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_WithValidConfig(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultSessionTTL, cfg.SessionTTL)
	assert.Equal(t, DefaultOTPTTL, cfg.OTPTTL)
	assert.Equal(t, DefaultOTPLength, cfg.OTPLength)
	assert.Equal(t, DefaultRefreshInterval, cfg.RefreshInterval)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
	assert.Equal(t, DefaultTraceSample, cfg.TraceSampleRatio)
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
}

func TestLoad_ShortJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "tooshort")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32")
}

func TestLoad_Durations(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("ENV", "development")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("OTP_TTL", "90")
	t.Setenv("REFRESH_INTERVAL", "garbage")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 90*time.Second, cfg.OTPTTL)
	assert.Equal(t, DefaultRefreshInterval, cfg.RefreshInterval)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Env:             "development",
			JWTSecret:       testSecret,
			SessionTTL:      time.Hour,
			OTPTTL:          time.Minute,
			OTPLength:       6,
			MaxEventRetries: 3,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"otp too short", func(c *Config) { c.OTPLength = 3 }, "OTP_LENGTH"},
		{"otp too long", func(c *Config) { c.OTPLength = 11 }, "OTP_LENGTH"},
		{"zero session ttl", func(c *Config) { c.SessionTTL = 0 }, "SESSION_TTL"},
		{"negative refresh", func(c *Config) { c.RefreshInterval = -time.Second }, "REFRESH_INTERVAL"},
		{"no retries", func(c *Config) { c.MaxEventRetries = 0 }, "MAX_EVENT_RETRIES"},
		{"sample ratio above one", func(c *Config) { c.TraceSampleRatio = 1.5 }, "OTEL_TRACES_SAMPLER_ARG"},
		{"production needs admin secret", func(c *Config) { c.Env = "production" }, "ADMIN_SECRET"},
		{"production needs sms gateway", func(c *Config) { c.Env = "production"; c.AdminSecret = "s" }, "SMS_GATEWAY_URL"},
		{"production complete", func(c *Config) {
			c.Env = "production"
			c.AdminSecret = "s"
			c.SMSGatewayURL = "https://sms.example.com"
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvHelpers(t *testing.T) {
	c := Config{Env: "production"}
	assert.True(t, c.IsProduction())
	assert.False(t, c.IsDevelopment())

	t.Setenv("SOME_INT", "notanint")
	assert.Equal(t, 7, getEnvInt("SOME_INT", 7))
	t.Setenv("SOME_INT", "12")
	assert.Equal(t, 12, getEnvInt("SOME_INT", 7))

	t.Setenv("SOME_FLOAT", "0.25")
	assert.Equal(t, 0.25, getEnvFloat("SOME_FLOAT", 1))
	t.Setenv("SOME_FLOAT", "half")
	assert.Equal(t, 1.0, getEnvFloat("SOME_FLOAT", 1))
}
