// Package server provides configuration helpers that define runtime
// defaults, validation, and tuning parameters for the chat relay.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the relay's runtime settings. It is an explicit value
// injected into the components that need it; there is no package-level
// active configuration.
type Config struct {
	Port           string
	Env            string
	AllowedOrigins []string
	MaxMessageSize int64
	SendBuffer     int
	WriteTimeout   time.Duration
	RateLimit      RateLimitConfig

	// JWTSecret signs and verifies bearer tokens. Empty means every token
	// fails verification and all connections resolve anonymous.
	JWTSecret string
	// AuthRequired rejects connections presenting an invalid token instead
	// of degrading them to anonymous. Absent tokens always degrade.
	AuthRequired bool

	// SQLitePath locates the profile database. Empty disables the store.
	SQLitePath string
	// RedisAddr enables the cross-instance bridge when non-empty.
	RedisAddr string
	RedisDB   int
}

// DefaultConfig returns a Config populated with default values.
func DefaultConfig() Config {
	return Config{
		Port:           ":8080",
		Env:            "development",
		AllowedOrigins: []string{"http://localhost:8080"},
		MaxMessageSize: 4096,
		SendBuffer:     256,
		WriteTimeout:   10 * time.Second,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		SQLitePath: "chatrelay.db",
	}
}

// Sanitize fills in any zero or invalid fields with defaults.
func (c Config) Sanitize() Config {
	def := DefaultConfig()
	if c.Port == "" {
		c.Port = def.Port
	}
	if c.Env == "" {
		c.Env = def.Env
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	return c
}

// LoadConfig reads configuration from the environment, optionally seeded
// from a .env file. Missing .env is fine; deployment platforms set real
// environment variables instead.
func LoadConfig() Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if buffer := os.Getenv("SEND_BUFFER"); buffer != "" {
		cfg.SendBuffer = parseIntValue(buffer, cfg.SendBuffer)
	}
	if timeout := os.Getenv("WRITE_TIMEOUT_SECONDS"); timeout != "" {
		cfg.WriteTimeout = parseSeconds(timeout, cfg.WriteTimeout)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.AuthRequired = parseBool(os.Getenv("AUTH_REQUIRED"))

	if path := os.Getenv("SQLITE_PATH"); path != "" {
		cfg.SQLitePath = path
	}
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if db := os.Getenv("REDIS_DB"); db != "" {
		cfg.RedisDB = parseIntValue(db, 0)
	}

	return cfg.Sanitize()
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseBool(value string) bool {
	parsed, err := strconv.ParseBool(value)
	return err == nil && parsed
}
