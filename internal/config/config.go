// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "CARBONTRACE_"

// Config is the full runtime configuration, resolved once at startup and
// passed explicitly into each component.
type Config struct {
	Addr        string
	Environment string

	PostgresDSN string

	JWTSecret  string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	BcryptCost int

	LockoutThreshold int
	LockoutWindow    time.Duration

	RequestTimeout time.Duration
	MaxBodyBytes   int64

	// Transport-level throttle, distinct from the durable lockout limiter.
	RateLimitPerSecond int
	RateLimitBurst     int
}

// Load reads configuration from CARBONTRACE_* environment variables,
// applying defaults for everything except the signing secret.
func Load() (Config, error) {
	cfg := Config{
		Addr:               getString("ADDR", ":8080"),
		Environment:        getString("ENV", "production"),
		PostgresDSN:        getString("PG_DSN", ""),
		JWTSecret:          strings.TrimSpace(os.Getenv(envPrefix + "AUTH_SECRET")),
		Issuer:             getString("ISSUER", "carbontrace"),
		Audience:           getString("AUDIENCE", "carbontrace-api"),
		AccessTTL:          getDuration("ACCESS_TTL", 15*time.Minute),
		RefreshTTL:         getDuration("REFRESH_TTL", 7*24*time.Hour),
		BcryptCost:         getInt("BCRYPT_COST", 12),
		LockoutThreshold:   getInt("LOCKOUT_THRESHOLD", 5),
		LockoutWindow:      getDuration("LOCKOUT_WINDOW", 15*time.Minute),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 10*time.Second),
		MaxBodyBytes:       int64(getInt("MAX_BODY_BYTES", 1<<20)),
		RateLimitPerSecond: getInt("RATE_LIMIT_PER_SECOND", 20),
		RateLimitBurst:     getInt("RATE_LIMIT_BURST", 40),
	}
	return cfg, cfg.validate()
}

// Production reports whether the service runs with production hardening.
// Non-production responses may echo required permissions in denial bodies.
func (c Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("config: " + envPrefix + "AUTH_SECRET is required")
	}
	if c.BcryptCost < 10 {
		return fmt.Errorf("config: bcrypt cost %d below minimum 10", c.BcryptCost)
	}
	if c.LockoutThreshold < 1 {
		return fmt.Errorf("config: lockout threshold must be positive, got %d", c.LockoutThreshold)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return errors.New("config: refresh TTL must exceed access TTL")
	}
	return nil
}

func getString(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
