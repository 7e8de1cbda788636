// Package config loads the gateway's environment-driven configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every knob enumerated by the workspace gateway spec.
type Config struct {
	DataDir string

	ProviderAPIKey  string
	ProviderAPIURL  string
	ProviderAppName string

	InactivityTimeout time.Duration
	ReapGrace         time.Duration

	ProxyBodyLimit       int64
	ProxyChunkIdleTimeout time.Duration

	BaseDomain string
	Port       string

	AuthCookieName string
	AuthJWTSecret  []byte

	RedisURL string

	AuditDatabaseURL string
	AuditEnabled     bool

	MetricsEnabled bool
}

// Load builds a Config from the process environment, applying the defaults
// documented in the spec's "Config knobs" section.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:               GetEnv("DATA_DIR", "."),
		ProviderAPIKey:        os.Getenv("PROVIDER_API_KEY"),
		ProviderAPIURL:        os.Getenv("PROVIDER_API_URL"),
		ProviderAppName:       os.Getenv("PROVIDER_APP_NAME"),
		InactivityTimeout:     GetEnvDuration("INACTIVITY_TIMEOUT", 30*time.Minute),
		ReapGrace:             GetEnvDuration("WORKSPACE_REAP_GRACE", 2*time.Hour),
		ProxyBodyLimit:        GetEnvBytes("PROXY_BODY_LIMIT", 10<<20),
		ProxyChunkIdleTimeout: GetEnvDuration("PROXY_CHUNK_IDLE_TIMEOUT", 60*time.Second),
		BaseDomain:            GetEnv("BASE_DOMAIN", "localhost"),
		Port:                  GetEnv("PORT", "4000"),
		AuthCookieName:        GetEnv("AUTH_COOKIE_NAME", "auth_token"),
		RedisURL:              os.Getenv("REDIS_URL"),
		AuditDatabaseURL:      os.Getenv("AUDIT_DATABASE_URL"),
		MetricsEnabled:        GetEnvBool("METRICS_ENABLED", true),
	}

	if GetEnvBool("WORKSPACE_DEV_FAST_SUSPEND", false) {
		cfg.InactivityTimeout = 60 * time.Second
	}

	cfg.AuditEnabled = cfg.AuditDatabaseURL != ""

	if secret := os.Getenv("AUTH_JWT_SECRET"); secret != "" {
		cfg.AuthJWTSecret = []byte(secret)
	}

	if cfg.ProviderAppName == "" {
		return nil, fmt.Errorf("config: PROVIDER_APP_NAME is required")
	}
	if cfg.ProviderAPIURL == "" {
		return nil, fmt.Errorf("config: PROVIDER_API_URL is required")
	}
	if cfg.ProviderAPIKey == "" {
		return nil, fmt.Errorf("config: PROVIDER_API_KEY is required")
	}

	return cfg, nil
}

// GetEnv retrieves an environment variable with a fallback default.
func GetEnv(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool parses a boolean environment variable, accepting the usual
// truthy spellings.
func GetEnvBool(key string, defaultValue bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return defaultValue
	}
}

// GetEnvDuration parses a duration environment variable (e.g. "30m", "60s").
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

// GetEnvBytes parses a byte-size environment variable (plain integer bytes).
func GetEnvBytes(key string, defaultValue int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}
