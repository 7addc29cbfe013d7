// Package config loads agent configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all offline agent configuration.
type Config struct {
	// Backend
	APIURL      string
	APIKey      string
	DatabaseURL string // optional direct Postgres access (supervisor workstations)

	// Connectivity
	HealthURL      string
	HealthInterval time.Duration
	RequestTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Local storage ("memory", "file" or "sqlite")
	StoreBackend string
	StorePath    string
	StoreKey     []byte // optional 32-byte sealing key (hex in STORE_KEY)

	// Runtime response cache
	ResponseCacheDir string
	ResponseCacheMax int64

	// Data hook TTLs
	ShiftsTTL time.Duration
	TeamTTL   time.Duration
	EventsTTL time.Duration

	// Session-loss guard
	GracePeriod  time.Duration
	MaxWait      time.Duration
	PollInterval time.Duration
	HomeRoute    string

	// Safe mode
	SafeModeDuration time.Duration

	// License snapshot in S3-compatible storage (optional)
	S3Endpoint    string
	S3Bucket      string
	S3AccessKey   string
	S3SecretKey   string
	S3Region      string
	S3SnapshotKey string

	// Auth
	JWTSecret    string
	OIDCIssuer   string
	OIDCClientID string

	// Status endpoint (health, metrics, status JSON); empty disables it
	StatusAddr string
}

// Load reads configuration from environment variables with defaults.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		APIURL:           envOr("PLANTAO_API_URL", ""),
		APIKey:           envOr("PLANTAO_API_KEY", ""),
		DatabaseURL:      envOr("DATABASE_URL", ""),
		HealthURL:        envOr("HEALTH_URL", ""),
		HealthInterval:   envDuration("HEALTH_INTERVAL", 15*time.Second),
		RequestTimeout:   envDuration("REQUEST_TIMEOUT", 20*time.Second),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "json"),
		StoreBackend:     envOr("STORE_BACKEND", "file"),
		StorePath:        envOr("STORE_PATH", defaultStorePath()),
		ResponseCacheDir: envOr("RESPONSE_CACHE_DIR", ""),
		ResponseCacheMax: envInt64("RESPONSE_CACHE_MAX", 64<<20), // 64MB
		ShiftsTTL:        envDuration("SHIFTS_TTL", 24*time.Hour),
		TeamTTL:          envDuration("TEAM_TTL", 24*time.Hour),
		EventsTTL:        envDuration("EVENTS_TTL", 24*time.Hour),
		GracePeriod:      envDuration("SESSION_GRACE_PERIOD", 3*time.Second),
		MaxWait:          envDuration("SESSION_MAX_WAIT", 15*time.Second),
		PollInterval:     envDuration("SESSION_POLL_INTERVAL", 500*time.Millisecond),
		HomeRoute:        envOr("HOME_ROUTE", "/"),
		SafeModeDuration: envDuration("SAFE_MODE_DURATION", 30*time.Minute),
		S3Endpoint:       envOr("S3_ENDPOINT", ""),
		S3Bucket:         envOr("S3_BUCKET", ""),
		S3AccessKey:      envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:      envOr("S3_SECRET_KEY", ""),
		S3Region:         envOr("S3_REGION", "us-east-1"),
		S3SnapshotKey:    envOr("S3_SNAPSHOT_KEY", "licenses/latest.json"),
		JWTSecret:        envOr("AUTH_JWT_SECRET", ""),
		OIDCIssuer:       envOr("OIDC_ISSUER_URL", ""),
		OIDCClientID:     envOr("OIDC_CLIENT_ID", ""),
		StatusAddr:       envOr("STATUS_ADDR", ""),
	}

	if cfg.ResponseCacheDir == "" && cfg.StoreBackend != "memory" {
		cfg.ResponseCacheDir = cfg.StorePath + ".responses"
	}
	if cfg.HealthURL == "" && cfg.APIURL != "" {
		cfg.HealthURL = cfg.APIURL + "/rest/v1/"
	}

	if key := os.Getenv("STORE_KEY"); key != "" {
		raw, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("STORE_KEY must be hex: %w", err)
		}
		if len(raw) != 32 {
			return nil, fmt.Errorf("STORE_KEY must decode to 32 bytes, got %d", len(raw))
		}
		cfg.StoreKey = raw
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field constraints.
func (c *Config) Validate() error {
	if c.APIURL == "" && c.DatabaseURL == "" {
		return fmt.Errorf("PLANTAO_API_URL or DATABASE_URL is required")
	}
	switch c.StoreBackend {
	case "memory", "file", "sqlite":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.GracePeriod <= 0 || c.MaxWait <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("session guard durations must be positive")
	}
	if c.S3Bucket != "" && c.S3Endpoint == "" {
		return fmt.Errorf("S3_ENDPOINT is required when S3_BUCKET is set")
	}
	return nil
}

func defaultStorePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "/tmp/plantao-offline"
	}
	return dir + "/plantao/offline"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
