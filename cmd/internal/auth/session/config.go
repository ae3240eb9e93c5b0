package session

import (
	"os"
	"strings"
	"time"
)

// Backend names a Store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// Backend selects the Store implementation.
	Backend Backend

	// TTL is the lifetime of a session record and of the token minted for it.
	TTL time.Duration

	// Retention is how long expired or revoked records are kept before the sweep deletes them.
	Retention time.Duration

	// CleanupInterval is the retention sweep period. Zero disables the sweeper.
	CleanupInterval time.Duration

	// RedisKeyPrefix namespaces RedisStore keys.
	RedisKeyPrefix string
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		Backend:         BackendMemory,
		TTL:             12 * time.Hour,
		Retention:       30 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		RedisKeyPrefix:  "localchat:session:",
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional:
//   - LOCALCHAT_SESSION_BACKEND (memory|postgres|redis)
//   - LOCALCHAT_SESSION_TTL
//   - LOCALCHAT_SESSION_RETENTION
//   - LOCALCHAT_SESSION_CLEANUP_INTERVAL ("0" disables the sweeper)
//   - LOCALCHAT_SESSION_REDIS_PREFIX
//
// Returns ErrConfig if a value is present but invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("LOCALCHAT_SESSION_BACKEND")); v != "" {
		switch b := Backend(strings.ToLower(v)); b {
		case BackendMemory, BackendPostgres, BackendRedis:
			cfg.Backend = b
		default:
			return Config{}, ErrConfig
		}
	}

	if v := strings.TrimSpace(os.Getenv("LOCALCHAT_SESSION_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}

	if v := strings.TrimSpace(os.Getenv("LOCALCHAT_SESSION_RETENTION")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.Retention = d
	}

	if v := strings.TrimSpace(os.Getenv("LOCALCHAT_SESSION_CLEANUP_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.CleanupInterval = d
	}

	if v := strings.TrimSpace(os.Getenv("LOCALCHAT_SESSION_REDIS_PREFIX")); v != "" {
		cfg.RedisKeyPrefix = v
	}

	return cfg, nil
}
