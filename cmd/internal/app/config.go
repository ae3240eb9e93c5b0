package app

import (
	"fmt"
	"time"

	authapi "localchat/cmd/internal/auth/api"
	"localchat/cmd/internal/auth/session"
	"localchat/cmd/internal/auth/sso"
	"localchat/cmd/internal/realtime"
)

// Config contains all runtime configuration loaded from environment variables.
//
// Subsystem settings (sessions, sso, websocket, auth api) are loaded by their own
// packages; this covers the process and its shared infrastructure.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	DBAutoMigrate bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// MetricsEnabled exposes /metrics.
	MetricsEnabled bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("LOCALCHAT_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("LOCALCHAT_LOG_LEVEL", "info"),
		LogFormat: EnvString("LOCALCHAT_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("LOCALCHAT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("LOCALCHAT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("LOCALCHAT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("LOCALCHAT_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("LOCALCHAT_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:   EnvString("LOCALCHAT_DATABASE_URL", ""),
		DBMaxConns:    EnvInt32("LOCALCHAT_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("LOCALCHAT_DB_MIN_CONNS", 0),
		DBAutoMigrate: EnvBool("LOCALCHAT_DB_AUTO_MIGRATE", false),

		RedisAddr:     EnvString("LOCALCHAT_REDIS_ADDR", ""),
		RedisPassword: EnvString("LOCALCHAT_REDIS_PASSWORD", ""),
		RedisDB:       EnvIntAllowZero("LOCALCHAT_REDIS_DB", 0),

		ReadinessRequireDB: EnvBool("LOCALCHAT_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvCSV("LOCALCHAT_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("LOCALCHAT_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("LOCALCHAT_CORS_MAX_AGE_SECONDS", 600),

		MetricsEnabled: EnvBool("LOCALCHAT_METRICS_ENABLED", true),
	}
}

// Settings bundles the configuration of every subsystem the server wires.
type Settings struct {
	App     Config
	Session session.Config
	SSO     sso.Config
	Gateway realtime.GatewayConfig
	API     authapi.Config
}

// LoadSettings reads every subsystem's configuration from the environment.
func LoadSettings() (Settings, error) {
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return Settings{}, fmt.Errorf("session config: %w", err)
	}
	ssoCfg, err := sso.LoadConfigFromEnv()
	if err != nil {
		return Settings{}, fmt.Errorf("sso config: %w", err)
	}

	return Settings{
		App:     LoadConfig(),
		Session: sessCfg,
		SSO:     ssoCfg,
		Gateway: realtime.LoadGatewayConfigFromEnv(),
		API:     authapi.LoadConfigFromEnv(),
	}, nil
}
