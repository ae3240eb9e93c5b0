package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute

	// Origin is required by default and only localhost is allowed (dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// GatewayConfig holds websocket transport limits and policy.
type GatewayConfig struct {
	// DevInsecure disables coder/websocket's own origin verification. Dev only.
	DevInsecure bool

	OriginRequired bool
	AllowedOrigins []string

	AuthTimeout     time.Duration
	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig returns secure defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:   wsDefaultOriginRequired,
		AllowedOrigins:   splitCSVWS(wsDefaultAllowedOrigins),
		AuthTimeout:      authTimeout,
		WriteTimeout:     wsDefaultWriteTimeout,
		ReadIdleTimeout:  wsDefaultReadIdle,
		SendQueueSize:    wsDefaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// LoadGatewayConfigFromEnv reads LOCALCHAT_WS_* variables. Invalid values fall back
// to defaults.
//
//   - LOCALCHAT_WS_DEV_INSECURE, LOCALCHAT_WS_ORIGIN_REQUIRED, LOCALCHAT_WS_ALLOWED_ORIGINS
//   - LOCALCHAT_WS_AUTH_TIMEOUT, LOCALCHAT_WS_WRITE_TIMEOUT, LOCALCHAT_WS_READ_IDLE_TIMEOUT
//   - LOCALCHAT_WS_SEND_QUEUE, LOCALCHAT_WS_HEARTBEAT_INTERVAL, LOCALCHAT_WS_HEARTBEAT_TIMEOUT
//   - LOCALCHAT_WS_RATE_EVENTS, LOCALCHAT_WS_RATE_WINDOW
func LoadGatewayConfigFromEnv() GatewayConfig {
	cfg := DefaultGatewayConfig()

	cfg.DevInsecure = envBoolWS("LOCALCHAT_WS_DEV_INSECURE", false)
	cfg.OriginRequired = envBoolWS("LOCALCHAT_WS_ORIGIN_REQUIRED", cfg.OriginRequired)
	cfg.AllowedOrigins = envCSVWS("LOCALCHAT_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	cfg.AuthTimeout = envDurationWS("LOCALCHAT_WS_AUTH_TIMEOUT", cfg.AuthTimeout)
	cfg.WriteTimeout = envDurationWS("LOCALCHAT_WS_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ReadIdleTimeout = envDurationWS("LOCALCHAT_WS_READ_IDLE_TIMEOUT", cfg.ReadIdleTimeout)

	cfg.SendQueueSize = envIntWS("LOCALCHAT_WS_SEND_QUEUE", cfg.SendQueueSize)

	cfg.HeartbeatEvery = envDurationWS("LOCALCHAT_WS_HEARTBEAT_INTERVAL", cfg.HeartbeatEvery)
	cfg.HeartbeatTimeout = envDurationWS("LOCALCHAT_WS_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)

	cfg.RateEvents = envIntWS("LOCALCHAT_WS_RATE_EVENTS", cfg.RateEvents)
	cfg.RateWindow = envDurationWS("LOCALCHAT_WS_RATE_WINDOW", cfg.RateWindow)

	return cfg.normalized()
}

func (c GatewayConfig) normalized() GatewayConfig {
	d := DefaultGatewayConfig()
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = d.AuthTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = d.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	return c
}

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	return splitCSVWS(raw)
}

func splitCSVWS(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
