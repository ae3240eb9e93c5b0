package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls HTTP API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Nonce cookie used by the server-side callback shape.
	NonceCookieName string
	CookiePath      string
	CookieDomain    string
	CookieSecure    bool
	CookieSameSite  http.SameSite

	// Failed handshake completions per client IP before 429.
	FailIPMax    int
	FailIPWindow time.Duration

	// AdminSubjects may call the admin routes.
	AdminSubjects []string

	// EventsKey authenticates event producers on /internal/events. Empty disables the route.
	EventsKey          string
	EventsMaxBodyBytes int64
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:         envBool("LOCALCHAT_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:       envInt64("LOCALCHAT_AUTH_MAX_BODY_BYTES", 16<<10),
		NonceCookieName:    envString("LOCALCHAT_AUTH_NONCE_COOKIE_NAME", "localchat_sso_nonce"),
		CookiePath:         envString("LOCALCHAT_AUTH_COOKIE_PATH", "/auth/sso"),
		CookieDomain:       envString("LOCALCHAT_AUTH_COOKIE_DOMAIN", ""),
		CookieSecure:       envBool("LOCALCHAT_AUTH_COOKIE_SECURE", true),
		CookieSameSite:     parseSameSite(envString("LOCALCHAT_AUTH_COOKIE_SAMESITE", "lax")),
		FailIPMax:          envInt("LOCALCHAT_AUTH_FAIL_IP_MAX", 20),
		FailIPWindow:       envDuration("LOCALCHAT_AUTH_FAIL_IP_WINDOW", 5*time.Minute),
		AdminSubjects:      splitCSV(os.Getenv("LOCALCHAT_ADMIN_SUBJECTS")),
		EventsKey:          strings.TrimSpace(os.Getenv("LOCALCHAT_EVENTS_KEY")),
		EventsMaxBodyBytes: envInt64("LOCALCHAT_EVENTS_MAX_BODY_BYTES", 64<<10),
	}

	// Browsers drop SameSite=None cookies without Secure.
	if cfg.CookieSameSite == http.SameSiteNoneMode {
		cfg.CookieSecure = true
	}
	// Strict would withhold the cookie on the provider's redirect back.
	if cfg.CookieSameSite == http.SameSiteStrictMode {
		cfg.CookieSameSite = http.SameSiteLaxMode
	}

	return cfg
}

// IsAdmin reports whether subject is listed in AdminSubjects.
func (c Config) IsAdmin(subject string) bool {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return false
	}
	for _, s := range c.AdminSubjects {
		if s == subject {
			return true
		}
	}
	return false
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
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

func envInt(key string, def int) int {
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

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
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

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
