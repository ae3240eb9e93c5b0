package sso

import (
	"net/url"
	"os"
	"strings"
	"time"
)

// ProviderMode selects how the callback artifact is turned into an identity.
// Exactly one mode is active per process.
type ProviderMode string

const (
	// ProviderHTTP exchanges the artifact at the provider's exchange endpoint.
	ProviderHTTP ProviderMode = "http"
	// ProviderPaseto verifies the artifact as a PASETO v4.public token signed by the provider.
	ProviderPaseto ProviderMode = "paseto"
	// ProviderJWT verifies the artifact as a JWT (HS256 or RS256) issued by the provider.
	ProviderJWT ProviderMode = "jwt"
)

// Config defines runtime configuration for the SSO handshake.
type Config struct {
	// ClientID identifies localchat to the provider (client_id query parameter).
	ClientID string

	// AuthorizeURL is the provider's login page.
	AuthorizeURL string

	// RedirectURIs is the callback allow-list. The first entry is the default.
	RedirectURIs []string

	// PostLoginURL is where the server-side callback sends the browser afterwards.
	PostLoginURL string

	ProviderMode    ProviderMode
	ProviderTimeout time.Duration

	// HTTP mode.
	ExchangeURL  string
	ClientSecret string

	// PASETO mode.
	PasetoPublicKeyHex string

	// JWT mode: one of the two keys.
	JWTHMACSecret   string
	JWTPublicKeyPEM string

	// Expected iss/aud of provider-signed artifacts. Empty disables the check.
	Issuer   string
	Audience string

	// NonceTTL bounds how long a login attempt may take and how long burned nonces are remembered.
	NonceTTL time.Duration

	// ReplayBackend is "memory" or "redis".
	ReplayBackend string
}

// DefaultConfig returns defaults; provider coordinates have no sensible default.
func DefaultConfig() Config {
	return Config{
		PostLoginURL:    "/",
		ProviderMode:    ProviderHTTP,
		ProviderTimeout: 15 * time.Second,
		NonceTTL:        10 * time.Minute,
		ReplayBackend:   "memory",
	}
}

// LoadConfigFromEnv loads SSO configuration from environment variables.
//
// Required:
//   - LOCALCHAT_SSO_CLIENT_ID
//   - LOCALCHAT_SSO_AUTHORIZE_URL
//   - LOCALCHAT_SSO_REDIRECT_URIS (comma-separated, absolute)
//
// Mode specific (LOCALCHAT_SSO_PROVIDER_MODE = http|paseto|jwt):
//   - http:   LOCALCHAT_SSO_EXCHANGE_URL, optional LOCALCHAT_SSO_CLIENT_SECRET
//   - paseto: LOCALCHAT_SSO_PASETO_PUBLIC_KEY_HEX
//   - jwt:    LOCALCHAT_SSO_JWT_HMAC_SECRET or LOCALCHAT_SSO_JWT_PUBLIC_KEY_PEM
//
// Optional:
//   - LOCALCHAT_SSO_PROVIDER_TIMEOUT, LOCALCHAT_SSO_NONCE_TTL
//   - LOCALCHAT_SSO_ISSUER, LOCALCHAT_SSO_AUDIENCE
//   - LOCALCHAT_SSO_POST_LOGIN_URL, LOCALCHAT_SSO_REPLAY_BACKEND (memory|redis)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.ClientID = env("LOCALCHAT_SSO_CLIENT_ID")
	cfg.AuthorizeURL = env("LOCALCHAT_SSO_AUTHORIZE_URL")
	cfg.RedirectURIs = splitCSV(env("LOCALCHAT_SSO_REDIRECT_URIS"))

	if v := env("LOCALCHAT_SSO_POST_LOGIN_URL"); v != "" {
		cfg.PostLoginURL = v
	}
	if v := env("LOCALCHAT_SSO_PROVIDER_MODE"); v != "" {
		cfg.ProviderMode = ProviderMode(strings.ToLower(v))
	}
	if v := env("LOCALCHAT_SSO_PROVIDER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.ProviderTimeout = d
	}
	if v := env("LOCALCHAT_SSO_NONCE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.NonceTTL = d
	}
	if v := env("LOCALCHAT_SSO_REPLAY_BACKEND"); v != "" {
		cfg.ReplayBackend = strings.ToLower(v)
	}

	cfg.ExchangeURL = env("LOCALCHAT_SSO_EXCHANGE_URL")
	cfg.ClientSecret = env("LOCALCHAT_SSO_CLIENT_SECRET")
	cfg.PasetoPublicKeyHex = env("LOCALCHAT_SSO_PASETO_PUBLIC_KEY_HEX")
	cfg.JWTHMACSecret = env("LOCALCHAT_SSO_JWT_HMAC_SECRET")
	cfg.JWTPublicKeyPEM = env("LOCALCHAT_SSO_JWT_PUBLIC_KEY_PEM")
	cfg.Issuer = env("LOCALCHAT_SSO_ISSUER")
	cfg.Audience = env("LOCALCHAT_SSO_AUDIENCE")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants.
func (c Config) Validate() error {
	if c.ClientID == "" || !isAbsoluteHTTPURL(c.AuthorizeURL) {
		return ErrConfig
	}
	if len(c.RedirectURIs) == 0 {
		return ErrConfig
	}
	for _, u := range c.RedirectURIs {
		if !isAbsoluteHTTPURL(u) {
			return ErrConfig
		}
	}
	if c.ProviderTimeout <= 0 || c.NonceTTL <= 0 {
		return ErrConfig
	}
	if c.ReplayBackend != "memory" && c.ReplayBackend != "redis" {
		return ErrConfig
	}

	switch c.ProviderMode {
	case ProviderHTTP:
		if !isAbsoluteHTTPURL(c.ExchangeURL) {
			return ErrConfig
		}
	case ProviderPaseto:
		if c.PasetoPublicKeyHex == "" {
			return ErrConfig
		}
	case ProviderJWT:
		// Exactly one key source.
		if (c.JWTHMACSecret == "") == (c.JWTPublicKeyPEM == "") {
			return ErrConfig
		}
	default:
		return ErrConfig
	}
	return nil
}

// DefaultRedirectURI returns the first allow-listed callback.
func (c Config) DefaultRedirectURI() string {
	if len(c.RedirectURIs) == 0 {
		return ""
	}
	return c.RedirectURIs[0]
}

// RedirectAllowed reports whether uri is allow-listed (exact match).
func (c Config) RedirectAllowed(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isAbsoluteHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
