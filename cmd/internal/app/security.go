package app

import (
	"errors"
	"fmt"

	"localchat/cmd/internal/auth/session"
	"localchat/cmd/security/token"
)

// minEventsKeyBytes is the shortest accepted shared key for /internal/events.
const minEventsKeyBytes = 16

// ValidateSecurityConfig enforces the startup security policy. It fails fast
// instead of silently running with a weak secret or a backend that is not wired.
func ValidateSecurityConfig(s Settings) error {
	if _, err := token.SecretFromEnv(token.MinSecretBytes); err != nil {
		switch {
		case errors.Is(err, token.ErrSecretMissing):
			return fmt.Errorf("security policy: %s is missing", token.SecretEnvKey)
		case errors.Is(err, token.ErrSecretTooShort):
			return fmt.Errorf("security policy: %s is too short (min %d bytes)", token.SecretEnvKey, token.MinSecretBytes)
		default:
			return err
		}
	}

	switch s.Session.Backend {
	case session.BackendPostgres:
		if s.App.DatabaseURL == "" {
			return errors.New("config: LOCALCHAT_SESSION_BACKEND=postgres requires LOCALCHAT_DATABASE_URL")
		}
	case session.BackendRedis:
		if s.App.RedisAddr == "" {
			return errors.New("config: LOCALCHAT_SESSION_BACKEND=redis requires LOCALCHAT_REDIS_ADDR")
		}
	}

	if s.SSO.ReplayBackend == "redis" && s.App.RedisAddr == "" {
		return errors.New("config: LOCALCHAT_SSO_REPLAY_BACKEND=redis requires LOCALCHAT_REDIS_ADDR")
	}

	if s.API.EventsKey != "" && len(s.API.EventsKey) < minEventsKeyBytes {
		return fmt.Errorf("security policy: LOCALCHAT_EVENTS_KEY is too short (min %d bytes)", minEventsKeyBytes)
	}

	if s.App.DBAutoMigrate && s.App.DatabaseURL == "" {
		return errors.New("config: LOCALCHAT_DB_AUTO_MIGRATE requires LOCALCHAT_DATABASE_URL")
	}

	return nil
}
