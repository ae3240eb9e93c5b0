package sso

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Identity is what the provider vouches for.
type Identity struct {
	SubjectID   string
	DisplayName string
}

// Provider turns a callback artifact into an Identity.
//
// Implementations return ErrProviderRejected when the artifact is invalid and
// ErrProviderUnavailable when the provider could not answer.
type Provider interface {
	Exchange(ctx context.Context, artifact string) (Identity, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, artifact string) (Identity, error)

func (f ProviderFunc) Exchange(ctx context.Context, artifact string) (Identity, error) {
	return f(ctx, artifact)
}

// NewProvider builds the Provider selected by cfg.ProviderMode.
func NewProvider(cfg Config, client *http.Client) (Provider, error) {
	switch cfg.ProviderMode {
	case ProviderHTTP:
		return NewHTTPProvider(cfg, client), nil
	case ProviderPaseto:
		return NewPasetoProvider(cfg)
	case ProviderJWT:
		return NewJWTProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider mode %q", ErrConfig, cfg.ProviderMode)
	}
}

func rejected(reason string) error {
	return fmt.Errorf("%w: %s", ErrProviderRejected, reason)
}

func normalizeIdentity(id Identity) (Identity, error) {
	id.SubjectID = strings.TrimSpace(id.SubjectID)
	id.DisplayName = strings.TrimSpace(id.DisplayName)
	if id.SubjectID == "" {
		return Identity{}, rejected("missing subject")
	}
	return id, nil
}
