package sso

import (
	"context"
	"fmt"

	paseto "aidanwoods.dev/go-paseto"
)

// PasetoProvider accepts artifacts that are PASETO v4.public tokens signed by the
// provider. Claims: sub (required), name, exp (required), iss/aud when configured.
type PasetoProvider struct {
	public   paseto.V4AsymmetricPublicKey
	issuer   string
	audience string
}

// NewPasetoProvider parses the provider's public key.
func NewPasetoProvider(cfg Config) (*PasetoProvider, error) {
	pub, err := paseto.NewV4AsymmetricPublicKeyFromHex(cfg.PasetoPublicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: paseto public key: %v", ErrConfig, err)
	}
	return &PasetoProvider{
		public:   pub,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

func (p *PasetoProvider) Exchange(_ context.Context, artifact string) (Identity, error) {
	// Build a fresh parser per call to avoid accumulating rules across verifies.
	parser := paseto.NewParser()
	parser.AddRule(paseto.NotExpired())
	if p.issuer != "" {
		parser.AddRule(paseto.IssuedBy(p.issuer))
	}
	if p.audience != "" {
		parser.AddRule(paseto.ForAudience(p.audience))
	}

	tok, err := parser.ParseV4Public(p.public, artifact, nil)
	if err != nil {
		return Identity{}, rejected("paseto verification failed")
	}
	if _, err := tok.GetExpiration(); err != nil {
		return Identity{}, rejected("missing exp")
	}

	sub, err := tok.GetSubject()
	if err != nil {
		return Identity{}, rejected("missing subject")
	}
	name, _ := tok.GetString("name")

	return normalizeIdentity(Identity{SubjectID: sub, DisplayName: name})
}
