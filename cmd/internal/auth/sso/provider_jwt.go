package sso

import (
	"context"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTProvider accepts artifacts that are JWTs issued by the provider, signed either
// with a shared HS256 secret or an RS256 key pair.
type JWTProvider struct {
	hmacSecret []byte
	rsaPublic  *rsa.PublicKey
	issuer     string
	audience   string
	now        func() time.Time
}

type artifactClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTProvider builds a provider from cfg; exactly one key source must be set.
func NewJWTProvider(cfg Config) (*JWTProvider, error) {
	p := &JWTProvider{issuer: cfg.Issuer, audience: cfg.Audience, now: time.Now}

	switch {
	case cfg.JWTHMACSecret != "" && cfg.JWTPublicKeyPEM == "":
		if len(cfg.JWTHMACSecret) < 32 {
			return nil, fmt.Errorf("%w: jwt hmac secret too short", ErrConfig)
		}
		p.hmacSecret = []byte(cfg.JWTHMACSecret)
	case cfg.JWTPublicKeyPEM != "" && cfg.JWTHMACSecret == "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.JWTPublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("%w: jwt public key: %v", ErrConfig, err)
		}
		p.rsaPublic = key
	default:
		return nil, fmt.Errorf("%w: jwt mode needs exactly one key", ErrConfig)
	}
	return p, nil
}

func (p *JWTProvider) Exchange(_ context.Context, artifact string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
		jwt.WithLeeway(30 * time.Second),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}

	if p.rsaPublic != nil {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	}

	claims := &artifactClaims{}
	_, err := jwt.ParseWithClaims(artifact, claims, func(t *jwt.Token) (any, error) {
		if p.rsaPublic != nil {
			return p.rsaPublic, nil
		}
		return p.hmacSecret, nil
	}, opts...)
	if err != nil {
		return Identity{}, rejected("jwt verification failed")
	}

	return normalizeIdentity(Identity{SubjectID: claims.Subject, DisplayName: claims.Name})
}
