package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

const (
	codecVersion = "v1"

	// hkdfInfo binds derived keys to this token format.
	hkdfInfo = "localchat/session-token/v1"

	derivedKeyBytes = 32

	// Upper bound on accepted token size; anything larger is rejected before hashing.
	maxTokenBytes = 4096
)

var b64 = base64.RawURLEncoding.Strict()

// Claims is the identity carried inside a session token.
type Claims struct {
	SubjectID   string
	DisplayName string
	SessionID   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// wireClaims fixes the JSON field order so the encoding is deterministic.
type wireClaims struct {
	Sub  string `json:"sub"`
	Name string `json:"name,omitempty"`
	Sid  string `json:"sid"`
	Iat  string `json:"iat"`
	Exp  string `json:"exp"`
}

// Codec signs and verifies session tokens. It is stateless and safe for concurrent use.
type Codec struct {
	key []byte
}

// NewCodec derives the signing key from secret.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrSecretMissing
	}
	if len(secret) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}

	key, err := DeriveKey(secret, hkdfInfo)
	if err != nil {
		return nil, err
	}
	return &Codec{key: key}, nil
}

// Issue encodes and signs c.
func (c *Codec) Issue(cl Claims) (string, error) {
	if strings.TrimSpace(cl.SubjectID) == "" || strings.TrimSpace(cl.SessionID) == "" {
		return "", ErrInvalidClaims
	}
	if cl.IssuedAt.IsZero() || !cl.ExpiresAt.After(cl.IssuedAt) {
		return "", ErrInvalidClaims
	}

	payload, err := json.Marshal(wireClaims{
		Sub:  cl.SubjectID,
		Name: cl.DisplayName,
		Sid:  cl.SessionID,
		Iat:  cl.IssuedAt.UTC().Format(time.RFC3339Nano),
		Exp:  cl.ExpiresAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}

	signed := codecVersion + "." + b64.EncodeToString(payload)
	return signed + "." + b64.EncodeToString(c.sign(signed)), nil
}

// Verify checks the signature, then the structure, then expiry.
// Any byte change to an issued token yields ErrInvalidSignature, including one that
// adds or removes a '.'; ErrMalformed is kept for empty or oversized input and for
// correctly signed content that does not parse.
// A token is accepted only when now is strictly before its expiry.
func (c *Codec) Verify(tok string, now time.Time) (Claims, error) {
	if tok == "" || len(tok) > maxTokenBytes {
		return Claims{}, ErrMalformed
	}

	last := strings.LastIndexByte(tok, '.')
	if last < 0 {
		return Claims{}, ErrInvalidSignature
	}
	signed, sigPart := tok[:last], tok[last+1:]

	sig, err := b64.DecodeString(sigPart)
	if err != nil {
		return Claims{}, ErrInvalidSignature
	}
	if !hmac.Equal(sig, c.sign(signed)) {
		return Claims{}, ErrInvalidSignature
	}

	version, payloadPart, ok := strings.Cut(signed, ".")
	if !ok || version != codecVersion || strings.Contains(payloadPart, ".") {
		return Claims{}, ErrMalformed
	}
	raw, err := b64.DecodeString(payloadPart)
	if err != nil {
		return Claims{}, ErrMalformed
	}

	var w wireClaims
	if err := json.Unmarshal(raw, &w); err != nil {
		return Claims{}, ErrMalformed
	}
	iat, err := time.Parse(time.RFC3339Nano, w.Iat)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	exp, err := time.Parse(time.RFC3339Nano, w.Exp)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	if w.Sub == "" || w.Sid == "" {
		return Claims{}, ErrMalformed
	}

	if !now.Before(exp) {
		return Claims{}, ErrExpired
	}

	return Claims{
		SubjectID:   w.Sub,
		DisplayName: w.Name,
		SessionID:   w.Sid,
		IssuedAt:    iat,
		ExpiresAt:   exp,
	}, nil
}

func (c *Codec) sign(s string) []byte {
	m := hmac.New(sha256.New, c.key)
	_, _ = m.Write([]byte(s))
	return m.Sum(nil)
}
