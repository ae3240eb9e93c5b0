package token

import "errors"

// Verification failures. Callers must treat every one of them as "no identity".
var (
	ErrMalformed        = errors.New("token malformed")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
)

// Configuration and issuing failures.
var (
	ErrSecretMissing  = errors.New("token secret missing")
	ErrSecretTooShort = errors.New("token secret too short")
	ErrInvalidClaims  = errors.New("token claims invalid")
)
