package sso

import "errors"

var (
	// ErrCSRFMismatch is returned when the returned state does not equal the remembered
	// nonce, no nonce was remembered, or the nonce was already used.
	ErrCSRFMismatch = errors.New("csrf state mismatch")

	// ErrMissingArtifact is returned when the callback carried no artifact.
	ErrMissingArtifact = errors.New("missing authorization artifact")

	// ErrProviderRejected is returned when the identity provider refused the artifact.
	ErrProviderRejected = errors.New("identity provider rejected artifact")

	// ErrProviderUnavailable is returned when the provider could not be reached in time.
	ErrProviderUnavailable = errors.New("identity provider unavailable")

	// ErrRedirectNotAllowed is returned when BeginLogin is asked for a callback address
	// outside the allow-list.
	ErrRedirectNotAllowed = errors.New("redirect uri not allowed")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid sso config")
)
