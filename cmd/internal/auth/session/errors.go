package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned when a session token fails verification or does not
	// match its backing record.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionNotFound is returned when no record exists for a session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the record is past its expiry.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionRevoked is returned when the record has been revoked.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrInvalidInput is returned for empty ids or inconsistent create inputs.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// OpError is a typed store error with a stable Op + Kind contract for callers/tests.
// Kind is one of the sentinels above when applicable; Msg never carries secrets.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// IsInactive reports whether err means "the credential is no longer usable":
// not found, revoked, expired or an invalid token.
func IsInactive(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionRevoked) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrInvalidToken)
}
