package realtime

import "errors"

var (
	// ErrInvalidToken is returned when the presented session token is unusable
	// (bad signature, malformed, unknown session, owner mismatch).
	ErrInvalidToken = errors.New("realtime: invalid token")

	// ErrSessionRevoked is returned when the token's session has been revoked.
	ErrSessionRevoked = errors.New("realtime: session revoked")

	// ErrSessionExpired is returned when the token or its session has expired.
	ErrSessionExpired = errors.New("realtime: session expired")

	// ErrNotAuthenticated is returned for operations on a connection with no entry.
	ErrNotAuthenticated = errors.New("realtime: connection not authenticated")

	// ErrNotAMember is returned when subscribing to a group the owner does not belong to.
	ErrNotAMember = errors.New("realtime: not a member of group")

	// ErrDuplicateConnection is returned when a connection id is already registered.
	ErrDuplicateConnection = errors.New("realtime: duplicate connection id")

	// ErrInvalidInput is returned for empty ids or a nil sink.
	ErrInvalidInput = errors.New("realtime: invalid input")
)
