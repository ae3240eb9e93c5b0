package session

import (
	"context"
	"strings"
	"time"
)

// ClientMeta describes the client that completed the handshake.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// Record mirrors one session row.
type Record struct {
	ID               string
	OwnerID          string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	RevocationReason *string
	ClientIP         string
	ClientAgent      string
	LastActivityAt   *time.Time
}

// Revoked reports whether the record was revoked.
func (r Record) Revoked() bool { return r.RevokedAt != nil }

// Check returns nil when r is usable at now. Revocation wins over expiry.
func (r Record) Check(now time.Time) error {
	if r.RevokedAt != nil {
		return ErrSessionRevoked
	}
	if !r.ExpiresAt.After(now) {
		return ErrSessionExpired
	}
	return nil
}

// CreateInput is the input for Store.Create.
type CreateInput struct {
	OwnerID   string
	Client    ClientMeta
	Now       time.Time
	ExpiresAt time.Time
}

func (in CreateInput) validate(op string) error {
	if strings.TrimSpace(in.OwnerID) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "owner id is required"}
	}
	if in.Now.IsZero() || !in.ExpiresAt.After(in.Now) {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "expires_at must be after now"}
	}
	return nil
}

// Store abstracts persistence for session records.
//
// All methods are safe for concurrent use. Revoke and RevokeAllForOwner are idempotent
// and take effect for every GetActive that starts after they return.
type Store interface {
	// Create inserts a new active record.
	Create(ctx context.Context, in CreateInput) (Record, error)

	// GetActive returns the record only if it exists, is not revoked and is not expired.
	// Failures are ErrSessionNotFound, ErrSessionRevoked or ErrSessionExpired.
	GetActive(ctx context.Context, sessionID string, now time.Time) (Record, error)

	// Touch updates last_activity_at.
	Touch(ctx context.Context, sessionID string, now time.Time) error

	// Revoke revokes a single session. Unknown ids return ErrSessionNotFound.
	Revoke(ctx context.Context, sessionID string, now time.Time, reason string) error

	// RevokeAllForOwner revokes every active session of owner and returns how many changed.
	RevokeAllForOwner(ctx context.Context, ownerID string, now time.Time, reason string) (int64, error)

	// CleanupExpired deletes records that expired or were revoked before olderThan.
	CleanupExpired(ctx context.Context, olderThan time.Time) (int64, error)

	// ListByOwner returns all retained records of owner, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]Record, error)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
