package session

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"time"

	"localchat/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (localchat.sessions).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const selectSessionColumns = `
	id, owner_id, created_at, expires_at, revoked_at, revocation_reason,
	COALESCE(host(client_ip), ''), COALESCE(client_agent, ''), last_activity_at
`

// Create inserts a new session row and returns it.
func (s *PostgresStore) Create(ctx context.Context, in CreateInput) (Record, error) {
	const op = "session.PostgresStore.Create"
	if s == nil || s.pool == nil {
		return Record{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := in.validate(op); err != nil {
		return Record{}, err
	}

	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Record{}, OpError{Op: op, Kind: err}
	}

	now := in.Now.UTC()
	rec := Record{
		ID:             id,
		OwnerID:        in.OwnerID,
		CreatedAt:      now,
		ExpiresAt:      in.ExpiresAt.UTC(),
		ClientIP:       in.Client.IP,
		ClientAgent:    in.Client.UserAgent,
		LastActivityAt: &now,
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO localchat.sessions (
			id, owner_id, created_at, expires_at, revoked_at, revocation_reason,
			client_ip, client_agent, last_activity_at
		) VALUES (
			$1, $2, $3, $4, NULL, NULL,
			$5, $6, $3
		)
	`, id, in.OwnerID, now, rec.ExpiresAt, parseIP(in.Client.IP), nullIfEmpty(in.Client.UserAgent))
	if err != nil {
		return Record{}, err
	}

	return rec, nil
}

// GetActive loads a session row and applies the revoked/expired checks.
func (s *PostgresStore) GetActive(ctx context.Context, sessionID string, now time.Time) (Record, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Record{}, ErrSessionNotFound
	}

	rec, err := scanRecord(s.pool.QueryRow(ctx, `
		SELECT `+selectSessionColumns+`
		FROM localchat.sessions
		WHERE id = $1
	`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, err
	}

	if err := rec.Check(now); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Touch updates last_activity_at. It never moves the timestamp backwards.
func (s *PostgresStore) Touch(ctx context.Context, sessionID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE localchat.sessions
		SET last_activity_at = GREATEST(COALESCE(last_activity_at, $2), $2)
		WHERE id = $1
	`, sessionID, now.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Revoke revokes a single session (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, sessionID string, now time.Time, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE localchat.sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE id = $1
	`, sessionID, now.UTC(), nullIfEmpty(reason))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeAllForOwner revokes all active sessions for an owner (idempotent).
func (s *PostgresStore) RevokeAllForOwner(ctx context.Context, ownerID string, now time.Time, reason string) (int64, error) {
	if strings.TrimSpace(ownerID) == "" {
		return 0, OpError{Op: "session.PostgresStore.RevokeAllForOwner", Kind: ErrInvalidInput}
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE localchat.sessions
		SET revoked_at = $2,
		    revocation_reason = $3
		WHERE owner_id = $1 AND revoked_at IS NULL
	`, ownerID, now.UTC(), nullIfEmpty(reason))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CleanupExpired deletes rows that ended before olderThan.
func (s *PostgresStore) CleanupExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM localchat.sessions
		WHERE expires_at < $1
		   OR (revoked_at IS NOT NULL AND revoked_at < $1)
	`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListByOwner returns all retained rows of owner, newest first.
func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+selectSessionColumns+`
		FROM localchat.sessions
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0, 4)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.RevokedAt,
		&rec.RevocationReason,
		&rec.ClientIP,
		&rec.ClientAgent,
		&rec.LastActivityAt,
	)
	return rec, err
}

// parseIP returns a value suitable for an inet column, or nil.
func parseIP(s string) any {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return addr
}
