package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"localchat/cmd/security/token"
)

// Service implements the high-level session operations.
//
// It creates session records, mints the matching session token and validates
// presented tokens against the server-authoritative record.
type Service struct {
	cfg    Config
	store  Store
	tokens *token.Codec
	log    *slog.Logger
}

// Issued is the result of issuing a session.
type Issued struct {
	SessionID   string
	OwnerID     string
	DisplayName string
	Token       string
	ExpiresAt   time.Time
}

// NewService constructs a Service.
func NewService(cfg Config, store Store, tokens *token.Codec, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, store: store, tokens: tokens, log: log}
}

// Config returns the service configuration.
func (s *Service) Config() Config { return s.cfg }

// Store returns the backing store.
func (s *Service) Store() Store { return s.store }

// IssueSession creates a session record and returns a token bound to it.
func (s *Service) IssueSession(ctx context.Context, now time.Time, ownerID, displayName string, client ClientMeta) (Issued, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Issued{}, OpError{Op: "session.IssueSession", Kind: ErrInvalidInput, Msg: "owner id is required"}
	}

	now = now.UTC()
	rec, err := s.store.Create(ctx, CreateInput{
		OwnerID:   ownerID,
		Client:    client,
		Now:       now,
		ExpiresAt: now.Add(s.cfg.TTL),
	})
	if err != nil {
		return Issued{}, err
	}

	tok, err := s.tokens.Issue(token.Claims{
		SubjectID:   ownerID,
		DisplayName: displayName,
		SessionID:   rec.ID,
		IssuedAt:    now,
		ExpiresAt:   rec.ExpiresAt,
	})
	if err != nil {
		// Do not leave an active record nobody holds a token for.
		_ = s.store.Revoke(context.WithoutCancel(ctx), rec.ID, now, "issue_failed")
		return Issued{}, err
	}

	return Issued{
		SessionID:   rec.ID,
		OwnerID:     ownerID,
		DisplayName: displayName,
		Token:       tok,
		ExpiresAt:   rec.ExpiresAt,
	}, nil
}

// Validate verifies a session token and ensures the backing record is active.
//
// Errors: ErrInvalidToken (bad signature, malformed, unknown session, owner mismatch),
// ErrSessionExpired, ErrSessionRevoked. Store outages are returned unwrapped.
func (s *Service) Validate(ctx context.Context, tok string, now time.Time) (token.Claims, error) {
	claims, err := s.tokens.Verify(tok, now)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return token.Claims{}, fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}
		return token.Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	rec, err := s.store.GetActive(ctx, claims.SessionID, now)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return token.Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		return token.Claims{}, err
	}
	if rec.OwnerID != claims.SubjectID {
		return token.Claims{}, ErrInvalidToken
	}

	return claims, nil
}

// Revoke revokes a single session (logout from one device).
func (s *Service) Revoke(ctx context.Context, now time.Time, sessionID, reason string) error {
	return s.store.Revoke(ctx, sessionID, now.UTC(), reason)
}

// RevokeAll revokes every session of owner (logout everywhere, ban, role change).
func (s *Service) RevokeAll(ctx context.Context, now time.Time, ownerID, reason string) (int64, error) {
	return s.store.RevokeAllForOwner(ctx, ownerID, now.UTC(), reason)
}

// Touch records activity. Failures are logged, never returned.
func (s *Service) Touch(ctx context.Context, now time.Time, sessionID string) {
	if err := s.store.Touch(ctx, sessionID, now.UTC()); err != nil {
		s.log.Warn("session.touch.fail", "session_id", sessionID, "err", err)
	}
}

// CleanupExpired runs one retention sweep relative to now.
func (s *Service) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.store.CleanupExpired(ctx, now.UTC().Add(-s.cfg.Retention))
}

// RunCleanup sweeps every CleanupInterval until ctx is done.
func (s *Service) RunCleanup(ctx context.Context) error {
	if s.cfg.CleanupInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	t := time.NewTicker(s.cfg.CleanupInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			n, err := s.CleanupExpired(ctx, now)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.log.Error("session.cleanup.fail", "err", err)
				continue
			}
			if n > 0 {
				s.log.Info("session.cleanup.ok", "deleted", n)
			}
		}
	}
}
