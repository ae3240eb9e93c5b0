package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"localchat/cmd/identity/ids"
)

// runStoreContract exercises behaviour every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	// Postgres keeps microseconds; keep every timestamp on that grid.
	base := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("create_and_get_active", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		owner := ids.MustULID(base)

		rec, err := s.Create(ctx, CreateInput{
			OwnerID:   owner,
			Client:    ClientMeta{IP: "203.0.113.7", UserAgent: "localchat-test/1.0"},
			Now:       base,
			ExpiresAt: base.Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if rec.ID == "" || rec.OwnerID != owner {
			t.Fatalf("unexpected record: %+v", rec)
		}

		got, err := s.GetActive(ctx, rec.ID, base.Add(time.Minute))
		if err != nil {
			t.Fatalf("GetActive: %v", err)
		}
		if got.OwnerID != owner || got.ClientIP != "203.0.113.7" || got.ClientAgent != "localchat-test/1.0" {
			t.Fatalf("unexpected record: %+v", got)
		}
		if !got.ExpiresAt.Equal(base.Add(time.Hour)) {
			t.Fatalf("expires_at mismatch: %v", got.ExpiresAt)
		}
		if got.Revoked() {
			t.Fatalf("expected active record")
		}
	})

	t.Run("create_rejects_bad_input", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(context.Background(), CreateInput{OwnerID: "", Now: base, ExpiresAt: base.Add(time.Hour)})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
		_, err = s.Create(context.Background(), CreateInput{OwnerID: "u", Now: base, ExpiresAt: base})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("unknown_session", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		missing := ids.MustULID(base)

		if _, err := s.GetActive(ctx, missing, base); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
		if err := s.Revoke(ctx, missing, base, "logout"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
		if err := s.Touch(ctx, missing, base); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("expiry_boundary", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		rec := mustCreate(ctx, t, s, ids.MustULID(base), base, time.Hour)
		if _, err := s.GetActive(ctx, rec.ID, rec.ExpiresAt.Add(-time.Microsecond)); err != nil {
			t.Fatalf("expected active before expiry, got %v", err)
		}
		if _, err := s.GetActive(ctx, rec.ID, rec.ExpiresAt); !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("expected ErrSessionExpired, got %v", err)
		}
	})

	t.Run("touch", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		rec := mustCreate(ctx, t, s, ids.MustULID(base), base, time.Hour)
		next := base.Add(30 * time.Second)
		if err := s.Touch(ctx, rec.ID, next); err != nil {
			t.Fatalf("Touch: %v", err)
		}
		got, err := s.GetActive(ctx, rec.ID, next)
		if err != nil {
			t.Fatalf("GetActive: %v", err)
		}
		if got.LastActivityAt == nil || !got.LastActivityAt.Equal(next) {
			t.Fatalf("expected last_activity_at=%v, got %v", next, got.LastActivityAt)
		}
	})

	t.Run("revoke_is_idempotent_and_sticky", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		rec := mustCreate(ctx, t, s, ids.MustULID(base), base, time.Hour)
		if err := s.Revoke(ctx, rec.ID, base.Add(time.Second), "logout"); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
		if err := s.Revoke(ctx, rec.ID, base.Add(2*time.Second), "ban"); err != nil {
			t.Fatalf("second Revoke: %v", err)
		}
		if err := s.Touch(ctx, rec.ID, base.Add(3*time.Second)); err != nil {
			t.Fatalf("Touch after revoke: %v", err)
		}
		if _, err := s.GetActive(ctx, rec.ID, base.Add(4*time.Second)); !errors.Is(err, ErrSessionRevoked) {
			t.Fatalf("expected ErrSessionRevoked, got %v", err)
		}

		list, err := s.ListByOwner(ctx, rec.OwnerID)
		if err != nil {
			t.Fatalf("ListByOwner: %v", err)
		}
		if len(list) != 1 || list[0].RevocationReason == nil || *list[0].RevocationReason != "logout" {
			t.Fatalf("expected first revocation reason kept, got %+v", list)
		}
		if !list[0].RevokedAt.Equal(base.Add(time.Second)) {
			t.Fatalf("expected first revoked_at kept, got %v", list[0].RevokedAt)
		}
	})

	t.Run("revoke_all_for_owner", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		owner := ids.MustULID(base)
		other := ids.MustULID(base)

		a := mustCreate(ctx, t, s, owner, base, time.Hour)
		b := mustCreate(ctx, t, s, owner, base.Add(time.Second), time.Hour)
		c := mustCreate(ctx, t, s, other, base, time.Hour)

		if err := s.Revoke(ctx, a.ID, base, "logout"); err != nil {
			t.Fatalf("Revoke: %v", err)
		}

		n, err := s.RevokeAllForOwner(ctx, owner, base.Add(time.Minute), "ban")
		if err != nil {
			t.Fatalf("RevokeAllForOwner: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 newly revoked session, got %d", n)
		}
		for _, id := range []string{a.ID, b.ID} {
			if _, err := s.GetActive(ctx, id, base.Add(time.Minute)); !errors.Is(err, ErrSessionRevoked) {
				t.Fatalf("expected %s revoked, got %v", id, err)
			}
		}
		if _, err := s.GetActive(ctx, c.ID, base.Add(time.Minute)); err != nil {
			t.Fatalf("expected other owner untouched, got %v", err)
		}

		list, err := s.ListByOwner(ctx, owner)
		if err != nil {
			t.Fatalf("ListByOwner: %v", err)
		}
		if len(list) != 2 || list[0].ID != b.ID || list[1].ID != a.ID {
			t.Fatalf("expected newest first [%s %s], got %+v", b.ID, a.ID, list)
		}
	})

	t.Run("cleanup_expired", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		owner := ids.MustULID(base)

		old := mustCreate(ctx, t, s, owner, base.Add(-48*time.Hour), time.Hour)
		revokedOld := mustCreate(ctx, t, s, owner, base.Add(-48*time.Hour), 72*time.Hour)
		if err := s.Revoke(ctx, revokedOld.ID, base.Add(-47*time.Hour), "logout"); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
		live := mustCreate(ctx, t, s, owner, base, time.Hour)

		n, err := s.CleanupExpired(ctx, base.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("CleanupExpired: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 deleted, got %d", n)
		}

		list, err := s.ListByOwner(ctx, owner)
		if err != nil {
			t.Fatalf("ListByOwner: %v", err)
		}
		if len(list) != 1 || list[0].ID != live.ID {
			t.Fatalf("expected only live session retained, got %+v", list)
		}
		if _, err := s.GetActive(ctx, old.ID, base); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected deleted session not found, got %v", err)
		}
	})

	t.Run("revoke_races_get_active", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		rec := mustCreate(ctx, t, s, ids.MustULID(base), base, time.Hour)
		now := base.Add(time.Second)

		revoked := make(chan struct{})
		var wg sync.WaitGroup
		errs := make(chan error, 64)

		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					select {
					case <-revoked:
						// Every read that starts after Revoke returned must fail.
						if _, err := s.GetActive(ctx, rec.ID, now); !errors.Is(err, ErrSessionRevoked) {
							errs <- err
						}
						return
					default:
					}
					_, err := s.GetActive(ctx, rec.ID, now)
					if err != nil && !errors.Is(err, ErrSessionRevoked) {
						errs <- err
						return
					}
				}
			}()
		}

		if err := s.Revoke(ctx, rec.ID, now, "logout"); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
		close(revoked)
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Fatalf("unexpected GetActive result after revoke: %v", err)
		}
		for i := 0; i < 10; i++ {
			if _, err := s.GetActive(ctx, rec.ID, now); !errors.Is(err, ErrSessionRevoked) {
				t.Fatalf("expected ErrSessionRevoked, got %v", err)
			}
		}
	})
}

func mustCreate(ctx context.Context, t *testing.T, s Store, owner string, now time.Time, ttl time.Duration) Record {
	t.Helper()

	rec, err := s.Create(ctx, CreateInput{OwnerID: owner, Now: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rec
}
