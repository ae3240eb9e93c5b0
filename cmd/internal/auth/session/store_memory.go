package session

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"localchat/cmd/identity/ids"
)

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Record
	byOwner map[string]map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Record),
		byOwner: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Create(_ context.Context, in CreateInput) (Record, error) {
	const op = "session.MemoryStore.Create"
	if err := in.validate(op); err != nil {
		return Record{}, err
	}

	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Record{}, OpError{Op: op, Kind: err}
	}

	now := in.Now.UTC()
	rec := &Record{
		ID:             id,
		OwnerID:        in.OwnerID,
		CreatedAt:      now,
		ExpiresAt:      in.ExpiresAt.UTC(),
		ClientIP:       in.Client.IP,
		ClientAgent:    in.Client.UserAgent,
		LastActivityAt: &now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[id] = rec
	owned := s.byOwner[in.OwnerID]
	if owned == nil {
		owned = make(map[string]struct{})
		s.byOwner[in.OwnerID] = owned
	}
	owned[id] = struct{}{}

	return cloneRecord(rec), nil
}

func (s *MemoryStore) GetActive(_ context.Context, sessionID string, now time.Time) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[sessionID]
	if !ok {
		return Record{}, ErrSessionNotFound
	}
	if err := rec.Check(now); err != nil {
		return Record{}, err
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Touch(_ context.Context, sessionID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	t := now.UTC()
	rec.LastActivityAt = &t
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, sessionID string, now time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	revokeLocked(rec, now, reason)
	return nil
}

func (s *MemoryStore) RevokeAllForOwner(_ context.Context, ownerID string, now time.Time, reason string) (int64, error) {
	if strings.TrimSpace(ownerID) == "" {
		return 0, OpError{Op: "session.MemoryStore.RevokeAllForOwner", Kind: ErrInvalidInput}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id := range s.byOwner[ownerID] {
		if revokeLocked(s.byID[id], now, reason) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.byID {
		if !retentionExpired(*rec, olderThan) {
			continue
		}
		delete(s.byID, id)
		if owned := s.byOwner[rec.OwnerID]; owned != nil {
			delete(owned, id)
			if len(owned) == 0 {
				delete(s.byOwner, rec.OwnerID)
			}
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.byOwner[ownerID]))
	for id := range s.byOwner[ownerID] {
		out = append(out, cloneRecord(s.byID[id]))
	}
	sortNewestFirst(out)
	return out, nil
}

// revokeLocked marks rec revoked once; later calls keep the first timestamp and reason.
func revokeLocked(rec *Record, now time.Time, reason string) bool {
	if rec == nil || rec.RevokedAt != nil {
		return false
	}
	t := now.UTC()
	rec.RevokedAt = &t
	if reason != "" {
		r := reason
		rec.RevocationReason = &r
	}
	return true
}

// retentionExpired reports whether rec ended (expiry or revocation) before cutoff.
func retentionExpired(rec Record, cutoff time.Time) bool {
	if rec.ExpiresAt.Before(cutoff) {
		return true
	}
	return rec.RevokedAt != nil && rec.RevokedAt.Before(cutoff)
}

func sortNewestFirst(recs []Record) {
	slices.SortFunc(recs, func(a, b Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
}

func cloneRecord(rec *Record) Record {
	out := *rec
	if rec.RevokedAt != nil {
		t := *rec.RevokedAt
		out.RevokedAt = &t
	}
	if rec.RevocationReason != nil {
		r := *rec.RevocationReason
		out.RevocationReason = &r
	}
	if rec.LastActivityAt != nil {
		t := *rec.LastActivityAt
		out.LastActivityAt = &t
	}
	return out
}
