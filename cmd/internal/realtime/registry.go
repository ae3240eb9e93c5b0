package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"localchat/cmd/internal/auth/session"
	"localchat/cmd/security/token"
	v1 "localchat/shared/contracts/realtime/v1"
)

// SessionValidator verifies a session token against its backing record.
// *session.Service satisfies it.
type SessionValidator interface {
	Validate(ctx context.Context, tok string, now time.Time) (token.Claims, error)
}

// Identity is what a connection authenticated as.
type Identity struct {
	OwnerID     string
	DisplayName string
	SessionID   string
}

// Entry is a snapshot of one live connection.
type Entry struct {
	ConnectionID string
	OwnerID      string
	DisplayName  string
	SessionID    string
	Groups       []string
	ConnectedAt  time.Time
}

type entry struct {
	id          string
	identity    Identity
	groups      map[string]struct{}
	connectedAt time.Time
	sink        Sink
}

func (e *entry) snapshot() Entry {
	groups := make([]string, 0, len(e.groups))
	for g := range e.groups {
		groups = append(groups, g)
	}
	slices.Sort(groups)
	return Entry{
		ConnectionID: e.id,
		OwnerID:      e.identity.OwnerID,
		DisplayName:  e.identity.DisplayName,
		SessionID:    e.identity.SessionID,
		Groups:       groups,
		ConnectedAt:  e.connectedAt,
	}
}

// Registry is the in-memory authority over live connections.
//
// One RWMutex guards the entry map, the owner and group indexes and the per-owner
// connection counts. Mutations take the write lock; deliveries run under the read
// lock with non-blocking sends, so a delivery never observes a half-removed entry.
// Session and membership lookups happen before the lock is taken.
type Registry struct {
	log      *slog.Logger
	sessions SessionValidator
	members  MembershipStore
	metrics  *Metrics
	now      func() time.Time

	mu         sync.RWMutex
	entries    map[string]*entry
	byOwner    map[string]map[string]*entry
	byGroup    map[string]map[string]*entry
	ownerCount map[string]int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryMetrics attaches metrics.
func WithRegistryMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithRegistryClock overrides time.Now.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger, sessions SessionValidator, members MembershipStore, opts ...RegistryOption) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		log:        log,
		sessions:   sessions,
		members:    members,
		now:        time.Now,
		entries:    make(map[string]*entry),
		byOwner:    make(map[string]map[string]*entry),
		byGroup:    make(map[string]map[string]*entry),
		ownerCount: make(map[string]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Authenticate verifies tok and registers connID with sink.
//
// Errors: ErrInvalidToken, ErrSessionRevoked, ErrSessionExpired (each wrapping the
// underlying cause), ErrDuplicateConnection, ErrInvalidInput. On error no entry is
// created and the caller must close the transport.
func (r *Registry) Authenticate(ctx context.Context, connID, tok string, sink Sink) (Identity, error) {
	connID = strings.TrimSpace(connID)
	if connID == "" || sink == nil {
		return Identity{}, ErrInvalidInput
	}
	if strings.TrimSpace(tok) == "" {
		r.metrics.authResult("invalid_token")
		return Identity{}, ErrInvalidToken
	}

	now := r.now().UTC()
	claims, err := r.sessions.Validate(ctx, tok, now)
	if err != nil {
		err = classifySessionErr(err)
		r.metrics.authResult(authResultLabel(err))
		return Identity{}, err
	}

	id := Identity{
		OwnerID:     claims.SubjectID,
		DisplayName: claims.DisplayName,
		SessionID:   claims.SessionID,
	}
	e := &entry{
		id:          connID,
		identity:    id,
		groups:      make(map[string]struct{}),
		connectedAt: now,
		sink:        sink,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[connID]; exists {
		r.metrics.authResult("duplicate")
		return Identity{}, ErrDuplicateConnection
	}

	r.entries[connID] = e
	addIndex(r.byOwner, id.OwnerID, e)

	prev := r.ownerCount[id.OwnerID]
	r.ownerCount[id.OwnerID] = prev + 1
	if prev == 0 {
		r.emitPresenceLocked(id, true, now)
	}

	r.metrics.authResult("ok")
	r.metrics.setGauges(len(r.entries), len(r.ownerCount))
	return id, nil
}

// Subscribe adds groupID to connID's subscriptions after re-checking membership.
//
// Errors: ErrNotAuthenticated, ErrNotAMember, ErrInvalidInput, or a wrapped store error.
func (r *Registry) Subscribe(ctx context.Context, connID, groupID string) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" || len(groupID) > maxGroupIDBytes {
		return ErrInvalidInput
	}

	r.mu.RLock()
	e, ok := r.entries[connID]
	var owner string
	if ok {
		owner = e.identity.OwnerID
	}
	r.mu.RUnlock()
	if !ok {
		return ErrNotAuthenticated
	}

	member, err := r.members.IsMember(ctx, owner, groupID)
	if err != nil {
		return fmt.Errorf("realtime: membership lookup: %w", err)
	}
	if !member {
		return ErrNotAMember
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// The connection may have dropped while membership was being checked.
	e, ok = r.entries[connID]
	if !ok {
		return ErrNotAuthenticated
	}
	e.groups[groupID] = struct{}{}
	addIndex(r.byGroup, groupID, e)
	return nil
}

// Unsubscribe removes groupID from connID's subscriptions. It reports whether a
// subscription was removed.
func (r *Registry) Unsubscribe(connID, groupID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[connID]
	if !ok {
		return false
	}
	if _, subscribed := e.groups[groupID]; !subscribed {
		return false
	}
	delete(e.groups, groupID)
	removeIndex(r.byGroup, groupID, connID)
	return true
}

// Drop removes connID unconditionally. Dropping an unknown connection is a no-op.
// It reports whether an entry was removed.
func (r *Registry) Drop(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.dropLocked(connID, r.now().UTC()) != nil
}

// ForceDisconnect drops every entry owned by ownerID and closes their sinks.
// It returns the number of connections closed.
func (r *Registry) ForceDisconnect(ownerID string) int {
	r.mu.Lock()
	now := r.now().UTC()
	var sinks []Sink
	for connID := range r.byOwner[ownerID] {
		if e := r.dropLocked(connID, now); e != nil {
			sinks = append(sinks, e.sink)
		}
	}
	r.mu.Unlock()

	for _, s := range sinks {
		s.Close()
	}
	if len(sinks) > 0 {
		r.log.Info("ws.force_disconnect", "owner_id", ownerID, "connections", len(sinks))
	}
	return len(sinks)
}

func (r *Registry) dropLocked(connID string, now time.Time) *entry {
	e, ok := r.entries[connID]
	if !ok {
		return nil
	}
	delete(r.entries, connID)
	removeIndex(r.byOwner, e.identity.OwnerID, connID)
	for g := range e.groups {
		removeIndex(r.byGroup, g, connID)
	}

	n := r.ownerCount[e.identity.OwnerID] - 1
	if n <= 0 {
		delete(r.ownerCount, e.identity.OwnerID)
		r.emitPresenceLocked(e.identity, false, now)
	} else {
		r.ownerCount[e.identity.OwnerID] = n
	}

	r.metrics.setGauges(len(r.entries), len(r.ownerCount))
	return e
}

// emitPresenceLocked delivers a presence transition to every connection of other
// owners. It runs under the write lock so transitions of one owner are delivered in
// the order they happened.
func (r *Registry) emitPresenceLocked(id Identity, online bool, now time.Time) {
	r.deliverOthersLocked(id.OwnerID, presenceEnvelope(id.OwnerID, id.DisplayName, online, now))
	r.metrics.presenceTransition(online)
}

// deliverOthersLocked sends env to every connection not owned by ownerID.
// The caller holds r.mu (read or write).
func (r *Registry) deliverOthersLocked(ownerID string, env v1.Envelope) int {
	ok, dropped := 0, 0
	for _, e := range r.entries {
		if e.identity.OwnerID == ownerID {
			continue
		}
		if e.sink.Deliver(env) {
			ok++
		} else {
			dropped++
		}
	}
	r.metrics.delivered(env.Type, ok, dropped)
	return ok
}

// Entry returns a snapshot of connID.
func (r *Registry) Entry(connID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[connID]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(), true
}

// EntriesForOwner returns the connection ids owned by ownerID, sorted.
func (r *Registry) EntriesForOwner(ownerID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.byOwner[ownerID])
}

// EntriesForGroup returns the connection ids subscribed to groupID, sorted.
func (r *Registry) EntriesForGroup(groupID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.byGroup[groupID])
}

// IsOnline reports whether ownerID has at least one live connection.
func (r *Registry) IsOnline(ownerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ownerCount[ownerID] > 0
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// deliver sends env to the entries selected by pick, skipping exclude.
func (r *Registry) deliver(pick func() map[string]*entry, env v1.Envelope, exclude string) int {
	r.mu.RLock()
	ok, dropped := 0, 0
	for connID, e := range pick() {
		if connID == exclude {
			continue
		}
		if e.sink.Deliver(env) {
			ok++
		} else {
			dropped++
		}
	}
	r.mu.RUnlock()

	r.metrics.delivered(env.Type, ok, dropped)
	return ok
}

func addIndex(idx map[string]map[string]*entry, key string, e *entry) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]*entry)
		idx[key] = set
	}
	set[e.id] = e
}

func removeIndex(idx map[string]map[string]*entry, key, connID string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func sortedKeys(m map[string]*entry) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func classifySessionErr(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionRevoked):
		return fmt.Errorf("%w: %w", ErrSessionRevoked, err)
	case errors.Is(err, session.ErrSessionExpired):
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	case errors.Is(err, session.ErrInvalidToken), errors.Is(err, session.ErrSessionNotFound):
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	default:
		return fmt.Errorf("realtime: validate session: %w", err)
	}
}

func authResultLabel(err error) string {
	switch {
	case errors.Is(err, ErrSessionRevoked):
		return "revoked"
	case errors.Is(err, ErrSessionExpired):
		return "expired"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	default:
		return "error"
	}
}
