package realtime

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MembershipStore is the authorization boundary for group subscriptions.
// Results are never cached by the Registry.
type MembershipStore interface {
	// IsMember reports whether userID currently belongs to groupID.
	IsMember(ctx context.Context, userID, groupID string) (bool, error)
}

// PostgresMembershipStore checks membership in <schema>.group_members.
type PostgresMembershipStore struct {
	pool   *pgxpool.Pool
	schema string
}

// MembershipOption configures PostgresMembershipStore behavior.
type MembershipOption func(*PostgresMembershipStore) error

// WithMembershipSchema sets the DB schema (default: "localchat").
func WithMembershipSchema(schema string) MembershipOption {
	return func(s *PostgresMembershipStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresMembershipStore constructs a membership store backed by PostgreSQL.
func NewPostgresMembershipStore(pool *pgxpool.Pool, opts ...MembershipOption) (*PostgresMembershipStore, error) {
	st := &PostgresMembershipStore{
		pool:   pool,
		schema: "localchat",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

func (s *PostgresMembershipStore) IsMember(ctx context.Context, userID, groupID string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, errors.New("realtime: nil membership store")
	}
	userID = strings.TrimSpace(userID)
	groupID = strings.TrimSpace(groupID)
	if userID == "" || groupID == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+pgIdent(s.schema, "group_members")+` WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MemoryMembershipStore is an in-process membership table for dev and tests.
type MemoryMembershipStore struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // group -> users
}

func NewMemoryMembershipStore() *MemoryMembershipStore {
	return &MemoryMembershipStore{members: make(map[string]map[string]struct{})}
}

// Add makes userID a member of groupID.
func (s *MemoryMembershipStore) Add(groupID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.members[groupID]
	if !ok {
		users = make(map[string]struct{})
		s.members[groupID] = users
	}
	users[userID] = struct{}{}
}

// Remove deletes userID from groupID.
func (s *MemoryMembershipStore) Remove(groupID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if users, ok := s.members[groupID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(s.members, groupID)
		}
	}
}

func (s *MemoryMembershipStore) IsMember(ctx context.Context, userID, groupID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.members[groupID][userID]
	return ok, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
