package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"localchat/cmd/identity/ids"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis.
//
// Layout:
//
//	<prefix>id:<session_id>   hash of record fields
//	<prefix>owner:<owner_id>  set of session ids
//
// Mutations of an existing record go through Lua scripts that only touch the fields
// they own, so a concurrent Touch can never undo a Revoke.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a Redis-backed store. Records are given a Redis expiry of
// expires_at + retention so abandoned keys disappear even without the sweeper.
func NewRedisStore(client *redis.Client, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultConfig().RedisKeyPrefix
	}
	if retention < 0 {
		retention = 0
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

const (
	fieldOwner      = "owner_id"
	fieldCreated    = "created_at"
	fieldExpires    = "expires_at"
	fieldRevoked    = "revoked_at"
	fieldReason     = "revocation_reason"
	fieldClientIP   = "client_ip"
	fieldAgent      = "client_agent"
	fieldLastActive = "last_activity_at"
)

// KEYS[1]=record ARGV[1]=timestamp. Returns 0 when the record is missing.
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'last_activity_at', ARGV[1])
return 1
`)

// KEYS[1]=record ARGV[1]=timestamp ARGV[2]=reason.
// Returns -1 when missing, 0 when already revoked, 1 when revoked now.
var revokeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HEXISTS', KEYS[1], 'revoked_at') == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'revoked_at', ARGV[1])
if ARGV[2] ~= '' then
	redis.call('HSET', KEYS[1], 'revocation_reason', ARGV[2])
end
return 1
`)

func (s *RedisStore) recordKey(id string) string   { return s.prefix + "id:" + id }
func (s *RedisStore) ownerKey(owner string) string { return s.prefix + "owner:" + owner }

func (s *RedisStore) Create(ctx context.Context, in CreateInput) (Record, error) {
	const op = "session.RedisStore.Create"
	if s == nil || s.client == nil {
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

	fields := map[string]any{
		fieldOwner:      rec.OwnerID,
		fieldCreated:    formatTime(rec.CreatedAt),
		fieldExpires:    formatTime(rec.ExpiresAt),
		fieldClientIP:   rec.ClientIP,
		fieldAgent:      rec.ClientAgent,
		fieldLastActive: formatTime(now),
	}

	key := s.recordKey(id)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.ExpireAt(ctx, key, rec.ExpiresAt.Add(s.retention))
		pipe.SAdd(ctx, s.ownerKey(rec.OwnerID), id)
		return nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

func (s *RedisStore) GetActive(ctx context.Context, sessionID string, now time.Time) (Record, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Record{}, ErrSessionNotFound
	}

	rec, err := s.load(ctx, sessionID)
	if err != nil {
		return Record{}, err
	}
	if err := rec.Check(now); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *RedisStore) Touch(ctx context.Context, sessionID string, now time.Time) error {
	n, err := touchScript.Run(ctx, s.client, []string{s.recordKey(sessionID)}, formatTime(now)).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *RedisStore) Revoke(ctx context.Context, sessionID string, now time.Time, reason string) error {
	n, err := s.revoke(ctx, sessionID, now, reason)
	if err != nil {
		return err
	}
	if n < 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *RedisStore) RevokeAllForOwner(ctx context.Context, ownerID string, now time.Time, reason string) (int64, error) {
	if strings.TrimSpace(ownerID) == "" {
		return 0, OpError{Op: "session.RedisStore.RevokeAllForOwner", Kind: ErrInvalidInput}
	}

	members, err := s.client.SMembers(ctx, s.ownerKey(ownerID)).Result()
	if err != nil {
		return 0, err
	}

	var count int64
	for _, id := range members {
		n, err := s.revoke(ctx, id, now, reason)
		if err != nil {
			return count, err
		}
		switch {
		case n > 0:
			count++
		case n < 0:
			// Key expired out from under the index.
			_ = s.client.SRem(ctx, s.ownerKey(ownerID), id).Err()
		}
	}
	return count, nil
}

// CleanupExpired scans record keys. Expiry and revocation are write-once, so a record
// that qualifies stays qualified and can be deleted without a compare-and-delete.
func (s *RedisStore) CleanupExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	var (
		cursor  uint64
		deleted int64
		pattern = s.recordKey("*")
	)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, err
		}

		for _, key := range keys {
			id := strings.TrimPrefix(key, s.recordKey(""))
			rec, err := s.load(ctx, id)
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			if err != nil {
				return deleted, err
			}
			if !retentionExpired(rec, olderThan) {
				continue
			}

			_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.ownerKey(rec.OwnerID), id)
				return nil
			})
			if err != nil {
				return deleted, err
			}
			deleted++
		}

		if next == 0 {
			break
		}
		cursor = next
	}
	return deleted, nil
}

func (s *RedisStore) ListByOwner(ctx context.Context, ownerID string) ([]Record, error) {
	members, err := s.client.SMembers(ctx, s.ownerKey(ownerID)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(members))
	for _, id := range members {
		rec, err := s.load(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *RedisStore) revoke(ctx context.Context, id string, now time.Time, reason string) (int64, error) {
	return revokeScript.Run(ctx, s.client, []string{s.recordKey(id)}, formatTime(now), reason).Int64()
}

func (s *RedisStore) load(ctx context.Context, id string) (Record, error) {
	h, err := s.client.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return Record{}, err
	}
	if len(h) == 0 {
		return Record{}, ErrSessionNotFound
	}
	return decodeRecord(id, h)
}

func decodeRecord(id string, h map[string]string) (Record, error) {
	const op = "session.RedisStore.decode"

	rec := Record{
		ID:          id,
		OwnerID:     h[fieldOwner],
		ClientIP:    h[fieldClientIP],
		ClientAgent: h[fieldAgent],
	}

	var err error
	if rec.CreatedAt, err = parseTime(h[fieldCreated]); err != nil {
		return Record{}, OpError{Op: op, Kind: err, Msg: fieldCreated}
	}
	if rec.ExpiresAt, err = parseTime(h[fieldExpires]); err != nil {
		return Record{}, OpError{Op: op, Kind: err, Msg: fieldExpires}
	}
	if v, ok := h[fieldRevoked]; ok {
		t, err := parseTime(v)
		if err != nil {
			return Record{}, OpError{Op: op, Kind: err, Msg: fieldRevoked}
		}
		rec.RevokedAt = &t
	}
	if v, ok := h[fieldReason]; ok {
		r := v
		rec.RevocationReason = &r
	}
	if v, ok := h[fieldLastActive]; ok {
		if t, err := parseTime(v); err == nil {
			rec.LastActivityAt = &t
		}
	}
	return rec, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }
