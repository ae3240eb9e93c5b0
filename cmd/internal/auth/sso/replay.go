package sso

import (
	"context"
	"sync"
	"time"

	"localchat/cmd/security/token"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard burns nonces. Consume returns true exactly once per nonce within ttl.
// Nonces are stored hashed.
type ReplayGuard interface {
	Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// MemoryReplayGuard is a single-process ReplayGuard.
type MemoryReplayGuard struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	now       func() time.Time
	lastPrune time.Time
}

// NewMemoryReplayGuard creates an empty guard.
func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (g *MemoryReplayGuard) Consume(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	key := token.HashSHA256Hex(nonce)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.pruneLocked(now)

	if exp, ok := g.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.seen[key] = now.Add(ttl)
	return true, nil
}

// pruneLocked drops expired entries at most once per second.
func (g *MemoryReplayGuard) pruneLocked(now time.Time) {
	if now.Sub(g.lastPrune) < time.Second {
		return
	}
	g.lastPrune = now
	for k, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, k)
		}
	}
}

// RedisReplayGuard shares burned nonces across processes through SET NX.
type RedisReplayGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisReplayGuard creates a Redis-backed guard.
func NewRedisReplayGuard(client *redis.Client, prefix string) *RedisReplayGuard {
	if prefix == "" {
		prefix = "localchat:sso:nonce:"
	}
	return &RedisReplayGuard{client: client, prefix: prefix}
}

func (g *RedisReplayGuard) Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, g.prefix+token.HashSHA256Hex(nonce), 1, ttl).Result()
}
