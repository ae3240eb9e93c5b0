package realtime

import (
	"testing"
	"time"
)

func TestFrameLimiter_BurstThenRefill(t *testing.T) {
	t.Parallel()

	l := NewFrameLimiter(3, 3*time.Second)
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		if !l.Allow(now) {
			t.Fatalf("frame %d should be allowed", i)
		}
	}
	if l.Allow(now) {
		t.Fatalf("fourth frame in the same instant should be limited")
	}
	if !l.Allow(now.Add(1100 * time.Millisecond)) {
		t.Fatalf("a token should refill after one interval")
	}
}

func TestFrameLimiter_Defaults(t *testing.T) {
	t.Parallel()

	l := NewFrameLimiter(0, 0)
	now := time.Unix(1_700_000_000, 0)
	allowed := 0
	for i := 0; i < rateLimitEvents+5; i++ {
		if l.Allow(now) {
			allowed++
		}
	}
	if allowed != rateLimitEvents {
		t.Fatalf("expected %d allowed, got %d", rateLimitEvents, allowed)
	}
}
