package authapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// failureThrottle counts failed handshake completions per client IP in a sliding window.
type failureThrottle struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	failures map[string][]time.Time
}

func newFailureThrottle(max int, window time.Duration) *failureThrottle {
	return &failureThrottle{max: max, window: window, failures: make(map[string][]time.Time)}
}

// blocked reports whether ip is over its budget and how long until the oldest failure ages out.
func (t *failureThrottle) blocked(ip net.IP, now time.Time) (bool, time.Duration) {
	if t == nil || ip == nil || t.max <= 0 {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := ip.String()
	kept := pruneBefore(t.failures[key], now.Add(-t.window))
	if len(kept) == 0 {
		delete(t.failures, key)
		return false, 0
	}
	t.failures[key] = kept
	return evaluateWindowThrottle(now, kept, t.max, t.window)
}

func (t *failureThrottle) record(ip net.IP, now time.Time) {
	if t == nil || ip == nil || t.max <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := ip.String()
	t.failures[key] = append(pruneBefore(t.failures[key], now.Add(-t.window)), now)

	// Bound memory under address churn.
	if len(t.failures) > 4096 {
		cut := now.Add(-t.window)
		for k, v := range t.failures {
			if kept := pruneBefore(v, cut); len(kept) == 0 {
				delete(t.failures, k)
			} else {
				t.failures[k] = kept
			}
		}
	}
}

// evaluateWindowThrottle blocks once max failures fall inside window. failures may be in any order.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)

	var inWindow int
	var oldest time.Time
	for _, f := range failures {
		if f.Before(cut) {
			continue
		}
		inWindow++
		if oldest.IsZero() || f.Before(oldest) {
			oldest = f
		}
	}
	if inWindow < max {
		return false, 0
	}

	retry := oldest.Add(window).Sub(now)
	if retry < 0 {
		retry = 0
	}
	return true, retry
}

func pruneBefore(ts []time.Time, cut time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if !t.Before(cut) {
			out = append(out, t)
		}
	}
	return out
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
