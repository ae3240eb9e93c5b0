package realtime

import (
	"time"

	"golang.org/x/time/rate"
)

// FrameLimiter bounds how many client frames one connection may send.
// It allows bursts of up to limit frames and refills at limit per window.
type FrameLimiter struct {
	lim *rate.Limiter
}

// NewFrameLimiter constructs a limiter, falling back to defaults for invalid inputs.
func NewFrameLimiter(limit int, window time.Duration) *FrameLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	every := rate.Every(window / time.Duration(limit))
	return &FrameLimiter{lim: rate.NewLimiter(every, limit)}
}

// Allow reports whether a frame received at now is permitted.
func (l *FrameLimiter) Allow(now time.Time) bool {
	return l.lim.AllowN(now, 1)
}
