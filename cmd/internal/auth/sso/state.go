package sso

// State is the position of one login attempt in the handshake.
//
//	Start -> AwaitingProvider -> AwaitingCallback -> Authenticated | Failed
//
// The server never stores it; it is reported in logs and metrics.
type State int

const (
	StateStart State = iota
	StateAwaitingProvider
	StateAwaitingCallback
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAwaitingProvider:
		return "awaiting_provider"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateAuthenticated || s == StateFailed
}
