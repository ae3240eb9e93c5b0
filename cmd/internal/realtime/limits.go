package realtime

import "time"

const (
	// Max bytes per websocket frame read. Client frames are small control messages.
	maxFrameBytes = 8 << 10

	// Max group id length accepted from clients.
	maxGroupIDBytes = 128
)

const (
	// Heartbeat defaults.
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// First frame must be "authenticate" and arrive within this window.
	authTimeout = 10 * time.Second

	// Per-connection rate limits (frames per window).
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)
