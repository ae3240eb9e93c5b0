package realtime

import "github.com/google/uuid"

// NewConnectionID returns a random connection id. Connection ids are process-local
// and never persisted.
func NewConnectionID() string {
	return uuid.NewString()
}
