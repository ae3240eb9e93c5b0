package authapi

import "time"

type beginResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
	RedirectURI      string `json:"redirect_uri"`
}

type verifyRequest struct {
	Token         string `json:"token"`
	State         string `json:"state"`
	ExpectedState string `json:"expected_state"`
}

type userResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type verifyResponse struct {
	SessionToken string       `json:"session_token"`
	SessionID    string       `json:"session_id"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         userResponse `json:"user"`
}

type meResponse struct {
	User             userResponse `json:"user"`
	SessionID        string       `json:"session_id"`
	SessionExpiresAt time.Time    `json:"session_expires_at"`
	Online           bool         `json:"online"`
}

type logoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}

type disconnectResponse struct {
	UserID            string `json:"user_id"`
	RevokedSessions   int64  `json:"revoked_sessions"`
	ClosedConnections int    `json:"closed_connections"`
}

// eventRequest is published by the messaging application after it persists a
// message or a read receipt.
type eventRequest struct {
	Type string `json:"type"`

	GroupID             string `json:"group_id"`
	TargetUserID        string `json:"target_user_id"`
	ExcludeConnectionID string `json:"exclude_connection_id"`

	// new_message
	MessageID   string    `json:"message_id"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	CreatedAt   time.Time `json:"created_at"`

	// messages_read
	ReaderID   string    `json:"reader_id"`
	MessageIDs []string  `json:"message_ids"`
	ReadAt     time.Time `json:"read_at"`
}

type eventResponse struct {
	Delivered int    `json:"delivered"`
	MessageID string `json:"message_id,omitempty"`
}
