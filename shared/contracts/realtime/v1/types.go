package v1

import "time"

// ---- Handshake ----

// AuthenticatedFrame confirms the connection is bound to an identity.
type AuthenticatedFrame struct {
	Type        string `json:"type"`
	OwnerID     string `json:"ownerId"`
	DisplayName string `json:"displayName"`
}

func NewAuthenticated(ownerID, displayName string) AuthenticatedFrame {
	return AuthenticatedFrame{Type: TypeAuthenticated, OwnerID: ownerID, DisplayName: displayName}
}

// AuthErrorFrame precedes a server-side close. Reason is deliberately generic.
type AuthErrorFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func NewAuthError(reason string) AuthErrorFrame {
	return AuthErrorFrame{Type: TypeAuthError, Reason: reason}
}

// ---- Events ----

// NewMessageFrame announces a persisted message to a group, or to one user when
// GroupID is empty.
type NewMessageFrame struct {
	Type        string    `json:"type"`
	MessageID   string    `json:"messageId"`
	GroupID     string    `json:"groupId,omitempty"`
	SenderID    string    `json:"senderId"`
	SenderName  string    `json:"senderName,omitempty"`
	Content     string    `json:"content"`
	MessageKind string    `json:"messageType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func NewMessage(f NewMessageFrame) NewMessageFrame {
	f.Type = TypeNewMessage
	return f
}

// MessagesReadFrame is a read receipt.
type MessagesReadFrame struct {
	Type       string    `json:"type"`
	GroupID    string    `json:"groupId,omitempty"`
	ReaderID   string    `json:"readerId"`
	MessageIDs []string  `json:"messageIds"`
	ReadAt     time.Time `json:"readAt"`
}

func NewMessagesRead(f MessagesReadFrame) MessagesReadFrame {
	f.Type = TypeMessagesRead
	if f.MessageIDs == nil {
		f.MessageIDs = []string{}
	}
	return f
}

// PresenceFrame is emitted on an identity's first connect and last disconnect.
type PresenceFrame struct {
	Type        string    `json:"type"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewPresence(online bool, userID, displayName string, at time.Time) PresenceFrame {
	typ := TypeUserOffline
	if online {
		typ = TypeUserOnline
	}
	return PresenceFrame{Type: typ, UserID: userID, DisplayName: displayName, Timestamp: at.UTC()}
}

// ---- Control ----

type SubscriptionFrame struct {
	Type    string `json:"type"`
	GroupID string `json:"groupId"`
	Ref     string `json:"ref,omitempty"`
}

func NewSubscribed(groupID, ref string) SubscriptionFrame {
	return SubscriptionFrame{Type: TypeSubscribed, GroupID: groupID, Ref: ref}
}

func NewUnsubscribed(groupID, ref string) SubscriptionFrame {
	return SubscriptionFrame{Type: TypeUnsubscribed, GroupID: groupID, Ref: ref}
}

type PongFrame struct {
	Type      string    `json:"type"`
	Ref       string    `json:"ref,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewPong(ref string, at time.Time) PongFrame {
	return PongFrame{Type: TypePong, Ref: ref, Timestamp: at.UTC()}
}

// ErrorFrame is a generic non-fatal error response.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}

func NewError(code, message, ref string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Code: code, Message: message, Ref: ref}
}
