// Package v1 defines the localchat realtime protocol v1 contract.
//
// Frames are flat JSON objects discriminated by "type". The package is shared between
// the server and its clients so the wire protocol stays authoritative; it must not
// import anything outside the standard library.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Version is the protocol version identifier.
const Version = "v1"

// Subprotocol is the websocket subprotocol clients must offer.
const Subprotocol = "localchat.realtime.v1"

// Client -> server frame types.
const (
	// TypeAuthenticate must be the first frame on every connection.
	TypeAuthenticate = "authenticate"
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypePing         = "ping"
)

// Server -> client frame types. Clients must ignore types they do not know.
const (
	TypeAuthenticated = "authenticated"
	TypeAuthError     = "auth_error"

	TypeNewMessage   = "new_message"
	TypeMessagesRead = "messages_read"
	TypeUserOnline   = "user_online"
	TypeUserOffline  = "user_offline"

	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypePong         = "pong"
	TypeError        = "error"
)

var (
	ErrMissingType   = errors.New("missing field: type")
	ErrUnknownType   = errors.New("unknown type")
	ErrMissingField  = errors.New("missing field")
	ErrNotJSONObject = errors.New("frame is not a json object")
)

// Envelope is an encoded server frame. Data holds the complete JSON object, so one
// encoding is shared by every connection a frame fans out to.
type Envelope struct {
	Type string
	Data json.RawMessage
}

// Encode marshals frame once and wraps it. typ must match the frame's own type field.
func Encode(typ string, frame any) (Envelope, error) {
	if strings.TrimSpace(typ) == "" {
		return Envelope{}, ErrMissingType
	}
	b, err := json.Marshal(frame)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	return Envelope{Type: typ, Data: b}, nil
}

// MustEncode is Encode for frames built from the constructors in this package, which
// always marshal.
func MustEncode(typ string, frame any) Envelope {
	env, err := Encode(typ, frame)
	if err != nil {
		panic(err)
	}
	return env
}

// ClientFrame is the union of every client -> server frame.
type ClientFrame struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	Ref     string `json:"ref,omitempty"`
}

// DecodeClientFrame parses and validates a client frame.
func DecodeClientFrame(raw []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return ClientFrame{}, ErrNotJSONObject
	}
	if err := f.Validate(); err != nil {
		return f, err
	}
	return f, nil
}

// Validate performs structural validation.
func (f ClientFrame) Validate() error {
	if strings.TrimSpace(f.Type) == "" {
		return ErrMissingType
	}

	switch f.Type {
	case TypeAuthenticate:
		if strings.TrimSpace(f.Token) == "" {
			return fmt.Errorf("%w: token", ErrMissingField)
		}
	case TypeSubscribe, TypeUnsubscribe:
		if strings.TrimSpace(f.GroupID) == "" {
			return fmt.Errorf("%w: groupId", ErrMissingField)
		}
	case TypePing:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	return nil
}
