package v1

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeClientFrame(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"authenticate", `{"type":"authenticate","token":"t"}`, nil},
		{"authenticate without token", `{"type":"authenticate"}`, ErrMissingField},
		{"subscribe", `{"type":"subscribe","groupId":"g1"}`, nil},
		{"unsubscribe without group", `{"type":"unsubscribe"}`, ErrMissingField},
		{"ping", `{"type":"ping","ref":"1"}`, nil},
		{"missing type", `{"token":"t"}`, ErrMissingType},
		{"unknown type", `{"type":"message_send"}`, ErrUnknownType},
		{"not json", `nope`, ErrNotJSONObject},
	}

	for _, tc := range cases {
		_, err := DecodeClientFrame([]byte(tc.raw))
		if tc.wantErr == nil && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.wantErr, err)
		}
	}
}

func TestEncode_FlatFrame(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	env, err := Encode(TypeUserOnline, NewPresence(true, "u7", "Seven", at))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if env.Type != TypeUserOnline {
		t.Fatalf("unexpected envelope type: %s", env.Type)
	}

	var m map[string]any
	if err := json.Unmarshal(env.Data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != TypeUserOnline || m["userId"] != "u7" {
		t.Fatalf("unexpected frame: %v", m)
	}
}

func TestNewPresence_Offline(t *testing.T) {
	t.Parallel()

	if got := NewPresence(false, "u", "", time.Now()).Type; got != TypeUserOffline {
		t.Fatalf("expected %s, got %s", TypeUserOffline, got)
	}
}

func TestEncode_MissingType(t *testing.T) {
	t.Parallel()

	if _, err := Encode("", struct{}{}); !errors.Is(err, ErrMissingType) {
		t.Fatalf("expected ErrMissingType, got %v", err)
	}
}
