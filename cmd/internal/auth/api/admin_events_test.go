package authapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"localchat/cmd/internal/realtime"
	v1 "localchat/shared/contracts/realtime/v1"
)

func (e apiEnv) connect(t *testing.T, connID, tok string) *realtime.Client {
	t.Helper()
	c := realtime.NewClient(connID, 32)
	if _, err := e.reg.Authenticate(context.Background(), connID, tok, c); err != nil {
		t.Fatalf("Authenticate %s: %v", connID, err)
	}
	return c
}

func drainTypes(c *realtime.Client) []string {
	var out []string
	for {
		select {
		case env := <-c.Send:
			out = append(out, env.Type)
		default:
			return out
		}
	}
}

func receivedOne(t *testing.T, c *realtime.Client, typ string) v1.Envelope {
	t.Helper()
	for {
		select {
		case env := <-c.Send:
			if env.Type == typ {
				return env
			}
		default:
			t.Fatalf("connection %s did not receive %s", c.ConnectionID, typ)
			return v1.Envelope{}
		}
	}
}

func eventsKey() http.Header {
	return http.Header{eventsKeyHeader: {testEventsKey}}
}

func TestAdminDisconnect_RevokesAndClosesConnections(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t, nil)

	admin := env.login(t, "admin")
	target := env.login(t, "mallory")
	c1 := env.connect(t, "conn-m1", target.SessionToken)
	c2 := env.connect(t, "conn-m2", target.SessionToken)

	resp, body := env.do(t, http.MethodPost, "/admin/users/mallory/disconnect", nil, bearer(admin.SessionToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	var out disconnectResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.UserID != "mallory" || out.RevokedSessions != 1 || out.ClosedConnections != 2 {
		t.Fatalf("unexpected response: %+v", out)
	}

	for _, c := range []*realtime.Client{c1, c2} {
		select {
		case <-c.Done():
		default:
			t.Fatalf("connection %s was not closed", c.ConnectionID)
		}
	}
	if env.reg.IsOnline("mallory") {
		t.Fatalf("target still online")
	}
	if _, err := env.reg.Authenticate(context.Background(), "conn-m3", target.SessionToken, realtime.NewClient("conn-m3", 1)); err == nil {
		t.Fatalf("revoked token must not reconnect")
	}
}

func TestAdminDisconnect_RequiresAdmin(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t, nil)

	user := env.login(t, "nobody")
	victim := env.login(t, "victim")
	c := env.connect(t, "conn-v", victim.SessionToken)

	resp, body := env.do(t, http.MethodPost, "/admin/users/victim/disconnect", nil, bearer(user.SessionToken))
	if resp.StatusCode != http.StatusForbidden || errorCode(t, body) != "forbidden" {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	select {
	case <-c.Done():
		t.Fatalf("non-admin request closed a connection")
	default:
	}

	resp, _ = env.do(t, http.MethodPost, "/admin/users/victim/disconnect", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous request status=%d", resp.StatusCode)
	}
}

func TestEvents_KeyIsRequired(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t, nil)
	req := eventRequest{Type: v1.TypeNewMessage, GroupID: "g1", SenderID: "u1", Content: "hi"}

	resp, _ := env.do(t, http.MethodPost, "/internal/events", req, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing key status=%d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, "/internal/events", req, http.Header{eventsKeyHeader: {"wrong"}})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key status=%d", resp.StatusCode)
	}

	disabled := newAPIEnv(t, func(c *Config) { c.EventsKey = "" })
	resp, _ = disabled.do(t, http.MethodPost, "/internal/events", req, eventsKey())
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("disabled endpoint status=%d", resp.StatusCode)
	}
}

func TestEvents_NewMessageReachesGroupSubscribers(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t, nil)
	ctx := context.Background()

	env.members.Add("g1", "sender")
	env.members.Add("g1", "reader")

	sender := env.login(t, "sender")
	reader := env.login(t, "reader")
	outsider := env.login(t, "outsider")

	sc := env.connect(t, "conn-s", sender.SessionToken)
	rc := env.connect(t, "conn-r", reader.SessionToken)
	oc := env.connect(t, "conn-o", outsider.SessionToken)
	for _, id := range []string{"conn-s", "conn-r"} {
		if err := env.reg.Subscribe(ctx, id, "g1"); err != nil {
			t.Fatalf("Subscribe %s: %v", id, err)
		}
	}
	drainTypes(sc)
	drainTypes(rc)
	drainTypes(oc)

	resp, body := env.do(t, http.MethodPost, "/internal/events", eventRequest{
		Type:                v1.TypeNewMessage,
		GroupID:             "g1",
		ExcludeConnectionID: "conn-s",
		SenderID:            "sender",
		SenderName:          "User sender",
		Content:             "hello",
		CreatedAt:           time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}, eventsKey())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	var out eventResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Delivered != 1 || out.MessageID == "" {
		t.Fatalf("unexpected response: %+v", out)
	}

	env1 := receivedOne(t, rc, v1.TypeNewMessage)
	var f v1.NewMessageFrame
	if err := json.Unmarshal(env1.Data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if f.GroupID != "g1" || f.Content != "hello" || f.MessageID != out.MessageID || f.SenderID != "sender" {
		t.Fatalf("unexpected frame: %+v", f)
	}

	if got := drainTypes(sc); len(got) != 0 {
		t.Fatalf("excluded sender connection received %v", got)
	}
	if got := drainTypes(oc); len(got) != 0 {
		t.Fatalf("non-subscriber received %v", got)
	}
}

func TestEvents_MessagesReadToTargetUser(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t, nil)

	author := env.login(t, "author")
	c1 := env.connect(t, "conn-a1", author.SessionToken)
	c2 := env.connect(t, "conn-a2", author.SessionToken)

	resp, body := env.do(t, http.MethodPost, "/internal/events", eventRequest{
		Type:         v1.TypeMessagesRead,
		GroupID:      "g2",
		TargetUserID: "author",
		ReaderID:     "someone",
		MessageIDs:   []string{"m1", "m2"},
	}, eventsKey())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	var out eventResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Delivered != 2 {
		t.Fatalf("expected both devices, got %d", out.Delivered)
	}

	env1 := receivedOne(t, c1, v1.TypeMessagesRead)
	var f v1.MessagesReadFrame
	if err := json.Unmarshal(env1.Data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if f.ReaderID != "someone" || len(f.MessageIDs) != 2 || f.ReadAt.IsZero() {
		t.Fatalf("unexpected frame: %+v", f)
	}
	receivedOne(t, c2, v1.TypeMessagesRead)
}

func TestEvents_UserTargetedEventWithoutGroup(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t, nil)

	bob := env.login(t, "bob")
	bc := env.connect(t, "conn-b", bob.SessionToken)
	drainTypes(bc)

	resp, body := env.do(t, http.MethodPost, "/internal/events", eventRequest{
		Type:         v1.TypeNewMessage,
		TargetUserID: "bob",
		SenderID:     "alice",
		Content:      "direct hello",
	}, eventsKey())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	var out eventResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Delivered != 1 || out.MessageID == "" {
		t.Fatalf("unexpected response: %+v", out)
	}

	got := receivedOne(t, bc, v1.TypeNewMessage)
	var raw map[string]any
	if err := json.Unmarshal(got.Data, &raw); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if raw["content"] != "direct hello" || raw["senderId"] != "alice" {
		t.Fatalf("unexpected frame: %v", raw)
	}
	if _, ok := raw["groupId"]; ok {
		t.Fatalf("user-targeted frame must not carry an empty groupId: %v", raw)
	}
}

func TestEvents_RejectsInvalidEvents(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t, nil)

	tests := []struct {
		name string
		req  eventRequest
	}{
		{name: "unknown type", req: eventRequest{Type: "typing", GroupID: "g"}},
		{name: "no group or target", req: eventRequest{Type: v1.TypeNewMessage, SenderID: "u"}},
		{name: "blank target", req: eventRequest{Type: v1.TypeMessagesRead, TargetUserID: "  ", ReaderID: "r"}},
		{name: "no sender", req: eventRequest{Type: v1.TypeNewMessage, GroupID: "g"}},
		{name: "no reader", req: eventRequest{Type: v1.TypeMessagesRead, GroupID: "g"}},
	}
	for _, tc := range tests {
		resp, body := env.do(t, http.MethodPost, "/internal/events", tc.req, eventsKey())
		if resp.StatusCode != http.StatusBadRequest || errorCode(t, body) != "invalid_event" {
			t.Fatalf("%s: status=%d body=%s", tc.name, resp.StatusCode, body)
		}
	}
}
