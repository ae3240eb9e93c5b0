// Package main provides a CI-friendly smoke test for the localchat realtime gateway.
//
// It validates:
//   - handshake + subprotocol selection
//   - authenticate-first with two session tokens
//   - subscribe to a group both owners belong to
//   - ping -> pong correlation
//   - new_message published on /internal/events reaches both subscribers
//   - a bad token gets auth_error
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "localchat/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

// serverFrame is the subset of fields the smoke test inspects on any server frame.
type serverFrame struct {
	Type      string `json:"type"`
	OwnerID   string `json:"ownerId"`
	GroupID   string `json:"groupId"`
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
	Ref       string `json:"ref"`
	Reason    string `json:"reason"`
	Code      string `json:"code"`
}

type smokeClient struct {
	name    string
	conn    *websocket.Conn
	ownerID string

	inbox chan serverFrame
	errCh chan error
}

func main() {
	var (
		wsURL     = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		eventsURL = flag.String("events-url", "http://127.0.0.1:8080/internal/events", "Events endpoint URL")
		eventsKey = flag.String("events-key", os.Getenv("LOCALCHAT_EVENTS_KEY"), "Shared key for the events endpoint")
		tokenA    = flag.String("token-a", os.Getenv("LOCALCHAT_SMOKE_TOKEN_A"), "Session token for client A")
		tokenB    = flag.String("token-b", os.Getenv("LOCALCHAT_SMOKE_TOKEN_B"), "Session token for client B (another owner)")
		origin    = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		groupID   = flag.String("group", "dev-group-1", "Group both owners belong to")
		text      = flag.String("text", "hello localchat", "Message content to publish")
		timeout   = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*tokenA) == "" || strings.TrimSpace(*tokenB) == "" {
		fatalf("both -token-a and -token-b are required")
	}
	if strings.TrimSpace(*eventsKey) == "" {
		fatalf("-events-key is required")
	}

	root := context.Background()

	mustRejectBadToken(root, *wsURL, *origin, *timeout)

	a := mustConnect(root, "A", *wsURL, *origin, *tokenA, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *tokenB, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("authenticated: A=%s B=%s origin=%q\n", a.ownerID, b.ownerID, *origin)
	}

	mustSubscribe(root, a, *groupID, *timeout)
	mustSubscribe(root, b, *groupID, *timeout)
	mustPing(root, a, *timeout)

	messageID := mustPublish(root, *eventsURL, *eventsKey, *groupID, a.ownerID, *text, *timeout)

	for _, c := range []*smokeClient{a, b} {
		f := c.mustReadUntilType(root, v1.TypeNewMessage, *timeout)
		if f.GroupID != *groupID || f.MessageID != messageID || f.Content != *text {
			fatalf("new_message mismatch (%s): %+v", c.name, f)
		}
	}

	fmt.Printf("OK: A=%s B=%s group_id=%s message_id=%s\n", a.ownerID, b.ownerID, *groupID, messageID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func dial(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan serverFrame, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func mustConnect(parent context.Context, name, wsURL, origin, tok string, stepTimeout time.Duration) *smokeClient {
	c := dial(parent, name, wsURL, origin, stepTimeout)

	c.mustWrite(parent, v1.ClientFrame{Type: v1.TypeAuthenticate, Token: tok}, stepTimeout)
	f := c.mustReadUntilType(parent, v1.TypeAuthenticated, stepTimeout)
	if strings.TrimSpace(f.OwnerID) == "" {
		fatalf("authenticated missing ownerId (%s)", name)
	}
	c.ownerID = f.OwnerID
	return c
}

func mustRejectBadToken(parent context.Context, wsURL, origin string, stepTimeout time.Duration) {
	c := dial(parent, "bad", wsURL, origin, stepTimeout)
	defer closeWS(c.conn)

	c.mustWrite(parent, v1.ClientFrame{Type: v1.TypeAuthenticate, Token: "not-a-token"}, stepTimeout)
	f := c.mustReadUntilType(parent, v1.TypeAuthError, stepTimeout)
	if strings.TrimSpace(f.Reason) == "" {
		fatalf("auth_error missing reason")
	}
}

func mustSubscribe(parent context.Context, c *smokeClient, groupID string, stepTimeout time.Duration) {
	ref := c.name + "-sub"
	c.mustWrite(parent, v1.ClientFrame{Type: v1.TypeSubscribe, GroupID: groupID, Ref: ref}, stepTimeout)
	f := c.mustReadUntilType(parent, v1.TypeSubscribed, stepTimeout)
	if f.GroupID != groupID || f.Ref != ref {
		fatalf("subscribed mismatch (%s): %+v", c.name, f)
	}
}

func mustPing(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	ref := c.name + "-ping"
	c.mustWrite(parent, v1.ClientFrame{Type: v1.TypePing, Ref: ref}, stepTimeout)
	if f := c.mustReadUntilType(parent, v1.TypePong, stepTimeout); f.Ref != ref {
		fatalf("pong ref mismatch (%s): got=%q want=%q", c.name, f.Ref, ref)
	}
}

func mustPublish(parent context.Context, eventsURL, key, groupID, senderID, text string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"type":       v1.TypeNewMessage,
		"group_id":   groupID,
		"sender_id":  senderID,
		"content":    text,
		"created_at": time.Now().UTC(),
	})
	if err != nil {
		fatalf("marshal event: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, eventsURL, bytes.NewReader(body))
	if err != nil {
		fatalf("build event request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Localchat-Events-Key", key)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("publish event: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		fatalf("publish event: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Delivered int    `json:"delivered"`
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode event response: %v", err)
	}
	if out.Delivered < 2 || out.MessageID == "" {
		fatalf("event not delivered to both subscribers: %+v", out)
	}
	return out.MessageID
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var f serverFrame
			if err := json.Unmarshal(data, &f); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if f.Type == "" {
				c.fail(errors.New("frame missing type"))
				return
			}

			select {
			case c.inbox <- f:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) mustWrite(parent context.Context, f v1.ClientFrame, stepTimeout time.Duration) {
	b, err := json.Marshal(f)
	if err != nil {
		fatalf("marshal frame (%s): %v", c.name, err)
	}

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s (%s): %v", f.Type, c.name, err)
	}
}

// mustReadUntilType skips presence and other unrelated frames. An error frame is fatal.
func (c *smokeClient) mustReadUntilType(parent context.Context, want string, stepTimeout time.Duration) serverFrame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %s (%s)", want, c.name)
		case err := <-c.errCh:
			fatalf("read (%s): %v", c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed waiting for %s (%s)", want, c.name)
			}
			if f.Type == want {
				return f
			}
			if f.Type == v1.TypeError {
				fatalf("server error waiting for %s (%s): code=%s ref=%s", want, c.name, f.Code, f.Ref)
			}
		}
	}
}

func closeWS(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "smoke done")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
