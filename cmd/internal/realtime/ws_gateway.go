package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	v1 "localchat/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsCloseGrace      = 1 * time.Second
	wsMaxPingFailures = 3

	// authReasonSignin is the only credential failure reason clients ever see.
	authReasonSignin = "signin_required"
)

// SessionToucher records connection activity on the session. *session.Service
// satisfies it.
type SessionToucher interface {
	Touch(ctx context.Context, now time.Time, sessionID string)
}

// WSGateway is the websocket entrypoint.
//
// It enforces origin policy, subprotocol selection, the authenticate-first
// protocol, rate limits and heartbeats, and binds each connection to the Registry.
type WSGateway struct {
	log      *slog.Logger
	registry *Registry
	touch    SessionToucher
	cfg      GatewayConfig

	// Derived for websocket.Accept origin checks; cross-origin requests need patterns.
	originPatterns []string
}

// GatewayOption configures a WSGateway.
type GatewayOption func(*WSGateway)

// WithSessionToucher records activity on the session after authentication.
func WithSessionToucher(t SessionToucher) GatewayOption {
	return func(g *WSGateway) { g.touch = t }
}

// NewWSGateway constructs a gateway over reg.
func NewWSGateway(log *slog.Logger, reg *Registry, cfg GatewayConfig, opts ...GatewayOption) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalized()
	g := &WSGateway{
		log:            log,
		registry:       reg,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the connection until either side closes.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	connID := NewConnectionID()
	client := NewClient(connID, g.cfg.SendQueueSize)

	id, ok := g.authenticate(ctx, conn, client)
	if !ok {
		return
	}
	log := g.log.With("connection_id", connID, "owner_id", id.OwnerID)
	log.Info("ws.auth.ok", "session_id", id.SessionID)

	var closeOnce sync.Once

	// shutdown removes the entry before signalling the client so no delivery
	// targets a connection whose goroutines are gone.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.registry.Drop(connID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				// Closed from outside (ForceDisconnect).
				shutdown(websocket.StatusPolicyViolation, "disconnected")
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := NewFrameLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		raw, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.sendError(client, "rate_limited", "too many frames", "")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		f, err := v1.DecodeClientFrame(raw)
		if err != nil {
			code := "bad_frame"
			if errors.Is(err, v1.ErrUnknownType) {
				code = "unsupported"
			}
			g.sendError(client, code, err.Error(), f.Ref)
			continue readLoop
		}

		switch f.Type {
		case v1.TypeSubscribe:
			g.onSubscribe(ctx, log, client, f)

		case v1.TypeUnsubscribe:
			g.registry.Unsubscribe(connID, f.GroupID)
			env := v1.NewUnsubscribed(f.GroupID, f.Ref)
			client.Deliver(v1.MustEncode(env.Type, env))

		case v1.TypePing:
			env := v1.NewPong(f.Ref, now)
			client.Deliver(v1.MustEncode(env.Type, env))

		case v1.TypeAuthenticate:
			g.sendError(client, "already_authenticated", "connection is already authenticated", f.Ref)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// authenticate runs the authenticate-first step. The first frame must arrive and
// be validated within AuthTimeout. On failure it writes auth_error and closes conn.
func (g *WSGateway) authenticate(ctx context.Context, conn *websocket.Conn, client *Client) (Identity, bool) {
	authCtx, cancel := context.WithTimeout(ctx, g.cfg.AuthTimeout)
	defer cancel()

	fail := func(reason, closeReason string) (Identity, bool) {
		f := v1.NewAuthError(reason)
		_ = writeEnvelope(ctx, conn, v1.MustEncode(f.Type, f), g.cfg.WriteTimeout)
		_ = conn.Close(websocket.StatusPolicyViolation, closeReason)
		return Identity{}, false
	}

	raw, err := readFrame(authCtx, conn)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			g.log.Info("ws.auth.fail", "connection_id", client.ConnectionID, "reason", "timeout")
			return fail("auth_timeout", "authentication timeout")
		}
		g.log.Info("ws.auth.fail", "connection_id", client.ConnectionID, "reason", "read", "err", err)
		return Identity{}, false
	}

	f, err := v1.DecodeClientFrame(raw)
	if err != nil || f.Type != v1.TypeAuthenticate {
		g.log.Info("ws.auth.fail", "connection_id", client.ConnectionID, "reason", "protocol")
		return fail("authenticate_first", "authenticate first")
	}

	id, err := g.registry.Authenticate(authCtx, client.ConnectionID, f.Token, client)
	if err != nil {
		// The specific kind is for logs only.
		g.log.Info("ws.auth.fail", "connection_id", client.ConnectionID, "reason", authResultLabel(err), "err", err)
		return fail(authReasonSignin, "authentication failed")
	}

	ack := v1.NewAuthenticated(id.OwnerID, id.DisplayName)
	if err := writeEnvelope(ctx, conn, v1.MustEncode(ack.Type, ack), g.cfg.WriteTimeout); err != nil {
		g.registry.Drop(client.ConnectionID)
		return Identity{}, false
	}

	if g.touch != nil {
		g.touch.Touch(authCtx, time.Now().UTC(), id.SessionID)
	}
	return id, true
}

func (g *WSGateway) onSubscribe(ctx context.Context, log *slog.Logger, client *Client, f v1.ClientFrame) {
	err := g.registry.Subscribe(ctx, client.ConnectionID, f.GroupID)
	switch {
	case err == nil:
		env := v1.NewSubscribed(f.GroupID, f.Ref)
		client.Deliver(v1.MustEncode(env.Type, env))
	case errors.Is(err, ErrNotAMember):
		log.Info("ws.subscribe.denied", "group_id", f.GroupID)
		g.sendError(client, "not_a_member", "not a member of group", f.Ref)
	case errors.Is(err, ErrInvalidInput):
		g.sendError(client, "invalid_group", "invalid groupId", f.Ref)
	case errors.Is(err, ErrNotAuthenticated):
		g.sendError(client, "not_authenticated", "connection is not authenticated", f.Ref)
	default:
		log.Warn("ws.subscribe.fail", "group_id", f.GroupID, "err", err)
		g.sendError(client, "unavailable", "try again later", f.Ref)
	}
}

func (g *WSGateway) sendError(client *Client, code, msg, ref string) {
	f := v1.NewError(code, msg, ref)
	_ = client.Deliver(v1.MustEncode(f.Type, f))
}

// ---- frame IO ----

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, env.Data)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match ignores scheme and port.
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns turns the allow-list into host patterns for websocket.Accept.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		// Accept matches against the origin's host:port.
		seen[h] = struct{}{}
		seen[h+":*"] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
