package sso

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"localchat/cmd/internal/auth/session"
)

// SessionIssuer creates the session record and token for an authenticated identity.
// *session.Service implements it.
type SessionIssuer interface {
	IssueSession(ctx context.Context, now time.Time, ownerID, displayName string, client session.ClientMeta) (session.Issued, error)
}

// Coordinator drives the handshake. It is stateless between BeginLogin and
// CompleteLogin and safe for concurrent use.
type Coordinator struct {
	cfg      Config
	provider Provider
	sessions SessionIssuer
	replay   ReplayGuard
	nonceKey []byte
	metrics  *Metrics
	log      *slog.Logger
	now      func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithReplayGuard replaces the default in-memory guard.
func WithReplayGuard(g ReplayGuard) Option {
	return func(c *Coordinator) {
		if g != nil {
			c.replay = g
		}
	}
}

// WithNonceKey sets the key that authenticates nonces. Processes sharing a
// replay guard must share the key. Shorter keys are ignored.
func WithNonceKey(key []byte) Option {
	return func(c *Coordinator) {
		if len(key) >= NonceBytes {
			c.nonceKey = append([]byte(nil), key...)
		}
	}
}

// WithMetrics enables handshake metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(cfg Config, provider Provider, sessions SessionIssuer, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		provider: provider,
		sessions: sessions,
		replay:   NewMemoryReplayGuard(),
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.nonceKey == nil {
		c.nonceKey = make([]byte, NonceBytes)
		_, _ = rand.Read(c.nonceKey)
	}
	return c
}

// Config returns the handshake configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// Start is the result of BeginLogin. The caller must remember Nonce until the
// callback returns, then discard it whatever the outcome.
type Start struct {
	AuthorizationURL string
	Nonce            string
	RedirectURI      string
	State            State
}

// BeginLogin generates a nonce and the provider URL embedding client_id,
// redirect_uri and state. An empty redirectURI selects the default callback.
func (c *Coordinator) BeginLogin(redirectURI string) (Start, error) {
	redirectURI = strings.TrimSpace(redirectURI)
	if redirectURI == "" {
		redirectURI = c.cfg.DefaultRedirectURI()
	}
	if !c.cfg.RedirectAllowed(redirectURI) {
		return Start{}, ErrRedirectNotAllowed
	}

	nonce, err := NewNonce(c.nonceKey, c.now())
	if err != nil {
		return Start{}, err
	}

	u, err := url.Parse(c.cfg.AuthorizeURL)
	if err != nil {
		return Start{}, fmt.Errorf("%w: authorize url: %v", ErrConfig, err)
	}
	q := u.Query()
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", nonce)
	u.RawQuery = q.Encode()

	c.metrics.begin()
	c.log.Debug("sso.begin", "redirect_uri", redirectURI, "phase", StateAwaitingProvider.String())

	return Start{
		AuthorizationURL: u.String(),
		Nonce:            nonce,
		RedirectURI:      redirectURI,
		State:            StateAwaitingProvider,
	}, nil
}

// CompleteInput carries everything the callback returned plus what the browser remembered.
type CompleteInput struct {
	Artifact        string
	ReturnedState   string
	RememberedNonce string
	Client          session.ClientMeta
}

// CompleteLogin validates the callback and, on success, returns a freshly issued session.
//
// Order: nonce authenticity and age, CSRF check (and nonce burn), artifact presence, provider exchange bounded by
// ProviderTimeout, session creation. Any failure leaves no session record behind.
func (c *Coordinator) CompleteLogin(ctx context.Context, in CompleteInput) (session.Issued, error) {
	issued, err := c.completeLogin(ctx, in)
	if err != nil {
		outcome := failureOutcome(err)
		c.metrics.complete(outcome)
		c.log.Warn("sso.complete.fail",
			"phase", StateFailed.String(),
			"outcome", outcome,
			"client_ip", in.Client.IP,
			"err", err,
		)
		return session.Issued{}, err
	}

	c.metrics.complete("ok")
	c.log.Info("sso.complete.ok",
		"phase", StateAuthenticated.String(),
		"owner_id", issued.OwnerID,
		"session_id", issued.SessionID,
	)
	return issued, nil
}

func (c *Coordinator) completeLogin(ctx context.Context, in CompleteInput) (session.Issued, error) {
	remembered := strings.TrimSpace(in.RememberedNonce)
	returned := strings.TrimSpace(in.ReturnedState)

	if remembered == "" {
		return session.Issued{}, fmt.Errorf("%w: no login in progress", ErrCSRFMismatch)
	}

	// An expired nonce is refused here, so the guard only has to outlive NonceTTL.
	if err := checkNonce(c.nonceKey, remembered, c.now(), c.cfg.NonceTTL); err != nil {
		return session.Issued{}, fmt.Errorf("%w: %v", ErrCSRFMismatch, err)
	}

	// Burn the remembered nonce before comparing so it is spent whatever happens next.
	fresh, err := c.replay.Consume(ctx, remembered, c.cfg.NonceTTL+nonceClockSkew)
	if err != nil {
		return session.Issued{}, fmt.Errorf("sso: replay guard: %w", err)
	}
	if !nonceEqual(returned, remembered) {
		return session.Issued{}, ErrCSRFMismatch
	}
	if !fresh {
		return session.Issued{}, fmt.Errorf("%w: nonce already used", ErrCSRFMismatch)
	}

	artifact := strings.TrimSpace(in.Artifact)
	if artifact == "" {
		return session.Issued{}, ErrMissingArtifact
	}

	id, err := c.exchange(ctx, artifact)
	if err != nil {
		return session.Issued{}, err
	}

	return c.sessions.IssueSession(ctx, c.now(), id.SubjectID, id.DisplayName, in.Client)
}

func (c *Coordinator) exchange(ctx context.Context, artifact string) (Identity, error) {
	timeout := c.cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ProviderTimeout
	}
	xctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	id, err := c.provider.Exchange(xctx, artifact)
	c.metrics.observeExchange(start, err)

	if err != nil {
		switch {
		case errors.Is(err, ErrProviderRejected), errors.Is(err, ErrProviderUnavailable):
			return Identity{}, err
		case errors.Is(err, context.DeadlineExceeded), errors.Is(xctx.Err(), context.DeadlineExceeded):
			return Identity{}, fmt.Errorf("%w: exchange timed out after %s", ErrProviderUnavailable, timeout)
		default:
			return Identity{}, fmt.Errorf("%w: %v", ErrProviderRejected, err)
		}
	}

	return normalizeIdentity(id)
}

func failureOutcome(err error) string {
	switch {
	case errors.Is(err, ErrCSRFMismatch):
		return "csrf_mismatch"
	case errors.Is(err, ErrMissingArtifact):
		return "missing_artifact"
	case errors.Is(err, ErrProviderRejected):
		return "provider_rejected"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	default:
		return "error"
	}
}
