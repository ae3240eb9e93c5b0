package sso

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"localchat/cmd/internal/auth/session"
	"localchat/cmd/security/token"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ClientID = "localchat-web"
	cfg.AuthorizeURL = "https://idp.example.com/authorize?prompt=login"
	cfg.RedirectURIs = []string{"https://chat.example.com/auth/callback", "https://chat.example.com/auth/sso/callback"}
	cfg.ExchangeURL = "https://idp.example.com/exchange"
	cfg.ProviderTimeout = time.Second
	return cfg
}

type fixture struct {
	coord  *Coordinator
	store  *session.MemoryStore
	codec  *token.Codec
	calls  *atomic.Int32
	reg    *prometheus.Registry
	issuer *session.Service
}

// acceptA accepts artifact "a" for u42 and rejects everything else.
func acceptA(calls *atomic.Int32) Provider {
	return ProviderFunc(func(ctx context.Context, artifact string) (Identity, error) {
		calls.Add(1)
		if artifact == "a" {
			return Identity{SubjectID: "u42", DisplayName: "Douglas"}, nil
		}
		return Identity{}, rejected("unknown artifact")
	})
}

func newFixture(t *testing.T, provider func(calls *atomic.Int32) Provider, opts ...Option) fixture {
	t.Helper()

	codec, err := token.NewCodec([]byte(strings.Repeat("s", token.MinSecretBytes)))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	store := session.NewMemoryStore()
	scfg := session.DefaultConfig()
	scfg.TTL = time.Hour
	svc := session.NewService(scfg, store, codec, nil)

	calls := &atomic.Int32{}
	reg := prometheus.NewRegistry()
	opts = append([]Option{WithMetrics(NewMetrics(reg))}, opts...)

	return fixture{
		coord:  NewCoordinator(testConfig(), provider(calls), svc, opts...),
		store:  store,
		codec:  codec,
		calls:  calls,
		reg:    reg,
		issuer: svc,
	}
}

func sessionsFor(t *testing.T, s session.Store, owner string) int {
	t.Helper()
	list, err := s.ListByOwner(context.Background(), owner)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	return len(list)
}

func TestBeginLogin_BuildsAuthorizationURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t, acceptA)

	start, err := f.coord.BeginLogin("")
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if start.State != StateAwaitingProvider {
		t.Fatalf("unexpected state: %v", start.State)
	}

	u, err := url.Parse(start.AuthorizationURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()
	if u.Host != "idp.example.com" || u.Path != "/authorize" {
		t.Fatalf("unexpected provider url: %s", start.AuthorizationURL)
	}
	if q.Get("prompt") != "login" {
		t.Fatalf("expected existing query preserved, got %v", q)
	}
	if q.Get("client_id") != "localchat-web" {
		t.Fatalf("client_id mismatch: %v", q)
	}
	if q.Get("redirect_uri") != "https://chat.example.com/auth/callback" {
		t.Fatalf("redirect_uri mismatch: %v", q)
	}
	if q.Get("state") != start.Nonce || len(start.Nonce) < 43 {
		t.Fatalf("state must carry a >=256-bit nonce, got %q", q.Get("state"))
	}

	second, err := f.coord.BeginLogin("https://chat.example.com/auth/sso/callback")
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if second.Nonce == start.Nonce {
		t.Fatalf("expected a fresh nonce per attempt")
	}

	if got := testutil.ToFloat64(f.coord.metrics.begins); got != 2 {
		t.Fatalf("expected 2 begins, got %v", got)
	}
}

func TestBeginLogin_RejectsUnlistedRedirect(t *testing.T) {
	t.Parallel()

	f := newFixture(t, acceptA)
	for _, uri := range []string{"https://evil.example.com/cb", "https://chat.example.com/auth/callback/", "javascript:alert(1)"} {
		if _, err := f.coord.BeginLogin(uri); !errors.Is(err, ErrRedirectNotAllowed) {
			t.Fatalf("BeginLogin(%q): expected ErrRedirectNotAllowed, got %v", uri, err)
		}
	}
}

func TestCompleteLogin_AcceptedArtifactMintsToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, acceptA)

	start, err := f.coord.BeginLogin("")
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	n1 := start.Nonce

	issued, err := f.coord.CompleteLogin(ctx, CompleteInput{
		Artifact:        "a",
		ReturnedState:   n1,
		RememberedNonce: n1,
		Client:          session.ClientMeta{IP: "198.51.100.4", UserAgent: "browser"},
	})
	if err != nil {
		t.Fatalf("CompleteLogin: %v", err)
	}

	claims, err := f.codec.Verify(issued.Token, time.Now())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.SubjectID != "u42" || claims.DisplayName != "Douglas" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.SessionID != issued.SessionID {
		t.Fatalf("token not bound to session: %+v vs %s", claims, issued.SessionID)
	}

	rec, err := f.store.GetActive(ctx, issued.SessionID, time.Now())
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if rec.ClientIP != "198.51.100.4" || rec.ClientAgent != "browser" {
		t.Fatalf("client meta not recorded: %+v", rec)
	}

	if got := testutil.ToFloat64(f.coord.metrics.completes.WithLabelValues("ok")); got != 1 {
		t.Fatalf("expected ok outcome counted, got %v", got)
	}
}

func TestCompleteLogin_WrongStateCreatesNoSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, acceptA)

	start, err := f.coord.BeginLogin("")
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}

	_, err = f.coord.CompleteLogin(ctx, CompleteInput{
		Artifact:        "a",
		ReturnedState:   "wrong",
		RememberedNonce: start.Nonce,
	})
	if !errors.Is(err, ErrCSRFMismatch) {
		t.Fatalf("expected ErrCSRFMismatch, got %v", err)
	}
	if n := sessionsFor(t, f.store, "u42"); n != 0 {
		t.Fatalf("expected zero sessions for u42, got %d", n)
	}
	if f.calls.Load() != 0 {
		t.Fatalf("provider must not be called on csrf mismatch")
	}
	if got := testutil.ToFloat64(f.coord.metrics.completes.WithLabelValues("csrf_mismatch")); got != 1 {
		t.Fatalf("expected csrf_mismatch counted, got %v", got)
	}
}

func TestCompleteLogin_DistinctNoncesAlwaysMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, acceptA)

	for i := 0; i < 100; i++ {
		a, err := f.coord.BeginLogin("")
		if err != nil {
			t.Fatalf("BeginLogin: %v", err)
		}
		b, err := f.coord.BeginLogin("")
		if err != nil {
			t.Fatalf("BeginLogin: %v", err)
		}
		if a.Nonce == b.Nonce {
			t.Fatalf("nonce collision")
		}
		_, err = f.coord.CompleteLogin(ctx, CompleteInput{Artifact: "a", ReturnedState: a.Nonce, RememberedNonce: b.Nonce})
		if !errors.Is(err, ErrCSRFMismatch) {
			t.Fatalf("iteration %d: expected ErrCSRFMismatch, got %v", i, err)
		}
	}
	if n := sessionsFor(t, f.store, "u42"); n != 0 {
		t.Fatalf("expected zero sessions, got %d", n)
	}
}

func TestCompleteLogin_WithoutBeginLogin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, acceptA)

	cases := []CompleteInput{
		{Artifact: "a", ReturnedState: "", RememberedNonce: ""},
		{Artifact: "a", ReturnedState: "attacker-chosen", RememberedNonce: ""},
		{Artifact: "a", ReturnedState: "", RememberedNonce: "   "},
	}
	for i, in := range cases {
		if _, err := f.coord.CompleteLogin(ctx, in); !errors.Is(err, ErrCSRFMismatch) {
			t.Fatalf("case %d: expected ErrCSRFMismatch, got %v", i, err)
		}
	}
	if n := sessionsFor(t, f.store, "u42"); n != 0 {
		t.Fatalf("expected zero sessions, got %d", n)
	}
}

func TestCompleteLogin_NonceIsSingleUse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, acceptA)

	start, err := f.coord.BeginLogin("")
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	in := CompleteInput{Artifact: "a", ReturnedState: start.Nonce, RememberedNonce: start.Nonce}

	if _, err := f.coord.CompleteLogin(ctx, in); err != nil {
		t.Fatalf("first CompleteLogin: %v", err)
	}
	if _, err := f.coord.CompleteLogin(ctx, in); !errors.Is(err, ErrCSRFMismatch) {
		t.Fatalf("expected replay to fail with ErrCSRFMismatch, got %v", err)
	}
	if n := sessionsFor(t, f.store, "u42"); n != 1 {
		t.Fatalf("expected exactly one session, got %d", n)
	}
}

func TestCompleteLogin_FailedAttemptStillBurnsNonce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, acceptA)

	start, err := f.coord.BeginLogin("")
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}

	_, err = f.coord.CompleteLogin(ctx, CompleteInput{Artifact: "a", ReturnedState: "forged", RememberedNonce: start.Nonce})
	if !errors.Is(err, ErrCSRFMismatch) {
		t.Fatalf("expected ErrCSRFMismatch, got %v", err)
	}

	_, err = f.coord.CompleteLogin(ctx, CompleteInput{Artifact: "a", ReturnedState: start.Nonce, RememberedNonce: start.Nonce})
	if !errors.Is(err, ErrCSRFMismatch) {
		t.Fatalf("expected burned nonce to be rejected, got %v", err)
	}
}

func TestCompleteLogin_SpentNonceStaysRejectedAfterTTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	guard := NewMemoryReplayGuard()
	guard.now = clock
	f := newFixture(t, acceptA, WithReplayGuard(guard), WithClock(clock))

	start, err := f.coord.BeginLogin("")
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	n1 := start.Nonce
	in := CompleteInput{Artifact: "a", ReturnedState: n1, RememberedNonce: n1}

	if _, err := f.coord.CompleteLogin(ctx, in); err != nil {
		t.Fatalf("first CompleteLogin: %v", err)
	}

	now = now.Add(f.coord.cfg.NonceTTL + nonceClockSkew + time.Second)

	if _, err := f.coord.CompleteLogin(ctx, in); !errors.Is(err, ErrCSRFMismatch) {
		t.Fatalf("expected replay after NonceTTL to fail with ErrCSRFMismatch, got %v", err)
	}
	if n := sessionsFor(t, f.store, "u42"); n != 1 {
		t.Fatalf("expected exactly one session for u42, got %d", n)
	}
	if f.calls.Load() != 1 {
		t.Fatalf("provider must not be called for an expired nonce, calls=%d", f.calls.Load())
	}

	// The guard has forgotten n1 by now; the nonce's own age is what refuses it.
	if ok, err := guard.Consume(ctx, n1, time.Minute); err != nil || !ok {
		t.Fatalf("expected guard entry expired: ok=%v err=%v", ok, err)
	}
}

func TestCompleteLogin_UnspentNonceExpires(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, acceptA, WithClock(func() time.Time { return now }))

	start, err := f.coord.BeginLogin("")
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	now = now.Add(f.coord.cfg.NonceTTL)

	_, err = f.coord.CompleteLogin(context.Background(), CompleteInput{Artifact: "a", ReturnedState: start.Nonce, RememberedNonce: start.Nonce})
	if !errors.Is(err, ErrCSRFMismatch) {
		t.Fatalf("expected ErrCSRFMismatch at NonceTTL, got %v", err)
	}
	if f.calls.Load() != 0 {
		t.Fatalf("provider must not be called for an expired nonce")
	}
}

func TestCompleteLogin_RejectsNonceFromAnotherKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, acceptA, WithNonceKey([]byte(strings.Repeat("n", NonceBytes))))
	other := newFixture(t, acceptA, WithNonceKey([]byte(strings.Repeat("m", NonceBytes))))

	start, err := other.coord.BeginLogin("")
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	_, err = f.coord.CompleteLogin(ctx, CompleteInput{Artifact: "a", ReturnedState: start.Nonce, RememberedNonce: start.Nonce})
	if !errors.Is(err, ErrCSRFMismatch) {
		t.Fatalf("expected ErrCSRFMismatch for foreign nonce, got %v", err)
	}

	// Same key in another process: accepted.
	shared := newFixture(t, acceptA, WithNonceKey([]byte(strings.Repeat("m", NonceBytes))))
	if _, err := shared.coord.CompleteLogin(ctx, CompleteInput{Artifact: "a", ReturnedState: start.Nonce, RememberedNonce: start.Nonce}); err != nil {
		t.Fatalf("expected nonce accepted under the shared key, got %v", err)
	}
}

func TestCompleteLogin_MissingArtifact(t *testing.T) {
	t.Parallel()

	f := newFixture(t, acceptA)
	start, err := f.coord.BeginLogin("")
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}

	_, err = f.coord.CompleteLogin(context.Background(), CompleteInput{Artifact: " ", ReturnedState: start.Nonce, RememberedNonce: start.Nonce})
	if !errors.Is(err, ErrMissingArtifact) {
		t.Fatalf("expected ErrMissingArtifact, got %v", err)
	}
	if f.calls.Load() != 0 {
		t.Fatalf("provider must not be called without an artifact")
	}
}

func TestCompleteLogin_ProviderRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, acceptA)
	start, err := f.coord.BeginLogin("")
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}

	_, err = f.coord.CompleteLogin(context.Background(), CompleteInput{Artifact: "b", ReturnedState: start.Nonce, RememberedNonce: start.Nonce})
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
	if n := sessionsFor(t, f.store, "u42"); n != 0 {
		t.Fatalf("expected zero sessions, got %d", n)
	}
}

func TestCompleteLogin_ProviderIdentityWithoutSubject(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(calls *atomic.Int32) Provider {
		return ProviderFunc(func(ctx context.Context, artifact string) (Identity, error) {
			return Identity{DisplayName: "nobody"}, nil
		})
	})
	start, _ := f.coord.BeginLogin("")

	_, err := f.coord.CompleteLogin(context.Background(), CompleteInput{Artifact: "a", ReturnedState: start.Nonce, RememberedNonce: start.Nonce})
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
}

func TestCompleteLogin_ProviderTimeoutIsBounded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(calls *atomic.Int32) Provider {
		return ProviderFunc(func(ctx context.Context, artifact string) (Identity, error) {
			<-ctx.Done()
			return Identity{}, ctx.Err()
		})
	})
	f.coord.cfg.ProviderTimeout = 20 * time.Millisecond

	start, _ := f.coord.BeginLogin("")

	began := time.Now()
	_, err := f.coord.CompleteLogin(context.Background(), CompleteInput{Artifact: "a", ReturnedState: start.Nonce, RememberedNonce: start.Nonce})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if elapsed := time.Since(began); elapsed > 2*time.Second {
		t.Fatalf("exchange was not bounded: %v", elapsed)
	}
}

type failingReplay struct{}

func (failingReplay) Consume(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestCompleteLogin_ReplayGuardOutageFailsClosed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, acceptA, WithReplayGuard(failingReplay{}))
	start, _ := f.coord.BeginLogin("")

	if _, err := f.coord.CompleteLogin(context.Background(), CompleteInput{Artifact: "a", ReturnedState: start.Nonce, RememberedNonce: start.Nonce}); err == nil {
		t.Fatalf("expected error when the replay guard is unavailable")
	}
	if n := sessionsFor(t, f.store, "u42"); n != 0 {
		t.Fatalf("expected zero sessions, got %d", n)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		StateStart:            "start",
		StateAwaitingProvider: "awaiting_provider",
		StateAwaitingCallback: "awaiting_callback",
		StateAuthenticated:    "authenticated",
		StateFailed:           "failed",
		State(99):             "unknown",
	} {
		if s.String() != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
	if !StateFailed.Terminal() || StateAwaitingCallback.Terminal() {
		t.Fatalf("unexpected Terminal()")
	}
}
