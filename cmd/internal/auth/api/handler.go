package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"localchat/cmd/internal/auth/session"
	"localchat/cmd/internal/auth/sso"
	"localchat/cmd/internal/realtime"
	"localchat/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
)

const codeSigninRequired = "signin_required"

// Handler wires the handshake, session, admin and event routes.
type Handler struct {
	log *slog.Logger
	cfg Config

	// pool is optional; without it audit rows are skipped.
	pool *pgxpool.Pool

	sso      *sso.Coordinator
	sessions *session.Service
	router   *realtime.Router
	throttle *failureThrottle

	now func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithAuditPool enables audit rows in localchat.audit_log.
func WithAuditPool(pool *pgxpool.Pool) HandlerOption {
	return func(h *Handler) {
		if h == nil || pool == nil {
			return
		}
		h.pool = pool
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if h == nil || now == nil {
			return
		}
		h.now = now
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, coord *sso.Coordinator, sessions *session.Service, router *realtime.Router, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if coord == nil || sessions == nil || router == nil {
		return nil, errors.New("authapi: coordinator, sessions and router are required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 16 << 10
	}
	if cfg.EventsMaxBodyBytes <= 0 {
		cfg.EventsMaxBodyBytes = 64 << 10
	}
	if strings.TrimSpace(cfg.NonceCookieName) == "" {
		cfg.NonceCookieName = "localchat_sso_nonce"
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		sso:      coord,
		sessions: sessions,
		router:   router,
		throttle: newFailureThrottle(cfg.FailIPMax, cfg.FailIPWindow),
		now:      time.Now,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	return h, nil
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/auth/sso/begin", h.handleSSOBegin)
	mux.HandleFunc("/auth/sso/login", h.handleSSOLogin)
	mux.HandleFunc("/auth/sso/callback", h.handleSSOCallback)
	mux.HandleFunc("/auth/sso/verify", h.handleSSOVerify)

	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("/auth/me", h.handleMe)

	mux.HandleFunc("/admin/users/{id}/disconnect", h.handleAdminDisconnect)
	mux.HandleFunc("/internal/events", h.handleEvents)
}

// handleSSOBegin serves the client-rendered shape: the browser keeps state itself.
func (h *Handler) handleSSOBegin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	start, err := h.sso.BeginLogin(r.URL.Query().Get("redirect_uri"))
	if err != nil {
		h.writeBeginError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, beginResponse{
		AuthorizationURL: start.AuthorizationURL,
		State:            start.Nonce,
		RedirectURI:      start.RedirectURI,
	})
}

// handleSSOLogin serves the server-side shape: the nonce rides in an HttpOnly cookie.
func (h *Handler) handleSSOLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	start, err := h.sso.BeginLogin(r.URL.Query().Get("redirect_uri"))
	if err != nil {
		h.writeBeginError(w, err)
		return
	}

	h.setNonceCookie(w, start.Nonce, h.sso.Config().NonceTTL)
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, start.AuthorizationURL, http.StatusFound)
}

func (h *Handler) writeBeginError(w http.ResponseWriter, err error) {
	if errors.Is(err, sso.ErrRedirectNotAllowed) {
		writeError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uri is not allowed")
		return
	}
	h.log.Error("auth.sso.begin.fail", "err", err)
	writeError(w, http.StatusInternalServerError, "server_error", "internal error")
}

func (h *Handler) handleSSOCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	q := r.URL.Query()

	// Always spend the cookie, even when the attempt is refused below.
	remembered := h.takeNonceCookie(w, r)
	w.Header().Set("Cache-Control", "no-store")

	if blocked, _ := h.throttle.blocked(ip, h.now()); blocked {
		h.auditSSORateLimited(ctx, ip, ua, "callback")
		http.Redirect(w, r, h.postLoginURL(url.Values{"error": {"rate_limited"}}), http.StatusFound)
		return
	}

	issued, err := h.sso.CompleteLogin(ctx, sso.CompleteInput{
		Artifact:        q.Get("token"),
		ReturnedState:   q.Get("state"),
		RememberedNonce: remembered,
		Client:          session.ClientMeta{IP: ipString(ip), UserAgent: ua},
	})
	if err != nil {
		h.throttle.record(ip, h.now())
		h.auditSSOFailed(ctx, ip, ua, "callback", handshakeFailureReason(err))
		http.Redirect(w, r, h.postLoginURL(url.Values{"error": {codeSigninRequired}}), http.StatusFound)
		return
	}

	h.auditSSOSuccess(ctx, issued.OwnerID, issued.SessionID, ip, ua, "callback")
	http.Redirect(w, r, h.postLoginURL(url.Values{
		"token": {issued.Token},
		"state": {q.Get("state")},
	}), http.StatusFound)
}

func (h *Handler) handleSSOVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req verifyRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	if blocked, retry := h.throttle.blocked(ip, h.now()); blocked {
		h.auditSSORateLimited(ctx, ip, ua, "verify")
		writeRateLimited(w, retry)
		return
	}

	issued, err := h.sso.CompleteLogin(ctx, sso.CompleteInput{
		Artifact:        req.Token,
		ReturnedState:   req.State,
		RememberedNonce: req.ExpectedState,
		Client:          session.ClientMeta{IP: ipString(ip), UserAgent: ua},
	})
	if err != nil {
		h.throttle.record(ip, h.now())
		h.auditSSOFailed(ctx, ip, ua, "verify", handshakeFailureReason(err))
		writeSigninRequired(w)
		return
	}

	h.auditSSOSuccess(ctx, issued.OwnerID, issued.SessionID, ip, ua, "verify")
	writeJSON(w, http.StatusOK, verifyResponse{
		SessionToken: issued.Token,
		SessionID:    issued.SessionID,
		ExpiresAt:    issued.ExpiresAt,
		User:         userResponse{ID: issued.OwnerID, DisplayName: issued.DisplayName},
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.sessions.Revoke(ctx, h.now(), claims.SessionID, "logout"); err != nil {
		h.log.Error("auth.logout.fail", "session_id", claims.SessionID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLogout(ctx, claims.SubjectID, claims.SessionID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	n, err := h.sessions.RevokeAll(ctx, h.now(), claims.SubjectID, "logout_all")
	if err != nil {
		h.log.Error("auth.logout_all.fail", "owner_id", claims.SubjectID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLogoutAll(ctx, claims.SubjectID, n, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	writeJSON(w, http.StatusOK, logoutAllResponse{Revoked: n})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		User:             userResponse{ID: claims.SubjectID, DisplayName: claims.DisplayName},
		SessionID:        claims.SessionID,
		SessionExpiresAt: claims.ExpiresAt,
		Online:           h.router.Registry().IsOnline(claims.SubjectID),
	})
}

// requireAuth validates the bearer session token. Credential problems are all
// reported as signin_required; store outages as 503.
func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (token.Claims, bool) {
	raw := bearerToken(r)
	if raw == "" {
		writeSigninRequired(w)
		return token.Claims{}, false
	}

	claims, err := h.sessions.Validate(r.Context(), raw, h.now())
	if err != nil {
		if session.IsInactive(err) {
			h.log.Info("auth.session.reject", "reason", sessionRejectReason(err))
			writeSigninRequired(w)
			return token.Claims{}, false
		}
		h.log.Error("auth.session.validate.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "try again later")
		return token.Claims{}, false
	}
	return claims, true
}

func (h *Handler) postLoginURL(extra url.Values) string {
	u, err := url.Parse(h.sso.Config().PostLoginURL)
	if err != nil || (u.Scheme == "" && u.Path == "") {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	for k, vs := range extra {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// handshakeFailureReason is logged and audited; it never reaches the user.
func handshakeFailureReason(err error) string {
	switch {
	case errors.Is(err, sso.ErrCSRFMismatch):
		return "csrf_mismatch"
	case errors.Is(err, sso.ErrMissingArtifact):
		return "missing_artifact"
	case errors.Is(err, sso.ErrProviderRejected):
		return "provider_rejected"
	case errors.Is(err, sso.ErrProviderUnavailable):
		return "provider_unavailable"
	default:
		return "error"
	}
}

func sessionRejectReason(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionRevoked):
		return "revoked"
	case errors.Is(err, session.ErrSessionExpired):
		return "expired"
	default:
		return "invalid_token"
	}
}
