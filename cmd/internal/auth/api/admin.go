package authapi

import (
	"net/http"
	"strings"
)

// handleAdminDisconnect revokes every session of a user and closes their live connections.
func (h *Handler) handleAdminDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	if !h.cfg.IsAdmin(claims.SubjectID) {
		h.log.Warn("admin.forbidden", "owner_id", claims.SubjectID, "path", r.URL.Path)
		writeError(w, http.StatusForbidden, "forbidden", "admin only")
		return
	}

	target := strings.TrimSpace(r.PathValue("id"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "invalid_user_id", "user id is required")
		return
	}

	ctx := r.Context()

	// Revoke first so a reconnect racing the disconnect cannot authenticate.
	revoked, err := h.sessions.RevokeAll(ctx, h.now(), target, "admin_disconnect")
	if err != nil {
		h.log.Error("admin.disconnect.revoke.fail", "target_user_id", target, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	closed := h.router.Registry().ForceDisconnect(target)

	h.log.Info("admin.disconnect.ok",
		"admin_id", claims.SubjectID,
		"target_user_id", target,
		"revoked_sessions", revoked,
		"closed_connections", closed,
	)
	h.auditAdminDisconnect(ctx, claims.SubjectID, target, revoked, closed, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))

	writeJSON(w, http.StatusOK, disconnectResponse{
		UserID:            target,
		RevokedSessions:   revoked,
		ClosedConnections: closed,
	})
}
