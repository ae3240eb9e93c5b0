package authapi

import (
	"context"
	"encoding/json"
	"net"
	"strings"
)

func (h *Handler) auditSSOFailed(ctx context.Context, ip net.IP, ua string, shape string, reason string) {
	h.insertAudit(ctx, "auth.sso.failed", nil, nil, ip, ua, map[string]any{
		"shape":  shape,
		"reason": reason,
	})
}

func (h *Handler) auditSSOSuccess(ctx context.Context, userID string, sessionID string, ip net.IP, ua string, shape string) {
	h.insertAudit(ctx, "auth.sso.success", &userID, &sessionID, ip, ua, map[string]any{
		"shape": shape,
	})
}

func (h *Handler) auditSSORateLimited(ctx context.Context, ip net.IP, ua string, shape string) {
	h.insertAudit(ctx, "auth.sso.rate_limited", nil, nil, ip, ua, map[string]any{
		"shape": shape,
	})
}

func (h *Handler) auditLogout(ctx context.Context, userID string, sessionID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.logout", &userID, &sessionID, ip, ua, nil)
}

func (h *Handler) auditLogoutAll(ctx context.Context, userID string, revoked int64, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.logout_all", &userID, nil, ip, ua, map[string]any{
		"revoked": revoked,
	})
}

func (h *Handler) auditAdminDisconnect(ctx context.Context, adminID string, targetID string, revoked int64, closed int, ip net.IP, ua string) {
	h.insertAudit(ctx, "admin.user.disconnect", &adminID, nil, ip, ua, map[string]any{
		"target_user_id":     targetID,
		"revoked_sessions":   revoked,
		"closed_connections": closed,
	})
}

func (h *Handler) insertAudit(ctx context.Context, action string, userID *string, sessionID *string, ip net.IP, ua string, meta map[string]any) {
	if h == nil || h.pool == nil {
		return
	}

	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	var ipVal any
	if ip != nil {
		ipVal = ip.String()
	}

	var metaVal *string
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	// The request may already be finished; the row should still land.
	_, err := h.pool.Exec(context.WithoutCancel(ctx), `
		INSERT INTO localchat.audit_log (
			user_id, session_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, now(), $4, $5, $6::jsonb)
	`, userID, sessionID, action, ipVal, trimOrNil(ua), metaVal)
	if err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
