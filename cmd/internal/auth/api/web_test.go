package authapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNonceCookie_SetAndTake(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	h := &Handler{cfg: testAPIConfig(), now: func() time.Time { return now }}

	rr := httptest.NewRecorder()
	h.setNonceCookie(rr, "nonce-123", 10*time.Minute)

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != "localchat_sso_nonce" || c.Value != "nonce-123" || !c.HttpOnly || !c.Secure || c.Path != "/auth/sso" {
		t.Fatalf("unexpected cookie: %+v", c)
	}
	if c.MaxAge != 600 || c.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected lifetime/samesite: %+v", c)
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/sso/callback", nil)
	req.AddCookie(&http.Cookie{Name: c.Name, Value: "nonce-123"})
	rr = httptest.NewRecorder()
	if got := h.takeNonceCookie(rr, req); got != "nonce-123" {
		t.Fatalf("takeNonceCookie=%q", got)
	}
	expired := rr.Result().Cookies()
	if len(expired) != 1 || expired[0].MaxAge >= 0 {
		t.Fatalf("expected the cookie to be expired: %+v", expired)
	}

	rr = httptest.NewRecorder()
	if got := h.takeNonceCookie(rr, httptest.NewRequest(http.MethodGet, "/", nil)); got != "" {
		t.Fatalf("missing cookie should read empty, got %q", got)
	}
	if len(rr.Result().Cookies()) != 1 {
		t.Fatalf("cookie must be expired even when absent")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
	}
	for _, tc := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		if got := bearerToken(r); got != tc.want {
			t.Fatalf("bearerToken(%q)=%q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.7:5555"
	r.Header.Set("X-Forwarded-For", "garbage, 203.0.113.9, 10.0.0.1")
	r.Header.Set("X-Real-IP", "203.0.113.10")

	if got := clientIP(r, false); got.String() != "198.51.100.7" {
		t.Fatalf("untrusted proxy headers must be ignored, got %v", got)
	}
	if got := clientIP(r, true); got.String() != "203.0.113.9" {
		t.Fatalf("expected first valid forwarded address, got %v", got)
	}

	r.Header.Del("X-Forwarded-For")
	if got := clientIP(r, true); got.String() != "203.0.113.10" {
		t.Fatalf("expected X-Real-IP, got %v", got)
	}
}

func TestSecureStringEqual(t *testing.T) {
	if !secureStringEqual("abc", "abc") {
		t.Fatalf("equal strings must match")
	}
	for _, pair := range [][2]string{{"abc", "abd"}, {"abc", "ab"}, {"", ""}} {
		if secureStringEqual(pair[0], pair[1]) {
			t.Fatalf("%q vs %q must not match", pair[0], pair[1])
		}
	}
}
