package http

import (
	"net/http"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if payload := decodeBody(t, rec); payload["status"] != "ok" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil, nil, nil)
	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for name, want := range headers {
		if got := rec.Header().Get(name); got != want {
			t.Fatalf("expected %s=%q, got %q", name, want, got)
		}
	}
	// HSTS is only set outside development.
	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("expected no HSTS in development, got %q", got)
	}
}

func TestAuthMiddlewareRejectsGarbageCookies(t *testing.T) {
	env := newTestEnv(t)

	cookies := []*http.Cookie{
		{Name: accessCookieName, Value: "garbage"},
		{Name: refreshCookieName, Value: "garbage"},
	}
	rec := env.do(t, http.MethodGet, "/api/session", nil, cookies, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminRoutesRequireElevatedRole(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.confirmedUserCookies(t, "ordinary@example.com", "Str0ngPassw0rd")

	rec := env.do(t, http.MethodGet, "/api/admin/users", nil, cookies, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for plain user, got %d", rec.Code)
	}

	env.promote(t, "ordinary@example.com", "manager")
	rec = env.do(t, http.MethodGet, "/api/admin/users", nil, cookies, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for manager, got %d: %s", rec.Code, rec.Body.String())
	}
}
