package http

import (
	"net/http"
	"strings"
	"testing"
)

func TestSignUpThenLoginBeforeConfirmation(t *testing.T) {
	env := newTestEnv(t)

	env.signUpUser(t, "pending@example.com", "Str0ngPassw0rd")

	rec := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "pending@example.com",
		"password": "Str0ngPassw0rd",
	}, nil, nil)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 before confirmation, got %d", rec.Code)
	}
	if payload := decodeBody(t, rec); payload["error"] != codeNotConfirmed {
		t.Fatalf("expected %s, got %v", codeNotConfirmed, payload["error"])
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.signUpUser(t, "dup@example.com", "Str0ngPassw0rd")

	rec := env.do(t, http.MethodPost, "/api/auth/signup", map[string]string{
		"email":    "dup@example.com",
		"password": "Str0ngPassw0rd",
	}, nil, nil)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestConfirmationRedirectSignsIn(t *testing.T) {
	env := newTestEnv(t)

	cookies := env.confirmedUserCookies(t, "fresh@example.com", "Str0ngPassw0rd")

	rec := env.do(t, http.MethodGet, "/api/session", nil, cookies, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected authenticated status, got %d: %s", rec.Code, rec.Body.String())
	}
	if payload := decodeBody(t, rec); payload["authenticated"] != true {
		t.Fatalf("expected authenticated true, got %v", payload)
	}
}

func TestConfirmationReplayLandsOnEmailConfirmed(t *testing.T) {
	env := newTestEnv(t)

	msg := env.signUpUser(t, "replay@example.com", "Str0ngPassw0rd")
	codeLink, _ := confirmationLinks(t, msg)

	first := env.do(t, http.MethodGet, codeLink.RequestURI(), nil, nil, nil)
	if first.Code != http.StatusTemporaryRedirect || first.Header().Get("Location") != "/" {
		t.Fatalf("first visit should sign in, got %d %q", first.Code, first.Header().Get("Location"))
	}

	second := env.do(t, http.MethodGet, codeLink.RequestURI(), nil, nil, nil)
	if second.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected redirect on replay, got %d", second.Code)
	}
	if got := second.Header().Get("Location"); got != "/auth/login?message=email_confirmed" {
		t.Fatalf("expected email_confirmed redirect, got %q", got)
	}
	if len(second.Result().Cookies()) != 0 {
		t.Fatal("replay must not issue session cookies")
	}
}

func TestLoginAfterConfirmation(t *testing.T) {
	env := newTestEnv(t)
	env.confirmedUserCookies(t, "member@example.com", "Str0ngPassw0rd")

	rec := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "Member@Example.com",
		"password": "Str0ngPassw0rd",
	}, nil, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var hasAccess, hasRefresh bool
	for _, cookie := range rec.Result().Cookies() {
		switch cookie.Name {
		case accessCookieName:
			hasAccess = cookie.Value != ""
		case refreshCookieName:
			hasRefresh = cookie.Value != ""
		}
	}
	if !hasAccess || !hasRefresh {
		t.Fatal("expected both session cookies on login")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.confirmedUserCookies(t, "member@example.com", "Str0ngPassw0rd")

	rec := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "member@example.com",
		"password": "WrongPassw0rd",
	}, nil, nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if payload := decodeBody(t, rec); payload["error"] != codeBadCredentials {
		t.Fatalf("expected %s, got %v", codeBadCredentials, payload["error"])
	}
}

func TestResendValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/resend-confirmation", map[string]string{}, nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing email, got %d", rec.Code)
	}
	if payload := decodeBody(t, rec); payload["error"] != codeMissingEmail {
		t.Fatalf("expected %s, got %v", codeMissingEmail, payload["error"])
	}

	rec = env.do(t, http.MethodPost, "/api/auth/resend-confirmation", map[string]string{"email": "not an address"}, nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid email, got %d", rec.Code)
	}
	if payload := decodeBody(t, rec); payload["error"] != codeInvalidEmail {
		t.Fatalf("expected %s, got %v", codeInvalidEmail, payload["error"])
	}
}

func TestResendRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.signUpUser(t, "eager@example.com", "Str0ngPassw0rd")

	body := map[string]string{"email": "eager@example.com"}
	// The test limiter allows two requests per window.
	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/api/auth/resend-confirmation", body, nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := env.do(t, http.MethodPost, "/api/auth/resend-confirmation", body, nil, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	if payload["error"] != codeRateLimited {
		t.Fatalf("expected %s, got %v", codeRateLimited, payload["error"])
	}
	if _, ok := payload["retry_after"]; !ok {
		t.Fatal("expected retry_after hint")
	}
}

func TestResendDoesNotRevealAccounts(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/resend-confirmation", map[string]string{"email": "ghost@example.com"}, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown account, got %d", rec.Code)
	}
}

func TestResetPasswordFlow(t *testing.T) {
	env := newTestEnv(t)
	env.confirmedUserCookies(t, "forgetful@example.com", "Str0ngPassw0rd")

	rec := env.do(t, http.MethodPost, "/api/auth/reset-password", map[string]string{"email": "forgetful@example.com"}, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	msg := env.mailer.last(t)
	if !strings.Contains(msg.Body, "type=recovery") {
		t.Fatalf("expected recovery link in mail body:\n%s", msg.Body)
	}
}

func TestUpdatePasswordRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/update-password", map[string]string{"password": "NewPassw0rd"}, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestUpdatePasswordKeepsCurrentSession(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.confirmedUserCookies(t, "rotator@example.com", "Str0ngPassw0rd")

	rec := env.do(t, http.MethodPost, "/api/auth/update-password", map[string]string{"password": "N3wStr0ngPass"}, cookies, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// The session that changed the password survives.
	rec = env.do(t, http.MethodGet, "/api/session", nil, cookies, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected current session to survive, got %d", rec.Code)
	}

	// The new password works for a fresh login.
	rec = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "rotator@example.com",
		"password": "N3wStr0ngPass",
	}, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected login with new password, got %d", rec.Code)
	}
}
