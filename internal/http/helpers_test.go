package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"gatehouse/internal/activity"
	"gatehouse/internal/admin"
	"gatehouse/internal/config"
	"gatehouse/internal/identity"
	"gatehouse/internal/ratelimit"
	"gatehouse/internal/tabs"
)

type mailMessage struct {
	To      string
	Subject string
	Body    string
}

type mailerStub struct {
	mu       sync.Mutex
	messages []mailMessage
}

func (m *mailerStub) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, mailMessage{To: to, Subject: subject, Body: body})
	return nil
}

func (m *mailerStub) last(t *testing.T) mailMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		t.Fatal("no mail sent")
	}
	return m.messages[len(m.messages)-1]
}

type testEnv struct {
	handler http.Handler
	mailer  *mailerStub
	repo    *identity.MemoryRepository
	svc     *identity.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := identity.NewMemoryRepository()
	mailer := &mailerStub{}

	svc := identity.NewService(repo, mailer, identity.Config{
		Secret:  []byte("test-secret"),
		SiteURL: "http://localhost:8080",
	}, logger)

	adminSvc := admin.NewService(repo, admin.NewMemorySettingsRepository(), logger)
	registry := tabs.NewRegistry(tabs.NewMemoryStore(), logger)

	cfg := config.Config{
		Environment:    "development",
		AllowedOrigins: []string{"http://localhost:8080"},
		SiteURL:        "http://localhost:8080",
		SessionTTL:     12 * time.Hour,
	}

	handler := NewRouter(cfg, Deps{
		Identity: svc,
		Admin:    adminSvc,
		Registry: registry,
		Policy:   activity.DefaultPolicy(),
		Limiter:  ratelimit.NewLimiter(2, time.Minute),
	}, logger)

	return &testEnv{handler: handler, mailer: mailer, repo: repo, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookies []*http.Cookie, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return payload
}

var linkPattern = regexp.MustCompile(`https?://\S+`)

// confirmationLinks extracts the code link and the token_hash fallback from
// the most recent confirmation mail.
func confirmationLinks(t *testing.T, msg mailMessage) (codeLink, otpLink *url.URL) {
	t.Helper()
	matches := linkPattern.FindAllString(msg.Body, -1)
	for _, match := range matches {
		parsed, err := url.Parse(match)
		if err != nil {
			continue
		}
		if parsed.Query().Get("code") != "" {
			codeLink = parsed
		}
		if parsed.Query().Get("token_hash") != "" {
			otpLink = parsed
		}
	}
	if codeLink == nil || otpLink == nil {
		t.Fatalf("confirmation mail missing links:\n%s", msg.Body)
	}
	return codeLink, otpLink
}

// signUpUser registers an account through the API and returns the
// confirmation mail.
func (e *testEnv) signUpUser(t *testing.T, email, password string) mailMessage {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/signup", map[string]string{
		"email":      email,
		"password":   password,
		"first_name": "Test",
	}, nil, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup returned %d: %s", rec.Code, rec.Body.String())
	}
	return e.mailer.last(t)
}

// confirmedUserCookies signs up and confirms an account, returning the
// session cookies issued by the confirmation redirect.
func (e *testEnv) confirmedUserCookies(t *testing.T, email, password string) []*http.Cookie {
	t.Helper()
	msg := e.signUpUser(t, email, password)
	codeLink, _ := confirmationLinks(t, msg)

	rec := e.do(t, http.MethodGet, codeLink.RequestURI(), nil, nil, nil)
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("confirmation returned %d", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/" {
		t.Fatalf("expected redirect to root, got %q", got)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected session cookies from confirmation")
	}
	return cookies
}

// promote changes a user's role directly in the repository.
func (e *testEnv) promote(t *testing.T, email, roleName string) {
	t.Helper()
	ctx := context.Background()
	user, err := e.repo.FindUserByEmail(ctx, email)
	if err != nil || user == nil {
		t.Fatalf("finding user %q: %v", email, err)
	}
	role, err := e.repo.FindRoleByName(ctx, roleName)
	if err != nil {
		t.Fatalf("finding role %q: %v", roleName, err)
	}
	if _, err := e.repo.UpdateUser(ctx, user.ID, identity.UserUpdate{RoleID: &role.ID}); err != nil {
		t.Fatalf("promoting user: %v", err)
	}
}

func (e *testEnv) userID(t *testing.T, email string) uuid.UUID {
	t.Helper()
	user, err := e.repo.FindUserByEmail(context.Background(), email)
	if err != nil || user == nil {
		t.Fatalf("finding user %q: %v", email, err)
	}
	return user.ID
}
