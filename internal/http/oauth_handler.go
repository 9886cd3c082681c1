package http

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gatehouse/internal/identity"
)

// oauthStatePayload holds the CSRF state and optional redirect path.
type oauthStatePayload struct {
	State      string `json:"s"`
	RedirectTo string `json:"r,omitempty"`
}

// isValidRedirectPath validates that a path is a safe relative redirect.
// It prevents open redirect attacks by ensuring the path:
// - Starts with a single "/" (not "//")
// - Has no scheme or host component
// - Cannot be bypassed via URL encoding
func isValidRedirectPath(path string) bool {
	if path == "" {
		return false
	}

	// Decode to catch encoded bypass attempts like /%2f%2f
	decoded, err := url.QueryUnescape(path)
	if err != nil {
		return false
	}

	// Must start with / but not //
	if !strings.HasPrefix(decoded, "/") || strings.HasPrefix(decoded, "//") {
		return false
	}

	// Parse as URL to ensure no scheme or host
	parsed, err := url.Parse(decoded)
	if err != nil {
		return false
	}

	// Reject if it has a scheme or host (would be absolute URL)
	if parsed.Scheme != "" || parsed.Host != "" {
		return false
	}

	return true
}

const (
	oauthStateCookieName = "gatehouse_oauth_state"
	oauthStateCookieTTL  = 10 * time.Minute
)

type googleAuthenticator interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*identity.IDClaims, error)
}

// OAuthHandler handles the Google sign-in endpoints.
type OAuthHandler struct {
	google       googleAuthenticator
	svc          *identity.Service
	cookies      cookieWriter
	logger       *slog.Logger
	secureCookie bool
	siteURL      string
}

// NewOAuthHandler creates a new OAuthHandler.
func NewOAuthHandler(google googleAuthenticator, svc *identity.Service, cookies cookieWriter, siteURL, env string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		google:       google,
		svc:          svc,
		cookies:      cookies,
		logger:       logger,
		secureCookie: !strings.EqualFold(env, "development"),
		siteURL:      strings.TrimSuffix(siteURL, "/"),
	}
}

// InitiateGoogle handles GET /api/auth/google
// Redirects the user to Google's OAuth consent screen.
func (h *OAuthHandler) InitiateGoogle(w http.ResponseWriter, r *http.Request) {
	state, err := identity.GenerateState()
	if err != nil {
		h.logger.Error("failed to generate state", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Store state in cookie for CSRF protection
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    state,
		Path:     "/api/auth",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(oauthStateCookieTTL.Seconds()),
	})

	// Preserve redirectTo query param in state payload
	redirectTo := r.URL.Query().Get("redirectTo")
	payload := oauthStatePayload{State: state}
	if redirectTo != "" && isValidRedirectPath(redirectTo) {
		payload.RedirectTo = redirectTo
	}

	// Encode state as base64 JSON to avoid delimiter issues
	stateJSON, _ := json.Marshal(payload)
	fullState := base64.RawURLEncoding.EncodeToString(stateJSON)

	authURL := h.google.AuthURL(fullState)
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// CallbackGoogle handles GET /api/auth/google/callback
// Exchanges the authorization code for tokens, provisions the account, and
// sets the session cookies.
func (h *OAuthHandler) CallbackGoogle(w http.ResponseWriter, r *http.Request) {
	// Verify state (CSRF protection)
	stateCookie, err := r.Cookie(oauthStateCookieName)
	if err != nil {
		h.logger.Warn("oauth callback: missing state cookie")
		h.redirectWithError(w, r, "invalid_request")
		return
	}

	stateParam := r.URL.Query().Get("state")
	expectedState := stateCookie.Value
	redirectTo := "/"

	// Decode base64 JSON state payload
	stateBytes, err := base64.RawURLEncoding.DecodeString(stateParam)
	if err != nil {
		h.logger.Warn("oauth callback: invalid state encoding")
		h.redirectWithError(w, r, "invalid_request")
		return
	}

	var statePayload oauthStatePayload
	if err := json.Unmarshal(stateBytes, &statePayload); err != nil {
		h.logger.Warn("oauth callback: invalid state JSON")
		h.redirectWithError(w, r, "invalid_request")
		return
	}

	if statePayload.RedirectTo != "" && isValidRedirectPath(statePayload.RedirectTo) {
		redirectTo = statePayload.RedirectTo
	}

	if subtle.ConstantTimeCompare([]byte(statePayload.State), []byte(expectedState)) != 1 {
		h.logger.Warn("oauth callback: state mismatch")
		h.redirectWithError(w, r, "invalid_request")
		return
	}

	// Clear state cookie
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    "",
		Path:     "/api/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
	})

	// Check for OAuth error from Google
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Warn("oauth callback: provider error", "error", errParam)
		h.redirectWithError(w, r, errParam)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.redirectWithError(w, r, "invalid_request")
		return
	}

	claims, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth callback: exchange failed", "error", err)
		h.redirectWithError(w, r, "exchange_error")
		return
	}

	if !claims.EmailVerified {
		h.logger.Warn("oauth callback: email not verified", "email", claims.Email)
		h.redirectWithError(w, r, "email_not_verified")
		return
	}

	result, err := h.svc.SignInWithIDClaims(r.Context(), claims.Email, claims.GivenName, claims.FamilyName, r.UserAgent(), clientIPFromRequest(r))
	if err != nil {
		h.logger.Error("oauth callback: sign-in failed", "error", err)
		h.redirectWithError(w, r, "internal_error")
		return
	}

	h.cookies.setPair(w, result.Pair)
	h.logger.Info("oauth login successful", "user_id", result.User.ID, "email", result.User.Email)

	http.Redirect(w, r, h.siteURL+redirectTo, http.StatusTemporaryRedirect)
}

// redirectWithError redirects to the login page with an error code.
func (h *OAuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, code string) {
	target := h.siteURL + "/auth/login?error=" + url.QueryEscape(code)
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}
