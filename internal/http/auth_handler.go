package http

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"gatehouse/internal/identity"
	"gatehouse/internal/ratelimit"
)

// Error codes returned by the abuse-prone endpoints. Clients key banner text
// off these values.
const (
	codeRateLimited    = "AUTH_RATE_LIMITED"
	codeMissingEmail   = "VALIDATION_MISSING_EMAIL"
	codeInvalidEmail   = "VALIDATION_INVALID_EMAIL"
	codeMissingTokens  = "VALIDATION_MISSING_TOKENS"
	codeNotConfirmed   = "AUTH_EMAIL_NOT_CONFIRMED"
	codeBadCredentials = "AUTH_INVALID_CREDENTIALS"
)

// AuthHandler exposes the credential endpoints: signup, login, confirmation
// resend, and password management.
type AuthHandler struct {
	svc     *identity.Service
	limiter *ratelimit.Limiter
	cookies cookieWriter
	logger  *slog.Logger
}

// NewAuthHandler creates a handler.
func NewAuthHandler(svc *identity.Service, limiter *ratelimit.Limiter, cookies cookieWriter, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, limiter: limiter, cookies: cookies, logger: logger}
}

// SignUp registers an unconfirmed account and sends the confirmation mail.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email         string `json:"email"`
		Password      string `json:"password"`
		FirstName     string `json:"first_name"`
		LastName      string `json:"last_name"`
		CodeChallenge string `json:"code_challenge"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}

	user, err := h.svc.SignUp(r.Context(), payload.Email, payload.Password, payload.FirstName, payload.LastName, payload.CodeChallenge)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "user": user})
}

// Login authenticates with email and password and sets the session cookies.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}

	result, err := h.svc.SignInWithPassword(r.Context(), payload.Email, payload.Password, r.UserAgent(), clientIPFromRequest(r))
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, codeBadCredentials)
		case errors.Is(err, identity.ErrEmailNotConfirmed):
			writeError(w, http.StatusForbidden, codeNotConfirmed)
		default:
			handleServiceError(w, err, h.logger)
		}
		return
	}

	h.cookies.setPair(w, result.Pair)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": result.User})
}

// ResendConfirmation re-issues the confirmation mail. Always answers ok for
// well-formed requests so account existence cannot be probed.
func (h *AuthHandler) ResendConfirmation(w http.ResponseWriter, r *http.Request) {
	email, ok := h.rateLimitedEmail(w, r)
	if !ok {
		return
	}

	if err := h.svc.Resend(r.Context(), email); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ResetPassword sends a recovery link. Silent for unknown addresses.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	email, ok := h.rateLimitedEmail(w, r)
	if !ok {
		return
	}

	if err := h.svc.ResetPasswordForEmail(r.Context(), email); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// UpdatePassword changes the authenticated user's password. Every other
// session is revoked; the current one stays signed in.
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	info := AuthFromContext(r.Context())
	if info == nil {
		unauthorized(w)
		return
	}

	var payload struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}

	if err := h.svc.UpdatePassword(r.Context(), info.User.ID, info.Session.ID, payload.Password); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// rateLimitedEmail validates and rate limits the email field shared by the
// resend and reset endpoints.
func (h *AuthHandler) rateLimitedEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	var payload struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeDecodeError(w, err)
		return "", false
	}

	if strings.TrimSpace(payload.Email) == "" {
		writeError(w, http.StatusBadRequest, codeMissingEmail)
		return "", false
	}
	email, err := identity.NormalizeEmail(payload.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidEmail)
		return "", false
	}

	if ok, retryAfter := h.limiter.Allow(email); !ok {
		seconds := int(math.Ceil(retryAfter.Seconds()))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       codeRateLimited,
			"retry_after": seconds,
		})
		return "", false
	}
	return email, true
}
