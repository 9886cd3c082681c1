package http

import (
	"errors"
	"log/slog"
	"net/http"

	"gatehouse/internal/confirm"
	"gatehouse/internal/identity"
)

// ConfirmHandler terminates email confirmation links and bridges freshly
// verified sessions into cookies.
type ConfirmHandler struct {
	svc     *identity.Service
	cookies cookieWriter
	logger  *slog.Logger
}

// NewConfirmHandler creates a handler.
func NewConfirmHandler(svc *identity.Service, cookies cookieWriter, logger *slog.Logger) *ConfirmHandler {
	return &ConfirmHandler{svc: svc, cookies: cookies, logger: logger}
}

// Redirect handles GET /auth/confirm. The link parameters resolve to exactly
// one navigation outcome; a session established along the way is written as
// cookies before the redirect.
func (h *ConfirmHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	params := confirm.ParseParams(r.URL.Query())
	outcome := confirm.Resolve(r.Context(), h.svc, params)

	if outcome.Pair != nil {
		h.cookies.setPair(w, *outcome.Pair)
	}
	http.Redirect(w, r, outcome.RedirectURL(), http.StatusTemporaryRedirect)
}

// Bootstrap handles POST /api/auth/confirm. A client that received a token
// pair through a non-cookie channel posts it here so server-rendered
// requests see the session.
func (h *ConfirmHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}

	if payload.AccessToken == "" || payload.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": codeMissingTokens})
		return
	}

	result, err := h.svc.SetSession(r.Context(), payload.AccessToken, payload.RefreshToken)
	if err != nil {
		if !errors.Is(err, identity.ErrInvalidGrant) && !errors.Is(err, identity.ErrInvalidToken) && !errors.Is(err, identity.ErrSessionRevoked) {
			h.logger.Error("session bootstrap failed", "error", err)
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "invalid session tokens"})
		return
	}

	h.cookies.setPair(w, result.Pair)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
