package http

import (
	"log/slog"
	"net/http"
	"time"

	"gatehouse/internal/activity"
	"gatehouse/internal/identity"
	"gatehouse/internal/tabs"
)

const tabIDHeader = "X-Tab-ID"

// SessionHandler reports session state, receives activity heartbeats, and
// ends sessions.
type SessionHandler struct {
	svc      *identity.Service
	registry *tabs.Registry
	policy   activity.Policy
	cookies  cookieWriter
	logger   *slog.Logger
}

// NewSessionHandler creates a handler.
func NewSessionHandler(svc *identity.Service, registry *tabs.Registry, policy activity.Policy, cookies cookieWriter, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{svc: svc, registry: registry, policy: policy, cookies: cookies, logger: logger}
}

// Status handles GET /api/session.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	info := AuthFromContext(r.Context())
	if info == nil {
		unauthorized(w)
		return
	}

	state, _ := h.policy.Evaluate(info.Session.LastActivityAt, info.Session.CreatedAt, time.Now())
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          info.User,
		"session": map[string]any{
			"id":               info.Session.ID,
			"created_at":       info.Session.CreatedAt,
			"last_activity_at": info.Session.LastActivityAt,
			"expires_at":       info.Session.ExpiresAt,
			"state":            state,
		},
	})
}

// SignOut handles DELETE /api/session. The optional scope=global query
// revokes every session of the user.
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	info := AuthFromContext(r.Context())
	if info == nil {
		unauthorized(w)
		return
	}

	scope := identity.ScopeLocal
	if r.URL.Query().Get("scope") == identity.ScopeGlobal {
		scope = identity.ScopeGlobal
	}

	if err := h.svc.SignOut(r.Context(), info.Session.ID, scope); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	h.registry.Clear(info.Session.ID.String())
	h.cookies.clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// Heartbeat handles POST /api/session/heartbeat. It records activity and
// runs the reporting tab's auth-state transition through the tab registry.
func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	info := AuthFromContext(r.Context())
	if info == nil {
		unauthorized(w)
		return
	}

	var payload struct {
		Event     string `json:"event"`
		Refreshed bool   `json:"refreshed"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &payload); err != nil {
			writeDecodeError(w, err)
			return
		}
	}

	response := map[string]any{"ok": true}

	// The middleware just touched the session, so the heartbeat itself
	// counts as activity and the window is reported from full.
	now := time.Now()
	state, _ := h.policy.Evaluate(now, info.Session.CreatedAt, now)
	response["state"] = state
	response["remaining_seconds"] = int(h.policy.Remaining(now, now).Seconds())

	if tabID := r.Header.Get(tabIDHeader); tabID != "" && payload.Event != "" {
		sessionKey := info.Session.ID.String()
		if payload.Refreshed {
			// An explicit reload drops the tab's record so the registry
			// sees the refresh signature and lets the tab adopt.
			h.registry.Forget(sessionKey, tabID)
		}
		decision := h.registry.Decide(sessionKey, tabID, tabs.Event(payload.Event))
		response["tab"] = decision
	}

	writeJSON(w, http.StatusOK, response)
}
