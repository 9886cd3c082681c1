package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gatehouse/internal/identity"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func newSlogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			duration := time.Since(start)
			logger.Info("http request", "method", r.Method, "path", r.URL.Path, "status", recorder.status, "duration", duration.String())
		})
	}
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const authContextKey contextKey = "auth"

// AuthInfo carries the authenticated user and session through the request
// context.
type AuthInfo struct {
	User    *identity.User
	Session *identity.Session
}

// AuthFromContext extracts the authenticated user and session. Returns nil
// if the auth middleware hasn't populated the context.
func AuthFromContext(ctx context.Context) *AuthInfo {
	info, _ := ctx.Value(authContextKey).(*AuthInfo)
	return info
}

func newAuthMiddleware(svc *identity.Service, cookies cookieWriter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access := cookieValue(r, accessCookieName)
			refresh := cookieValue(r, refreshCookieName)
			if access == "" && refresh == "" {
				unauthorized(w)
				return
			}

			result, err := svc.Authenticate(r.Context(), access, refresh)
			if err != nil {
				if errors.Is(err, identity.ErrSessionRevoked) && result != nil {
					cookies.clear(w)
					revokedSession(w, result.Session.RevokeReason)
					return
				}
				if !errors.Is(err, identity.ErrInvalidToken) && !errors.Is(err, identity.ErrExpiredToken) && !errors.Is(err, identity.ErrInvalidGrant) {
					logger.Error("authentication error", "error", err)
				}
				cookies.clear(w)
				unauthorized(w)
				return
			}

			// A non-empty pair means the expired access token was refreshed.
			if result.Pair.AccessToken != "" {
				cookies.setPair(w, result.Pair)
			}

			// Activity is not recorded for auth pages themselves, so sitting
			// on the login screen cannot keep a session alive.
			if !strings.HasPrefix(r.URL.Path, "/auth/") && !strings.HasPrefix(r.URL.Path, "/api/auth/") {
				if err := svc.Touch(r.Context(), result.Session.ID); err != nil {
					logger.Warn("recording session activity failed", "error", err)
				}
			}

			info := &AuthInfo{User: result.User, Session: result.Session}
			ctx := context.WithValue(r.Context(), authContextKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := AuthFromContext(r.Context())
			if info == nil {
				unauthorized(w)
				return
			}
			if !allowed[info.User.RoleName] {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "authentication required")
}

// revokedSession tells the client its session was ended server-side and
// where to land, carrying the revocation reason as the banner message code.
func revokedSession(w http.ResponseWriter, reason string) {
	if reason == "" {
		reason = identity.ReasonSessionExpired
	}
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"error":    "session_revoked",
		"redirect": "/auth/login?message=" + url.QueryEscape(reason),
	})
}

func newSecurityHeadersMiddleware(environment string) func(http.Handler) http.Handler {
	isDev := strings.EqualFold(environment, "development")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-XSS-Protection", "1; mode=block")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Permissions-Policy", "geolocation=(), camera=(), microphone=()")

			if !isDev {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
