package http

import (
	"net/http"
	"time"

	"gatehouse/internal/identity"
)

const (
	accessCookieName  = "gatehouse_access"
	refreshCookieName = "gatehouse_refresh"
)

// cookieWriter issues and clears the session cookie pair.
type cookieWriter struct {
	secure     bool
	refreshTTL time.Duration
}

func newCookieWriter(env string, refreshTTL time.Duration) cookieWriter {
	return cookieWriter{secure: env != "development", refreshTTL: refreshTTL}
}

func (c cookieWriter) setPair(w http.ResponseWriter, pair identity.TokenPair) {
	http.SetCookie(w, c.cookie(accessCookieName, pair.AccessToken, time.Until(pair.ExpiresAt)))
	http.SetCookie(w, c.cookie(refreshCookieName, pair.RefreshToken, c.refreshTTL))
}

func (c cookieWriter) clear(w http.ResponseWriter) {
	for _, name := range []string{accessCookieName, refreshCookieName} {
		cleared := c.cookie(name, "", 0)
		cleared.MaxAge = -1
		cleared.Expires = time.Unix(0, 0)
		http.SetCookie(w, cleared)
	}
}

func (c cookieWriter) cookie(name, value string, ttl time.Duration) *http.Cookie {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.secure,
	}
	if ttl > 0 {
		cookie.MaxAge = int(ttl.Seconds())
		cookie.Expires = time.Now().Add(ttl)
	}
	return cookie
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
