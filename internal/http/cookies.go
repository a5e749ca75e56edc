package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/target/streamauth/config"
)

// CookieConfig controls the session cookie attributes.
type CookieConfig struct {
	Name       string
	Domain     string
	Secure     config.CookieSecureMode
	Production bool
}

func (c CookieConfig) name() string {
	if c.Name == "" {
		return "session_token"
	}
	return c.Name
}

// secure reports whether the cookie must carry the Secure attribute for r.
func (c CookieConfig) secure(r *http.Request) bool {
	switch c.Secure {
	case config.CookieSecureAlways:
		return true
	case config.CookieSecureNever:
		return false
	default:
		return c.Production || r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	}
}

// setSessionCookie writes the session cookie so it expires with the session.
func (c CookieConfig) setSessionCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt, now time.Time) {
	maxAge := int(expiresAt.Sub(now).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    token,
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.secure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
		Expires:  expiresAt.UTC(),
	})
}

// clearSessionCookie expires the session cookie immediately.
// It mirrors the attributes used when setting it so browsers match and drop it.
func (c CookieConfig) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.secure(r),
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		SameSite: http.SameSiteLaxMode,
	})
}
