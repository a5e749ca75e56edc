package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultSessionTTL = 720 * time.Hour
	minBcryptCost     = 10
	maxBcryptCost     = 31
)

// CookieSecureMode decides when the session cookie carries the Secure attribute.
type CookieSecureMode string

const (
	// CookieSecureAuto sets Secure for TLS or X-Forwarded-Proto=https requests, and always in production.
	CookieSecureAuto CookieSecureMode = "auto"
	// CookieSecureAlways always sets Secure.
	CookieSecureAlways CookieSecureMode = "always"
	// CookieSecureNever never sets Secure (plain-HTTP local development).
	CookieSecureNever CookieSecureMode = "never"
)

// UnmarshalText implements encoding.TextUnmarshaler for CookieSecureMode.
func (m *CookieSecureMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "auto", "always", "never":
		*m = CookieSecureMode(v)
		return nil
	default:
		return fmt.Errorf("invalid CookieSecureMode: %q (valid options: auto, always, never)", v)
	}
}

// AuthConfig groups session and credential configuration.
type AuthConfig struct {
	// SessionTTL is the fixed lifetime of a new session.
	SessionTTL time.Duration `env:"AUTH_SESSION_TTL" envDefault:"720h"`

	// BcryptCost is the password hashing work factor, never below 10.
	BcryptCost int `env:"AUTH_BCRYPT_COST" envDefault:"12"`

	CookieName   string           `env:"AUTH_COOKIE_NAME"   envDefault:"session_token"`
	CookieSecure CookieSecureMode `env:"AUTH_COOKIE_SECURE" envDefault:"auto"`

	// AllowRegistration enables POST /api/auth/register.
	AllowRegistration bool `env:"AUTH_ALLOW_REGISTRATION" envDefault:"true"`
}

// Sanitize applies guardrails to authentication configuration values.
func (a *AuthConfig) Sanitize() {
	if a.SessionTTL <= 0 {
		a.SessionTTL = defaultSessionTTL
	}
	if a.BcryptCost < minBcryptCost {
		a.BcryptCost = minBcryptCost
	}
	if a.BcryptCost > maxBcryptCost {
		a.BcryptCost = maxBcryptCost
	}
	a.CookieName = strings.TrimSpace(a.CookieName)
	if a.CookieName == "" {
		a.CookieName = "session_token"
	}
	if a.CookieSecure == "" {
		a.CookieSecure = CookieSecureAuto
	}
}

// RateLimitConfig controls the per identifier+IP login token bucket.
type RateLimitConfig struct {
	Enabled        bool          `env:"LOGIN_RATE_LIMIT_ENABLED"         envDefault:"true"`
	Capacity       int           `env:"LOGIN_RATE_LIMIT_CAPACITY"        envDefault:"10"`
	RefillTokens   int           `env:"LOGIN_RATE_LIMIT_REFILL_TOKENS"   envDefault:"1"`
	RefillInterval time.Duration `env:"LOGIN_RATE_LIMIT_REFILL_INTERVAL" envDefault:"30s"`
	TTL            time.Duration `env:"LOGIN_RATE_LIMIT_TTL"             envDefault:"1h"`
	Prefix         string        `env:"LOGIN_RATE_LIMIT_PREFIX"          envDefault:"streamauth:login_limit:"`
}

// Sanitize applies guardrails to rate limit configuration values.
func (r *RateLimitConfig) Sanitize() {
	if r.Capacity <= 0 {
		r.Capacity = 10
	}
	if r.RefillTokens <= 0 {
		r.RefillTokens = 1
	}
	if r.RefillInterval <= 0 {
		r.RefillInterval = 30 * time.Second
	}
	// An idle bucket must live long enough to refill completely.
	if r.TTL < r.RefillInterval {
		r.TTL = r.RefillInterval * time.Duration(r.Capacity)
	}
}
