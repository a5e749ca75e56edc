// Package auth holds the principal, session and role types shared by the
// service, storage and HTTP layers.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// DefaultSessionTTL is the fixed lifetime of an issued session.
const DefaultSessionTTL = 30 * 24 * time.Hour

// Status controls whether a principal may log in.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusDisabled
}

// Principal is an authenticated identity: a regular user or a staff member.
type Principal struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	Status       Status     `json:"status"`
	DisplayName  string     `json:"display_name,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// IsActive reports whether the principal may log in.
func (p *Principal) IsActive() bool {
	return p != nil && p.Status == StatusActive
}

// IsStaff reports whether the principal holds any role other than RoleUser.
func (p *Principal) IsStaff() bool {
	return p != nil && p.Role != RoleUser
}

// NewPrincipal carries the fields needed to insert a principal.
// Username and Email must already be normalized.
type NewPrincipal struct {
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	Status       Status
	DisplayName  string
}

// Session binds a token hash to a principal for a fixed window.
// The raw token is never stored.
type Session struct {
	TokenHash   string
	PrincipalID int64
	CreatedAt   time.Time
	ExpiresAt   time.Time
	UserAgent   string
	IPAddress   string
}

// ValidAt reports whether the session is still inside its window at now.
// A session expiring exactly at now is already invalid.
func (s Session) ValidAt(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// IssuedSession is returned by a successful login. Token is the only copy of
// the bearer secret and must be handed to the client.
type IssuedSession struct {
	Token     string
	Session   Session
	Principal *Principal
}

// HashToken returns the storage key for a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NormalizeIdentifier lowercases and trims a username, email or login identifier.
func NormalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
