// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/data and internal/adapters; orchestration in internal/service.
package ports

import (
	"context"
	"time"

	domainauth "github.com/target/streamauth/internal/domain/auth"
)

// PrincipalRepository persists principals. Username and email arguments are
// expected to be normalized already.
type PrincipalRepository interface {
	Create(ctx context.Context, in domainauth.NewPrincipal) (*domainauth.Principal, error)
	GetByID(ctx context.Context, id int64) (*domainauth.Principal, error)
	// GetByIdentifier matches identifier against username OR email.
	GetByIdentifier(ctx context.Context, identifier string) (*domainauth.Principal, error)
	// Taken reports which of username/email are already in use.
	Taken(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error)
	List(ctx context.Context, opts ListPrincipalsOptions) ([]*domainauth.Principal, error)
	UpdateRole(ctx context.Context, id int64, role domainauth.Role) (*domainauth.Principal, error)
	// UpdateStatus changes the status. Disabling also deletes the principal's sessions atomically.
	UpdateStatus(ctx context.Context, id int64, status domainauth.Status) (*domainauth.Principal, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	// Delete removes the principal and all of its sessions in one transaction.
	Delete(ctx context.Context, id int64) error
}

// ListPrincipalsOptions filters principal listings.
type ListPrincipalsOptions struct {
	Roles  []domainauth.Role
	Status domainauth.Status
	Limit  int
	Offset int
}

// SessionRepository persists sessions keyed by token hash.
type SessionRepository interface {
	Create(ctx context.Context, sess domainauth.Session) error
	// LookupPrincipal resolves a token hash to its principal in one read.
	// Unknown, expired (expires_at <= now), orphaned sessions and sessions of a disabled
	// principal all return a NotFound error.
	LookupPrincipal(ctx context.Context, tokenHash string, now time.Time) (*domainauth.Principal, error)
	// Delete is idempotent: deleting an unknown hash is not an error.
	Delete(ctx context.Context, tokenHash string) error
	DeleteByPrincipal(ctx context.Context, principalID int64) (int64, error)
	DeleteExpired(ctx context.Context, opts DeleteExpiredOptions) (int64, error)
}

// DeleteExpiredOptions selects expired sessions to delete. PrincipalID of zero
// means every principal.
type DeleteExpiredOptions struct {
	Now         time.Time
	PrincipalID int64
}

// LegacyAdminImporter merges the legacy admins table into principals.
type LegacyAdminImporter interface {
	ImportLegacyAdmins(ctx context.Context) (LegacyImportResult, error)
}

// LegacyImportResult summarizes one import run.
type LegacyImportResult struct {
	Imported int64 `json:"imported"`
	Promoted int64 `json:"promoted"`
	Skipped  int64 `json:"skipped"`
}

// PasswordHasher is the slow adaptive hash boundary.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	// Compare reports whether plaintext matches digest. A mismatch is (false, nil).
	Compare(digest, plaintext string) (bool, error)
}

// TokenSource produces opaque bearer tokens.
type TokenSource interface {
	NewToken() (string, error)
}

// LoginLimiter throttles login attempts per key.
type LoginLimiter interface {
	Allow(ctx context.Context, key string) (LimitDecision, error)
	// Reset refills key's bucket, called after a successful login.
	Reset(ctx context.Context, key string) error
}

// LimitDecision is the outcome of a LoginLimiter check.
type LimitDecision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// AuthMetrics records auth outcomes. Implementations must be safe for concurrent use.
type AuthMetrics interface {
	LoginAttempt(result string)
	SessionVerified(result string)
	AuthorizationDecision(decision string)
}
