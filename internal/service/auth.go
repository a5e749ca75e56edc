package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	domainauth "github.com/target/streamauth/internal/domain/auth"
	apperrors "github.com/target/streamauth/internal/errors"
	"github.com/target/streamauth/internal/observability/metrics"
	"github.com/target/streamauth/internal/observability/tracing"
	"github.com/target/streamauth/internal/ports"
	"go.opentelemetry.io/otel/attribute"
)

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Principals ports.PrincipalRepository // Required
	Sessions   ports.SessionRepository   // Required
	Hasher     ports.PasswordHasher      // Required
	Tokens     ports.TokenSource         // Required
	Legacy     ports.LegacyAdminImporter // Optional: enables ImportLegacyAdmins
	Limiter    ports.LoginLimiter        // Optional: login throttle
	Metrics    ports.AuthMetrics         // Optional
	Logger     *slog.Logger              // Optional
	SessionTTL time.Duration             // Optional: defaults to domainauth.DefaultSessionTTL
	Now        func() time.Time          // Optional: defaults to time.Now
}

// AuthService issues, verifies and revokes sessions and gates operations by role.
type AuthService struct {
	principals ports.PrincipalRepository
	sessions   ports.SessionRepository
	hasher     ports.PasswordHasher
	tokens     ports.TokenSource
	legacy     ports.LegacyAdminImporter
	limiter    ports.LoginLimiter
	metrics    ports.AuthMetrics
	logger     *slog.Logger
	ttl        time.Duration
	now        func() time.Time

	dummyOnce   sync.Once
	dummyDigest string
}

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) (*AuthService, error) {
	if opts.Principals == nil {
		return nil, errors.New("PrincipalRepository is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("SessionRepository is required")
	}
	if opts.Hasher == nil {
		return nil, errors.New("PasswordHasher is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("TokenSource is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = domainauth.DefaultSessionTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &AuthService{
		principals: opts.Principals,
		sessions:   opts.Sessions,
		hasher:     opts.Hasher,
		tokens:     opts.Tokens,
		legacy:     opts.Legacy,
		limiter:    opts.Limiter,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "auth_service"),
		ttl:        ttl,
		now:        now,
	}, nil
}

// SessionTTL returns the lifetime given to new sessions.
func (s *AuthService) SessionTTL() time.Duration { return s.ttl }

// LoginInput groups parameters for Login.
type LoginInput struct {
	Identifier string // username or email, any case
	Password   string
	ClientIP   string // optional, used for throttling and stored on the session
	UserAgent  string // optional, stored on the session
}

// Login checks credentials and issues a new session. Other sessions of the
// principal stay valid. Every credential failure is the same InvalidCredentials.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*domainauth.IssuedSession, error) {
	ctx, span := tracing.StartSpan(ctx, "auth.login", attribute.String("layer", "service"))
	defer span.End()

	identifier := domainauth.NormalizeIdentifier(in.Identifier)
	if identifier == "" || in.Password == "" {
		s.recordLogin(metrics.LoginInvalidCredentials)
		return nil, apperrors.InvalidCredentials()
	}

	if err := s.checkLoginLimit(ctx, identifier, in.ClientIP); err != nil {
		s.recordLogin(metrics.LoginRateLimited)
		return nil, err
	}

	p, err := s.principals.GetByIdentifier(ctx, identifier)
	if err != nil && !apperrors.IsNotFound(err) {
		tracing.Fail(span, err)
		s.recordLogin(metrics.ResultError)
		return nil, fmt.Errorf("lookup principal: %w", err)
	}

	if !s.passwordMatches(ctx, p, in.Password) || !p.IsActive() {
		span.AddEvent("authentication.failed")
		s.recordLogin(metrics.LoginInvalidCredentials)
		return nil, apperrors.InvalidCredentials()
	}

	issued, err := s.issueSession(ctx, p, in)
	if err != nil {
		tracing.Fail(span, err)
		s.recordLogin(metrics.ResultError)
		return nil, err
	}

	s.resetLoginLimit(ctx, identifier, in.ClientIP)
	span.SetAttributes(attribute.Int64("principal.id", p.ID))
	s.recordLogin(metrics.ResultSuccess)
	s.logger.InfoContext(ctx, "login succeeded", "principal_id", p.ID, "role", p.Role)
	return issued, nil
}

func (s *AuthService) issueSession(
	ctx context.Context,
	p *domainauth.Principal,
	in LoginInput,
) (*domainauth.IssuedSession, error) {
	tok, err := s.tokens.NewToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	// Postgres keeps microseconds; truncating keeps ExpiresAt-CreatedAt exact after a round trip.
	now := s.now().UTC().Truncate(time.Microsecond)
	sess := domainauth.Session{
		TokenHash:   domainauth.HashToken(tok),
		PrincipalID: p.ID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
		UserAgent:   in.UserAgent,
		IPAddress:   in.ClientIP,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.afterLogin(ctx, p.ID, now)
	p.LastLoginAt = &now

	return &domainauth.IssuedSession{Token: tok, Session: sess, Principal: p}, nil
}

// afterLogin performs best-effort bookkeeping that must never fail a login.
func (s *AuthService) afterLogin(ctx context.Context, principalID int64, now time.Time) {
	if err := s.principals.TouchLastLogin(ctx, principalID, now); err != nil {
		s.logger.WarnContext(ctx, "update last login failed", "principal_id", principalID, "error", err)
	}
	pruned, err := s.sessions.DeleteExpired(ctx, ports.DeleteExpiredOptions{Now: now, PrincipalID: principalID})
	if err != nil {
		s.logger.WarnContext(ctx, "prune expired sessions failed", "principal_id", principalID, "error", err)
		return
	}
	if pruned > 0 {
		s.logger.DebugContext(ctx, "pruned expired sessions", "principal_id", principalID, "count", pruned)
	}
}

func (s *AuthService) checkLoginLimit(ctx context.Context, identifier, clientIP string) error {
	if s.limiter == nil {
		return nil
	}
	decision, err := s.limiter.Allow(ctx, loginLimitKey(identifier, clientIP))
	if err != nil {
		s.logger.WarnContext(ctx, "login limiter unavailable, allowing attempt", "error", err)
		return nil
	}
	if !decision.Allowed {
		return apperrors.RateLimited(decision.RetryAfter)
	}
	return nil
}

// resetLoginLimit refills the bucket so earlier typos do not count against the
// next session. Failures only cost the refill.
func (s *AuthService) resetLoginLimit(ctx context.Context, identifier, clientIP string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Reset(ctx, loginLimitKey(identifier, clientIP)); err != nil {
		s.logger.WarnContext(ctx, "reset login limiter failed", "error", err)
	}
}

func loginLimitKey(identifier, clientIP string) string {
	return identifier + "|" + clientIP
}

// passwordMatches compares against the principal's digest, or against a
// throwaway digest when there is no principal so both paths cost one bcrypt compare.
func (s *AuthService) passwordMatches(ctx context.Context, p *domainauth.Principal, plaintext string) bool {
	digest := s.timingDigest()
	if p != nil {
		digest = p.PasswordHash
	}
	ok, err := s.hasher.Compare(digest, plaintext)
	if err != nil {
		if p != nil {
			s.logger.WarnContext(ctx, "stored password digest unusable", "principal_id", p.ID, "error", err)
		}
		return false
	}
	return ok && p != nil
}

func (s *AuthService) timingDigest() string {
	s.dummyOnce.Do(func() {
		digest, err := s.hasher.Hash("streamauth-timing-equalizer")
		if err != nil {
			s.logger.Error("compute timing digest failed", "error", err)
			return
		}
		s.dummyDigest = digest
	})
	return s.dummyDigest
}

// Verify resolves a bearer token to its principal. It never writes.
//
// An empty token is anonymous: (nil, nil). A presented token that is unknown,
// expired, or whose principal is gone yields (nil, Unauthenticated).
func (s *AuthService) Verify(ctx context.Context, token string) (*domainauth.Principal, error) {
	if token == "" {
		s.recordVerify(metrics.VerifyAnonymous)
		return nil, nil
	}

	ctx, span := tracing.StartSpan(ctx, "auth.verify", attribute.String("layer", "service"))
	defer span.End()

	p, err := s.sessions.LookupPrincipal(ctx, domainauth.HashToken(token), s.now().UTC())
	if err != nil {
		if apperrors.IsNotFound(err) {
			s.recordVerify(metrics.VerifyRejected)
			return nil, apperrors.Unauthenticated("session is invalid or expired")
		}
		tracing.Fail(span, err)
		s.recordVerify(metrics.ResultError)
		return nil, fmt.Errorf("verify session: %w", err)
	}

	s.recordVerify(metrics.VerifyValid)
	return p, nil
}

// Authorize grants access when p's role is a member of accepted.
// A nil principal is Unauthenticated; a role outside the set is Forbidden.
func (s *AuthService) Authorize(p *domainauth.Principal, accepted domainauth.RoleSet) error {
	if p == nil {
		s.recordDecision(metrics.DecisionUnauthenticated)
		return apperrors.Unauthenticated("")
	}
	if !accepted.Allows(p) {
		s.recordDecision(metrics.DecisionForbidden)
		return apperrors.Forbidden("")
	}
	s.recordDecision(metrics.DecisionGranted)
	return nil
}

// Allowed is the boolean form of Authorize for callers that only toggle UI affordances.
func (s *AuthService) Allowed(p *domainauth.Principal, accepted domainauth.RoleSet) bool {
	return s.Authorize(p, accepted) == nil
}

// Logout deletes the session for token. Unknown, expired and empty tokens are not errors.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, domainauth.HashToken(token)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// LogoutAll deletes every session of the principal and returns how many were removed.
func (s *AuthService) LogoutAll(ctx context.Context, principalID int64) (int64, error) {
	n, err := s.sessions.DeleteByPrincipal(ctx, principalID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	s.logger.InfoContext(ctx, "revoked all sessions", "principal_id", principalID, "count", n)
	return n, nil
}

// DeleteAccount removes the principal and all of its sessions atomically.
func (s *AuthService) DeleteAccount(ctx context.Context, principalID int64) error {
	ctx, span := tracing.StartSpan(ctx, "auth.delete_account", attribute.Int64("principal.id", principalID))
	defer span.End()

	if err := s.principals.Delete(ctx, principalID); err != nil {
		tracing.Fail(span, err)
		return fmt.Errorf("delete principal %d: %w", principalID, err)
	}
	s.logger.InfoContext(ctx, "principal deleted", "principal_id", principalID)
	return nil
}

// PruneExpiredSessions deletes every session whose expiry has passed.
func (s *AuthService) PruneExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx, ports.DeleteExpiredOptions{Now: s.now().UTC()})
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return n, nil
}

// ImportLegacyAdmins merges the legacy admins table into principals. Safe to rerun.
func (s *AuthService) ImportLegacyAdmins(ctx context.Context) (ports.LegacyImportResult, error) {
	if s.legacy == nil {
		return ports.LegacyImportResult{}, errors.New("legacy admin importer is not configured")
	}
	res, err := s.legacy.ImportLegacyAdmins(ctx)
	if err != nil {
		return ports.LegacyImportResult{}, fmt.Errorf("import legacy admins: %w", err)
	}
	s.logger.InfoContext(ctx, "legacy admin import finished",
		"imported", res.Imported, "promoted", res.Promoted, "skipped", res.Skipped)
	return res, nil
}

func (s *AuthService) recordLogin(result string) {
	if s.metrics != nil {
		s.metrics.LoginAttempt(result)
	}
}

func (s *AuthService) recordVerify(result string) {
	if s.metrics != nil {
		s.metrics.SessionVerified(result)
	}
}

func (s *AuthService) recordDecision(decision string) {
	if s.metrics != nil {
		s.metrics.AuthorizationDecision(decision)
	}
}
