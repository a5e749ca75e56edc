package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/streamauth/internal/domain/auth"
	apperrors "github.com/target/streamauth/internal/errors"
	"github.com/target/streamauth/internal/mocks"
	memory "github.com/target/streamauth/internal/mocks/auth"
	"github.com/target/streamauth/internal/observability/metrics"
	"github.com/target/streamauth/internal/ports"
	"go.uber.org/mock/gomock"
)

const testPassword = "s3cret-password"

type recordingMetrics struct {
	mu        sync.Mutex
	logins    []string
	verifies  []string
	decisions []string
}

func (m *recordingMetrics) LoginAttempt(r string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins = append(m.logins, r)
}

func (m *recordingMetrics) SessionVerified(r string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifies = append(m.verifies, r)
}

func (m *recordingMetrics) AuthorizationDecision(d string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
}

type fixture struct {
	svc     *AuthService
	store   *memory.MemoryStore
	clock   *memory.Clock
	metrics *recordingMetrics
}

func newFixture(t *testing.T, mutate ...func(*AuthServiceOptions)) *fixture {
	t.Helper()
	store := memory.NewMemoryStore()
	clock := memory.NewClock(time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC))
	rec := &recordingMetrics{}

	opts := AuthServiceOptions{
		Principals: store.Principals(),
		Sessions:   store.Sessions(),
		Hasher:     memory.PlainHasher{},
		Tokens:     &memory.SequenceTokens{},
		Metrics:    rec,
		Now:        clock.Now,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	svc, err := NewAuthService(opts)
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, clock: clock, metrics: rec}
}

func (f *fixture) register(t *testing.T, username, email string) *domainauth.Principal {
	t.Helper()
	p, err := f.svc.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    email,
		Password: testPassword,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) login(t *testing.T, identifier string) *domainauth.IssuedSession {
	t.Helper()
	issued, err := f.svc.Login(context.Background(), LoginInput{Identifier: identifier, Password: testPassword})
	require.NoError(t, err)
	return issued
}

func TestNewAuthService_RequiresDependencies(t *testing.T) {
	store := memory.NewMemoryStore()
	full := AuthServiceOptions{
		Principals: store.Principals(),
		Sessions:   store.Sessions(),
		Hasher:     memory.PlainHasher{},
		Tokens:     &memory.SequenceTokens{},
	}

	tests := []struct {
		name   string
		mutate func(*AuthServiceOptions)
	}{
		{"missing principals", func(o *AuthServiceOptions) { o.Principals = nil }},
		{"missing sessions", func(o *AuthServiceOptions) { o.Sessions = nil }},
		{"missing hasher", func(o *AuthServiceOptions) { o.Hasher = nil }},
		{"missing tokens", func(o *AuthServiceOptions) { o.Tokens = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := full
			tt.mutate(&opts)
			_, err := NewAuthService(opts)
			require.Error(t, err)
		})
	}

	svc, err := NewAuthService(full)
	require.NoError(t, err)
	assert.Equal(t, domainauth.DefaultSessionTTL, svc.SessionTTL())
}

func TestAuthService_RegisterLoginVerify_CaseInsensitive(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "Alice", "alice@x.com")
	assert.Equal(t, "alice", alice.Username)

	issued := f.login(t, "ALICE@X.COM")

	got, err := f.svc.Verify(context.Background(), issued.Token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, alice.ID, got.ID)
	assert.Equal(t, "alice", got.Username)

	byName := f.login(t, "  aLiCe ")
	assert.NotEqual(t, issued.Token, byName.Token)
}

func TestAuthService_Login_ExpiresThirtyDaysAfterCreation(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@x.com")

	issued := f.login(t, "alice")

	assert.Equal(t, f.clock.Now().UTC(), issued.Session.CreatedAt)
	assert.Equal(t, 30*24*time.Hour, issued.Session.ExpiresAt.Sub(issued.Session.CreatedAt))
	assert.Equal(t, domainauth.HashToken(issued.Token), issued.Session.TokenHash)
	assert.NotEqual(t, issued.Token, issued.Session.TokenHash)
	require.NotNil(t, issued.Principal.LastLoginAt)
}

func TestAuthService_Login_Failures(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@x.com")
	disabled := f.register(t, "dave", "dave@x.com")
	_, err := f.svc.SetStatus(context.Background(), disabled.ID, domainauth.StatusDisabled)
	require.NoError(t, err)

	tests := []struct {
		name       string
		identifier string
		password   string
	}{
		{"wrong password", "alice", "wrong-password"},
		{"unknown user", "nobody", testPassword},
		{"unknown email", "nobody@x.com", testPassword},
		{"empty identifier", "  ", testPassword},
		{"empty password", "alice", ""},
		{"disabled principal", "dave", testPassword},
	}

	var messages []string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issued, err := f.svc.Login(context.Background(), LoginInput{Identifier: tt.identifier, Password: tt.password})
			require.Nil(t, issued)
			require.True(t, apperrors.IsInvalidCredentials(err), "got %v", err)
			messages = append(messages, err.Error())
		})
	}

	assert.Equal(t, 0, f.store.SessionCount(), "failed logins must not create sessions")
	for _, m := range messages {
		assert.Equal(t, messages[0], m, "failure messages must not reveal which part was wrong")
	}
}

func TestAuthService_Login_MultipleConcurrentSessions(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@x.com")

	first := f.login(t, "alice")
	second := f.login(t, "alice@x.com")

	for _, tok := range []string{first.Token, second.Token} {
		p, err := f.svc.Verify(context.Background(), tok)
		require.NoError(t, err)
		require.NotNil(t, p)
	}
	assert.Equal(t, 2, f.store.SessionCount())
}

func TestAuthService_Login_PrunesOnlyOwnExpiredSessions(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice", "alice@x.com")
	bob := f.register(t, "bob", "bob@x.com")

	f.login(t, "alice")
	f.login(t, "bob")
	f.clock.Advance(31 * 24 * time.Hour)

	f.login(t, "alice")

	assert.Len(t, f.store.SessionsFor(alice.ID), 1, "alice's expired session is pruned at her next login")
	assert.Len(t, f.store.SessionsFor(bob.ID), 1, "bob's expired session is untouched")
}

func TestAuthService_Verify(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@x.com")
	issued := f.login(t, "alice")
	ctx := context.Background()

	t.Run("no token is anonymous", func(t *testing.T) {
		p, err := f.svc.Verify(ctx, "")
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("unknown token is unauthenticated", func(t *testing.T) {
		p, err := f.svc.Verify(ctx, "not-a-real-token")
		assert.Nil(t, p)
		assert.True(t, apperrors.IsUnauthenticated(err))
	})

	t.Run("valid one second before expiry", func(t *testing.T) {
		f.clock.Advance(issued.Session.ExpiresAt.Sub(f.clock.Now()) - time.Second)
		p, err := f.svc.Verify(ctx, issued.Token)
		require.NoError(t, err)
		assert.NotNil(t, p)
	})

	t.Run("invalid at the expiry instant", func(t *testing.T) {
		f.clock.Advance(time.Second)
		p, err := f.svc.Verify(ctx, issued.Token)
		assert.Nil(t, p)
		assert.True(t, apperrors.IsUnauthenticated(err))
	})

	t.Run("verification never deletes rows", func(t *testing.T) {
		f.clock.Advance(time.Hour)
		_, _ = f.svc.Verify(ctx, issued.Token)
		assert.Equal(t, 1, f.store.SessionCount())
	})

	assert.Equal(t, []string{
		metrics.VerifyAnonymous, metrics.VerifyRejected, metrics.VerifyValid,
		metrics.VerifyRejected, metrics.VerifyRejected,
	}, f.metrics.verifies)
}

func TestAuthService_Verify_SeesRoleChangesImmediately(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice", "alice@x.com")
	issued := f.login(t, "alice")

	_, err := f.svc.SetRole(context.Background(), alice.ID, domainauth.RoleManager)
	require.NoError(t, err)

	p, err := f.svc.Verify(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleManager, p.Role)
}

func TestAuthService_Authorize(t *testing.T) {
	f := newFixture(t)
	adminOrManager := domainauth.Roles(domainauth.RoleAdmin, domainauth.RoleManager)

	require.NoError(t, f.svc.Authorize(&domainauth.Principal{Role: domainauth.RoleManager}, adminOrManager))
	require.NoError(t, f.svc.Authorize(&domainauth.Principal{Role: domainauth.RoleAdmin}, adminOrManager))

	err := f.svc.Authorize(&domainauth.Principal{Role: domainauth.RoleUser}, adminOrManager)
	assert.True(t, apperrors.IsForbidden(err))

	err = f.svc.Authorize(&domainauth.Principal{Role: domainauth.RoleAdmin}, domainauth.Roles(domainauth.RoleManager))
	assert.True(t, apperrors.IsForbidden(err), "admin does not inherit manager")

	err = f.svc.Authorize(nil, adminOrManager)
	assert.True(t, apperrors.IsUnauthenticated(err))

	assert.Equal(t, []string{
		metrics.DecisionGranted, metrics.DecisionGranted, metrics.DecisionForbidden,
		metrics.DecisionForbidden, metrics.DecisionUnauthenticated,
	}, f.metrics.decisions)
}

func TestAuthService_Authorize_Exhaustive(t *testing.T) {
	f := newFixture(t)
	for _, accepted := range [][]domainauth.Role{
		{domainauth.RoleAdmin},
		{domainauth.RoleAdmin, domainauth.RoleManager},
		{domainauth.RoleUploader},
		{domainauth.RoleModerator, domainauth.RoleManager},
		{domainauth.RoleUser},
	} {
		set := domainauth.Roles(accepted...)
		for _, role := range domainauth.AllRoles() {
			err := f.svc.Authorize(&domainauth.Principal{Role: role}, set)
			if set.Contains(role) {
				assert.NoError(t, err, "role %s set %s", role, set)
			} else {
				assert.True(t, apperrors.IsForbidden(err), "role %s set %s", role, set)
			}
		}
	}
}

func TestAuthService_Logout_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@x.com")
	issued := f.login(t, "alice")
	ctx := context.Background()

	require.NoError(t, f.svc.Logout(ctx, issued.Token))
	require.NoError(t, f.svc.Logout(ctx, issued.Token))
	require.NoError(t, f.svc.Logout(ctx, ""))
	require.NoError(t, f.svc.Logout(ctx, "never-issued"))

	assert.Equal(t, 0, f.store.SessionCount())
	p, err := f.svc.Verify(ctx, issued.Token)
	assert.Nil(t, p)
	assert.True(t, apperrors.IsUnauthenticated(err))
}

func TestAuthService_LogoutAll(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice", "alice@x.com")
	f.register(t, "bob", "bob@x.com")
	f.login(t, "alice")
	f.login(t, "alice")
	bob := f.login(t, "bob")

	n, err := f.svc.LogoutAll(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	p, err := f.svc.Verify(context.Background(), bob.Token)
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestAuthService_DeleteAccount_InvalidatesAllTokens(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice", "alice@x.com")
	a1 := f.login(t, "alice")
	a2 := f.login(t, "alice")
	ctx := context.Background()

	// A row the cascade would not know about still cannot verify once the principal is gone.
	f.store.PutSession(domainauth.Session{
		TokenHash:   domainauth.HashToken("planted"),
		PrincipalID: alice.ID,
		CreatedAt:   f.clock.Now(),
		ExpiresAt:   f.clock.Now().Add(time.Hour),
	})

	require.NoError(t, f.svc.DeleteAccount(ctx, alice.ID))

	for _, tok := range []string{a1.Token, a2.Token} {
		p, err := f.svc.Verify(ctx, tok)
		assert.Nil(t, p)
		assert.True(t, apperrors.IsUnauthenticated(err))
	}
	assert.Equal(t, 0, f.store.SessionCount())

	f.store.PutSession(domainauth.Session{
		TokenHash:   domainauth.HashToken("orphan"),
		PrincipalID: alice.ID,
		CreatedAt:   f.clock.Now(),
		ExpiresAt:   f.clock.Now().Add(time.Hour),
	})
	p, err := f.svc.Verify(ctx, "orphan")
	assert.Nil(t, p)
	assert.True(t, apperrors.IsUnauthenticated(err))

	err = f.svc.DeleteAccount(ctx, alice.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestAuthService_PruneExpiredSessions(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@x.com")
	f.login(t, "alice")
	f.clock.Advance(29 * 24 * time.Hour)
	fresh := f.login(t, "alice")
	f.clock.Advance(2 * 24 * time.Hour)

	n, err := f.svc.PruneExpiredSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	p, err := f.svc.Verify(context.Background(), fresh.Token)
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestAuthService_SetStatus_DisableRevokesSessions(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice", "alice@x.com")
	issued := f.login(t, "alice")

	p, err := f.svc.SetStatus(context.Background(), alice.ID, domainauth.StatusDisabled)
	require.NoError(t, err)
	assert.Equal(t, domainauth.StatusDisabled, p.Status)

	_, err = f.svc.Verify(context.Background(), issued.Token)
	assert.True(t, apperrors.IsUnauthenticated(err))

	_, err = f.svc.SetStatus(context.Background(), alice.ID, domainauth.Status("frozen"))
	assert.True(t, apperrors.IsValidation(err))
}

// disablingHasher disables the principal between the credential read and the
// session insert of a login.
type disablingHasher struct {
	memory.PlainHasher
	disable func()
}

func (h disablingHasher) Compare(digest, plaintext string) (bool, error) {
	h.disable()
	return h.PlainHasher.Compare(digest, plaintext)
}

func TestAuthService_Login_DisabledMidLoginCannotVerify(t *testing.T) {
	store := memory.NewMemoryStore()
	alice, err := store.Principals().Create(context.Background(), domainauth.NewPrincipal{
		Username:     "alice",
		Email:        "alice@x.com",
		PasswordHash: mustPlainHash(t, testPassword),
		Role:         domainauth.RoleUser,
		Status:       domainauth.StatusActive,
	})
	require.NoError(t, err)

	f := newFixture(t, func(o *AuthServiceOptions) {
		o.Principals = store.Principals()
		o.Sessions = store.Sessions()
		o.Hasher = disablingHasher{disable: func() {
			_, err := store.Principals().UpdateStatus(context.Background(), alice.ID, domainauth.StatusDisabled)
			require.NoError(t, err)
		}}
	})

	issued, err := f.svc.Login(context.Background(), LoginInput{Identifier: "alice", Password: testPassword})
	require.NoError(t, err)
	require.Equal(t, 1, store.SessionCount())

	p, err := f.svc.Verify(context.Background(), issued.Token)
	assert.Nil(t, p)
	assert.True(t, apperrors.IsUnauthenticated(err))
}

func mustPlainHash(t *testing.T, plaintext string) string {
	t.Helper()
	digest, err := memory.PlainHasher{}.Hash(plaintext)
	require.NoError(t, err)
	return digest
}

func TestAuthService_Login_RateLimited(t *testing.T) {
	ctrl := gomock.NewController(t)
	limiter := mocks.NewMockLoginLimiter(ctrl)
	f := newFixture(t, func(o *AuthServiceOptions) { o.Limiter = limiter })
	f.register(t, "alice", "alice@x.com")

	limiter.EXPECT().
		Allow(gomock.Any(), "alice|203.0.113.7").
		Return(ports.LimitDecision{Allowed: false, RetryAfter: 30 * time.Second}, nil)

	_, err := f.svc.Login(context.Background(), LoginInput{
		Identifier: "Alice", Password: testPassword, ClientIP: "203.0.113.7",
	})
	require.True(t, apperrors.IsRateLimited(err))
	appErr, _ := apperrors.As(err)
	assert.Equal(t, 30*time.Second, appErr.RetryAfter)
	assert.Equal(t, 0, f.store.SessionCount())
	assert.Equal(t, []string{metrics.LoginRateLimited}, f.metrics.logins)
}

func TestAuthService_Login_SuccessResetsLimiter(t *testing.T) {
	ctrl := gomock.NewController(t)
	limiter := mocks.NewMockLoginLimiter(ctrl)
	f := newFixture(t, func(o *AuthServiceOptions) { o.Limiter = limiter })
	f.register(t, "alice", "alice@x.com")

	const key = "alice|198.51.100.4"
	limiter.EXPECT().Allow(gomock.Any(), key).Return(ports.LimitDecision{Allowed: true, Remaining: 2}, nil).Times(2)
	limiter.EXPECT().Reset(gomock.Any(), key).Return(nil).Times(1)

	_, err := f.svc.Login(context.Background(), LoginInput{
		Identifier: "alice", Password: "wrong-password", ClientIP: "198.51.100.4",
	})
	require.True(t, apperrors.IsInvalidCredentials(err))

	_, err = f.svc.Login(context.Background(), LoginInput{
		Identifier: "ALICE", Password: testPassword, ClientIP: "198.51.100.4",
	})
	require.NoError(t, err)
}

func TestAuthService_Login_LimiterFailureFailsOpen(t *testing.T) {
	ctrl := gomock.NewController(t)
	limiter := mocks.NewMockLoginLimiter(ctrl)
	f := newFixture(t, func(o *AuthServiceOptions) { o.Limiter = limiter })
	f.register(t, "alice", "alice@x.com")

	limiter.EXPECT().Allow(gomock.Any(), gomock.Any()).Return(ports.LimitDecision{}, errors.New("redis down"))
	limiter.EXPECT().Reset(gomock.Any(), gomock.Any()).Return(errors.New("redis down"))

	issued, err := f.svc.Login(context.Background(), LoginInput{Identifier: "alice", Password: testPassword})
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
}

func TestAuthService_Login_StorageErrors(t *testing.T) {
	principal := &domainauth.Principal{
		ID:           7,
		Username:     "alice",
		PasswordHash: "plain$" + testPassword,
		Role:         domainauth.RoleUser,
		Status:       domainauth.StatusActive,
	}

	newMocked := func(t *testing.T) (*AuthService, *mocks.MockPrincipalRepository, *mocks.MockSessionRepository) {
		t.Helper()
		ctrl := gomock.NewController(t)
		principals := mocks.NewMockPrincipalRepository(ctrl)
		sessions := mocks.NewMockSessionRepository(ctrl)
		svc, err := NewAuthService(AuthServiceOptions{
			Principals: principals,
			Sessions:   sessions,
			Hasher:     memory.PlainHasher{},
			Tokens:     &memory.SequenceTokens{},
		})
		require.NoError(t, err)
		return svc, principals, sessions
	}

	t.Run("lookup failure is not reported as bad credentials", func(t *testing.T) {
		svc, principals, _ := newMocked(t)
		principals.EXPECT().GetByIdentifier(gomock.Any(), "alice").Return(nil, errors.New("connection refused"))

		_, err := svc.Login(context.Background(), LoginInput{Identifier: "alice", Password: testPassword})
		require.Error(t, err)
		assert.False(t, apperrors.IsInvalidCredentials(err))
	})

	t.Run("session insert failure fails the login", func(t *testing.T) {
		svc, principals, sessions := newMocked(t)
		principals.EXPECT().GetByIdentifier(gomock.Any(), "alice").Return(principal, nil)
		sessions.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

		_, err := svc.Login(context.Background(), LoginInput{Identifier: "alice", Password: testPassword})
		require.Error(t, err)
	})

	t.Run("bookkeeping failures do not fail the login", func(t *testing.T) {
		svc, principals, sessions := newMocked(t)
		p := *principal
		principals.EXPECT().GetByIdentifier(gomock.Any(), "alice").Return(&p, nil)
		sessions.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		principals.EXPECT().TouchLastLogin(gomock.Any(), int64(7), gomock.Any()).Return(errors.New("timeout"))
		sessions.EXPECT().DeleteExpired(gomock.Any(), gomock.Any()).Return(int64(0), errors.New("timeout"))

		issued, err := svc.Login(context.Background(), LoginInput{Identifier: "alice", Password: testPassword})
		require.NoError(t, err)
		assert.Equal(t, "tok-1", issued.Token)
	})

	t.Run("verify storage failure is an error, not anonymous", func(t *testing.T) {
		svc, _, sessions := newMocked(t)
		sessions.EXPECT().
			LookupPrincipal(gomock.Any(), domainauth.HashToken("tok"), gomock.Any()).
			Return(nil, errors.New("connection reset"))

		p, err := svc.Verify(context.Background(), "tok")
		assert.Nil(t, p)
		require.Error(t, err)
		assert.False(t, apperrors.IsUnauthenticated(err))
	})
}

func TestAuthService_Login_UnknownUserStillRunsCompare(t *testing.T) {
	ctrl := gomock.NewController(t)
	hasher := mocks.NewMockPasswordHasher(ctrl)
	store := memory.NewMemoryStore()
	svc, err := NewAuthService(AuthServiceOptions{
		Principals: store.Principals(),
		Sessions:   store.Sessions(),
		Hasher:     hasher,
		Tokens:     &memory.SequenceTokens{},
	})
	require.NoError(t, err)

	hasher.EXPECT().Hash(gomock.Any()).Return("$2a$10$dummy", nil).Times(1)
	hasher.EXPECT().Compare("$2a$10$dummy", "whatever").Return(false, nil).Times(2)

	for i := 0; i < 2; i++ {
		_, err = svc.Login(context.Background(), LoginInput{Identifier: "ghost", Password: "whatever"})
		assert.True(t, apperrors.IsInvalidCredentials(err))
	}
}

func TestAuthService_ImportLegacyAdmins(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ImportLegacyAdmins(context.Background())
	require.Error(t, err)

	ctrl := gomock.NewController(t)
	importer := mocks.NewMockLegacyAdminImporter(ctrl)
	f = newFixture(t, func(o *AuthServiceOptions) { o.Legacy = importer })
	importer.EXPECT().ImportLegacyAdmins(gomock.Any()).Return(ports.LegacyImportResult{Imported: 3, Skipped: 1}, nil)

	res, err := f.svc.ImportLegacyAdmins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Imported)
	assert.Equal(t, int64(1), res.Skipped)
}
