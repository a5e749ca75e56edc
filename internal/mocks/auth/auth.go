// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domainauth "github.com/target/streamauth/internal/domain/auth"
	apperrors "github.com/target/streamauth/internal/errors"
	"github.com/target/streamauth/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.PrincipalRepository = (*MemoryPrincipalRepository)(nil)
	_ ports.SessionRepository   = (*MemorySessionRepository)(nil)
	_ ports.PasswordHasher      = PlainHasher{}
	_ ports.TokenSource         = (*SequenceTokens)(nil)
)

// MemoryStore holds principals and sessions in memory with the same
// uniqueness and cascade rules as the Postgres schema.
type MemoryStore struct {
	mu         sync.Mutex
	nextID     int64
	principals map[int64]domainauth.Principal
	sessions   map[string]domainauth.Session
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		principals: make(map[int64]domainauth.Principal),
		sessions:   make(map[string]domainauth.Session),
	}
}

// Principals returns the principal repository view of the store.
func (m *MemoryStore) Principals() *MemoryPrincipalRepository {
	return &MemoryPrincipalRepository{store: m}
}

// Sessions returns the session repository view of the store.
func (m *MemoryStore) Sessions() *MemorySessionRepository {
	return &MemorySessionRepository{store: m}
}

// SessionCount returns the number of stored session rows, expired or not.
func (m *MemoryStore) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// SessionsFor returns the stored sessions of a principal.
func (m *MemoryStore) SessionsFor(principalID int64) []domainauth.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domainauth.Session
	for _, s := range m.sessions {
		if s.PrincipalID == principalID {
			out = append(out, s)
		}
	}
	return out
}

// PutSession inserts a session row directly, bypassing foreign key checks.
// Tests use it to plant orphaned rows.
func (m *MemoryStore) PutSession(s domainauth.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.TokenHash] = s
}

// MemoryPrincipalRepository implements ports.PrincipalRepository over a MemoryStore.
type MemoryPrincipalRepository struct {
	store *MemoryStore
}

func (r *MemoryPrincipalRepository) Create(_ context.Context, in domainauth.NewPrincipal) (*domainauth.Principal, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.principals {
		if p.Username == in.Username {
			return nil, apperrors.ConflictField("username", "username is already taken")
		}
		if p.Email == in.Email {
			return nil, apperrors.ConflictField("email", "email is already registered")
		}
	}
	m.nextID++
	now := time.Now().UTC()
	p := domainauth.Principal{
		ID:           m.nextID,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		Status:       in.Status,
		DisplayName:  in.DisplayName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.principals[p.ID] = p
	return &p, nil
}

func (r *MemoryPrincipalRepository) GetByID(_ context.Context, id int64) (*domainauth.Principal, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, apperrors.NotFoundf("principal %d not found", id)
	}
	return &p, nil
}

func (r *MemoryPrincipalRepository) GetByIdentifier(_ context.Context, identifier string) (*domainauth.Principal, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.principals {
		if p.Username == identifier || p.Email == identifier {
			return &p, nil
		}
	}
	return nil, apperrors.NotFound("principal not found")
}

func (r *MemoryPrincipalRepository) Taken(_ context.Context, username, email string) (bool, bool, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	var u, e bool
	for _, p := range m.principals {
		u = u || p.Username == username
		e = e || p.Email == email
	}
	return u, e, nil
}

func (r *MemoryPrincipalRepository) List(_ context.Context, opts ports.ListPrincipalsOptions) ([]*domainauth.Principal, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()

	roles := domainauth.Roles(opts.Roles...)
	var out []*domainauth.Principal
	for _, p := range m.principals {
		if len(opts.Roles) > 0 && !roles.Contains(p.Role) {
			continue
		}
		if opts.Status != "" && p.Status != opts.Status {
			continue
		}
		cp := p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if opts.Offset >= len(out) {
		return []*domainauth.Principal{}, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (r *MemoryPrincipalRepository) UpdateRole(_ context.Context, id int64, role domainauth.Role) (*domainauth.Principal, error) {
	return r.update(id, func(p *domainauth.Principal) { p.Role = role })
}

func (r *MemoryPrincipalRepository) UpdateStatus(_ context.Context, id int64, status domainauth.Status) (*domainauth.Principal, error) {
	p, err := r.update(id, func(p *domainauth.Principal) { p.Status = status })
	if err != nil || status != domainauth.StatusDisabled {
		return p, err
	}
	r.store.deleteSessionsOf(id)
	return p, nil
}

func (r *MemoryPrincipalRepository) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	_, err := r.update(id, func(p *domainauth.Principal) { p.LastLoginAt = &at })
	return err
}

func (r *MemoryPrincipalRepository) Delete(_ context.Context, id int64) error {
	m := r.store
	m.mu.Lock()
	if _, ok := m.principals[id]; !ok {
		m.mu.Unlock()
		return apperrors.NotFoundf("principal %d not found", id)
	}
	delete(m.principals, id)
	m.mu.Unlock()
	m.deleteSessionsOf(id)
	return nil
}

func (r *MemoryPrincipalRepository) update(id int64, fn func(*domainauth.Principal)) (*domainauth.Principal, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, apperrors.NotFoundf("principal %d not found", id)
	}
	fn(&p)
	p.UpdatedAt = time.Now().UTC()
	m.principals[id] = p
	return &p, nil
}

func (m *MemoryStore) deleteSessionsOf(id int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, s := range m.sessions {
		if s.PrincipalID == id {
			delete(m.sessions, k)
			n++
		}
	}
	return n
}

// MemorySessionRepository implements ports.SessionRepository over a MemoryStore.
type MemorySessionRepository struct {
	store *MemoryStore
}

func (r *MemorySessionRepository) Create(_ context.Context, sess domainauth.Session) error {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.TokenHash == "" {
		return errors.New("session token hash cannot be empty")
	}
	if _, ok := m.principals[sess.PrincipalID]; !ok {
		return &apperrors.AppError{Code: apperrors.ErrCodeForeignKey, Message: "principal does not exist"}
	}
	if _, dup := m.sessions[sess.TokenHash]; dup {
		return apperrors.Conflict("session token collision")
	}
	m.sessions[sess.TokenHash] = sess
	return nil
}

func (r *MemorySessionRepository) LookupPrincipal(_ context.Context, tokenHash string, now time.Time) (*domainauth.Principal, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tokenHash]
	if !ok || !s.ValidAt(now) {
		return nil, apperrors.NotFound("session not found")
	}
	p, ok := m.principals[s.PrincipalID]
	if !ok || p.Status != domainauth.StatusActive {
		return nil, apperrors.NotFound("session not found")
	}
	return &p, nil
}

func (r *MemorySessionRepository) Delete(_ context.Context, tokenHash string) error {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, tokenHash)
	return nil
}

func (r *MemorySessionRepository) DeleteByPrincipal(_ context.Context, principalID int64) (int64, error) {
	return r.store.deleteSessionsOf(principalID), nil
}

func (r *MemorySessionRepository) DeleteExpired(_ context.Context, opts ports.DeleteExpiredOptions) (int64, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, s := range m.sessions {
		if opts.PrincipalID != 0 && s.PrincipalID != opts.PrincipalID {
			continue
		}
		if !s.ValidAt(opts.Now) {
			delete(m.sessions, k)
			n++
		}
	}
	return n, nil
}

// PlainHasher is a reversible stand-in for bcrypt so tests stay fast.
type PlainHasher struct{}

const plainPrefix = "plain$"

func (PlainHasher) Hash(plaintext string) (string, error) { return plainPrefix + plaintext, nil }

func (PlainHasher) Compare(digest, plaintext string) (bool, error) {
	if !strings.HasPrefix(digest, plainPrefix) {
		return false, errors.New("malformed digest")
	}
	return digest == plainPrefix+plaintext, nil
}

// SequenceTokens returns deterministic tokens "tok-1", "tok-2", ...
type SequenceTokens struct {
	mu sync.Mutex
	n  int
}

func (s *SequenceTokens) NewToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("tok-%d", s.n), nil
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at t.
func NewClock(t time.Time) *Clock { return &Clock{now: t} }

// Now returns the current fixed time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
