package testutil

import (
	"fmt"
	"sync/atomic"

	domainauth "github.com/target/streamauth/internal/domain/auth"
)

var principalSeq atomic.Int64

// PrincipalBuilder provides a fluent interface for building NewPrincipal values for repository tests.
type PrincipalBuilder struct {
	p domainauth.NewPrincipal
}

// NewPrincipal creates a builder for an active RoleUser principal with a unique username and email.
func NewPrincipal() *PrincipalBuilder {
	n := principalSeq.Add(1)
	return &PrincipalBuilder{
		p: domainauth.NewPrincipal{
			Username:     fmt.Sprintf("viewer%d", n),
			Email:        fmt.Sprintf("viewer%d@example.com", n),
			PasswordHash: "$2a$10$7EqJtq98hPqEX7fNZaFWoO5zq3p1pG2F1sQ3o9tF0v6N0d0m0m0mK",
			Role:         domainauth.RoleUser,
			Status:       domainauth.StatusActive,
		},
	}
}

// WithUsername sets the username.
func (b *PrincipalBuilder) WithUsername(username string) *PrincipalBuilder {
	b.p.Username = username
	return b
}

// WithEmail sets the email.
func (b *PrincipalBuilder) WithEmail(email string) *PrincipalBuilder {
	b.p.Email = email
	return b
}

// WithRole sets the role.
func (b *PrincipalBuilder) WithRole(role domainauth.Role) *PrincipalBuilder {
	b.p.Role = role
	return b
}

// WithStatus sets the status.
func (b *PrincipalBuilder) WithStatus(status domainauth.Status) *PrincipalBuilder {
	b.p.Status = status
	return b
}

// WithPasswordHash sets the stored digest.
func (b *PrincipalBuilder) WithPasswordHash(digest string) *PrincipalBuilder {
	b.p.PasswordHash = digest
	return b
}

// Build returns the NewPrincipal.
func (b *PrincipalBuilder) Build() domainauth.NewPrincipal {
	return b.p
}
