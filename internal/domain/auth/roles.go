package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Role is a principal's single role. Roles are flat labels: no role implies another.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleUploader  Role = "uploader"
	RoleManager   Role = "manager"
	RoleAdmin     Role = "admin"
)

// AllRoles lists every role in display order.
func AllRoles() []Role {
	return []Role{RoleUser, RoleModerator, RoleUploader, RoleManager, RoleAdmin}
}

// StaffRoles lists every role except RoleUser.
func StaffRoles() []Role {
	return []Role{RoleModerator, RoleUploader, RoleManager, RoleAdmin}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleUploader, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// ParseRole parses a role case-insensitively. The capitalized legacy admin
// values ("Admin", "Manager", "Uploader", "Moderator") parse to their unified roles.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// RoleSet is the set of roles an operation accepts.
type RoleSet map[Role]struct{}

// Roles builds a RoleSet from the given roles.
func Roles(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// Contains reports direct membership of r.
func (s RoleSet) Contains(r Role) bool {
	_, ok := s[r]
	return ok
}

// Allows reports whether p's role is in the set. A nil principal is never allowed.
func (s RoleSet) Allows(p *Principal) bool {
	return p != nil && s.Contains(p.Role)
}

// Slice returns the members in a stable order.
func (s RoleSet) Slice() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s RoleSet) String() string {
	roles := s.Slice()
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}
