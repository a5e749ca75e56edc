package service

import (
	"context"
	"fmt"
	"regexp"

	domainauth "github.com/target/streamauth/internal/domain/auth"
	apperrors "github.com/target/streamauth/internal/errors"
	"github.com/target/streamauth/internal/ports"
	"github.com/target/streamauth/internal/validation"
)

const (
	passwordMinBytes  = 8
	passwordMaxBytes  = 72
	emailMaxLen       = 254
	displayNameMaxLen = 64
	defaultListLimit  = 50
	maxListLimit      = 200
)

var reUsername = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{2,31}$`)

// RegisterInput groups parameters for self-service registration.
type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
}

// CreatePrincipalInput groups parameters for operator-created principals.
type CreatePrincipalInput struct {
	RegisterInput
	Role domainauth.Role
}

// Register creates a principal with RoleUser.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domainauth.Principal, error) {
	return s.CreatePrincipal(ctx, CreatePrincipalInput{RegisterInput: in, Role: domainauth.RoleUser})
}

// CreatePrincipal validates input, hashes the password and inserts the principal.
// The existence pre-check only improves the error; the storage constraint decides.
func (s *AuthService) CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (*domainauth.Principal, error) {
	username := domainauth.NormalizeIdentifier(in.Username)
	email := domainauth.NormalizeIdentifier(in.Email)

	if err := validatePrincipalInput(username, email, in); err != nil {
		return nil, err
	}

	usernameTaken, emailTaken, err := s.principals.Taken(ctx, username, email)
	if err != nil {
		return nil, fmt.Errorf("check existing principal: %w", err)
	}
	if usernameTaken {
		return nil, apperrors.ConflictField("username", "username is already taken")
	}
	if emailTaken {
		return nil, apperrors.ConflictField("email", "email is already registered")
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	p, err := s.principals.Create(ctx, domainauth.NewPrincipal{
		Username:     username,
		Email:        email,
		PasswordHash: digest,
		Role:         in.Role,
		Status:       domainauth.StatusActive,
		DisplayName:  in.DisplayName,
	})
	if err != nil {
		return nil, fmt.Errorf("create principal: %w", err)
	}

	s.logger.InfoContext(ctx, "principal created", "principal_id", p.ID, "role", p.Role)
	return p, nil
}

func validatePrincipalInput(username, email string, in CreatePrincipalInput) error {
	fv := validation.New().
		Validate("username", username,
			validation.Required("Username", 32),
			validation.Pattern("Username", reUsername)).
		Validate("email", email,
			validation.Required("Email", emailMaxLen),
			validation.Email("Email")).
		Validate("password", in.Password,
			validation.ByteRange("Password", passwordMinBytes, passwordMaxBytes)).
		Validate("display_name", in.DisplayName,
			validation.Optional("Display name", displayNameMaxLen))

	if field, msg, ok := fv.First(); ok {
		return apperrors.ValidationField(field, msg)
	}
	if !in.Role.Valid() {
		return apperrors.ValidationField("role", "role is not recognized")
	}
	return nil
}

// GetPrincipal returns the principal with id.
func (s *AuthService) GetPrincipal(ctx context.Context, id int64) (*domainauth.Principal, error) {
	p, err := s.principals.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get principal %d: %w", id, err)
	}
	return p, nil
}

// ListPrincipals returns principals matching opts. Limit is clamped to [1, 200].
func (s *AuthService) ListPrincipals(
	ctx context.Context,
	opts ports.ListPrincipalsOptions,
) ([]*domainauth.Principal, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	out, err := s.principals.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list principals: %w", err)
	}
	return out, nil
}

// SetRole replaces the principal's role. Existing sessions pick up the new
// role on their next verification because verification always reads the principal.
func (s *AuthService) SetRole(ctx context.Context, id int64, role domainauth.Role) (*domainauth.Principal, error) {
	if !role.Valid() {
		return nil, apperrors.ValidationField("role", "role is not recognized")
	}
	p, err := s.principals.UpdateRole(ctx, id, role)
	if err != nil {
		return nil, fmt.Errorf("update role of principal %d: %w", id, err)
	}
	s.logger.InfoContext(ctx, "principal role changed", "principal_id", id, "role", role)
	return p, nil
}

// SetStatus enables or disables a principal. Disabling revokes its sessions.
func (s *AuthService) SetStatus(ctx context.Context, id int64, status domainauth.Status) (*domainauth.Principal, error) {
	if !status.Valid() {
		return nil, apperrors.ValidationField("status", "status must be active or disabled")
	}
	p, err := s.principals.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, fmt.Errorf("update status of principal %d: %w", id, err)
	}
	s.logger.InfoContext(ctx, "principal status changed", "principal_id", id, "status", status)
	return p, nil
}
