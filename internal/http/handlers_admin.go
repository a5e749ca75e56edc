package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	domainauth "github.com/target/streamauth/internal/domain/auth"
	apperrors "github.com/target/streamauth/internal/errors"
	"github.com/target/streamauth/internal/ports"
	"github.com/target/streamauth/internal/service"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// AdminServiceInterface defines the principal management operations used by staff endpoints.
type AdminServiceInterface interface {
	CreatePrincipal(ctx context.Context, in service.CreatePrincipalInput) (*domainauth.Principal, error)
	GetPrincipal(ctx context.Context, id int64) (*domainauth.Principal, error)
	ListPrincipals(ctx context.Context, opts ports.ListPrincipalsOptions) ([]*domainauth.Principal, error)
	SetRole(ctx context.Context, id int64, role domainauth.Role) (*domainauth.Principal, error)
	SetStatus(ctx context.Context, id int64, status domainauth.Status) (*domainauth.Principal, error)
	DeleteAccount(ctx context.Context, principalID int64) error
}

// AdminHandlers serves user moderation (admin and manager) and staff management (admin only).
type AdminHandlers struct {
	Svc    AdminServiceInterface
	Logger *slog.Logger
}

func (h *AdminHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// ListUsers lists principals with the user role.
// GET /api/admin/users?status=&limit=&offset=.
func (h *AdminHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, []domainauth.Role{domainauth.RoleUser}, "users")
}

// ListStaff lists principals holding any staff role.
// GET /api/admin/staff?status=&limit=&offset=.
func (h *AdminHandlers) ListStaff(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, domainauth.StaffRoles(), "staff")
}

func (h *AdminHandlers) list(w http.ResponseWriter, r *http.Request, roles []domainauth.Role, key string) {
	status := domainauth.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		RespondError(w, r, h.logger(), apperrors.ValidationField("status", "status must be active or disabled"))
		return
	}
	limit, offset := ParseLimitOffset(r, defaultPageLimit, maxPageLimit)

	ps, err := h.Svc.ListPrincipals(r.Context(), ports.ListPrincipalsOptions{
		Roles:  roles,
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		RespondError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{key: newUserViews(ps), "limit": limit, "offset": offset})
}

// GetUser returns one regular user. Staff ids are reported as missing.
// GET /api/admin/users/{id}.
func (h *AdminHandlers) GetUser(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadTarget(w, r, false)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"user": newUserView(p)})
}

type statusRequest struct {
	Status domainauth.Status `json:"status"`
}

// SetUserStatus enables or disables a regular user. Disabling revokes their sessions.
// PUT /api/admin/users/{id}/status.
func (h *AdminHandlers) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	target, ok := h.loadTarget(w, r, false)
	if !ok {
		return
	}
	p, err := h.Svc.SetStatus(r.Context(), target.ID, req.Status)
	if err != nil {
		RespondError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "user": newUserView(p)})
}

// DeleteUser deletes a regular user account.
// DELETE /api/admin/users/{id}.
func (h *AdminHandlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, false)
}

// DeleteStaff deletes a staff account. Admins cannot delete themselves.
// DELETE /api/admin/staff/{id}.
func (h *AdminHandlers) DeleteStaff(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, true)
}

func (h *AdminHandlers) delete(w http.ResponseWriter, r *http.Request, staff bool) {
	target, ok := h.loadTarget(w, r, staff)
	if !ok {
		return
	}
	if caller, _ := PrincipalFromContext(r.Context()); caller != nil && caller.ID == target.ID {
		RespondError(w, r, h.logger(), apperrors.Forbidden("you cannot delete your own account here"))
		return
	}
	if err := h.Svc.DeleteAccount(r.Context(), target.ID); err != nil {
		RespondError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type createStaffRequest struct {
	registerRequest
	Role domainauth.Role `json:"role"`
}

// CreateStaff creates a principal with a staff role.
// POST /api/admin/staff.
func (h *AdminHandlers) CreateStaff(w http.ResponseWriter, r *http.Request) {
	var req createStaffRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if !req.Role.Valid() || req.Role == domainauth.RoleUser {
		RespondError(w, r, h.logger(), apperrors.ValidationField("role",
			fmt.Sprintf("role must be one of %s", domainauth.Roles(domainauth.StaffRoles()...))))
		return
	}

	p, err := h.Svc.CreatePrincipal(r.Context(), service.CreatePrincipalInput{
		RegisterInput: service.RegisterInput{
			Username:    req.Username,
			Email:       req.Email,
			Password:    req.Password,
			DisplayName: req.DisplayName,
		},
		Role: req.Role,
	})
	if err != nil {
		RespondError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "user": newUserView(p)})
}

type roleRequest struct {
	Role domainauth.Role `json:"role"`
}

// SetRole changes any principal's role. Admins cannot change their own role.
// PUT /api/admin/principals/{id}/role.
func (h *AdminHandlers) SetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if caller, _ := PrincipalFromContext(r.Context()); caller != nil && caller.ID == id {
		RespondError(w, r, h.logger(), apperrors.Forbidden("you cannot change your own role"))
		return
	}
	p, err := h.Svc.SetRole(r.Context(), id, req.Role)
	if err != nil {
		RespondError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "user": newUserView(p)})
}

// loadTarget resolves {id} and checks it belongs to the expected side of the
// user/staff split. A mismatch is NotFound so ids on the other side stay opaque.
func (h *AdminHandlers) loadTarget(w http.ResponseWriter, r *http.Request, staff bool) (*domainauth.Principal, bool) {
	id, ok := h.pathID(w, r)
	if !ok {
		return nil, false
	}
	p, err := h.Svc.GetPrincipal(r.Context(), id)
	if err != nil {
		RespondError(w, r, h.logger(), err)
		return nil, false
	}
	if p.IsStaff() != staff {
		RespondError(w, r, h.logger(), apperrors.NotFound("resource not found"))
		return nil, false
	}
	return p, true
}

func (h *AdminHandlers) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		RespondError(w, r, h.logger(), apperrors.ValidationField("id", "id must be a positive integer"))
		return 0, false
	}
	return id, true
}
