package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	domainauth "github.com/target/streamauth/internal/domain/auth"
	apperrors "github.com/target/streamauth/internal/errors"
	"github.com/target/streamauth/internal/service"
)

const maxUserAgentLen = 512

// AuthServiceInterface defines the interface for auth service operations.
type AuthServiceInterface interface {
	SessionVerifier
	RoleAuthorizer
	Register(ctx context.Context, in service.RegisterInput) (*domainauth.Principal, error)
	Login(ctx context.Context, in service.LoginInput) (*domainauth.IssuedSession, error)
	Logout(ctx context.Context, token string) error
	LogoutAll(ctx context.Context, principalID int64) (int64, error)
	DeleteAccount(ctx context.Context, principalID int64) error
}

// AuthHandlers provides HTTP handlers for authentication operations.
type AuthHandlers struct {
	Svc               AuthServiceInterface
	Cookie            CookieConfig
	AllowRegistration bool
	Logger            *slog.Logger
	Now               func() time.Time
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *AuthHandlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// userView is the public JSON subset of a principal. It never carries the hash.
type userView struct {
	ID          int64             `json:"id"`
	Username    string            `json:"username"`
	Email       string            `json:"email"`
	Role        domainauth.Role   `json:"role"`
	Status      domainauth.Status `json:"status"`
	DisplayName string            `json:"display_name"`
	CreatedAt   time.Time         `json:"created_at"`
	LastLoginAt *time.Time        `json:"last_login_at"`
}

func newUserView(p *domainauth.Principal) userView {
	return userView{
		ID:          p.ID,
		Username:    p.Username,
		Email:       p.Email,
		Role:        p.Role,
		Status:      p.Status,
		DisplayName: p.DisplayName,
		CreatedAt:   p.CreatedAt,
		LastLoginAt: p.LastLoginAt,
	}
}

func newUserViews(ps []*domainauth.Principal) []userView {
	out := make([]userView, 0, len(ps))
	for _, p := range ps {
		out = append(out, newUserView(p))
	}
	return out
}

type registerRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// Register creates a regular user account.
// POST /api/auth/register.
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	if !h.AllowRegistration {
		WriteError(w, ErrorParams{
			Code:    http.StatusForbidden,
			ErrCode: "registration_disabled",
			Err:     errors.New("registration is disabled"),
		})
		return
	}

	var req registerRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	p, err := h.Svc.Register(r.Context(), service.RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		RespondError(w, r, h.logger(), err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "user": newUserView(p)})
}

// loginRequest accepts the identifier under any of its common names.
type loginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

func (req loginRequest) identifier() string {
	switch {
	case req.Identifier != "":
		return req.Identifier
	case req.Username != "":
		return req.Username
	default:
		return req.Email
	}
}

// Login checks credentials, sets the session cookie and returns the token.
// POST /api/auth/login.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	issued, err := h.Svc.Login(r.Context(), service.LoginInput{
		Identifier: req.identifier(),
		Password:   req.Password,
		ClientIP:   clientIP(r),
		UserAgent:  truncate(r.UserAgent(), maxUserAgentLen),
	})
	if err != nil {
		RespondError(w, r, h.logger(), err)
		return
	}

	h.Cookie.setSessionCookie(w, r, issued.Token, issued.Session.ExpiresAt, h.now())
	WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"user":       newUserView(issued.Principal),
		"token":      issued.Token,
		"expires_at": issued.Session.ExpiresAt,
	})
}

// Logout deletes the presented session if any and always clears the cookie.
// POST /api/auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if token := TokenFromContext(r.Context()); token != "" {
		if err := h.Svc.Logout(r.Context(), token); err != nil {
			h.logger().WarnContext(r.Context(), "logout failed", "error", err)
		}
	}
	h.Cookie.clearSessionCookie(w, r)
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// LogoutAll revokes every session of the caller, including the current one.
// POST /api/auth/logout-all.
func (h *AuthHandlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	n, err := h.Svc.LogoutAll(r.Context(), p.ID)
	if err != nil {
		RespondError(w, r, h.logger(), err)
		return
	}
	h.Cookie.clearSessionCookie(w, r)
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "revoked": n})
}

// Status reports whether the request carries a valid session.
// GET /api/auth/status.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	h.writeSessionState(w, r, "authenticated")
}

// Verify is Status under the key "valid".
// GET /api/auth/verify.
func (h *AuthHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	h.writeSessionState(w, r, "valid")
}

// writeSessionState answers 200 for anonymous and valid sessions and 401 for
// a presented token that did not verify.
func (h *AuthHandlers) writeSessionState(w http.ResponseWriter, r *http.Request, key string) {
	ctx := r.Context()
	if p, ok := PrincipalFromContext(ctx); ok {
		WriteJSON(w, http.StatusOK, map[string]any{key: true, "user": newUserView(p)})
		return
	}
	if TokenRejected(ctx) {
		h.Cookie.clearSessionCookie(w, r)
		WriteJSON(w, http.StatusUnauthorized, map[string]any{
			key:    false,
			"code": string(apperrors.ErrCodeUnauthenticated),
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{key: false})
}

// Me returns the caller's profile.
// GET /api/auth/me.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	WriteJSON(w, http.StatusOK, map[string]any{"user": newUserView(p)})
}

// DeleteMe deletes the caller's account and every session it holds.
// DELETE /api/auth/me.
func (h *AuthHandlers) DeleteMe(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	if err := h.Svc.DeleteAccount(r.Context(), p.ID); err != nil {
		RespondError(w, r, h.logger(), err)
		return
	}
	h.Cookie.clearSessionCookie(w, r)
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// clientIP is the peer address of the connection. Forwarded headers are not
// trusted because the limiter key would become client controlled.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// truncate cuts s to at most n bytes and drops any invalid UTF-8 left behind.
func truncate(s string, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	return strings.ToValidUTF8(s, "")
}
