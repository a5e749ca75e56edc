package httpx

import (
	"log/slog"
	"net/http"
	"time"

	domainauth "github.com/target/streamauth/internal/domain/auth"
	apperrors "github.com/target/streamauth/internal/errors"
	"github.com/target/streamauth/internal/observability/metrics"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Auth  AuthServiceInterface
	Admin AdminServiceInterface

	Cookie            CookieConfig
	AllowRegistration bool

	// Readiness backs GET /readyz. Nil serves liveness semantics there too.
	Readiness http.Handler

	// Optional: request metrics and the exposition endpoint.
	HTTPMetrics    *metrics.HTTP
	MetricsHandler http.Handler
	MetricsPath    string

	Logger *slog.Logger     // Logger for access logs and request errors (optional)
	Now    func() time.Time // optional, used for cookie lifetimes
}

// NewRouter creates the HTTP handler serving the auth and admin APIs.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	authHandlers := &AuthHandlers{
		Svc:               services.Auth,
		Cookie:            services.Cookie,
		AllowRegistration: services.AllowRegistration,
		Logger:            logger,
		Now:               services.Now,
	}
	registerAuthRoutes(mux, authHandlers, logger)

	if services.Admin != nil {
		registerAdminRoutes(mux, &AdminHandlers{Svc: services.Admin, Logger: logger}, services.Auth, logger)
	}

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	if services.Readiness != nil {
		mux.Handle("GET /readyz", services.Readiness)
	} else {
		mux.Handle("GET /readyz", http.HandlerFunc(healthHandler))
	}
	if services.MetricsHandler != nil {
		path := services.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, services.MetricsHandler)
	}
	mux.Handle("/", http.HandlerFunc(notFoundHandler))

	return Chain(mux,
		Recover(logger),
		RequestID(),
		Logging(logger),
		Authenticate(AuthenticateOptions{
			Verifier:   services.Auth,
			CookieName: services.Cookie.name(),
			Logger:     logger,
		}),
		Metrics(services.HTTPMetrics),
	)
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers, logger *slog.Logger) {
	requireAuth := RequireAuth(h.Svc, logger)

	mux.HandleFunc("POST /api/auth/register", h.Register)
	mux.HandleFunc("POST /api/auth/login", h.Login)
	mux.HandleFunc("POST /api/auth/logout", h.Logout)
	mux.HandleFunc("GET /api/auth/status", h.Status)
	mux.HandleFunc("GET /api/auth/verify", h.Verify)
	mux.Handle("POST /api/auth/logout-all", requireAuth(http.HandlerFunc(h.LogoutAll)))
	mux.Handle("GET /api/auth/me", requireAuth(http.HandlerFunc(h.Me)))
	mux.Handle("DELETE /api/auth/me", requireAuth(http.HandlerFunc(h.DeleteMe)))
}

func registerAdminRoutes(mux *http.ServeMux, h *AdminHandlers, authz RoleAuthorizer, logger *slog.Logger) {
	userModerators := RequireRoles(authz, domainauth.Roles(domainauth.RoleAdmin, domainauth.RoleManager), logger)
	adminsOnly := RequireRoles(authz, domainauth.Roles(domainauth.RoleAdmin), logger)

	mux.Handle("GET /api/admin/users", userModerators(http.HandlerFunc(h.ListUsers)))
	mux.Handle("GET /api/admin/users/{id}", userModerators(http.HandlerFunc(h.GetUser)))
	mux.Handle("PUT /api/admin/users/{id}/status", userModerators(http.HandlerFunc(h.SetUserStatus)))
	mux.Handle("DELETE /api/admin/users/{id}", userModerators(http.HandlerFunc(h.DeleteUser)))

	mux.Handle("GET /api/admin/staff", adminsOnly(http.HandlerFunc(h.ListStaff)))
	mux.Handle("POST /api/admin/staff", adminsOnly(http.HandlerFunc(h.CreateStaff)))
	mux.Handle("DELETE /api/admin/staff/{id}", adminsOnly(http.HandlerFunc(h.DeleteStaff)))
	mux.Handle("PUT /api/admin/principals/{id}/role", adminsOnly(http.HandlerFunc(h.SetRole)))
}

func notFoundHandler(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusNotFound, errorBody{Error: "route not found", Code: string(apperrors.ErrCodeNotFound)})
}
