package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	domainauth "github.com/target/streamauth/internal/domain/auth"
	apperrors "github.com/target/streamauth/internal/errors"
	"github.com/target/streamauth/internal/observability/metrics"
)

const (
	headerRequestID = "X-Request-ID"
	maxRequestIDLen = 128
	bearerPrefix    = "bearer "
)

// SessionVerifier resolves a raw session token to its principal.
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (*domainauth.Principal, error)
}

// RoleAuthorizer decides whether a principal may run an operation.
type RoleAuthorizer interface {
	Authorize(p *domainauth.Principal, accepted domainauth.RoleSet) error
}

// Chain applies middlewares so the first one listed is the outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RequestID returns a middleware that assigns every request an id, reusing a
// well-formed incoming X-Request-ID, and echoes it on the response.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(headerRequestID)
			if !validRequestID(id) {
				id = uuid.NewString()
			}
			w.Header().Set(headerRequestID, id)
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := wrapResponseWriter(w)
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Int("bytes", ww.bytes),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", RequestIDFromContext(r.Context())),
			)
		})
	}
}

// Metrics returns a middleware that records request counts and latency by
// route pattern. It must wrap the ServeMux directly so the matched pattern is
// visible on the request after routing.
func Metrics(m *metrics.HTTP) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := wrapResponseWriter(w)
			next.ServeHTTP(ww, r)
			m.Observe(r.Method, r.Pattern, ww.status, time.Since(start))
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *respWriter {
	return &respWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *respWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *respWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *respWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.ErrorContext(r.Context(), "panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("request_id", RequestIDFromContext(r.Context())),
						slog.String("stack", string(debug.Stack())))
					WriteJSON(w, http.StatusInternalServerError, errorBody{
						Error: genericInternalMessage,
						Code:  string(apperrors.ErrCodeInternal),
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// AuthenticateOptions configures the Authenticate middleware.
type AuthenticateOptions struct {
	Verifier   SessionVerifier
	CookieName string
	Logger     *slog.Logger
}

// Authenticate resolves the request's session token, bearer header first and
// then the session cookie, and stores the outcome in the request context.
// It never rejects a request on its own; RequireAuth and RequireRoles do.
// Storage failures during verification are answered with a 500.
func Authenticate(opts AuthenticateOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r, opts.CookieName)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			st := authState{token: token}
			p, err := opts.Verifier.Verify(r.Context(), token)
			switch {
			case err == nil:
				st.principal = p
			case apperrors.IsUnauthenticated(err):
				st.rejected = true
			default:
				RespondError(w, r, opts.Logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withAuthState(r.Context(), st)))
		})
	}
}

// extractToken returns the bearer token if present, otherwise the cookie value.
func extractToken(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); len(h) > len(bearerPrefix) &&
		strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		if tok := strings.TrimSpace(h[len(bearerPrefix):]); tok != "" {
			return tok
		}
	}
	if cookieName == "" {
		return ""
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

// RequireAuth returns a middleware that requires a verified principal of any role.
// If the user is not authenticated, it returns a 401 Unauthorized response.
func RequireAuth(authz RoleAuthorizer, logger *slog.Logger) func(http.Handler) http.Handler {
	return RequireRoles(authz, domainauth.Roles(domainauth.AllRoles()...), logger)
}

// RequireRoles returns a middleware that admits only principals whose role is
// in accepted. Missing or invalid sessions get 401, other roles get 403.
func RequireRoles(authz RoleAuthorizer, accepted domainauth.RoleSet, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := PrincipalFromContext(r.Context())
			if err := authz.Authorize(p, accepted); err != nil {
				RespondError(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
