package httpx

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/streamauth/internal/domain/auth"
	apperrors "github.com/target/streamauth/internal/errors"
	"github.com/target/streamauth/internal/observability/metrics"
)

type stubVerifier struct {
	principal *domainauth.Principal
	err       error
	calls     []string
}

func (s *stubVerifier) Verify(_ context.Context, token string) (*domainauth.Principal, error) {
	s.calls = append(s.calls, token)
	return s.principal, s.err
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }),
		mw("outer"), mw("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	t.Run("reuses incoming id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "abc-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "abc-123", seen)
		assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	})

	for name, incoming := range map[string]string{
		"missing":  "",
		"too long": strings.Repeat("a", 129),
		"spaces":   "has spaces",
	} {
		t.Run("generates when "+name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if incoming != "" {
				req.Header.Set("X-Request-ID", incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Len(t, seen, 36)
			assert.NotEqual(t, incoming, seen)
			assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestLogging_RecordsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	}), RequestID(), Logging(logger))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.Header.Set("X-Request-ID", "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, "method=POST")
	assert.Contains(t, out, "path=/api/auth/login")
	assert.Contains(t, out, "status=418")
	assert.Contains(t, out, "bytes=5")
	assert.Contains(t, out, "request_id=req-1")
}

func TestRecover(t *testing.T) {
	var buf bytes.Buffer
	h := Recover(slog.New(slog.NewTextHandler(&buf, nil)))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("db password is hunter2")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "internal server error", body["error"])
	assert.Equal(t, "internal", body["code"])
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.Contains(t, buf.String(), "hunter2")
}

func TestRecover_RepanicsOnAbort(t *testing.T) {
	h := Recover(slog.Default())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestMetrics_LabelsByPattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewHTTP(reg)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/admin/users/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := Metrics(m)(mux)

	for _, id := range []string{"1", "2", "3"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/admin/users/"+id, nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 2, promtestutil.CollectAndCount(reg, "streamauth_http_requests_total"))

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(),
		`streamauth_http_requests_total{method="GET",route="GET /api/admin/users/{id}",status="204"} 3`)
	assert.Contains(t, rec.Body.String(), `route="unmatched",status="404"`)
}

func TestMetrics_NilIsPassthrough(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	h := Metrics(nil)(next)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticate(t *testing.T) {
	alice := &domainauth.Principal{ID: 7, Username: "alice", Role: domainauth.RoleUser, Status: domainauth.StatusActive}

	type seen struct {
		principal *domainauth.Principal
		token     string
		rejected  bool
		called    bool
	}
	run := func(t *testing.T, v *stubVerifier, opts ...reqOption) (*httptest.ResponseRecorder, seen) {
		t.Helper()
		var s seen
		h := Authenticate(AuthenticateOptions{Verifier: v, CookieName: "session_token", Logger: slog.Default()})(
			http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				s.called = true
				s.principal, _ = PrincipalFromContext(r.Context())
				s.token = TokenFromContext(r.Context())
				s.rejected = TokenRejected(r.Context())
			}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		for _, o := range opts {
			o(req)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec, s
	}

	t.Run("no token skips verification", func(t *testing.T) {
		v := &stubVerifier{}
		_, s := run(t, v)
		assert.True(t, s.called)
		assert.Nil(t, s.principal)
		assert.False(t, s.rejected)
		assert.Empty(t, v.calls)
	})

	t.Run("valid token attaches principal", func(t *testing.T) {
		v := &stubVerifier{principal: alice}
		_, s := run(t, v, withCookie("session_token", "tok-1"))
		assert.Equal(t, alice, s.principal)
		assert.Equal(t, "tok-1", s.token)
		assert.Equal(t, []string{"tok-1"}, v.calls)
	})

	t.Run("invalid token is marked rejected", func(t *testing.T) {
		v := &stubVerifier{err: apperrors.Unauthenticated("")}
		_, s := run(t, v, withBearer("stale"))
		assert.True(t, s.called)
		assert.Nil(t, s.principal)
		assert.True(t, s.rejected)
	})

	t.Run("storage failure is a 500", func(t *testing.T) {
		v := &stubVerifier{err: errors.New("connection refused")}
		rec, s := run(t, v, withBearer("tok-1"))
		assert.False(t, s.called)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "connection refused")
	})
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name string
		opts []reqOption
		want string
	}{
		{"none", nil, ""},
		{"bearer", []reqOption{withBearer("abc")}, "abc"},
		{"lowercase scheme", []reqOption{withHeader("Authorization", "bearer abc")}, "abc"},
		{"cookie", []reqOption{withCookie("session_token", "xyz")}, "xyz"},
		{"bearer wins", []reqOption{withBearer("abc"), withCookie("session_token", "xyz")}, "abc"},
		{"empty bearer falls back to cookie", []reqOption{withHeader("Authorization", "Bearer   "), withCookie("session_token", "xyz")}, "xyz"},
		{"basic auth ignored", []reqOption{withHeader("Authorization", "Basic Zm9vOmJhcg==")}, ""},
		{"other cookie ignored", []reqOption{withCookie("theme", "dark")}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for _, o := range tt.opts {
				o(req)
			}
			assert.Equal(t, tt.want, extractToken(req, "session_token"))
		})
	}
}
