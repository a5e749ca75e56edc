package httpx

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/streamauth/internal/observability/metrics"
)

func TestRouter_UnknownRouteIsJSON404(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/does-not-exist", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"route not found","code":"not_found"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouter_WrongMethodFallsThroughToNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/auth/login", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["code"])
}

func TestRouter_HealthAndReadiness(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	rec := env.do(t, http.MethodHead, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_AdminRoutesOptional(t *testing.T) {
	env := newTestEnv(t, func(rs *RouterServices) { rs.Admin = nil })
	env.seed(t, "root", "admin")
	rec := env.do(t, http.MethodGet, "/api/admin/users", nil, withBearer(env.token(t, "root")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	httpMetrics, err := metrics.NewHTTP(reg)
	require.NoError(t, err)

	env := newTestEnv(t, func(rs *RouterServices) {
		rs.HTTPMetrics = httpMetrics
		rs.MetricsHandler = metrics.Handler(reg)
		rs.MetricsPath = "/internal/metrics"
	})

	env.do(t, http.MethodGet, "/api/auth/status", nil)
	env.do(t, http.MethodGet, "/api/auth/status", nil)
	rec := env.do(t, http.MethodGet, "/internal/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`streamauth_http_requests_total{method="GET",route="GET /api/auth/status",status="200"} 2`)
}
