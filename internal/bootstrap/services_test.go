package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/streamauth/config"
	httpx "github.com/target/streamauth/internal/http"
)

func TestBuildObservability(t *testing.T) {
	t.Run("metrics enabled", func(t *testing.T) {
		obs, err := buildObservability(t.Context(), config.ObservabilityConfig{
			Metrics: config.ObservabilityMetricsConfig{Enabled: true, Path: "/metrics"},
		}, discardLogger())
		require.NoError(t, err)
		require.NotNil(t, obs.Registry)
		assert.NotNil(t, obs.AuthMetrics)
		assert.NotNil(t, obs.HTTPMetrics)
		require.NoError(t, obs.ShutdownTracing(t.Context()))
	})

	t.Run("metrics disabled", func(t *testing.T) {
		obs, err := buildObservability(t.Context(), config.ObservabilityConfig{}, discardLogger())
		require.NoError(t, err)
		assert.Nil(t, obs.Registry)
		assert.Nil(t, obs.AuthMetrics)
		require.NoError(t, obs.ShutdownTracing(t.Context()))
	})
}

func TestNewServicesRequiresConfig(t *testing.T) {
	_, err := NewServices(t.Context(), &ServiceDeps{})
	require.Error(t, err)
}

func TestNewRouterServices(t *testing.T) {
	cfg := config.AppConfig{Environment: "production"}
	cfg.Auth.CookieName = "sid"
	cfg.Auth.CookieSecure = config.CookieSecureAuto
	cfg.Auth.AllowRegistration = true
	cfg.HTTP.CookieDomain = "example.com"
	cfg.Observability.Metrics = config.ObservabilityMetricsConfig{Enabled: true, Path: "/internal/metrics"}

	obs, err := buildObservability(t.Context(), cfg.Observability, discardLogger())
	require.NoError(t, err)

	rs := NewRouterServices(RouterConfig{
		Config:   &cfg,
		Services: ServiceContainer{Observability: obs},
		Logger:   discardLogger(),
	})

	assert.Equal(t, httpx.CookieConfig{
		Name: "sid", Domain: "example.com", Secure: config.CookieSecureAuto, Production: true,
	}, rs.Cookie)
	assert.True(t, rs.AllowRegistration)
	assert.Equal(t, "/internal/metrics", rs.MetricsPath)
	assert.NotNil(t, rs.MetricsHandler)
	assert.NotNil(t, rs.HTTPMetrics)

	// Without a database the readiness probe reports unavailable.
	rec := httptest.NewRecorder()
	rs.Readiness.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewRouterServicesWithoutRedisSkipsRedisPing(t *testing.T) {
	rs := NewRouterServices(RouterConfig{Config: &config.AppConfig{}, Logger: discardLogger()})
	ready, ok := rs.Readiness.(*httpx.ReadinessHandler)
	require.True(t, ok)
	assert.Nil(t, ready.Redis)
	assert.Error(t, ready.DB(context.Background()))
	assert.Nil(t, rs.MetricsHandler)
}
