package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/target/streamauth/config"
	httpx "github.com/target/streamauth/internal/http"
	"github.com/target/streamauth/internal/observability/metrics"
	"github.com/target/streamauth/internal/observability/tracing"
	"github.com/target/streamauth/internal/service"
)

// ServiceContainer holds the application services and their shared observability.
type ServiceContainer struct {
	Auth          *service.AuthService
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	// Registry is nil when metrics are disabled.
	Registry        *prometheus.Registry
	AuthMetrics     *metrics.Auth
	HTTPMetrics     *metrics.HTTP
	ShutdownTracing tracing.ShutdownFunc
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
	Now         func() time.Time // optional
}

// NewServices builds observability and the auth service.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps require a config")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	obs, err := buildObservability(ctx, deps.Config.Observability, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	auth, err := BuildAuthService(AuthConfig{
		Auth:        deps.Config.Auth,
		RateLimit:   deps.Config.RateLimit,
		DB:          deps.DB,
		RedisClient: deps.RedisClient,
		Metrics:     obs.AuthMetrics,
		Logger:      logger.With("component", "auth"),
		Now:         deps.Now,
	})
	if err != nil {
		return ServiceContainer{}, errors.Join(err, obs.ShutdownTracing(ctx))
	}

	return ServiceContainer{Auth: auth, Observability: obs}, nil
}

// buildObservability sets up the Prometheus registry and the tracer provider.
func buildObservability(ctx context.Context, cfg config.ObservabilityConfig, logger *slog.Logger) (ObservabilityContainer, error) {
	obs := ObservabilityContainer{}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		authMetrics, err := metrics.NewAuth(reg)
		if err != nil {
			return obs, fmt.Errorf("auth metrics: %w", err)
		}
		httpMetrics, err := metrics.NewHTTP(reg)
		if err != nil {
			return obs, fmt.Errorf("http metrics: %w", err)
		}
		obs.Registry, obs.AuthMetrics, obs.HTTPMetrics = reg, authMetrics, httpMetrics
		logger.InfoContext(ctx, "prometheus metrics enabled", "path", cfg.Metrics.Path)
	}

	shutdown, err := tracing.Setup(ctx, tracing.Options{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return obs, fmt.Errorf("setup tracing: %w", err)
	}
	obs.ShutdownTracing = shutdown
	if cfg.Tracing.Enabled {
		logger.InfoContext(ctx, "otlp tracing enabled",
			"endpoint", cfg.Tracing.Endpoint,
			"sample_ratio", cfg.Tracing.SampleRatio)
	}
	return obs, nil
}

// RouterConfig contains what NewRouterServices needs beyond the container.
type RouterConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient // optional
	Logger      *slog.Logger
}

// NewRouterServices maps the container and config onto the HTTP router's inputs.
func NewRouterServices(cfg RouterConfig) httpx.RouterServices {
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	readiness := &httpx.ReadinessHandler{Logger: cfg.Logger}
	if cfg.DB != nil {
		readiness.DB = cfg.DB.PingContext
	} else {
		readiness.DB = func(context.Context) error { return errors.New("database not configured") }
	}
	if cfg.RedisClient != nil {
		client := cfg.RedisClient
		readiness.Redis = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}

	rs := httpx.RouterServices{
		Auth:  cfg.Services.Auth,
		Admin: cfg.Services.Auth,
		Cookie: httpx.CookieConfig{
			Name:       appCfg.Auth.CookieName,
			Domain:     appCfg.HTTP.CookieDomain,
			Secure:     appCfg.Auth.CookieSecure,
			Production: appCfg.IsProduction(),
		},
		AllowRegistration: appCfg.Auth.AllowRegistration,
		Readiness:         readiness,
		Logger:            cfg.Logger,
	}
	if obs := cfg.Services.Observability; obs.Registry != nil {
		rs.HTTPMetrics = obs.HTTPMetrics
		rs.MetricsHandler = metrics.Handler(obs.Registry)
		rs.MetricsPath = appCfg.Observability.Metrics.Path
	}
	return rs
}
