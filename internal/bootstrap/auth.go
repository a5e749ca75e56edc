package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/streamauth/config"
	"github.com/target/streamauth/internal/adapters/password"
	redisadapter "github.com/target/streamauth/internal/adapters/redis"
	"github.com/target/streamauth/internal/adapters/token"
	"github.com/target/streamauth/internal/data"
	"github.com/target/streamauth/internal/observability/metrics"
	"github.com/target/streamauth/internal/ports"
	"github.com/target/streamauth/internal/service"
)

// AuthConfig contains configuration for the auth service.
type AuthConfig struct {
	Auth        config.AuthConfig
	RateLimit   config.RateLimitConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient // optional; nil disables the login throttle
	Metrics     *metrics.Auth         // optional
	Logger      *slog.Logger
	Now         func() time.Time // optional
}

// BuildAuthService wires the Postgres repositories, bcrypt hasher, random
// token source and optional Redis login throttle into an AuthService.
func BuildAuthService(cfg AuthConfig) (*service.AuthService, error) {
	if cfg.DB == nil {
		return nil, errors.New("auth service requires a database")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limiter, err := newLoginLimiter(cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := service.AuthServiceOptions{
		Principals: data.NewPrincipalRepo(cfg.DB),
		Sessions:   data.NewSessionRepo(cfg.DB),
		Hasher:     password.NewBcryptHasher(cfg.Auth.BcryptCost),
		Tokens:     token.NewRandomSource(),
		Legacy:     data.NewLegacyAdminRepo(cfg.DB, logger),
		Limiter:    limiter,
		Logger:     logger,
		SessionTTL: cfg.Auth.SessionTTL,
		Now:        cfg.Now,
	}
	// A typed nil *metrics.Auth must not become a non-nil interface.
	if cfg.Metrics != nil {
		opts.Metrics = cfg.Metrics
	}

	svc, err := service.NewAuthService(opts)
	if err != nil {
		return nil, fmt.Errorf("build auth service: %w", err)
	}
	return svc, nil
}

func newLoginLimiter(cfg AuthConfig, logger *slog.Logger) (ports.LoginLimiter, error) {
	switch {
	case !cfg.RateLimit.Enabled:
		logger.Info("login throttle disabled via config")
		return nil, nil
	case cfg.RedisClient == nil:
		logger.Warn("login throttle disabled: redis client not configured")
		return nil, nil
	}

	limiter, err := redisadapter.NewLoginLimiter(redisadapter.LoginLimiterOptions{
		Client:         cfg.RedisClient,
		Prefix:         cfg.RateLimit.Prefix,
		Capacity:       cfg.RateLimit.Capacity,
		RefillTokens:   cfg.RateLimit.RefillTokens,
		RefillInterval: cfg.RateLimit.RefillInterval,
		TTL:            cfg.RateLimit.TTL,
		Now:            cfg.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("build login limiter: %w", err)
	}
	return limiter, nil
}
