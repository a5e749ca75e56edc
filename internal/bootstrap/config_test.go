package bootstrap

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", " Production ")
	t.Setenv("AUTH_SESSION_TTL", "48h")
	t.Setenv("AUTH_BCRYPT_COST", "4")
	t.Setenv("DB_HOST", "db.internal")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 48*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("AUTH_COOKIE_SECURE", "sometimes")
	_, err := LoadConfig()
	require.Error(t, err)
}
