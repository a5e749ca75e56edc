package bootstrap

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/streamauth/config"
)

func TestNewHTTPServerAppliesTimeouts(t *testing.T) {
	cfg := config.HTTPConfig{}
	cfg.Sanitize()

	srv := NewHTTPServer(cfg, http.NotFoundHandler())

	assert.Equal(t, ":8080", srv.Addr)
	assert.Equal(t, cfg.ReadHeaderTimeout, srv.ReadHeaderTimeout)
	assert.Equal(t, cfg.ReadTimeout, srv.ReadTimeout)
	assert.Equal(t, cfg.WriteTimeout, srv.WriteTimeout)
	assert.Equal(t, cfg.IdleTimeout, srv.IdleTimeout)
	assert.Positive(t, srv.ReadHeaderTimeout)
}

func TestRunHTTPServerStopsOnCancel(t *testing.T) {
	cfg := config.HTTPConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}
	srv := NewHTTPServer(cfg, http.NotFoundHandler())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- RunHTTPServer(ctx, srv, cfg, discardLogger()) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestRunHTTPServerReportsListenFailure(t *testing.T) {
	cfg := config.HTTPConfig{Addr: "256.0.0.1:bad", ShutdownTimeout: time.Second}
	err := RunHTTPServer(t.Context(), NewHTTPServer(cfg, http.NotFoundHandler()), cfg, discardLogger())
	require.Error(t, err)
}
