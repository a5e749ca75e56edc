package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	healthResponse      = `{"status":"ok"}`
	readinessTimeout    = 2 * time.Second
	dependencyUp        = "up"
	dependencyDown      = "down"
	dependencyDisabled  = "disabled"
	readinessStatusOK   = "ok"
	readinessStatusFail = "unavailable"
)

// healthHandler returns a simple 200 OK status for liveness checks.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}

// PingFunc checks one dependency.
type PingFunc func(ctx context.Context) error

// ReadinessHandler reports whether the database answers. Redis is reported
// but never fails readiness because the login throttle fails open.
type ReadinessHandler struct {
	DB     PingFunc
	Redis  PingFunc // optional
	Logger *slog.Logger
}

func (h *ReadinessHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status, code := readinessStatusOK, http.StatusOK
	deps := map[string]string{"database": dependencyUp, "redis": dependencyDisabled}

	if err := h.DB(ctx); err != nil {
		h.logger().WarnContext(ctx, "readiness: database ping failed", "error", err)
		deps["database"] = dependencyDown
		status, code = readinessStatusFail, http.StatusServiceUnavailable
	}
	if h.Redis != nil {
		deps["redis"] = dependencyUp
		if err := h.Redis(ctx); err != nil {
			h.logger().WarnContext(ctx, "readiness: redis ping failed", "error", err)
			deps["redis"] = dependencyDown
		}
	}

	WriteJSON(w, code, map[string]any{"status": status, "dependencies": deps})
}

func (h *ReadinessHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
