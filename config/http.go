package config

import "time"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// CookieDomain is the domain for session cookies.
	// Leave empty to use the request domain.
	CookieDomain string `env:"APP_COOKIE_DOMAIN" envDefault:""`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT"        envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT"       envDefault:"15s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT"        envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT"    envDefault:"10s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.Addr == "" {
		h.Addr = ":8080"
	}
	defaultIfNonPositive(&h.ReadHeaderTimeout, 5*time.Second)
	defaultIfNonPositive(&h.ReadTimeout, 15*time.Second)
	defaultIfNonPositive(&h.WriteTimeout, 15*time.Second)
	defaultIfNonPositive(&h.IdleTimeout, 60*time.Second)
	defaultIfNonPositive(&h.ShutdownTimeout, 10*time.Second)
}

func defaultIfNonPositive(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}
