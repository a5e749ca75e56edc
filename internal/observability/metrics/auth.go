package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result constants for metric labels.
const (
	ResultSuccess = "success"
	ResultError   = "error"

	LoginInvalidCredentials = "invalid_credentials"
	LoginRateLimited        = "rate_limited"

	VerifyAnonymous = "anonymous"
	VerifyValid     = "valid"
	VerifyRejected  = "rejected"

	DecisionGranted         = "granted"
	DecisionForbidden       = "forbidden"
	DecisionUnauthenticated = "unauthenticated"
)

const namespace = "streamauth"

// Auth holds the auth outcome counters. A nil *Auth records nothing.
type Auth struct {
	logins        *prometheus.CounterVec
	verifications *prometheus.CounterVec
	decisions     *prometheus.CounterVec
}

// NewAuth creates and registers the auth counters on reg.
func NewAuth(reg prometheus.Registerer) (*Auth, error) {
	a := &Auth{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_verifications_total",
			Help:      "Session verifications by result.",
		}, []string{"result"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_decisions_total",
			Help:      "Role gate decisions.",
		}, []string{"decision"}),
	}
	if err := register(reg, a.logins, a.verifications, a.decisions); err != nil {
		return nil, err
	}
	return a, nil
}

// LoginAttempt counts one login by result.
func (a *Auth) LoginAttempt(result string) {
	if a == nil {
		return
	}
	a.logins.WithLabelValues(result).Inc()
}

// SessionVerified counts one verification by result.
func (a *Auth) SessionVerified(result string) {
	if a == nil {
		return
	}
	a.verifications.WithLabelValues(result).Inc()
}

// AuthorizationDecision counts one role gate decision.
func (a *Auth) AuthorizationDecision(decision string) {
	if a == nil {
		return
	}
	a.decisions.WithLabelValues(decision).Inc()
}

// HTTP holds request counters and latency histograms.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTP creates and registers the HTTP collectors on reg.
func NewHTTP(reg prometheus.Registerer) (*HTTP, error) {
	h := &HTTP{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if err := register(reg, h.requests, h.duration); err != nil {
		return nil, err
	}
	return h, nil
}

// Observe records one finished request. route should be the mux pattern, never the raw path.
func (h *HTTP) Observe(method, route string, status int, d time.Duration) {
	if h == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	h.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	h.duration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler exposes the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func register(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	var errs []error
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			errs = append(errs, fmt.Errorf("register collector: %w", err))
		}
	}
	return errors.Join(errs...)
}
