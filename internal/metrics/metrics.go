// Package metrics exposes prometheus counters for the auth flows.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sigauth"

// Metrics holds the auth counters on a private registry
type Metrics struct {
	registry        *prometheus.Registry
	challenges      *prometheus.CounterVec
	logins          *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	logouts         prometheus.Counter
	rateLimited     prometheus.Counter
	storageFailures *prometheus.CounterVec
}

// New registers the counters on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_total",
			Help:      "Challenges issued, by result.",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts, by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Refresh attempts, by result.",
		}, []string{"result"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logouts_total",
			Help:      "Logouts processed.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Challenge requests rejected by the rate limiter.",
		}),
		storageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_failures_total",
			Help:      "Store operations that failed, by operation.",
		}, []string{"op"}),
	}
	m.registry.MustRegister(
		m.challenges, m.logins, m.refreshes, m.logouts, m.rateLimited, m.storageFailures,
		collectors.NewGoCollector(),
	)
	return m
}

// Challenge counts a challenge request by result. A nil Metrics is a no-op,
// as for every recorder below.
func (m *Metrics) Challenge(result string) {
	if m != nil {
		m.challenges.WithLabelValues(result).Inc()
	}
}

// Login counts a login attempt by result
func (m *Metrics) Login(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

// Refresh counts a refresh attempt by result
func (m *Metrics) Refresh(result string) {
	if m != nil {
		m.refreshes.WithLabelValues(result).Inc()
	}
}

// Logout counts a logout
func (m *Metrics) Logout() {
	if m != nil {
		m.logouts.Inc()
	}
}

// RateLimited counts a rejected challenge request
func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

// StorageFailure counts a backend failure for op
func (m *Metrics) StorageFailure(op string) {
	if m != nil {
		m.storageFailures.WithLabelValues(op).Inc()
	}
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
