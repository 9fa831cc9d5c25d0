package tls

import (
	"crypto/tls"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Handshake roles used as metric labels.
const (
	RoleServer  = "server"
	RoleClient  = "client"
	RoleUpgrade = "upgrade"
)

// Metrics holds Prometheus metrics for TLS context construction and handshakes.
type Metrics struct {
	handshakesTotal   *prometheus.CounterVec
	handshakeDuration *prometheus.HistogramVec
	handshakeErrors   *prometheus.CounterVec
	contextsBuilt     *prometheus.CounterVec
	warningsTotal     *prometheus.CounterVec

	registry *prometheus.Registry
}

// MetricsOption is a functional option for configuring Metrics.
type MetricsOption func(*Metrics)

// WithRegistry sets a custom Prometheus registry.
func WithRegistry(registry *prometheus.Registry) MetricsOption {
	return func(m *Metrics) {
		m.registry = registry
	}
}

// NewMetrics creates a new Metrics instance with the given namespace.
func NewMetrics(namespace string, opts ...MetricsOption) *Metrics {
	if namespace == "" {
		namespace = "tlsgate"
	}

	m := &Metrics{}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	m.handshakesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "handshakes_total",
			Help:      "Total number of completed TLS handshakes by role, version, and cipher suite",
		},
		[]string{"role", "version", "cipher"},
	)

	m.handshakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "handshake_duration_seconds",
			Help:      "TLS handshake duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"role"},
	)

	m.handshakeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "handshake_errors_total",
			Help:      "Total number of failed TLS handshakes by role",
		},
		[]string{"role"},
	)

	m.contextsBuilt = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "contexts_built_total",
			Help:      "Total number of TLS context builds by result",
		},
		[]string{"result"},
	)

	m.warningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "warnings_total",
			Help:      "Total number of TLS configuration warnings by kind",
		},
		[]string{"kind"},
	)

	m.registry.MustRegister(
		m.handshakesTotal,
		m.handshakeDuration,
		m.handshakeErrors,
		m.contextsBuilt,
		m.warningsTotal,
	)

	return m
}

// RecordHandshake records a completed handshake.
func (m *Metrics) RecordHandshake(role string, state tls.ConnectionState, duration time.Duration) {
	m.handshakesTotal.WithLabelValues(role, tls.VersionName(state.Version), tls.CipherSuiteName(state.CipherSuite)).Inc()
	m.handshakeDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// RecordHandshakeError records a failed handshake.
func (m *Metrics) RecordHandshakeError(role string) {
	m.handshakeErrors.WithLabelValues(role).Inc()
}

// RecordContextBuild records the outcome of building a context.
func (m *Metrics) RecordContextBuild(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.contextsBuilt.WithLabelValues(result).Inc()
}

// RecordWarning records a configuration warning.
func (m *Metrics) RecordWarning(kind string) {
	m.warningsTotal.WithLabelValues(kind).Inc()
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// NopMetrics is a no-op implementation of metrics for testing.
type NopMetrics struct{}

// NewNopMetrics creates a new NopMetrics instance.
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

// RecordHandshake is a no-op.
func (m *NopMetrics) RecordHandshake(_ string, _ tls.ConnectionState, _ time.Duration) {}

// RecordHandshakeError is a no-op.
func (m *NopMetrics) RecordHandshakeError(_ string) {}

// RecordContextBuild is a no-op.
func (m *NopMetrics) RecordContextBuild(_ bool) {}

// RecordWarning is a no-op.
func (m *NopMetrics) RecordWarning(_ string) {}

// MetricsRecorder defines the interface for recording TLS metrics.
type MetricsRecorder interface {
	RecordHandshake(role string, state tls.ConnectionState, duration time.Duration)
	RecordHandshakeError(role string)
	RecordContextBuild(success bool)
	RecordWarning(kind string)
}

var (
	_ MetricsRecorder = (*Metrics)(nil)
	_ MetricsRecorder = (*NopMetrics)(nil)
)
