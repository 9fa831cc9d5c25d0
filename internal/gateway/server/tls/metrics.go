package tls

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Connection results used as metric labels.
const (
	ResultForwarded      = "forwarded"
	ResultHandshakeError = "handshake_error"
	ResultClientHello    = "client_hello_error"
	ResultUpstreamError  = "upstream_error"
)

// Directions used as metric labels.
const (
	DirectionUpstream   = "upstream"
	DirectionDownstream = "downstream"
)

// Recorder records listener and forwarding metrics.
type Recorder interface {
	ConnectionOpened(listener string)
	ConnectionClosed(listener, result string)
	BytesTransferred(listener, direction string, n int64)
	SNISelected(listener string, matched bool)
}

// Metrics holds Prometheus metrics for gateway listeners.
type Metrics struct {
	connectionsTotal  *prometheus.CounterVec
	activeConnections *prometheus.GaugeVec
	bytesTotal        *prometheus.CounterVec
	sniSelections     *prometheus.CounterVec
}

// NewMetrics creates listener metrics and registers them with registerer.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "tlsgate"
	}

	m := &Metrics{
		connectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "listener",
				Name:      "connections_total",
				Help:      "Total number of closed connections by listener and result",
			},
			[]string{"listener", "result"},
		),
		activeConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "listener",
				Name:      "active_connections",
				Help:      "Number of connections currently open",
			},
			[]string{"listener"},
		),
		bytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "listener",
				Name:      "bytes_total",
				Help:      "Total bytes relayed by listener and direction",
			},
			[]string{"listener", "direction"},
		),
		sniSelections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "listener",
				Name:      "sni_selections_total",
				Help:      "Context selections by server name, matched or defaulted",
			},
			[]string{"listener", "match"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(m.connectionsTotal, m.activeConnections, m.bytesTotal, m.sniSelections)
	}
	return m
}

// ConnectionOpened increments the active gauge.
func (m *Metrics) ConnectionOpened(listener string) {
	m.activeConnections.WithLabelValues(listener).Inc()
}

// ConnectionClosed decrements the active gauge and counts the result.
func (m *Metrics) ConnectionClosed(listener, result string) {
	m.activeConnections.WithLabelValues(listener).Dec()
	m.connectionsTotal.WithLabelValues(listener, result).Inc()
}

// BytesTransferred adds n relayed bytes.
func (m *Metrics) BytesTransferred(listener, direction string, n int64) {
	if n > 0 {
		m.bytesTotal.WithLabelValues(listener, direction).Add(float64(n))
	}
}

// SNISelected counts a context selection.
func (m *Metrics) SNISelected(listener string, matched bool) {
	match := "default"
	if matched {
		match = "exact_or_wildcard"
	}
	m.sniSelections.WithLabelValues(listener, match).Inc()
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened(string)                {}
func (nopRecorder) ConnectionClosed(string, string)        {}
func (nopRecorder) BytesTransferred(string, string, int64) {}
func (nopRecorder) SNISelected(string, bool)               {}

var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = nopRecorder{}
)
