package tls

import (
	"sync/atomic"

	"github.com/vyrodovalexey/tlsgate/internal/observability"
)

// WarningKind identifies a condition that is reported at most once per Diagnostics sink.
type WarningKind int

// One-time warning kinds.
const (
	WarningLimitedStrength WarningKind = iota
	WarningDefaultCertificate
	WarningCipherOrder
	numWarningKinds
)

// String returns the metric label for k.
func (k WarningKind) String() string {
	switch k {
	case WarningLimitedStrength:
		return "limited_strength"
	case WarningDefaultCertificate:
		return "default_certificate"
	case WarningCipherOrder:
		return "cipher_order"
	default:
		return "unknown"
	}
}

// Diagnostics is the sink for non-fatal findings made while building contexts.
// It is shared by every context built for a process so that the one-time
// warnings stay one-time across rebuilds. Safe for concurrent use.
type Diagnostics struct {
	logger  observability.Logger
	metrics MetricsRecorder
	fired   [numWarningKinds]atomic.Bool
}

// DiagnosticsOption configures a Diagnostics sink.
type DiagnosticsOption func(*Diagnostics)

// WithDiagnosticsLogger sets the logger warnings are written to.
func WithDiagnosticsLogger(logger observability.Logger) DiagnosticsOption {
	return func(d *Diagnostics) {
		d.logger = logger
	}
}

// WithDiagnosticsMetrics sets the metrics recorder counting warnings.
func WithDiagnosticsMetrics(metrics MetricsRecorder) DiagnosticsOption {
	return func(d *Diagnostics) {
		d.metrics = metrics
	}
}

// NewDiagnostics creates a Diagnostics sink. Without a logger, warnings go to
// the global logger at the time they are emitted.
func NewDiagnostics(opts ...DiagnosticsOption) *Diagnostics {
	d := &Diagnostics{metrics: NewNopMetrics()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var processDiagnostics = NewDiagnostics()

// ProcessDiagnostics returns the process-wide sink used by contexts built
// without WithDiagnostics.
func ProcessDiagnostics() *Diagnostics {
	return processDiagnostics
}

func (d *Diagnostics) log() observability.Logger {
	if d.logger != nil {
		return d.logger
	}
	return observability.L()
}

// WarnOnce emits msg the first time kind is reported and returns whether it did.
func (d *Diagnostics) WarnOnce(kind WarningKind, msg string, fields ...observability.Field) bool {
	if kind < 0 || kind >= numWarningKinds {
		return false
	}
	if !d.fired[kind].CompareAndSwap(false, true) {
		return false
	}
	d.metrics.RecordWarning(kind.String())
	d.log().Warn(msg, append(fields, observability.String("warning", kind.String()))...)
	return true
}

// Warn emits msg every time it is called.
func (d *Diagnostics) Warn(kind string, msg string, fields ...observability.Field) {
	d.metrics.RecordWarning(kind)
	d.log().Warn(msg, append(fields, observability.String("warning", kind))...)
}

// Fired reports whether the one-time warning for kind has been emitted.
func (d *Diagnostics) Fired(kind WarningKind) bool {
	if kind < 0 || kind >= numWarningKinds {
		return false
	}
	return d.fired[kind].Load()
}
