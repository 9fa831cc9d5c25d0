package config

import (
	"slices"
	"time"

	"github.com/vyrodovalexey/tlsgate/internal/resolver"
	tlspkg "github.com/vyrodovalexey/tlsgate/internal/tls"
	"github.com/vyrodovalexey/tlsgate/internal/vault"
)

// Configuration identity values.
const (
	APIVersion = "gateway.tlsgate.io/v1"
	Kind       = "Gateway"
)

// Defaults for unset fields.
const (
	DefaultBacklog        = 50
	DefaultConnectTimeout = 10 * time.Second
	DefaultMetricsAddress = ":9090"
	DefaultMetricsPath    = "/metrics"
	DefaultNamespace      = "tlsgate"

	DefaultHandshakeTimeout = 10 * time.Second
	DefaultBreakerFailures  = 5
	DefaultBreakerTimeout   = 30 * time.Second
	DefaultSamplingRate     = 1.0
)

// ListenerMode selects how a listener terminates TLS.
type ListenerMode string

// Listener modes.
const (
	// ListenerModeTLS accepts TLS directly with a single context.
	ListenerModeTLS ListenerMode = "tls"

	// ListenerModeSNI accepts plain TCP, reads the ClientHello and upgrades
	// the connection with the context matching the requested server name.
	ListenerModeSNI ListenerMode = "sni"
)

// IsValid reports whether m is a known mode. Empty means tls.
func (m ListenerMode) IsValid() bool {
	return m == "" || m == ListenerModeTLS || m == ListenerModeSNI
}

// GatewayConfig is the root configuration document.
type GatewayConfig struct {
	APIVersion string      `yaml:"apiVersion" json:"apiVersion"`
	Kind       string      `yaml:"kind" json:"kind"`
	Metadata   Metadata    `yaml:"metadata" json:"metadata"`
	Spec       GatewaySpec `yaml:"spec" json:"spec"`

	// Location is the file the configuration was loaded from. Relative TLS
	// resource locations resolve against it.
	Location string `yaml:"-" json:"-"`
}

// Metadata names the gateway.
type Metadata struct {
	Name   string            `yaml:"name" json:"name"`
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// GatewaySpec holds listeners, targets and supporting services.
type GatewaySpec struct {
	Listeners     []Listener           `yaml:"listeners" json:"listeners"`
	Targets       []Target             `yaml:"targets,omitempty" json:"targets,omitempty"`
	Vault         *vault.Config        `yaml:"vault,omitempty" json:"vault,omitempty"`
	Observability *ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// Listener is an inbound TLS endpoint.
type Listener struct {
	Name    string       `yaml:"name" json:"name"`
	Bind    string       `yaml:"bind,omitempty" json:"bind,omitempty"`
	Port    int          `yaml:"port" json:"port"`
	Backlog int          `yaml:"backlog,omitempty" json:"backlog,omitempty"`
	Mode    ListenerMode `yaml:"mode,omitempty" json:"mode,omitempty"`

	// SSL lists the TLS descriptors. tls mode takes exactly one; sni mode
	// selects among them by server name, the first being the default.
	SSL []tlspkg.Descriptor `yaml:"ssl" json:"ssl"`

	// Target names the target accepted connections are forwarded to.
	Target string `yaml:"target" json:"target"`
}

// GetBacklog returns the effective accept backlog.
func (l *Listener) GetBacklog() int {
	if l.Backlog > 0 {
		return l.Backlog
	}
	return DefaultBacklog
}

// GetMode returns the effective mode.
func (l *Listener) GetMode() ListenerMode {
	if l.Mode == "" {
		return ListenerModeTLS
	}
	return l.Mode
}

// Target is an upstream endpoint. A nil SSL connects in plaintext.
type Target struct {
	Name           string             `yaml:"name" json:"name"`
	Host           string             `yaml:"host" json:"host"`
	Port           int                `yaml:"port" json:"port"`
	ConnectTimeout Duration           `yaml:"connectTimeout,omitempty" json:"connectTimeout,omitempty"`
	LocalAddress   string             `yaml:"localAddress,omitempty" json:"localAddress,omitempty"`
	LocalPort      int                `yaml:"localPort,omitempty" json:"localPort,omitempty"`
	SSL            *tlspkg.Descriptor `yaml:"ssl,omitempty" json:"ssl,omitempty"`

	// HandshakeTimeout bounds connect plus TLS handshake when SSL is set.
	HandshakeTimeout Duration `yaml:"handshakeTimeout,omitempty" json:"handshakeTimeout,omitempty"`

	CircuitBreaker *CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
}

// CircuitBreakerConfig stops dialling a target after consecutive failures.
type CircuitBreakerConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Failures is the number of consecutive failed dials that open the circuit.
	Failures int `yaml:"failures,omitempty" json:"failures,omitempty"`
	// Timeout is how long the circuit stays open before a trial dial.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// GetFailures returns the effective failure threshold.
func (c *CircuitBreakerConfig) GetFailures() int {
	if c.Failures > 0 {
		return c.Failures
	}
	return DefaultBreakerFailures
}

// GetTimeout returns the effective open interval.
func (c *CircuitBreakerConfig) GetTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout.Duration()
	}
	return DefaultBreakerTimeout
}

// GetConnectTimeout returns the effective connect timeout.
func (t *Target) GetConnectTimeout() time.Duration {
	if t.ConnectTimeout > 0 {
		return t.ConnectTimeout.Duration()
	}
	return DefaultConnectTimeout
}

// GetHandshakeTimeout returns the effective upstream handshake timeout.
func (t *Target) GetHandshakeTimeout() time.Duration {
	if t.HandshakeTimeout > 0 {
		return t.HandshakeTimeout.Duration()
	}
	return DefaultHandshakeTimeout
}

// ObservabilityConfig configures logging, metrics and tracing.
type ObservabilityConfig struct {
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Tracing *TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing. Without an endpoint spans
// are created but not exported.
type TracingConfig struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	Endpoint     string   `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	ServiceName  string   `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	SamplingRate *float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
}

// GetSamplingRate returns the effective sampling rate.
func (t *TracingConfig) GetSamplingRate() float64 {
	if t.SamplingRate != nil {
		return *t.SamplingRate
	}
	return DefaultSamplingRate
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Address   string `yaml:"address,omitempty" json:"address,omitempty"`
	Path      string `yaml:"path,omitempty" json:"path,omitempty"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// GetAddress returns the effective listen address.
func (m *MetricsConfig) GetAddress() string {
	if m.Address != "" {
		return m.Address
	}
	return DefaultMetricsAddress
}

// GetPath returns the effective HTTP path.
func (m *MetricsConfig) GetPath() string {
	if m.Path != "" {
		return m.Path
	}
	return DefaultMetricsPath
}

// GetNamespace returns the effective metric namespace.
func (m *MetricsConfig) GetNamespace() string {
	if m.Namespace != "" {
		return m.Namespace
	}
	return DefaultNamespace
}

// DefaultConfig returns an empty, valid-shaped configuration.
func DefaultConfig() *GatewayConfig {
	return &GatewayConfig{
		APIVersion: APIVersion,
		Kind:       Kind,
		Metadata:   Metadata{Name: "tlsgate"},
		Spec: GatewaySpec{
			Observability: &ObservabilityConfig{
				Logging: &LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
				Metrics: &MetricsConfig{Enabled: true},
			},
		},
	}
}

// FindTarget returns the target with the given name.
func (c *GatewayConfig) FindTarget(name string) (*Target, bool) {
	for i := range c.Spec.Targets {
		if c.Spec.Targets[i].Name == name {
			return &c.Spec.Targets[i], true
		}
	}
	return nil, false
}

// ResourceFiles returns the sorted, deduplicated filesystem paths of every
// TLS resource the listeners and targets read. Locations served by other
// schemes are left out.
func (c *GatewayConfig) ResourceFiles() []string {
	var descs []*tlspkg.Descriptor
	for i := range c.Spec.Listeners {
		for j := range c.Spec.Listeners[i].SSL {
			descs = append(descs, &c.Spec.Listeners[i].SSL[j])
		}
	}
	for i := range c.Spec.Targets {
		if c.Spec.Targets[i].SSL != nil {
			descs = append(descs, c.Spec.Targets[i].SSL)
		}
	}

	var files []string
	for _, d := range descs {
		for _, loc := range d.Locations() {
			if path, ok := resolver.FilePath(c.Location, loc); ok {
				files = append(files, path)
			}
		}
	}
	slices.Sort(files)
	return slices.Compact(files)
}

// Logging returns the logging section, or defaults.
func (c *GatewayConfig) Logging() *LoggingConfig {
	if c.Spec.Observability != nil && c.Spec.Observability.Logging != nil {
		return c.Spec.Observability.Logging
	}
	return DefaultConfig().Spec.Observability.Logging
}

// Tracing returns the tracing section, or a disabled one.
func (c *GatewayConfig) Tracing() *TracingConfig {
	if c.Spec.Observability != nil && c.Spec.Observability.Tracing != nil {
		return c.Spec.Observability.Tracing
	}
	return &TracingConfig{}
}

// Metrics returns the metrics section, or defaults.
func (c *GatewayConfig) Metrics() *MetricsConfig {
	if c.Spec.Observability != nil && c.Spec.Observability.Metrics != nil {
		return c.Spec.Observability.Metrics
	}
	return DefaultConfig().Spec.Observability.Metrics
}
