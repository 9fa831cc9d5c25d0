package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates gateway configuration. TLS descriptors are checked
// structurally only; key material is read when contexts are built.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(cfg *GatewayConfig) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration and returns ValidationErrors when
// anything is wrong.
func (v *Validator) Validate(cfg *GatewayConfig) error {
	v.errors = nil

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	if cfg.APIVersion != APIVersion {
		v.addError("apiVersion", fmt.Sprintf("apiVersion must be %q", APIVersion))
	}
	if cfg.Kind != Kind {
		v.addError("kind", fmt.Sprintf("kind must be %q", Kind))
	}
	if cfg.Metadata.Name == "" {
		v.addError("metadata.name", "name is required")
	}

	targets := v.validateTargets(cfg.Spec.Targets)
	v.validateListeners(cfg.Spec.Listeners, targets)

	if cfg.Spec.Vault != nil {
		if err := cfg.Spec.Vault.Validate(); err != nil {
			v.addError("spec.vault", err.Error())
		}
	}
	if cfg.Spec.Observability != nil {
		v.validateObservability(cfg.Spec.Observability)
	}

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateListeners(listeners []Listener, targets map[string]bool) {
	if len(listeners) == 0 {
		v.addError("spec.listeners", "at least one listener is required")
		return
	}

	names := make(map[string]bool, len(listeners))
	for i := range listeners {
		l := &listeners[i]
		path := fmt.Sprintf("spec.listeners[%d]", i)

		if l.Name == "" {
			v.addError(path+".name", "name is required")
		} else if names[l.Name] {
			v.addError(path+".name", fmt.Sprintf("duplicate listener name %q", l.Name))
		}
		names[l.Name] = true

		v.validatePort(path+".port", l.Port, false)
		if l.Bind != "" && net.ParseIP(l.Bind) == nil {
			v.addError(path+".bind", fmt.Sprintf("invalid bind address %q", l.Bind))
		}
		if l.Backlog < 0 {
			v.addError(path+".backlog", "backlog cannot be negative")
		}

		switch {
		case !l.Mode.IsValid():
			v.addError(path+".mode", fmt.Sprintf("unknown mode %q", l.Mode))
		case l.GetMode() == ListenerModeTLS && len(l.SSL) != 1:
			v.addError(path+".ssl", "tls mode requires exactly one ssl descriptor")
		case l.GetMode() == ListenerModeSNI && len(l.SSL) == 0:
			v.addError(path+".ssl", "sni mode requires at least one ssl descriptor")
		}
		for j := range l.SSL {
			if err := l.SSL[j].Validate(); err != nil {
				v.addError(fmt.Sprintf("%s.ssl[%d]", path, j), err.Error())
			}
		}

		if l.Target == "" {
			v.addError(path+".target", "target is required")
		} else if !targets[l.Target] {
			v.addError(path+".target", fmt.Sprintf("unknown target %q", l.Target))
		}
	}
}

func (v *Validator) validateTargets(targets []Target) map[string]bool {
	names := make(map[string]bool, len(targets))
	for i := range targets {
		t := &targets[i]
		path := fmt.Sprintf("spec.targets[%d]", i)

		if t.Name == "" {
			v.addError(path+".name", "name is required")
		} else if names[t.Name] {
			v.addError(path+".name", fmt.Sprintf("duplicate target name %q", t.Name))
		}
		names[t.Name] = true

		if t.Host == "" {
			v.addError(path+".host", "host is required")
		}
		v.validatePort(path+".port", t.Port, false)
		v.validatePort(path+".localPort", t.LocalPort, true)
		if t.LocalAddress != "" && net.ParseIP(t.LocalAddress) == nil {
			v.addError(path+".localAddress", fmt.Sprintf("invalid local address %q", t.LocalAddress))
		}
		if t.ConnectTimeout < 0 {
			v.addError(path+".connectTimeout", "connectTimeout cannot be negative")
		}
		if t.SSL != nil {
			if err := t.SSL.Validate(); err != nil {
				v.addError(path+".ssl", err.Error())
			}
		}
		if t.HandshakeTimeout < 0 {
			v.addError(path+".handshakeTimeout", "handshakeTimeout cannot be negative")
		}
		if cb := t.CircuitBreaker; cb != nil {
			if cb.Failures < 0 {
				v.addError(path+".circuitBreaker.failures", "failures cannot be negative")
			}
			if cb.Timeout < 0 {
				v.addError(path+".circuitBreaker.timeout", "timeout cannot be negative")
			}
		}
	}
	return names
}

func (v *Validator) validateObservability(o *ObservabilityConfig) {
	if o.Logging != nil {
		switch strings.ToLower(o.Logging.Level) {
		case "", "debug", "info", "warn", "error":
		default:
			v.addError("spec.observability.logging.level", fmt.Sprintf("unknown level %q", o.Logging.Level))
		}
		switch o.Logging.Format {
		case "", "json", "console":
		default:
			v.addError("spec.observability.logging.format", fmt.Sprintf("unknown format %q", o.Logging.Format))
		}
	}
	if o.Metrics != nil && o.Metrics.Path != "" && !strings.HasPrefix(o.Metrics.Path, "/") {
		v.addError("spec.observability.metrics.path", "path must start with '/'")
	}
	if o.Tracing != nil {
		if rate := o.Tracing.SamplingRate; rate != nil && (*rate < 0 || *rate > 1) {
			v.addError("spec.observability.tracing.samplingRate",
				fmt.Sprintf("sampling rate %g is outside [0, 1]", *rate))
		}
		if o.Tracing.Enabled && o.Tracing.Endpoint != "" {
			if _, _, err := net.SplitHostPort(o.Tracing.Endpoint); err != nil {
				v.addError("spec.observability.tracing.endpoint",
					fmt.Sprintf("endpoint %q must be host:port", o.Tracing.Endpoint))
			}
		}
	}
}

func (v *Validator) validatePort(path string, port int, optional bool) {
	if optional && port == 0 {
		return
	}
	if port < 0 || port > 65535 || (!optional && port == 0) {
		v.addError(path, fmt.Sprintf("port %d is out of range", port))
	}
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
