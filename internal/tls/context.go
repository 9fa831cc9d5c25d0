package tls

import (
	"crypto/fips140"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/vyrodovalexey/tlsgate/internal/observability"
	"github.com/vyrodovalexey/tlsgate/internal/resolver"
)

// Endpoint identification algorithms accepted for outbound connections.
const (
	EndpointIdentificationHTTPS = "HTTPS"
	EndpointIdentificationLDAPS = "LDAPS"
)

// Option configures context construction.
type Option func(*options)

type options struct {
	logger                 observability.Logger
	diagnostics            *Diagnostics
	metrics                MetricsRecorder
	parser                 PEMParser
	platform               *cipherPlatform
	enabledProtocols       []string
	limitedStrength        func() bool
	defaultCertFingerprint string
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDiagnostics sets the sink for warnings. Contexts sharing a sink share
// its one-time warnings.
func WithDiagnostics(d *Diagnostics) Option {
	return func(o *options) {
		o.diagnostics = d
	}
}

// WithMetrics sets the metrics recorder for builds and handshakes.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithPEMParser replaces the PEM parser used for inline key material.
func WithPEMParser(parser PEMParser) Option {
	return func(o *options) {
		o.parser = parser
	}
}

func defaultOptions() *options {
	return &options{
		logger:                 observability.NopLogger(),
		diagnostics:            ProcessDiagnostics(),
		metrics:                NewNopMetrics(),
		parser:                 DefaultPEMParser{},
		platform:               currentCipherPlatform(),
		enabledProtocols:       platformEnabledProtocols(),
		limitedStrength:        fips140.Enabled,
		defaultCertFingerprint: defaultCertificateSHA256,
	}
}

// builder carries the inputs of a single context construction.
type builder struct {
	desc                   *Descriptor
	resolver               resolver.Resolver
	base                   string
	parser                 PEMParser
	diag                   *Diagnostics
	logger                 observability.Logger
	defaultCertFingerprint string
}

// Context is an immutable TLS configuration built from a Descriptor. It is
// safe for concurrent use.
type Context struct {
	desc                   *Descriptor
	location               string
	identity               *Identity
	trust                  *TrustAnchors
	ciphers                []string
	cipherIDs              []uint16
	protocols              []string
	clientAuth             ClientAuthMode
	endpointIdentification string

	logger  observability.Logger
	metrics MetricsRecorder
}

// NewContext builds a context from desc. Relative resource locations are
// resolved against baseLocation through res. Construction either fully
// succeeds or returns an error; no partial context is returned.
func NewContext(desc *Descriptor, res resolver.Resolver, baseLocation string, opts ...Option) (*Context, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	c, err := build(desc, res, baseLocation, o)
	o.metrics.RecordContextBuild(err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build TLS context: %w", err)
	}
	return c, nil
}

func build(desc *Descriptor, res resolver.Resolver, base string, o *options) (*Context, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	if o.limitedStrength() {
		o.diagnostics.WarnOnce(WarningLimitedStrength,
			"FIPS 140-3 mode is enabled; cryptographic strength is limited to approved algorithms")
	}

	b := &builder{
		desc:                   desc,
		resolver:               res,
		base:                   base,
		parser:                 o.parser,
		diag:                   o.diagnostics,
		logger:                 o.logger,
		defaultCertFingerprint: o.defaultCertFingerprint,
	}

	identity, err := b.loadIdentity()
	if err != nil {
		return nil, err
	}
	trust, err := b.loadTrust()
	if err != nil {
		return nil, err
	}

	ciphers, err := resolveCiphers(desc.Ciphers, o.platform, o.diagnostics)
	if err != nil {
		return nil, err
	}
	if !o.platform.orderEnforceable {
		o.diagnostics.WarnOnce(WarningCipherOrder,
			"the TLS engine selects cipher suites by its own preference; configured cipher order is not enforced")
	}

	clientAuth, err := ParseClientAuth(desc.ClientAuth)
	if err != nil {
		return nil, err
	}

	c := &Context{
		desc:                   desc.Clone(),
		location:               base,
		identity:               identity,
		trust:                  trust,
		ciphers:                ciphers,
		cipherIDs:              cipherSuiteIDs(ciphers, o.platform),
		protocols:              resolveProtocols(desc.Protocols, o.enabledProtocols),
		clientAuth:             clientAuth,
		endpointIdentification: desc.EndpointIdentificationAlgorithm,
		logger:                 o.logger,
		metrics:                o.metrics,
	}

	o.logger.Debug("TLS context built",
		observability.String("location", base),
		observability.Strings("protocols", c.protocols),
		observability.Int("ciphers", len(c.ciphers)),
		observability.String("client_auth", clientAuth.String()),
		observability.Bool("identity", identity != nil),
		observability.Bool("trust", trust != nil))

	return c, nil
}

// Ciphers returns the resolved cipher list in preference order.
func (c *Context) Ciphers() []string {
	return slices.Clone(c.ciphers)
}

// Protocols returns the resolved protocol list.
func (c *Context) Protocols() []string {
	return slices.Clone(c.protocols)
}

// DNSNames returns the identity leaf's DNS names, or nil without an identity.
func (c *Context) DNSNames() []string {
	if c.identity == nil {
		return nil
	}
	return c.identity.DNSNames()
}

// WantClientAuth reports whether inbound connections request a client certificate.
func (c *Context) WantClientAuth() bool {
	return c.clientAuth.Want()
}

// NeedClientAuth reports whether inbound connections require a client certificate.
func (c *Context) NeedClientAuth() bool {
	return c.clientAuth.Need()
}

// ClientAuth returns the client authentication mode.
func (c *Context) ClientAuth() ClientAuthMode {
	return c.clientAuth
}

// EndpointIdentificationAlgorithm returns the configured algorithm, or "".
func (c *Context) EndpointIdentificationAlgorithm() string {
	return c.endpointIdentification
}

// Identity returns the local identity, or nil.
func (c *Context) Identity() *Identity {
	return c.identity
}

// Trust returns the trust anchors, or nil when system defaults apply.
func (c *Context) Trust() *TrustAnchors {
	return c.trust
}

// Location returns the base location the context's resources were resolved against.
func (c *Context) Location() string {
	return c.location
}

// Descriptor returns a copy of the descriptor the context was built from.
func (c *Context) Descriptor() *Descriptor {
	return c.desc.Clone()
}

// Equal reports whether c and other were built from equal descriptors.
func (c *Context) Equal(other *Context) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.desc.Equal(other.desc)
}

// ServerConfig returns a new crypto/tls configuration for accepting connections.
func (c *Context) ServerConfig() (*tls.Config, error) {
	cfg, err := c.baseConfig()
	if err != nil {
		return nil, err
	}
	if c.identity != nil {
		cfg.Certificates = []tls.Certificate{c.identity.Certificate()}
	}
	cfg.ClientAuth = c.clientAuth.tlsClientAuth()
	if c.clientAuth.Want() {
		if c.trust != nil && c.trust.pool != nil {
			// Sent as the acceptable CA list in the certificate request.
			cfg.ClientCAs = c.trust.pool
		}
		cfg.VerifyPeerCertificate = c.peerVerifier(x509.ExtKeyUsageClientAuth, "", !c.clientAuth.Need())
	}
	return cfg, nil
}

// ClientConfig returns a new crypto/tls configuration for connecting to host.
// The host name is checked against the peer certificate only when an endpoint
// identification algorithm is configured.
func (c *Context) ClientConfig(host string) (*tls.Config, error) {
	cfg, err := c.baseConfig()
	if err != nil {
		return nil, err
	}

	var dnsName string
	switch strings.ToUpper(c.endpointIdentification) {
	case "":
	case EndpointIdentificationHTTPS, EndpointIdentificationLDAPS:
		dnsName = host
	default:
		return nil, NewConfigurationError("endpointIdentificationAlgorithm",
			fmt.Sprintf("unknown identification algorithm %q", c.endpointIdentification))
	}

	cfg.ServerName = host
	if c.identity != nil {
		cfg.Certificates = []tls.Certificate{c.identity.Certificate()}
	}
	// Verification is done by the trust anchors so that hostname checks and
	// validity overrides follow the descriptor.
	cfg.InsecureSkipVerify = true
	cfg.VerifyPeerCertificate = c.peerVerifier(x509.ExtKeyUsageServerAuth, dnsName, false)
	return cfg, nil
}

func (c *Context) baseConfig() (*tls.Config, error) {
	minVersion, maxVersion, allowed, err := protocolRange(c.protocols)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:   minVersion,
		MaxVersion:   maxVersion,
		CipherSuites: slices.Clone(c.cipherIDs),
		VerifyConnection: func(cs tls.ConnectionState) error {
			if !allowed[cs.Version] {
				return fmt.Errorf("%w: negotiated %s", ErrUnsupportedProtocol, ProtocolName(cs.Version))
			}
			return nil
		},
	}, nil
}

func (c *Context) peerVerifier(usage x509.ExtKeyUsage, dnsName string, allowEmpty bool) func([][]byte, [][]*x509.Certificate) error {
	anchors := c.trust
	if anchors == nil {
		anchors = &TrustAnchors{}
	}
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			if allowEmpty {
				return nil
			}
			return errors.New("peer presented no certificate")
		}
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("failed to parse peer certificate: %w", err)
			}
			certs = append(certs, cert)
		}
		if _, err := anchors.Verify(certs, dnsName, usage); err != nil {
			return fmt.Errorf("peer certificate verification failed: %w", err)
		}
		return nil
	}
}
