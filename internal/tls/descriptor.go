package tls

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/tlsgate/internal/resolver"
)

// DefaultKeyPassword is used for keystores whose keyPassword is not set.
const DefaultKeyPassword = "changeit"

// StoreType identifies a keystore container format.
type StoreType string

// Supported keystore container formats.
const (
	StoreTypeJKS    StoreType = "JKS"
	StoreTypePKCS12 StoreType = "PKCS12"
)

// DefaultStoreType is used when a keystore or truststore omits its type.
const DefaultStoreType = StoreTypeJKS

// IsValid reports whether t is a known store type.
func (t StoreType) IsValid() bool {
	return t == StoreTypeJKS || t == StoreTypePKCS12
}

// OrDefault returns t, or def when t is empty.
func (t StoreType) OrDefault(def StoreType) StoreType {
	if t == "" {
		return def
	}
	return t
}

// ParseStoreType parses a store type name case-insensitively. "P12" is an alias for PKCS12.
func ParseStoreType(s string) (StoreType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "JKS":
		return StoreTypeJKS, nil
	case "PKCS12", "P12":
		return StoreTypePKCS12, nil
	default:
		return "", NewConfigurationError("type", fmt.Sprintf("unknown store type %q", s))
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *StoreType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseStoreType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Resource is a PEM object supplied either inline or by location.
type Resource struct {
	Location string `yaml:"location,omitempty" json:"location,omitempty"`
	Content  string `yaml:"content,omitempty" json:"content,omitempty"`
}

// UnmarshalYAML accepts either a mapping or a bare scalar. A scalar holding
// PEM armor is inline content; any other scalar is a location.
func (r *Resource) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		if strings.Contains(value.Value, "-----BEGIN ") {
			*r = Resource{Content: value.Value}
		} else {
			*r = Resource{Location: value.Value}
		}
		return nil
	}

	type plain Resource
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*r = Resource(p)
	return nil
}

// IsZero reports whether neither content nor location is set.
func (r Resource) IsZero() bool {
	return r.Location == "" && r.Content == ""
}

// String returns the location, or "<inline>" for inline content.
func (r Resource) String() string {
	if r.Content != "" {
		return "<inline>"
	}
	return r.Location
}

// Load returns the resource bytes, reading through res when it is a location.
func (r Resource) Load(res resolver.Resolver, base string) ([]byte, error) {
	if r.Content != "" {
		return []byte(r.Content), nil
	}
	if r.Location == "" {
		return nil, NewCertificateError("", "resource has neither content nor location")
	}
	return readResource(res, base, r.Location)
}

// readResource opens location through res, reads it fully and always closes it.
func readResource(res resolver.Resolver, base, location string) ([]byte, error) {
	if res == nil {
		return nil, NewCertificateError(location, "no resolver configured")
	}
	rc, err := res.Resolve(base, location)
	if err != nil {
		return nil, NewCertificateErrorWithCause(location, "failed to open", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, NewCertificateErrorWithCause(location, "failed to read", err)
	}
	return data, nil
}

// KeyStoreSpec references a keystore holding the local identity.
type KeyStoreSpec struct {
	Location    string    `yaml:"location" json:"location"`
	Type        StoreType `yaml:"type,omitempty" json:"type,omitempty"`
	Provider    string    `yaml:"provider,omitempty" json:"provider,omitempty"`
	KeyPassword string    `yaml:"keyPassword,omitempty" json:"keyPassword,omitempty"`
	KeyAlias    string    `yaml:"keyAlias,omitempty" json:"keyAlias,omitempty"`
}

// KeySpec holds an inline identity: an ordered certificate chain and a private key.
type KeySpec struct {
	Certificates []Resource `yaml:"certificates" json:"certificates"`
	PrivateKey   Resource   `yaml:"privateKey" json:"privateKey"`
	Password     string     `yaml:"password,omitempty" json:"password,omitempty"`
}

// TrustStoreSpec references a keystore holding trust anchors.
type TrustStoreSpec struct {
	Location  string    `yaml:"location" json:"location"`
	Type      StoreType `yaml:"type,omitempty" json:"type,omitempty"`
	Provider  string    `yaml:"provider,omitempty" json:"provider,omitempty"`
	Algorithm string    `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
	Password  string    `yaml:"password,omitempty" json:"password,omitempty"`
}

// TrustSpec lists inline trust anchors.
type TrustSpec struct {
	Certificates []Resource `yaml:"certificates" json:"certificates"`
}

// Descriptor is the declarative TLS configuration a Context is built from.
// Empty strings mean "not set".
type Descriptor struct {
	Algorithm                       string          `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
	KeyStore                        *KeyStoreSpec   `yaml:"keyStore,omitempty" json:"keyStore,omitempty"`
	Key                             *KeySpec        `yaml:"key,omitempty" json:"key,omitempty"`
	TrustStore                      *TrustStoreSpec `yaml:"trustStore,omitempty" json:"trustStore,omitempty"`
	Trust                           *TrustSpec      `yaml:"trust,omitempty" json:"trust,omitempty"`
	Ciphers                         string          `yaml:"ciphers,omitempty" json:"ciphers,omitempty"`
	Protocols                       string          `yaml:"protocols,omitempty" json:"protocols,omitempty"`
	ClientAuth                      string          `yaml:"clientAuth,omitempty" json:"clientAuth,omitempty"`
	EndpointIdentificationAlgorithm string          `yaml:"endpointIdentificationAlgorithm,omitempty" json:"endpointIdentificationAlgorithm,omitempty"`
	IgnoreTimestampCheckFailure     bool            `yaml:"ignoreTimestampCheckFailure,omitempty" json:"ignoreTimestampCheckFailure,omitempty"`
}

// Validate checks structural constraints that need no I/O.
func (d *Descriptor) Validate() error {
	if d == nil {
		return NewConfigurationError("", "descriptor is nil")
	}
	if d.KeyStore != nil && d.Key != nil {
		return NewConfigurationErrorWithCause("keyStore",
			"<keyStore> and <key> may not be used together", ErrConflictingSources)
	}
	if d.TrustStore != nil && d.Trust != nil {
		return NewConfigurationErrorWithCause("trustStore",
			"<trustStore> and <trust> may not be used together", ErrConflictingSources)
	}
	if d.KeyStore != nil {
		if d.KeyStore.KeyAlias != "" {
			return NewConfigurationError("keyStore.keyAlias", "selecting a key by alias is not supported")
		}
		if d.KeyStore.Location == "" {
			return NewConfigurationError("keyStore.location", "location is required")
		}
		if d.KeyStore.Type != "" && !d.KeyStore.Type.IsValid() {
			return NewConfigurationError("keyStore.type", fmt.Sprintf("unknown store type %q", d.KeyStore.Type))
		}
	}
	if d.TrustStore != nil {
		if d.TrustStore.Location == "" {
			return NewConfigurationError("trustStore.location", "location is required")
		}
		if d.TrustStore.Type != "" && !d.TrustStore.Type.IsValid() {
			return NewConfigurationError("trustStore.type", fmt.Sprintf("unknown store type %q", d.TrustStore.Type))
		}
	}
	if d.Key != nil && d.Key.PrivateKey.IsZero() {
		return NewConfigurationError("key.privateKey", "private key is required")
	}
	return nil
}

// Locations returns the locations of every resource d reads, in descriptor
// order. Inline content is skipped.
func (d *Descriptor) Locations() []string {
	if d == nil {
		return nil
	}
	var out []string
	add := func(r Resource) {
		if r.Content == "" && r.Location != "" {
			out = append(out, r.Location)
		}
	}
	if d.KeyStore != nil && d.KeyStore.Location != "" {
		out = append(out, d.KeyStore.Location)
	}
	if d.Key != nil {
		for _, r := range d.Key.Certificates {
			add(r)
		}
		add(d.Key.PrivateKey)
	}
	if d.TrustStore != nil && d.TrustStore.Location != "" {
		out = append(out, d.TrustStore.Location)
	}
	if d.Trust != nil {
		for _, r := range d.Trust.Certificates {
			add(r)
		}
	}
	return out
}

// Clone returns a deep copy of d.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	c := *d
	if d.KeyStore != nil {
		ks := *d.KeyStore
		c.KeyStore = &ks
	}
	if d.Key != nil {
		k := *d.Key
		k.Certificates = slices.Clone(d.Key.Certificates)
		c.Key = &k
	}
	if d.TrustStore != nil {
		ts := *d.TrustStore
		c.TrustStore = &ts
	}
	if d.Trust != nil {
		tr := *d.Trust
		tr.Certificates = slices.Clone(d.Trust.Certificates)
		c.Trust = &tr
	}
	return &c
}

// Equal reports whether d and other describe the same configuration.
// A nil certificate list equals an empty one.
func (d *Descriptor) Equal(other *Descriptor) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.Algorithm != other.Algorithm ||
		d.Ciphers != other.Ciphers ||
		d.Protocols != other.Protocols ||
		d.ClientAuth != other.ClientAuth ||
		d.EndpointIdentificationAlgorithm != other.EndpointIdentificationAlgorithm ||
		d.IgnoreTimestampCheckFailure != other.IgnoreTimestampCheckFailure {
		return false
	}
	if !ptrEqual(d.KeyStore, other.KeyStore) || !ptrEqual(d.TrustStore, other.TrustStore) {
		return false
	}
	if (d.Key == nil) != (other.Key == nil) {
		return false
	}
	if d.Key != nil {
		if d.Key.Password != other.Key.Password ||
			d.Key.PrivateKey != other.Key.PrivateKey ||
			!slices.Equal(d.Key.Certificates, other.Key.Certificates) {
			return false
		}
	}
	if (d.Trust == nil) != (other.Trust == nil) {
		return false
	}
	if d.Trust != nil && !slices.Equal(d.Trust.Certificates, other.Trust.Certificates) {
		return false
	}
	return true
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Fingerprint returns a stable digest of the descriptor. Equal descriptors
// have equal fingerprints.
func (d *Descriptor) Fingerprint() string {
	if d == nil {
		return ""
	}
	norm := d.Clone()
	if norm.Key != nil && len(norm.Key.Certificates) == 0 {
		norm.Key.Certificates = nil
	}
	if norm.Trust != nil && len(norm.Trust.Certificates) == 0 {
		norm.Trust.Certificates = nil
	}
	// Marshalling plain structs with string fields cannot fail.
	data, _ := json.Marshal(norm)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
