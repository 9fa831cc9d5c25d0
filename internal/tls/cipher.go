package tls

import (
	"crypto/tls"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/vyrodovalexey/tlsgate/internal/observability"
)

// CipherSuite describes a cipher suite known to the TLS engine.
type CipherSuite struct {
	// ID is the IANA cipher suite ID.
	ID uint16

	// Name is the standard cipher suite name.
	Name string

	// Insecure marks suites crypto/tls lists as insecure.
	Insecure bool

	// TLS13 marks suites that only apply to TLS 1.3. These are always
	// enabled for TLS 1.3 and cannot be configured.
	TLS13 bool
}

// rc4Marker identifies RC4 suites by name.
const rc4Marker = "_RC4_"

// forwardSecrecyMarkers identify ephemeral key exchange suites by name.
var forwardSecrecyMarkers = []string{"_DHE_RSA_", "_DHE_DSS_", "_ECDHE_RSA_", "_ECDHE_ECDSA_"}

// cipherPlatform is the TLS engine's view of cipher suites.
type cipherPlatform struct {
	supported map[string]CipherSuite
	// defaults are the names enabled by default, in engine preference order.
	defaults []string
	// orderEnforceable reports whether the engine honors a server-side
	// cipher preference order.
	orderEnforceable bool
}

// crypto/tls has chosen the negotiated suite itself since Go 1.17 and
// ignores any configured preference order. Its default set leaves out the
// RSA key exchange suites even though CipherSuites lists them.
var currentCipherPlatform = sync.OnceValue(func() *cipherPlatform {
	p := &cipherPlatform{supported: make(map[string]CipherSuite)}
	add := func(s *tls.CipherSuite, insecure bool) {
		p.supported[s.Name] = CipherSuite{
			ID:       s.ID,
			Name:     s.Name,
			Insecure: insecure,
			TLS13:    slices.Equal(s.SupportedVersions, []uint16{tls.VersionTLS13}),
		}
	}
	for _, s := range tls.CipherSuites() {
		add(s, false)
		if !strings.HasPrefix(s.Name, "TLS_RSA_") {
			p.defaults = append(p.defaults, s.Name)
		}
	}
	for _, s := range tls.InsecureCipherSuites() {
		add(s, true)
	}
	return p
})

// SupportedCipherSuites returns every cipher suite name the engine supports, sorted.
func SupportedCipherSuites() []string {
	p := currentCipherPlatform()
	names := make([]string, 0, len(p.supported))
	for name := range p.supported {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetCipherSuiteInfo returns the cipher suite with the given name.
func GetCipherSuiteInfo(name string) (CipherSuite, bool) {
	s, ok := currentCipherPlatform().supported[name]
	return s, ok
}

// DefaultCiphers returns the cipher list used when a descriptor sets none.
func DefaultCiphers() []string {
	names, _ := resolveCiphers("", currentCipherPlatform(), nil)
	return names
}

// IsRC4 reports whether the named suite uses RC4.
func IsRC4(name string) bool {
	return strings.Contains(name, rc4Marker)
}

// HasForwardSecrecy reports whether the named suite uses an ephemeral key exchange.
func HasForwardSecrecy(name string) bool {
	for _, marker := range forwardSecrecyMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// OrderByForwardSecrecy returns names stable-sorted so that forward-secret
// suites come first. Relative order within each group is kept.
func OrderByForwardSecrecy(names []string) []string {
	out := slices.Clone(names)
	slices.SortStableFunc(out, func(a, b string) int {
		fa, fb := HasForwardSecrecy(a), HasForwardSecrecy(b)
		switch {
		case fa == fb:
			return 0
		case fa:
			return -1
		default:
			return 1
		}
	})
	return out
}

// resolveCiphers computes the ordered cipher list for a descriptor.
// An explicit list is validated and kept in configured order. Otherwise the
// engine defaults minus RC4 are ordered by forward secrecy.
func resolveCiphers(explicit string, p *cipherPlatform, diag *Diagnostics) ([]string, error) {
	if explicit != "" {
		names := strings.Split(explicit, ",")
		var rc4 []string
		for i, name := range names {
			name = strings.TrimSpace(name)
			names[i] = name
			if _, ok := p.supported[name]; !ok {
				return nil, NewConfigurationErrorWithCause("ciphers",
					fmt.Sprintf("unknown cipher %s", name), ErrUnsupportedCipher)
			}
			if IsRC4(name) {
				rc4 = append(rc4, name)
			}
		}
		if len(rc4) > 0 && diag != nil {
			diag.Warn("rc4_cipher", "configured cipher list contains RC4 suites",
				observability.Strings("ciphers", rc4))
		}
		return names, nil
	}

	names := make([]string, 0, len(p.defaults))
	for _, name := range p.defaults {
		if !IsRC4(name) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, NewConfigurationErrorWithCause("ciphers",
			"no ciphers available after removing RC4 suites", ErrNoCiphers)
	}
	return OrderByForwardSecrecy(names), nil
}

// cipherSuiteIDs maps names to IDs for tls.Config.CipherSuites. TLS 1.3
// suites are skipped since they cannot be configured.
func cipherSuiteIDs(names []string, p *cipherPlatform) []uint16 {
	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		s, ok := p.supported[name]
		if !ok || s.TLS13 {
			continue
		}
		ids = append(ids, s.ID)
	}
	return ids
}
