package tls

import (
	"crypto/tls"
	"fmt"
)

// ClientAuthMode is the server-side client certificate policy.
type ClientAuthMode int

const (
	// ClientAuthNone does not request a client certificate.
	ClientAuthNone ClientAuthMode = iota
	// ClientAuthWant requests a client certificate and verifies it if sent.
	ClientAuthWant
	// ClientAuthNeed requires and verifies a client certificate.
	ClientAuthNeed
)

// ParseClientAuth parses the clientAuth descriptor value. Matching is exact.
func ParseClientAuth(s string) (ClientAuthMode, error) {
	switch s {
	case "":
		return ClientAuthNone, nil
	case "want":
		return ClientAuthWant, nil
	case "need":
		return ClientAuthNeed, nil
	default:
		return ClientAuthNone, NewConfigurationErrorWithCause("clientAuth",
			fmt.Sprintf("invalid value %q: expected \"want\" or \"need\"", s), ErrInvalidClientAuth)
	}
}

// Want reports whether a client certificate is requested. Need implies Want.
func (m ClientAuthMode) Want() bool {
	return m == ClientAuthWant || m == ClientAuthNeed
}

// Need reports whether a client certificate is required.
func (m ClientAuthMode) Need() bool {
	return m == ClientAuthNeed
}

// String returns the descriptor value for m.
func (m ClientAuthMode) String() string {
	switch m {
	case ClientAuthWant:
		return "want"
	case ClientAuthNeed:
		return "need"
	default:
		return "none"
	}
}

// tlsClientAuth maps m to crypto/tls. Certificates are verified by the
// context's trust anchors in VerifyPeerCertificate, not by crypto/tls.
func (m ClientAuthMode) tlsClientAuth() tls.ClientAuthType {
	switch m {
	case ClientAuthWant:
		return tls.RequestClientCert
	case ClientAuthNeed:
		return tls.RequireAnyClientCert
	default:
		return tls.NoClientCert
	}
}
