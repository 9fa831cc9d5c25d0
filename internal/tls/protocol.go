package tls

import (
	"crypto/tls"
	"fmt"
	"slices"
	"strings"
)

// Protocol names.
const (
	ProtocolSSLv2Hello = "SSLv2Hello"
	ProtocolSSLv3      = "SSLv3"
	ProtocolTLSv1      = "TLSv1"
	ProtocolTLSv11     = "TLSv1.1"
	ProtocolTLSv12     = "TLSv1.2"
	ProtocolTLSv13     = "TLSv1.3"
)

// legacyProtocols are removed from the engine's enabled set when no explicit
// protocol list is configured.
var legacyProtocols = []string{ProtocolSSLv3, ProtocolSSLv2Hello}

// protocolVersions maps the protocol names crypto/tls can negotiate.
var protocolVersions = map[string]uint16{
	ProtocolTLSv1:  tls.VersionTLS10,
	ProtocolTLSv11: tls.VersionTLS11,
	ProtocolTLSv12: tls.VersionTLS12,
	ProtocolTLSv13: tls.VersionTLS13,
}

// platformEnabledProtocols matches the crypto/tls client and server defaults.
func platformEnabledProtocols() []string {
	return []string{ProtocolTLSv12, ProtocolTLSv13}
}

// resolveProtocols returns the explicit list verbatim, or the platform
// enabled set minus legacy protocols. Names are not validated here.
func resolveProtocols(explicit string, enabled []string) []string {
	if explicit != "" {
		names := strings.Split(explicit, ",")
		for i := range names {
			names[i] = strings.TrimSpace(names[i])
		}
		return names
	}
	out := make([]string, 0, len(enabled))
	for _, name := range enabled {
		if !slices.Contains(legacyProtocols, name) {
			out = append(out, name)
		}
	}
	return out
}

// protocolRange converts names to the version bounds and allowed set for a
// tls.Config. Names the engine cannot negotiate are rejected.
func protocolRange(names []string) (minVersion, maxVersion uint16, allowed map[uint16]bool, err error) {
	if len(names) == 0 {
		return 0, 0, nil, fmt.Errorf("%w: empty protocol list", ErrUnsupportedProtocol)
	}
	allowed = make(map[uint16]bool, len(names))
	for _, name := range names {
		v, ok := protocolVersions[name]
		if !ok {
			return 0, 0, nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, name)
		}
		allowed[v] = true
		if minVersion == 0 || v < minVersion {
			minVersion = v
		}
		if v > maxVersion {
			maxVersion = v
		}
	}
	return minVersion, maxVersion, allowed, nil
}

// ProtocolName returns the protocol name for a negotiated version.
func ProtocolName(version uint16) string {
	for name, v := range protocolVersions {
		if v == version {
			return name
		}
	}
	return fmt.Sprintf("0x%04x", version)
}
