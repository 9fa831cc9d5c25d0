package tls

import (
	"crypto/x509"
	"fmt"
	"strings"
)

// ChainLinkError describes a certificate chain whose adjacent issuer and
// subject names do not link up.
type ChainLinkError struct {
	// Index is the position of the first certificate whose issuer does not
	// match the subject of the certificate after it.
	Index int
	Chain []*x509.Certificate
}

// Error lists every certificate's subject and issuer.
func (e *ChainLinkError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "certificate chain is not valid: issuer of certificate %d does not match subject of certificate %d", e.Index, e.Index+1)
	for i, cert := range e.Chain {
		fmt.Fprintf(&b, "\n  cert %d: subject=%q issuer=%q", i, cert.Subject.String(), cert.Issuer.String())
	}
	return b.String()
}

// ValidateChain checks that each certificate is issued by the next one,
// comparing issuer and subject distinguished names as strings. Signatures
// are not checked. A chain of fewer than two certificates is always valid.
func ValidateChain(chain []*x509.Certificate) *ChainLinkError {
	for i := 0; i+1 < len(chain); i++ {
		if chain[i].Issuer.String() != chain[i+1].Subject.String() {
			return &ChainLinkError{Index: i, Chain: chain}
		}
	}
	return nil
}
