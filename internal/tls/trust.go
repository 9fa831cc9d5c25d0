package tls

import (
	"crypto/x509"
	"errors"
	"fmt"
	"slices"
	"time"
)

// trustAlgorithms are the accepted trustStore.algorithm values.
var trustAlgorithms = []string{"", "PKIX", "SunPKIX", "SunX509", "X509", "X.509"}

// TrustAnchors verifies peer certificate chains. A nil pool verifies against
// the system roots.
type TrustAnchors struct {
	certs          []*x509.Certificate
	pool           *x509.CertPool
	ignoreValidity bool
}

// Certificates returns the configured anchors. It is empty when system roots are used.
func (t *TrustAnchors) Certificates() []*x509.Certificate {
	return slices.Clone(t.certs)
}

// Pool returns the anchor pool, or nil for system roots.
func (t *TrustAnchors) Pool() *x509.CertPool {
	return t.pool
}

// UsesSystemRoots reports whether verification falls back to the system roots.
func (t *TrustAnchors) UsesSystemRoots() bool {
	return t.pool == nil
}

// IgnoresValidity reports whether validity-period failures are overridden.
func (t *TrustAnchors) IgnoresValidity() bool {
	return t.ignoreValidity
}

// Verify verifies chain (leaf first) for the given key usage. dnsName, when
// set, must match the leaf. When validity failures are ignored, a chain that
// fails only because a certificate is outside its validity period is
// re-verified at a time inside every presented certificate's period, so
// signature, path, usage and hostname checks still apply.
func (t *TrustAnchors) Verify(chain []*x509.Certificate, dnsName string, usage x509.ExtKeyUsage) ([][]*x509.Certificate, error) {
	if len(chain) == 0 {
		return nil, errors.New("no peer certificates presented")
	}

	opts := x509.VerifyOptions{
		Roots:         t.pool,
		Intermediates: x509.NewCertPool(),
		DNSName:       dnsName,
		KeyUsages:     []x509.ExtKeyUsage{usage},
	}
	for _, cert := range chain[1:] {
		opts.Intermediates.AddCert(cert)
	}

	chains, err := chain[0].Verify(opts)
	if err == nil || !t.ignoreValidity || !isValidityError(err) {
		return chains, err
	}

	lastErr := err
	for _, at := range validityInstants(chain) {
		opts.CurrentTime = at
		chains, err = chain[0].Verify(opts)
		if err == nil {
			return chains, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func isValidityError(err error) bool {
	var invalid x509.CertificateInvalidError
	return errors.As(err, &invalid) && invalid.Reason == x509.Expired
}

// validityInstants returns instants inside the validity period of every
// certificate in chain, or nil when the periods do not overlap.
func validityInstants(chain []*x509.Certificate) []time.Time {
	var notBefore, notAfter time.Time
	for _, cert := range chain {
		if cert.NotBefore.After(notBefore) {
			notBefore = cert.NotBefore
		}
		if notAfter.IsZero() || cert.NotAfter.Before(notAfter) {
			notAfter = cert.NotAfter
		}
	}
	if notAfter.Before(notBefore) {
		return nil
	}
	return []time.Time{notAfter, notBefore}
}

// loadTrust builds the trust anchors for d. It returns nil when d configures
// no trust source and does not ignore validity failures.
func (b *builder) loadTrust() (*TrustAnchors, error) {
	d := b.desc

	var (
		certs     []*x509.Certificate
		hasSource bool
	)

	switch {
	case d.TrustStore != nil:
		ts := d.TrustStore
		if !slices.Contains(trustAlgorithms, ts.Algorithm) {
			return nil, NewConfigurationErrorWithCause("trustStore.algorithm",
				fmt.Sprintf("unknown trust manager algorithm %q", ts.Algorithm), ErrUnsupportedAlgorithm)
		}
		if ts.Password == "" {
			return nil, NewConfigurationErrorWithCause("trustStore.password",
				"password for trust store is not set", ErrMissingPassword)
		}

		defaultType := DefaultStoreType
		if d.KeyStore != nil {
			defaultType = d.KeyStore.Type.OrDefault(DefaultStoreType)
		}
		typ := ts.Type.OrDefault(defaultType)
		if err := validateProvider("trustStore.provider", typ, ts.Provider); err != nil {
			return nil, err
		}

		data, err := readResource(b.resolver, b.base, ts.Location)
		if err != nil {
			return nil, err
		}
		certs, err = decodeTrustStore(ts.Location, data, typ, ts.Password)
		if err != nil {
			return nil, err
		}
		hasSource = true

	case d.Trust != nil:
		for i, res := range d.Trust.Certificates {
			data, err := res.Load(b.resolver, b.base)
			if err != nil {
				return nil, err
			}
			cert, err := b.parser.ParseCertificate(data)
			if err != nil {
				return nil, NewCertificateErrorWithCause(res.String(),
					fmt.Sprintf("failed to parse trust certificate %d", i), err)
			}
			certs = append(certs, cert)
		}
		hasSource = true
	}

	if !hasSource && !d.IgnoreTimestampCheckFailure {
		return nil, nil
	}

	anchors := &TrustAnchors{
		certs:          certs,
		ignoreValidity: d.IgnoreTimestampCheckFailure,
	}
	if hasSource {
		anchors.pool = x509.NewCertPool()
		for _, cert := range certs {
			anchors.pool.AddCert(cert)
		}
	}
	return anchors, nil
}
