package tls

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/vyrodovalexey/tlsgate/internal/observability"
)

// defaultCertificateSHA256 is the fingerprint of the sample certificate
// shipped with the gateway's demo keystore.
const defaultCertificateSHA256 = "c7e3fd972fd3b94f38879c453270b3d8c19fd16439fc485ff4a16a95b5ca08f7"

// keyManagerAlgorithms are the accepted descriptor algorithm values.
var keyManagerAlgorithms = []string{"", "SunX509", "NewSunX509", "PKIX"}

// Identity is the local private key with its certificate chain.
type Identity struct {
	key      crypto.PrivateKey
	chain    []*x509.Certificate
	dnsNames []string
}

// PrivateKey returns the identity's private key.
func (id *Identity) PrivateKey() crypto.PrivateKey {
	return id.key
}

// Chain returns the certificate chain, leaf first.
func (id *Identity) Chain() []*x509.Certificate {
	return slices.Clone(id.chain)
}

// Leaf returns the end-entity certificate.
func (id *Identity) Leaf() *x509.Certificate {
	return id.chain[0]
}

// DNSNames returns the leaf's DNS subject alternative names in certificate order.
func (id *Identity) DNSNames() []string {
	return slices.Clone(id.dnsNames)
}

// Certificate returns the identity as a crypto/tls certificate.
func (id *Identity) Certificate() tls.Certificate {
	raw := make([][]byte, len(id.chain))
	for i, cert := range id.chain {
		raw[i] = cert.Raw
	}
	return tls.Certificate{
		Certificate: raw,
		PrivateKey:  id.key,
		Leaf:        id.chain[0],
	}
}

func newIdentity(key crypto.PrivateKey, chain []*x509.Certificate) *Identity {
	return &Identity{
		key:      key,
		chain:    chain,
		dnsNames: slices.Clone(chain[0].DNSNames),
	}
}

// CertificateFingerprint returns the hex SHA-256 digest of the certificate's DER encoding.
func CertificateFingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// loadIdentity builds the local identity from the keystore or inline key.
// It returns nil when neither is configured.
func (b *builder) loadIdentity() (*Identity, error) {
	switch {
	case b.desc.KeyStore != nil:
		return b.loadKeyStoreIdentity()
	case b.desc.Key != nil:
		return b.loadInlineIdentity()
	default:
		return nil, nil
	}
}

func (b *builder) loadKeyStoreIdentity() (*Identity, error) {
	ks := b.desc.KeyStore

	if !slices.Contains(keyManagerAlgorithms, b.desc.Algorithm) {
		return nil, NewConfigurationErrorWithCause("algorithm",
			fmt.Sprintf("unknown key manager algorithm %q", b.desc.Algorithm), ErrUnsupportedAlgorithm)
	}
	typ := ks.Type.OrDefault(DefaultStoreType)
	if err := validateProvider("keyStore.provider", typ, ks.Provider); err != nil {
		return nil, err
	}
	password := ks.KeyPassword
	if password == "" {
		password = DefaultKeyPassword
	}

	data, err := readResource(b.resolver, b.base, ks.Location)
	if err != nil {
		return nil, err
	}
	contents, err := decodeKeyStore(ks.Location, data, typ, password, password)
	if err != nil {
		return nil, err
	}

	var entry *keyEntry
	for i := range contents.keys {
		if len(contents.keys[i].chain) > 0 {
			entry = &contents.keys[i]
			break
		}
	}
	if entry == nil {
		return nil, NewCertificateErrorWithCause(ks.Location, "keystore holds no private key with a certificate", ErrNoPrivateKey)
	}

	id := newIdentity(entry.key, entry.chain)
	if b.defaultCertFingerprint != "" && CertificateFingerprint(id.Leaf()) == b.defaultCertFingerprint {
		b.diag.WarnOnce(WarningDefaultCertificate,
			"using the default sample certificate; replace it before exposing this listener",
			observability.String("keystore", ks.Location),
			observability.String("alias", entry.alias))
	}
	b.logger.Debug("loaded identity from keystore",
		observability.String("keystore", ks.Location),
		observability.String("alias", entry.alias),
		observability.String("subject", id.Leaf().Subject.String()))
	return id, nil
}

func (b *builder) loadInlineIdentity() (*Identity, error) {
	key := b.desc.Key

	chain := make([]*x509.Certificate, 0, len(key.Certificates))
	for i, res := range key.Certificates {
		data, err := res.Load(b.resolver, b.base)
		if err != nil {
			return nil, err
		}
		cert, err := b.parser.ParseCertificate(data)
		if err != nil {
			return nil, NewCertificateErrorWithCause(res.String(),
				fmt.Sprintf("failed to parse certificate %d", i), err)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, NewConfigurationErrorWithCause("key.certificates",
			"at least one certificate is required", ErrNoCertificates)
	}

	if linkErr := ValidateChain(chain); linkErr != nil {
		b.diag.Warn("chain_link", "certificate chain is not valid",
			observability.String("chain", linkErr.Error()))
	}

	data, err := key.PrivateKey.Load(b.resolver, b.base)
	if err != nil {
		return nil, err
	}
	privateKey, err := b.parser.ParseKey(data, []byte(key.Password))
	if err != nil {
		return nil, NewCertificateErrorWithCause(key.PrivateKey.String(), "failed to parse private key", err)
	}

	if !rsaKeyMatches(privateKey, chain[0]) {
		b.diag.Warn("key_mismatch", "certificate does not fit to key",
			observability.String("subject", chain[0].Subject.String()))
	}

	return newIdentity(privateKey, chain), nil
}

// rsaKeyMatches compares modulus and public exponent when both the key and
// the leaf are RSA. Other key types are not checked.
func rsaKeyMatches(key crypto.PrivateKey, leaf *x509.Certificate) bool {
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return true
	}
	pub, ok := leaf.PublicKey.(*rsa.PublicKey)
	if !ok {
		return true
	}
	return priv.N.Cmp(pub.N) == 0 && priv.E == pub.E
}
