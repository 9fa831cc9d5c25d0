package tls

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/tlsgate/internal/observability"
)

var serialCounter atomic.Int64

// testPKI is a throwaway CA for issuing test certificates.
type testPKI struct {
	caKey  *ecdsa.PrivateKey
	caCert *x509.Certificate
	caPEM  []byte
}

// testLeaf is an issued certificate with its key.
type testLeaf struct {
	key     crypto.Signer
	cert    *x509.Certificate
	certPEM []byte
	keyPEM  []byte
}

func newTestPKI(t *testing.T, cn string) *testPKI {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	caTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(serialCounter.Add(1)),
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{"Test Org"},
		},
		NotBefore:             time.Now().Add(-24 * time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	return &testPKI{
		caKey:  caKey,
		caCert: caCert,
		caPEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER}),
	}
}

// issue signs a leaf for the given DNS names. Options may adjust the template.
func (p *testPKI) issue(t *testing.T, dnsNames []string, opts ...func(*x509.Certificate)) *testLeaf {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return p.issueWithKey(t, key, dnsNames, opts...)
}

func (p *testPKI) issueWithKey(t *testing.T, key crypto.Signer, dnsNames []string, opts ...func(*x509.Certificate)) *testLeaf {
	t.Helper()

	cn := "leaf"
	if len(dnsNames) > 0 {
		cn = dnsNames[0]
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(serialCounter.Add(1)),
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{"Test Org"},
		},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:              dnsNames,
		BasicConstraintsValid: true,
	}
	for _, opt := range opts {
		opt(template)
	}

	der, err := x509.CreateCertificate(rand.Reader, template, p.caCert, key.Public(), p.caKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	return &testLeaf{
		key:     key,
		cert:    cert,
		certPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		keyPEM:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
	}
}

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// memResolver serves resources from memory and tracks open streams.
type memResolver struct {
	mu     sync.Mutex
	files  map[string][]byte
	opened []string
	open   atomic.Int64
}

func newMemResolver() *memResolver {
	return &memResolver{files: make(map[string][]byte)}
}

func (r *memResolver) put(location string, data []byte) *memResolver {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[location] = data
	return r
}

func (r *memResolver) Resolve(base, location string) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, location)
	data, ok := r.files[location]
	if !ok {
		return nil, fmt.Errorf("%s: not found", location)
	}
	r.open.Add(1)
	return &trackedReader{Reader: bytes.NewReader(data), open: &r.open}, nil
}

type trackedReader struct {
	*bytes.Reader
	open *atomic.Int64
	once sync.Once
}

func (r *trackedReader) Close() error {
	r.once.Do(func() { r.open.Add(-1) })
	return nil
}

// buildJKS writes a JKS keystore with an optional private key entry and
// trusted certificate entries.
func buildJKS(t *testing.T, storePassword string, alias string, leaf *testLeaf, chain []*x509.Certificate, trusted map[string]*x509.Certificate) []byte {
	t.Helper()

	ks := keystore.New()
	if leaf != nil {
		keyDER, err := x509.MarshalPKCS8PrivateKey(leaf.key)
		require.NoError(t, err)

		certs := []keystore.Certificate{{Type: "X509", Content: leaf.cert.Raw}}
		for _, c := range chain {
			certs = append(certs, keystore.Certificate{Type: "X509", Content: c.Raw})
		}
		require.NoError(t, ks.SetPrivateKeyEntry(alias, keystore.PrivateKeyEntry{
			CreationTime:     time.Now(),
			PrivateKey:       keyDER,
			CertificateChain: certs,
		}, []byte(storePassword)))
	}
	for name, cert := range trusted {
		require.NoError(t, ks.SetTrustedCertificateEntry(name, keystore.TrustedCertificateEntry{
			CreationTime: time.Now(),
			Certificate:  keystore.Certificate{Type: "X509", Content: cert.Raw},
		}))
	}

	var buf bytes.Buffer
	require.NoError(t, ks.Store(&buf, []byte(storePassword)))
	return buf.Bytes()
}

// observedDiagnostics returns a fresh sink whose warnings are captured.
func observedDiagnostics() (*Diagnostics, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := observability.NewLoggerFromZap(zap.New(core))
	return NewDiagnostics(WithDiagnosticsLogger(logger)), logs
}

// inlineDescriptor returns a descriptor with an inline key for leaf.
func inlineDescriptor(leaf *testLeaf, chain ...[]byte) *Descriptor {
	certs := []Resource{{Content: string(leaf.certPEM)}}
	for _, c := range chain {
		certs = append(certs, Resource{Content: string(c)})
	}
	return &Descriptor{
		Key: &KeySpec{
			Certificates: certs,
			PrivateKey:   Resource{Content: string(leaf.keyPEM)},
		},
	}
}

func withDefaultCertificateFingerprint(fp string) Option {
	return func(o *options) {
		o.defaultCertFingerprint = fp
	}
}

func withLimitedStrength(limited bool) Option {
	return func(o *options) {
		o.limitedStrength = func() bool { return limited }
	}
}

func withCipherPlatform(p *cipherPlatform) Option {
	return func(o *options) {
		o.platform = p
	}
}

func warningField(kind WarningKind) zap.Field {
	return zap.String("warning", kind.String())
}
