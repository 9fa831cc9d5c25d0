package gateway

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/tlsgate/internal/config"
	tlspkg "github.com/vyrodovalexey/tlsgate/internal/tls"
)

var serial atomic.Int64

type testCA struct {
	key  *ecdsa.PrivateKey
	cert *x509.Certificate
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial.Add(1)),
		Subject:               pkix.Name{CommonName: "gateway test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testCA{key: key, cert: cert}
}

// issue returns a PEM certificate covering name and its PKCS#8 key.
func (ca *testCA) issue(t *testing.T, name string) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial.Add(1)),
		Subject:      pkix.Name{CommonName: name},
		DNSNames:     []string{name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
}

// descriptor returns an inline descriptor whose certificate covers name.
func (ca *testCA) descriptor(t *testing.T, name string) tlspkg.Descriptor {
	t.Helper()

	certPEM, keyPEM := ca.issue(t, name)
	return tlspkg.Descriptor{
		Key: &tlspkg.KeySpec{
			Certificates: []tlspkg.Resource{{Content: string(certPEM)}},
			PrivateKey:   tlspkg.Resource{Content: string(keyPEM)},
		},
	}
}

// writeIdentity writes a certificate for name and its key to dir as
// tls.pem and tls.key, replacing earlier files.
func (ca *testCA) writeIdentity(t *testing.T, dir, name string) {
	t.Helper()

	certPEM, keyPEM := ca.issue(t, name)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tls.pem"), certPEM, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tls.key"), keyPEM, 0o600))
}

// fileDescriptor references tls.pem and tls.key relative to the
// configuration file.
func fileDescriptor() tlspkg.Descriptor {
	return tlspkg.Descriptor{
		Key: &tlspkg.KeySpec{
			Certificates: []tlspkg.Resource{{Location: "tls.pem"}},
			PrivateKey:   tlspkg.Resource{Location: "tls.key"},
		},
	}
}

// peerNames dials the listener on port and returns the DNS names of the
// certificate it presents.
func peerNames(t *testing.T, port int, clientCfg *tls.Config) []string {
	t.Helper()

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), clientCfg)
	require.NoError(t, err)
	defer conn.Close()
	return conn.ConnectionState().PeerCertificates[0].DNSNames
}

func (ca *testCA) clientConfig(serverName string) *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(ca.cert)
	return &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}
}

// freePort returns a loopback port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// startEchoServer accepts plaintext connections on loopback and echoes them.
func startEchoServer(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

// testConfig returns a valid single listener configuration forwarding to a
// plaintext target.
func testConfig(listenPort, targetPort int, desc tlspkg.Descriptor) *config.GatewayConfig {
	cfg := config.DefaultConfig()
	cfg.Metadata.Name = "test"
	cfg.Spec.Targets = []config.Target{{
		Name: "echo",
		Host: "127.0.0.1",
		Port: targetPort,
	}}
	cfg.Spec.Listeners = []config.Listener{{
		Name:   "public",
		Bind:   "127.0.0.1",
		Port:   listenPort,
		Target: "echo",
		SSL:    []tlspkg.Descriptor{desc},
	}}
	return cfg
}

// roundTrip dials the listener on port, sends msg and returns the echo.
func roundTrip(t *testing.T, port int, clientCfg *tls.Config, msg string) string {
	t.Helper()

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), clientCfg)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = conn.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	return string(buf)
}
