package tls

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youmark/pkcs8"
)

func TestDefaultPEMParser_ParseCertificate(t *testing.T) {
	t.Parallel()

	pki := newTestPKI(t, "PEM CA")
	leaf := pki.issue(t, []string{"pem.example.com"})
	p := DefaultPEMParser{}

	cert, err := p.ParseCertificate(leaf.certPEM)
	require.NoError(t, err)
	assert.Equal(t, leaf.cert.Raw, cert.Raw)

	// Leading non-certificate blocks are skipped.
	bundle := append(append([]byte{}, leaf.keyPEM...), leaf.certPEM...)
	cert, err = p.ParseCertificate(bundle)
	require.NoError(t, err)
	assert.Equal(t, leaf.cert.Raw, cert.Raw)

	_, err = p.ParseCertificate(leaf.keyPEM)
	assert.ErrorIs(t, err, ErrCertificateInvalid)

	_, err = p.ParseCertificate([]byte("not pem"))
	assert.ErrorIs(t, err, ErrCertificateInvalid)

	garbage := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1, 2, 3}})
	_, err = p.ParseCertificate(garbage)
	assert.ErrorIs(t, err, ErrCertificateInvalid)
}

func TestDefaultPEMParser_ParseKey(t *testing.T) {
	t.Parallel()

	rsaKey := newRSAKey(t)
	pki := newTestPKI(t, "PEM CA")
	ecLeaf := pki.issue(t, []string{"ec.example.com"})
	ecKey, ok := ecLeaf.key.(*ecdsa.PrivateKey)
	require.True(t, ok)

	ecDER, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)
	encryptedDER, err := pkcs8.MarshalPrivateKey(rsaKey, []byte("s3cret"), nil)
	require.NoError(t, err)
	//nolint:staticcheck // exercising legacy Proc-Type encryption
	legacy, err := x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY",
		x509.MarshalPKCS1PrivateKey(rsaKey), []byte("legacy"), x509.PEMCipherAES256)
	require.NoError(t, err)

	tests := []struct {
		name     string
		data     []byte
		password string
		wantRSA  bool
		wantErr  error
	}{
		{name: "pkcs8", data: ecLeaf.keyPEM},
		{
			name:    "pkcs1",
			data:    pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)}),
			wantRSA: true,
		},
		{name: "sec1", data: pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: ecDER})},
		{
			name:     "encrypted pkcs8",
			data:     pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: encryptedDER}),
			password: "s3cret",
			wantRSA:  true,
		},
		{
			name:    "encrypted pkcs8 without password",
			data:    pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: encryptedDER}),
			wantErr: ErrMissingPassword,
		},
		{
			name:     "encrypted pkcs8 with wrong password",
			data:     pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: encryptedDER}),
			password: "wrong",
			wantErr:  ErrPrivateKeyInvalid,
		},
		{name: "legacy encrypted", data: pem.EncodeToMemory(legacy), password: "legacy", wantRSA: true},
		{name: "legacy without password", data: pem.EncodeToMemory(legacy), wantErr: ErrMissingPassword},
		{name: "no key block", data: pki.caPEM, wantErr: ErrPrivateKeyInvalid},
		{
			name:    "corrupt key",
			data:    pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{0x30, 0x00}}),
			wantErr: ErrPrivateKeyInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			key, err := DefaultPEMParser{}.ParseKey(tt.data, []byte(tt.password))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			_, isRSA := key.(*rsa.PrivateKey)
			assert.Equal(t, tt.wantRSA, isRSA)
		})
	}
}

func TestNewContext_EncryptedInlineKey(t *testing.T) {
	t.Parallel()

	pki := newTestPKI(t, "Encrypted CA")
	key := newRSAKey(t)
	leaf := pki.issueWithKey(t, key, []string{"enc.example.com"})
	der, err := pkcs8.MarshalPrivateKey(key, []byte("pw"), nil)
	require.NoError(t, err)

	desc := inlineDescriptor(leaf)
	desc.Key.PrivateKey = Resource{Content: string(pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: der}))}

	_, err = NewContext(desc, newMemResolver(), "", WithDiagnostics(NewDiagnostics()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingPassword)

	desc.Key.Password = "pw"
	ctx, err := NewContext(desc, newMemResolver(), "", WithDiagnostics(NewDiagnostics()))
	require.NoError(t, err)
	assert.IsType(t, &rsa.PrivateKey{}, ctx.Identity().PrivateKey())
}
