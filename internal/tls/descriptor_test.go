package tls

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDescriptor_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		desc       *Descriptor
		wantErr    error
		wantFields []string
	}{
		{
			name: "empty descriptor",
			desc: &Descriptor{},
		},
		{
			name: "keyStore and key together",
			desc: &Descriptor{
				KeyStore: &KeyStoreSpec{Location: "ks.jks"},
				Key:      &KeySpec{PrivateKey: Resource{Location: "key.pem"}},
			},
			wantErr:    ErrConflictingSources,
			wantFields: []string{"<keyStore>", "<key>"},
		},
		{
			name: "trustStore and trust together",
			desc: &Descriptor{
				TrustStore: &TrustStoreSpec{Location: "ts.jks", Password: "secret"},
				Trust:      &TrustSpec{},
			},
			wantErr:    ErrConflictingSources,
			wantFields: []string{"<trustStore>", "<trust>"},
		},
		{
			name:       "key alias",
			desc:       &Descriptor{KeyStore: &KeyStoreSpec{Location: "ks.jks", KeyAlias: "gateway"}},
			wantErr:    ErrConfigInvalid,
			wantFields: []string{"keyAlias", "not supported"},
		},
		{
			name:       "keyStore without location",
			desc:       &Descriptor{KeyStore: &KeyStoreSpec{}},
			wantErr:    ErrConfigInvalid,
			wantFields: []string{"keyStore.location"},
		},
		{
			name:       "unknown store type",
			desc:       &Descriptor{TrustStore: &TrustStoreSpec{Location: "ts", Type: "BKS"}},
			wantErr:    ErrConfigInvalid,
			wantFields: []string{"BKS"},
		},
		{
			name:       "key without private key",
			desc:       &Descriptor{Key: &KeySpec{Certificates: []Resource{{Location: "cert.pem"}}}},
			wantErr:    ErrConfigInvalid,
			wantFields: []string{"key.privateKey"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.desc.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrConfigInvalid)
			for _, f := range tt.wantFields {
				assert.Contains(t, err.Error(), f)
			}
		})
	}
}

func TestNewContext_ConflictsCheckedBeforeIO(t *testing.T) {
	t.Parallel()

	res := newMemResolver()
	desc := &Descriptor{
		KeyStore: &KeyStoreSpec{Location: "ks.jks"},
		Key:      &KeySpec{PrivateKey: Resource{Location: "key.pem"}},
	}

	_, err := NewContext(desc, res, "", WithDiagnostics(NewDiagnostics()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflictingSources))
	assert.Empty(t, res.opened, "no resource may be opened before the conflict is reported")
}

func TestDescriptor_EqualAndFingerprint(t *testing.T) {
	t.Parallel()

	base := &Descriptor{
		KeyStore:   &KeyStoreSpec{Location: "ks.jks", KeyPassword: "secret"},
		Trust:      &TrustSpec{Certificates: []Resource{{Location: "ca.pem"}}},
		Ciphers:    "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
		ClientAuth: "want",
	}
	same := base.Clone()

	assert.True(t, base.Equal(same))
	assert.Equal(t, base.Fingerprint(), same.Fingerprint())
	assert.NotSame(t, base.KeyStore, same.KeyStore)

	same.Trust.Certificates[0].Location = "other.pem"
	assert.Equal(t, "ca.pem", base.Trust.Certificates[0].Location, "clone must not share slices")
	assert.False(t, base.Equal(same))
	assert.NotEqual(t, base.Fingerprint(), same.Fingerprint())

	emptyList := &Descriptor{Trust: &TrustSpec{Certificates: []Resource{}}}
	nilList := &Descriptor{Trust: &TrustSpec{}}
	assert.True(t, emptyList.Equal(nilList))
	assert.Equal(t, emptyList.Fingerprint(), nilList.Fingerprint())

	assert.False(t, base.Equal(nil))
	assert.True(t, (*Descriptor)(nil).Equal(nil))
	assert.False(t, (&Descriptor{IgnoreTimestampCheckFailure: true}).Equal(&Descriptor{}))
}

func TestDescriptor_EveryFieldAffectsEquality(t *testing.T) {
	t.Parallel()

	stores := func() *Descriptor {
		return &Descriptor{
			Algorithm: "SunX509",
			KeyStore: &KeyStoreSpec{
				Location:    "ks.jks",
				Type:        StoreTypeJKS,
				Provider:    "SUN",
				KeyPassword: "key-secret",
			},
			TrustStore: &TrustStoreSpec{
				Location:  "ts.jks",
				Type:      StoreTypeJKS,
				Provider:  "SUN",
				Algorithm: "PKIX",
				Password:  "store-secret",
			},
			Ciphers:                         "TLS_AES_128_GCM_SHA256",
			Protocols:                       "TLSv1.3",
			ClientAuth:                      "want",
			EndpointIdentificationAlgorithm: "HTTPS",
		}
	}
	inline := func() *Descriptor {
		return &Descriptor{
			Key: &KeySpec{
				Certificates: []Resource{{Location: "cert.pem"}},
				PrivateKey:   Resource{Location: "key.pem"},
				Password:     "pem-secret",
			},
			Trust: &TrustSpec{Certificates: []Resource{{Location: "ca.pem"}}},
		}
	}

	tests := []struct {
		name   string
		base   func() *Descriptor
		mutate func(d *Descriptor)
	}{
		{"algorithm", stores, func(d *Descriptor) { d.Algorithm = "PKIX" }},
		{"keyStore.location", stores, func(d *Descriptor) { d.KeyStore.Location = "other.jks" }},
		{"keyStore.type", stores, func(d *Descriptor) { d.KeyStore.Type = StoreTypePKCS12 }},
		{"keyStore.provider", stores, func(d *Descriptor) { d.KeyStore.Provider = "BC" }},
		{"keyStore.keyPassword", stores, func(d *Descriptor) { d.KeyStore.KeyPassword = "other" }},
		{"keyStore.keyAlias", stores, func(d *Descriptor) { d.KeyStore.KeyAlias = "gateway" }},
		{"trustStore.location", stores, func(d *Descriptor) { d.TrustStore.Location = "other.jks" }},
		{"trustStore.type", stores, func(d *Descriptor) { d.TrustStore.Type = StoreTypePKCS12 }},
		{"trustStore.provider", stores, func(d *Descriptor) { d.TrustStore.Provider = "BC" }},
		{"trustStore.algorithm", stores, func(d *Descriptor) { d.TrustStore.Algorithm = "SunX509" }},
		{"trustStore.password", stores, func(d *Descriptor) { d.TrustStore.Password = "other" }},
		{"ciphers", stores, func(d *Descriptor) { d.Ciphers = "TLS_AES_256_GCM_SHA384" }},
		{"protocols", stores, func(d *Descriptor) { d.Protocols = "TLSv1.2" }},
		{"clientAuth", stores, func(d *Descriptor) { d.ClientAuth = "need" }},
		{"endpointIdentificationAlgorithm", stores, func(d *Descriptor) { d.EndpointIdentificationAlgorithm = "LDAPS" }},
		{"ignoreTimestampCheckFailure", stores, func(d *Descriptor) { d.IgnoreTimestampCheckFailure = true }},
		{"keyStore removed", stores, func(d *Descriptor) { d.KeyStore = nil }},
		{"trustStore removed", stores, func(d *Descriptor) { d.TrustStore = nil }},
		{"key.certificates location", inline, func(d *Descriptor) { d.Key.Certificates[0].Location = "other.pem" }},
		{"key.certificates content", inline, func(d *Descriptor) { d.Key.Certificates[0] = Resource{Content: "-----BEGIN CERTIFICATE-----"} }},
		{"key.certificates appended", inline, func(d *Descriptor) { d.Key.Certificates = append(d.Key.Certificates, Resource{Location: "ca.pem"}) }},
		{"key.privateKey", inline, func(d *Descriptor) { d.Key.PrivateKey = Resource{Location: "other-key.pem"} }},
		{"key.password", inline, func(d *Descriptor) { d.Key.Password = "other" }},
		{"trust.certificates", inline, func(d *Descriptor) { d.Trust.Certificates[0].Location = "other-ca.pem" }},
		{"trust.certificates emptied", inline, func(d *Descriptor) { d.Trust.Certificates = nil }},
		{"key removed", inline, func(d *Descriptor) { d.Key = nil }},
		{"trust removed", inline, func(d *Descriptor) { d.Trust = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			base := tt.base()
			changed := tt.base()
			require.True(t, base.Equal(changed))
			require.Equal(t, base.Fingerprint(), changed.Fingerprint())

			tt.mutate(changed)
			assert.False(t, base.Equal(changed))
			assert.False(t, changed.Equal(base))
			assert.NotEqual(t, base.Fingerprint(), changed.Fingerprint())
		})
	}
}

func TestDescriptor_Locations(t *testing.T) {
	t.Parallel()

	assert.Nil(t, (*Descriptor)(nil).Locations())
	assert.Empty(t, (&Descriptor{Ciphers: "TLS_AES_128_GCM_SHA256"}).Locations())

	stores := &Descriptor{
		KeyStore:   &KeyStoreSpec{Location: "ks.p12"},
		TrustStore: &TrustStoreSpec{Location: "ts.jks"},
	}
	assert.Equal(t, []string{"ks.p12", "ts.jks"}, stores.Locations())

	inline := &Descriptor{
		Key: &KeySpec{
			Certificates: []Resource{{Location: "leaf.pem"}, {Content: "-----BEGIN CERTIFICATE-----"}, {Location: "intermediate.pem"}},
			PrivateKey:   Resource{Location: "key.pem"},
		},
		Trust: &TrustSpec{Certificates: []Resource{{Location: "vault://secret/ca#pem"}}},
	}
	assert.Equal(t, []string{"leaf.pem", "intermediate.pem", "key.pem", "vault://secret/ca#pem"}, inline.Locations())
}

func TestDescriptor_UnmarshalYAML(t *testing.T) {
	t.Parallel()

	input := `
algorithm: SunX509
keyStore:
  location: certs/gateway.p12
  type: pkcs12
  keyPassword: secret
trust:
  certificates:
    - certs/ca.pem
    - |
      -----BEGIN CERTIFICATE-----
      MIIB
      -----END CERTIFICATE-----
    - location: certs/other.pem
ciphers: TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,TLS_RSA_WITH_AES_128_CBC_SHA
protocols: TLSv1.2
clientAuth: need
endpointIdentificationAlgorithm: HTTPS
ignoreTimestampCheckFailure: true
`
	var desc Descriptor
	require.NoError(t, yaml.Unmarshal([]byte(input), &desc))

	assert.Equal(t, "SunX509", desc.Algorithm)
	require.NotNil(t, desc.KeyStore)
	assert.Equal(t, StoreTypePKCS12, desc.KeyStore.Type)
	assert.Equal(t, "secret", desc.KeyStore.KeyPassword)
	require.NotNil(t, desc.Trust)
	require.Len(t, desc.Trust.Certificates, 3)
	assert.Equal(t, "certs/ca.pem", desc.Trust.Certificates[0].Location)
	assert.Contains(t, desc.Trust.Certificates[1].Content, "BEGIN CERTIFICATE")
	assert.Empty(t, desc.Trust.Certificates[1].Location)
	assert.Equal(t, "certs/other.pem", desc.Trust.Certificates[2].Location)
	assert.Equal(t, "need", desc.ClientAuth)
	assert.Equal(t, "HTTPS", desc.EndpointIdentificationAlgorithm)
	assert.True(t, desc.IgnoreTimestampCheckFailure)
}

func TestParseStoreType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    StoreType
		wantErr bool
	}{
		{in: "", want: ""},
		{in: "jks", want: StoreTypeJKS},
		{in: "PKCS12", want: StoreTypePKCS12},
		{in: "p12", want: StoreTypePKCS12},
		{in: "BKS", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseStoreType(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrConfigInvalid, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	assert.Equal(t, StoreTypeJKS, StoreType("").OrDefault(DefaultStoreType))
	assert.Equal(t, StoreTypePKCS12, StoreTypePKCS12.OrDefault(DefaultStoreType))
}

func TestResource_Load(t *testing.T) {
	t.Parallel()

	res := newMemResolver().put("ca.pem", []byte("from-resolver"))

	data, err := Resource{Content: "inline"}.Load(res, "")
	require.NoError(t, err)
	assert.Equal(t, "inline", string(data))

	data, err = Resource{Location: "ca.pem"}.Load(res, "")
	require.NoError(t, err)
	assert.Equal(t, "from-resolver", string(data))
	assert.Zero(t, res.open.Load())

	_, err = Resource{}.Load(res, "")
	assert.Error(t, err)

	_, err = Resource{Location: "missing.pem"}.Load(res, "")
	var certErr *CertificateError
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, "missing.pem", certErr.Path)

	_, err = Resource{Location: "ca.pem"}.Load(nil, "")
	assert.Error(t, err)

	assert.Equal(t, "<inline>", Resource{Content: "x"}.String())
	assert.Equal(t, "ca.pem", Resource{Location: "ca.pem"}.String())
}
