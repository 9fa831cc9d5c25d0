package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tlspkg "github.com/vyrodovalexey/tlsgate/internal/tls"
)

const fullConfigYAML = `
apiVersion: gateway.tlsgate.io/v1
kind: Gateway
metadata:
  name: edge
  labels:
    tier: public
spec:
  listeners:
    - name: public
      bind: 127.0.0.1
      port: 8443
      backlog: 128
      mode: sni
      target: backend
      ssl:
        - keyStore:
            location: certs/edge.jks
            type: pkcs12
            keyPassword: secret
          protocols: TLSv1.2,TLSv1.3
          clientAuth: want
        - key:
            certificates:
              - certs/alt.crt
            privateKey: certs/alt.key
  targets:
    - name: backend
      host: app.internal
      port: 9443
      connectTimeout: 3s
      localAddress: 10.0.0.5
      ssl:
        endpointIdentificationAlgorithm: HTTPS
        trust:
          certificates:
            - location: certs/ca.crt
  vault:
    enabled: true
    address: https://vault:8200
    authMethod: token
    token: s.abc
    timeout: 5s
  observability:
    logging:
      level: debug
      format: console
    metrics:
      enabled: true
      address: ":9100"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, fullConfigYAML)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Location)
	assert.Equal(t, APIVersion, cfg.APIVersion)
	assert.Equal(t, Kind, cfg.Kind)
	assert.Equal(t, "edge", cfg.Metadata.Name)
	assert.Equal(t, "public", cfg.Metadata.Labels["tier"])

	require.Len(t, cfg.Spec.Listeners, 1)
	l := cfg.Spec.Listeners[0]
	assert.Equal(t, "127.0.0.1", l.Bind)
	assert.Equal(t, 128, l.GetBacklog())
	assert.Equal(t, ListenerModeSNI, l.GetMode())
	require.Len(t, l.SSL, 2)
	require.NotNil(t, l.SSL[0].KeyStore)
	assert.Equal(t, tlspkg.StoreTypePKCS12, l.SSL[0].KeyStore.Type)
	assert.Equal(t, "want", l.SSL[0].ClientAuth)
	require.NotNil(t, l.SSL[1].Key)
	assert.Equal(t, "certs/alt.key", l.SSL[1].Key.PrivateKey.Location)
	assert.Equal(t, []tlspkg.Resource{{Location: "certs/alt.crt"}}, l.SSL[1].Key.Certificates)

	target, ok := cfg.FindTarget("backend")
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, target.GetConnectTimeout())
	assert.Equal(t, "10.0.0.5", target.LocalAddress)
	require.NotNil(t, target.SSL)
	assert.Equal(t, "HTTPS", target.SSL.EndpointIdentificationAlgorithm)
	require.NotNil(t, target.SSL.Trust)
	assert.Equal(t, "certs/ca.crt", target.SSL.Trust.Certificates[0].Location)

	require.NotNil(t, cfg.Spec.Vault)
	assert.Equal(t, 5*time.Second, cfg.Spec.Vault.GetTimeout())

	assert.Equal(t, "debug", cfg.Logging().Level)
	assert.Equal(t, ":9100", cfg.Metrics().GetAddress())
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics().GetPath())

	assert.NoError(t, ValidateConfig(cfg))
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "spec: [unclosed")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadConfig_InvalidStoreType(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
spec:
  listeners:
    - name: a
      ssl:
        - keyStore:
            location: x.jks
            type: BKS
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store type")
}

func TestLoadConfigFromReader(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(fullConfigYAML), "/etc/tlsgate/gateway.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/tlsgate/gateway.yaml", cfg.Location)
	assert.Equal(t, "edge", cfg.Metadata.Name)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TLSGATE_TEST_PASSWORD", "hunter2")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "set variable", input: "pw: ${TLSGATE_TEST_PASSWORD}", want: "pw: hunter2"},
		{name: "set variable ignores default", input: "${TLSGATE_TEST_PASSWORD:-other}", want: "hunter2"},
		{name: "unset with default", input: "${TLSGATE_TEST_UNSET:-fallback}", want: "fallback"},
		{name: "unset without default", input: "[${TLSGATE_TEST_UNSET}]", want: "[]"},
		{name: "escaped dollar", input: "price: $$5", want: "price: $5"},
		{name: "escaped reference", input: "$${TLSGATE_TEST_PASSWORD}", want: "${TLSGATE_TEST_PASSWORD}"},
		{name: "no references", input: "plain", want: "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, substituteEnvVars(tt.input))
		})
	}
}

func TestLoadConfig_EnvSubstitution(t *testing.T) {
	t.Setenv("TLSGATE_TEST_KEYSTORE_PW", "s3cret")

	path := writeConfig(t, `
apiVersion: gateway.tlsgate.io/v1
kind: Gateway
metadata:
  name: env
spec:
  listeners:
    - name: a
      port: ${TLSGATE_TEST_PORT:-9443}
      target: t
      ssl:
        - keyStore:
            location: a.jks
            keyPassword: ${TLSGATE_TEST_KEYSTORE_PW}
  targets:
    - name: t
      host: localhost
      port: 80
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9443, cfg.Spec.Listeners[0].Port)
	assert.Equal(t, "s3cret", cfg.Spec.Listeners[0].SSL[0].KeyStore.KeyPassword)
}

func TestResolveConfigPath(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, fullConfigYAML)

	got, err := ResolveConfigPath(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = ResolveConfigPath(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	_, err = ResolveConfigPath("definitely-not-here-tlsgate.yaml")
	assert.Error(t, err)
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(`
spec:
  targets:
    - name: a
      connectTimeout: 1m30s
    - name: b
      connectTimeout: ""
`), "")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Spec.Targets[0].ConnectTimeout.Duration())
	assert.Equal(t, DefaultConnectTimeout, cfg.Spec.Targets[1].GetConnectTimeout())

	_, err = LoadConfigFromReader(strings.NewReader(`
spec:
  targets:
    - name: a
      connectTimeout: soon
`), "")
	assert.Error(t, err)
}

func TestDuration_MarshalYAML(t *testing.T) {
	t.Parallel()

	v, err := Duration(1500 * time.Millisecond).MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", v)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Logging().Level)
	assert.True(t, cfg.Metrics().Enabled)
	assert.Equal(t, DefaultMetricsAddress, cfg.Metrics().GetAddress())
	assert.Equal(t, DefaultNamespace, cfg.Metrics().GetNamespace())

	bare := &GatewayConfig{}
	assert.Equal(t, "json", bare.Logging().Format)
	assert.Equal(t, DefaultMetricsPath, bare.Metrics().GetPath())

	l := Listener{}
	assert.Equal(t, DefaultBacklog, l.GetBacklog())
	assert.Equal(t, ListenerModeTLS, l.GetMode())

	_, ok := bare.FindTarget("none")
	assert.False(t, ok)
}
