package vault

import (
	"fmt"
	"time"
)

// AuthMethod specifies the Vault authentication method.
type AuthMethod string

// Authentication method constants.
const (
	// AuthMethodToken uses direct token authentication.
	AuthMethodToken AuthMethod = "token"

	// AuthMethodAppRole uses AppRole authentication with RoleID and SecretID.
	AuthMethodAppRole AuthMethod = "approle"
)

// Defaults applied by the Get* accessors.
const (
	DefaultKVVersion      = 2
	DefaultRequestTimeout = 10 * time.Second
	DefaultAppRoleMount   = "approle"
)

// IsValid returns true if the auth method is valid.
func (m AuthMethod) IsValid() bool {
	return m == AuthMethodToken || m == AuthMethodAppRole
}

// Config represents Vault client configuration.
type Config struct {
	// Enabled enables Vault integration.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Address is the Vault server address.
	Address string `yaml:"address" json:"address"`

	// Namespace is the Vault namespace (Enterprise feature).
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`

	// AuthMethod specifies the authentication method.
	AuthMethod AuthMethod `yaml:"authMethod" json:"authMethod"`

	// Token for token authentication.
	Token string `yaml:"token,omitempty" json:"token,omitempty"`

	// AppRole auth configuration.
	AppRole *AppRoleAuthConfig `yaml:"appRole,omitempty" json:"appRole,omitempty"`

	// TLS configuration for the Vault connection.
	TLS *TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`

	// KVVersion selects the KV secrets engine version, 1 or 2. Defaults to 2.
	KVVersion int `yaml:"kvVersion,omitempty" json:"kvVersion,omitempty"`

	// Timeout bounds each read. Defaults to 10 seconds.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// AppRoleAuthConfig configures AppRole authentication.
type AppRoleAuthConfig struct {
	RoleID    string `yaml:"roleId" json:"roleId"`
	SecretID  string `yaml:"secretId" json:"secretId"`
	MountPath string `yaml:"mountPath,omitempty" json:"mountPath,omitempty"`
}

// TLSConfig configures TLS for the Vault connection.
type TLSConfig struct {
	CACert     string `yaml:"caCert,omitempty" json:"caCert,omitempty"`
	ClientCert string `yaml:"clientCert,omitempty" json:"clientCert,omitempty"`
	ClientKey  string `yaml:"clientKey,omitempty" json:"clientKey,omitempty"`
	SkipVerify bool   `yaml:"skipVerify,omitempty" json:"skipVerify,omitempty"`
}

// Validate validates the Vault configuration. A disabled configuration is always valid.
func (c *Config) Validate() error {
	if c == nil {
		return NewConfigurationError("", "configuration is nil")
	}
	if !c.Enabled {
		return nil
	}

	if c.Address == "" {
		return NewConfigurationError("address", "vault address is required")
	}
	if !c.AuthMethod.IsValid() {
		return NewConfigurationError("authMethod", fmt.Sprintf("invalid auth method: %q", c.AuthMethod))
	}

	switch c.AuthMethod {
	case AuthMethodToken:
		if c.Token == "" {
			return NewConfigurationError("token", "token is required for token authentication")
		}
	case AuthMethodAppRole:
		if c.AppRole == nil {
			return NewConfigurationError("appRole", "appRole configuration is required for approle authentication")
		}
		if c.AppRole.RoleID == "" {
			return NewConfigurationError("appRole.roleId", "roleId is required for approle authentication")
		}
		if c.AppRole.SecretID == "" {
			return NewConfigurationError("appRole.secretId", "secretId is required for approle authentication")
		}
	}

	if c.KVVersion != 0 && c.KVVersion != 1 && c.KVVersion != 2 {
		return NewConfigurationError("kvVersion", fmt.Sprintf("unsupported KV version %d", c.KVVersion))
	}
	if c.Timeout < 0 {
		return NewConfigurationError("timeout", "timeout cannot be negative")
	}

	if c.TLS != nil {
		if c.TLS.ClientCert != "" && c.TLS.ClientKey == "" {
			return NewConfigurationError("tls.clientKey", "client key is required when client cert is provided")
		}
		if c.TLS.ClientKey != "" && c.TLS.ClientCert == "" {
			return NewConfigurationError("tls.clientCert", "client cert is required when client key is provided")
		}
	}
	return nil
}

// GetKVVersion returns the effective KV engine version.
func (c *Config) GetKVVersion() int {
	if c.KVVersion == 0 {
		return DefaultKVVersion
	}
	return c.KVVersion
}

// GetTimeout returns the effective per-read timeout.
func (c *Config) GetTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultRequestTimeout
}

// GetMountPath returns the effective mount path for AppRole auth.
func (c *AppRoleAuthConfig) GetMountPath() string {
	if c.MountPath != "" {
		return c.MountPath
	}
	return DefaultAppRoleMount
}
