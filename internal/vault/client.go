package vault

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/vyrodovalexey/tlsgate/internal/observability"
)

// Client reads secrets from Vault.
type Client interface {
	// IsEnabled returns true if Vault is enabled.
	IsEnabled() bool

	// Authenticate authenticates with Vault.
	Authenticate(ctx context.Context) error

	// ReadKV reads the fields of the secret at mount/path from the KV engine.
	ReadKV(ctx context.Context, mount, path string) (map[string]interface{}, error)

	// Close closes the client.
	Close() error
}

// vaultClient implements Client over the official API client.
type vaultClient struct {
	config *Config
	api    *vaultapi.Client
	logger observability.Logger

	mu     sync.RWMutex
	closed bool
}

// ClientOption is a functional option for configuring the client.
type ClientOption func(*vaultClient)

// WithAPIClient replaces the underlying API client.
func WithAPIClient(api *vaultapi.Client) ClientOption {
	return func(c *vaultClient) {
		c.api = api
	}
}

// New creates a new Vault client. A disabled configuration yields a client
// whose operations return ErrVaultDisabled.
func New(cfg *Config, logger observability.Logger, opts ...ClientOption) (Client, error) {
	if cfg == nil {
		return nil, NewConfigurationError("", "configuration is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return &disabledClient{}, nil
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	client := &vaultClient{
		config: cfg,
		logger: logger.With(observability.String("component", "vault")),
	}
	for _, opt := range opts {
		opt(client)
	}

	if client.api == nil {
		api, err := newAPIClient(cfg)
		if err != nil {
			return nil, err
		}
		client.api = api
	}
	return client, nil
}

func newAPIClient(cfg *Config) (*vaultapi.Client, error) {
	apiConfig := vaultapi.DefaultConfig()
	if apiConfig.Error != nil {
		return nil, NewConfigurationErrorWithCause("", "failed to read vault environment", apiConfig.Error)
	}
	apiConfig.Address = cfg.Address
	apiConfig.Timeout = cfg.GetTimeout()

	if cfg.TLS != nil {
		tlsConfig := &vaultapi.TLSConfig{
			CACert:     cfg.TLS.CACert,
			ClientCert: cfg.TLS.ClientCert,
			ClientKey:  cfg.TLS.ClientKey,
			Insecure:   cfg.TLS.SkipVerify,
		}
		if err := apiConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, NewConfigurationErrorWithCause("tls", "failed to configure TLS", err)
		}
	}

	api, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, NewVaultErrorWithCause("init", "", "failed to create vault client", err)
	}
	if cfg.Namespace != "" {
		api.SetNamespace(cfg.Namespace)
	}
	return api, nil
}

// IsEnabled returns true.
func (c *vaultClient) IsEnabled() bool {
	return true
}

func (c *vaultClient) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// Authenticate authenticates with Vault using the configured method.
func (c *vaultClient) Authenticate(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	start := time.Now()
	var err error
	switch c.config.AuthMethod {
	case AuthMethodToken:
		err = c.authenticateWithToken(ctx)
	case AuthMethodAppRole:
		err = c.authenticateWithAppRole(ctx)
	default:
		err = NewConfigurationError("authMethod", "unsupported auth method: "+string(c.config.AuthMethod))
	}
	if err != nil {
		return err
	}

	c.logger.Info("authenticated with vault",
		observability.String("method", string(c.config.AuthMethod)),
		observability.Duration("duration", time.Since(start)),
	)
	return nil
}

func (c *vaultClient) authenticateWithToken(ctx context.Context) error {
	c.api.SetToken(c.config.Token)
	if _, err := c.api.Auth().Token().LookupSelfWithContext(ctx); err != nil {
		return NewVaultErrorWithCause("authenticate", "", "token lookup failed",
			fmt.Errorf("%w: %w", ErrAuthenticationFailed, err))
	}
	return nil
}

func (c *vaultClient) authenticateWithAppRole(ctx context.Context) error {
	path := fmt.Sprintf("auth/%s/login", c.config.AppRole.GetMountPath())
	secret, err := c.api.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"role_id":   c.config.AppRole.RoleID,
		"secret_id": c.config.AppRole.SecretID,
	})
	if err != nil {
		return NewVaultErrorWithCause("authenticate", path, "approle login failed",
			fmt.Errorf("%w: %w", ErrAuthenticationFailed, err))
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return NewVaultErrorWithCause("authenticate", path, "approle login returned no token", ErrAuthenticationFailed)
	}
	c.api.SetToken(secret.Auth.ClientToken)
	return nil
}

// ReadKV reads a secret from the KV engine. KV v2 reads the latest version.
func (c *vaultClient) ReadKV(ctx context.Context, mount, path string) (map[string]interface{}, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	mount = strings.Trim(mount, "/")
	path = strings.Trim(path, "/")
	if mount == "" {
		return nil, NewVaultErrorWithCause("kv_read", "", "mount is required", ErrInvalidPath)
	}
	if path == "" {
		return nil, NewVaultErrorWithCause("kv_read", mount, "path is required", ErrInvalidPath)
	}

	fullPath := mount + "/" + path
	if c.config.GetKVVersion() == 2 {
		fullPath = mount + "/data/" + path
	}

	secret, err := c.api.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, NewVaultErrorWithCause("kv_read", fullPath, "failed to read secret", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, WrapError(ErrSecretNotFound, fullPath)
	}

	data := secret.Data
	if c.config.GetKVVersion() == 2 {
		// Soft-deleted versions carry data: null.
		inner, ok := secret.Data["data"].(map[string]interface{})
		if !ok {
			return nil, WrapError(ErrSecretNotFound, fullPath)
		}
		data = inner
	}

	c.logger.Debug("secret read", observability.String("path", fullPath))
	return data, nil
}

// Close closes the client. It is safe to call more than once.
func (c *vaultClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.api.ClearToken()
	return nil
}

// disabledClient returns ErrVaultDisabled for all operations.
type disabledClient struct{}

func (c *disabledClient) IsEnabled() bool                      { return false }
func (c *disabledClient) Authenticate(_ context.Context) error { return ErrVaultDisabled }
func (c *disabledClient) ReadKV(_ context.Context, _, _ string) (map[string]interface{}, error) {
	return nil, ErrVaultDisabled
}
func (c *disabledClient) Close() error { return nil }

var (
	_ Client = (*vaultClient)(nil)
	_ Client = (*disabledClient)(nil)
)
