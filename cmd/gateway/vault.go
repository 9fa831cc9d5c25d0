package main

import (
	"context"
	"fmt"
	"time"

	"github.com/vyrodovalexey/tlsgate/internal/observability"
	"github.com/vyrodovalexey/tlsgate/internal/retry"
	"github.com/vyrodovalexey/tlsgate/internal/vault"
)

// vaultAuthTimeout bounds all authentication attempts at startup.
const vaultAuthTimeout = 30 * time.Second

// vaultAuthPolicy is the retry policy for startup authentication.
var vaultAuthPolicy = retry.Policy{
	Attempts:       4,
	InitialBackoff: time.Second,
	MaxBackoff:     10 * time.Second,
	JitterFactor:   retry.DefaultJitterFactor,
}

// newVaultClient is vault.New, replaced in tests.
var newVaultClient = func(cfg *vault.Config, logger observability.Logger) (vault.Client, error) {
	return vault.New(cfg, logger)
}

// initVaultClient creates a Vault client from cfg and authenticates it,
// retrying while Vault is unavailable.
func initVaultClient(ctx context.Context, cfg *vault.Config, logger observability.Logger) (vault.Client, error) {
	client, err := newVaultClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, vaultAuthTimeout)
	defer cancel()

	authErr := retry.Do(ctx, vaultAuthPolicy, client.Authenticate,
		func(attempt int, retryErr error, backoff time.Duration) {
			logger.Warn("vault authentication failed, retrying",
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(retryErr),
			)
		})
	if authErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to authenticate with vault: %w", authErr)
	}

	logger.Info("vault client initialized",
		observability.String("address", cfg.Address),
		observability.String("auth_method", string(cfg.AuthMethod)),
	)

	return client, nil
}
