package main

import (
	"fmt"

	"github.com/vyrodovalexey/tlsgate/internal/config"
	"github.com/vyrodovalexey/tlsgate/internal/observability"
)

// loadAndValidateConfig locates, loads and validates the configuration. It
// returns the configuration and the resolved path.
func loadAndValidateConfig(configPath string, logger observability.Logger) (*config.GatewayConfig, string, error) {
	logger.Info("starting tlsgate",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	path, err := config.ResolveConfigPath(configPath)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, "", err
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}

	sniListeners := 0
	for i := range cfg.Spec.Listeners {
		if cfg.Spec.Listeners[i].GetMode() == config.ListenerModeSNI {
			sniListeners++
		}
	}

	logger.Info("configuration loaded",
		observability.String("name", cfg.Metadata.Name),
		observability.String("path", path),
		observability.Int("listeners", len(cfg.Spec.Listeners)),
		observability.Int("sni_listeners", sniListeners),
		observability.Int("targets", len(cfg.Spec.Targets)),
		observability.Bool("vault", cfg.Spec.Vault != nil && cfg.Spec.Vault.Enabled),
	)

	return cfg, path, nil
}
