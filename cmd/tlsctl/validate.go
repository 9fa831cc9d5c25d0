package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vyrodovalexey/tlsgate/internal/config"
	"github.com/vyrodovalexey/tlsgate/internal/observability"
	"github.com/vyrodovalexey/tlsgate/internal/resolver"
	tlspkg "github.com/vyrodovalexey/tlsgate/internal/tls"
	"github.com/vyrodovalexey/tlsgate/internal/vault"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <gateway-config>",
		Short: "Validate a gateway configuration and build every TLS context",
		Long: `Validate a gateway configuration file and build the TLS context of every
listener descriptor and target, reading key material the way the gateway
would. vault:// locations are read when the configuration enables Vault.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := root.logger()
			if err != nil {
				return err
			}

			cfg, err := config.LoadConfig(args[0])
			if err != nil {
				return err
			}
			if err := config.ValidateConfig(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			res := resolver.NewMap()
			if cfg.Spec.Vault != nil && cfg.Spec.Vault.Enabled {
				client, err := vault.New(cfg.Spec.Vault, logger)
				if err != nil {
					return err
				}
				defer func() { _ = client.Close() }()
				if err := client.Authenticate(cmd.Context()); err != nil {
					return err
				}
				res.Register(vault.Scheme, vault.NewResolver(client, cfg.Spec.Vault.GetTimeout()))
			}

			registry := tlspkg.NewRegistry(res,
				tlspkg.WithLogger(logger),
				tlspkg.WithDiagnostics(tlspkg.NewDiagnostics(tlspkg.WithDiagnosticsLogger(logger))),
			)

			out := cmd.OutOrStdout()
			total, failed := 0, 0
			check := func(label string, desc *tlspkg.Descriptor) {
				total++
				c, err := registry.Get(desc, cfg.Location)
				if err != nil {
					failed++
					_, _ = fmt.Fprintf(out, "FAIL  %s: %v\n", label, err)
					logger.Debug("context build failed",
						observability.String("descriptor", label),
						observability.Error(err))
					return
				}
				_, _ = fmt.Fprintf(out, "OK    %s (%s)\n", label, describe(c))
			}

			for i := range cfg.Spec.Listeners {
				l := &cfg.Spec.Listeners[i]
				for j := range l.SSL {
					check(fmt.Sprintf("listener %s ssl[%d]", l.Name, j), &l.SSL[j])
				}
			}
			for i := range cfg.Spec.Targets {
				t := &cfg.Spec.Targets[i]
				if t.SSL != nil {
					check("target "+t.Name, t.SSL)
				}
			}

			_, _ = fmt.Fprintf(out, "%d descriptor(s), %d distinct context(s)\n", total, registry.Len())
			if failed > 0 {
				return fmt.Errorf("%d of %d descriptor(s) failed to build", failed, total)
			}
			return nil
		},
	}
}

func describe(c *tlspkg.Context) string {
	if names := c.DNSNames(); len(names) > 0 {
		return fmt.Sprintf("identity %v, %d protocol(s)", names, len(c.Protocols()))
	}
	if c.Identity() != nil {
		return fmt.Sprintf("identity without DNS names, %d protocol(s)", len(c.Protocols()))
	}
	return fmt.Sprintf("no identity, %d protocol(s)", len(c.Protocols()))
}
