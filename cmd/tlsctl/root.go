package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vyrodovalexey/tlsgate/internal/observability"
)

// rootOptions are flags shared by every command.
type rootOptions struct {
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tlsctl",
		Short: "Inspect TLS descriptors and validate gateway configurations",
		Long: `tlsctl builds TLS contexts the same way the gateway does and reports
what they contain.

Examples:
  # Show the identity, protocols and cipher suites of a descriptor
  tlsctl inspect listener-ssl.yaml

  # Check a gateway configuration and build every context it declares
  tlsctl validate gateway.yaml

  # List the cipher suites the TLS engine supports
  tlsctl ciphers --defaults`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "error",
		"log level for context construction warnings (debug, info, warn, error)")

	cmd.AddCommand(
		newInspectCmd(opts),
		newValidateCmd(opts),
		newCiphersCmd(),
		newVersionCmd(),
	)
	return cmd
}

// logger returns a console logger at the configured level.
func (o *rootOptions) logger() (observability.Logger, error) {
	return observability.NewLogger(observability.LogConfig{
		Level:  o.logLevel,
		Format: "console",
		Output: "stderr",
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "tlsctl version %s (commit %s)\n", version, gitCommit)
		},
	}
}
