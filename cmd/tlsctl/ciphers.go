package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	tlspkg "github.com/vyrodovalexey/tlsgate/internal/tls"
)

func newCiphersCmd() *cobra.Command {
	var defaultsOnly bool

	cmd := &cobra.Command{
		Use:   "ciphers",
		Short: "List the cipher suites the TLS engine supports",
		Long: `List cipher suite names accepted in a descriptor's ciphers value.

Flags in the output:
  fs        forward secrecy
  insecure  listed by the engine as insecure
  tls13     TLS 1.3 only, always enabled and not configurable`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names := tlspkg.SupportedCipherSuites()
			if defaultsOnly {
				names = tlspkg.DefaultCiphers()
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range names {
				_, _ = fmt.Fprintf(tw, "%s\t%s\n", name, cipherFlags(name))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&defaultsOnly, "defaults", false, "list only the suites enabled when a descriptor sets no ciphers")
	return cmd
}

func cipherFlags(name string) string {
	var flags []string
	if info, ok := tlspkg.GetCipherSuiteInfo(name); ok {
		if info.TLS13 {
			flags = append(flags, "tls13")
		}
		if info.Insecure {
			flags = append(flags, "insecure")
		}
	}
	if tlspkg.HasForwardSecrecy(name) {
		flags = append(flags, "fs")
	}

	out := ""
	for i, f := range flags {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out
}
