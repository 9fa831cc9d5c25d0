package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/tlsgate/internal/resolver"
	tlspkg "github.com/vyrodovalexey/tlsgate/internal/tls"
)

// Output formats.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

type contextReport struct {
	Location               string          `json:"location" yaml:"location"`
	Fingerprint            string          `json:"fingerprint" yaml:"fingerprint"`
	Protocols              []string        `json:"protocols" yaml:"protocols"`
	Ciphers                []string        `json:"ciphers" yaml:"ciphers"`
	ClientAuth             string          `json:"clientAuth" yaml:"clientAuth"`
	EndpointIdentification string          `json:"endpointIdentification,omitempty" yaml:"endpointIdentification,omitempty"`
	Identity               *identityReport `json:"identity,omitempty" yaml:"identity,omitempty"`
	TrustAnchors           int             `json:"trustAnchors" yaml:"trustAnchors"`
	SystemRoots            bool            `json:"systemRoots" yaml:"systemRoots"`
}

type identityReport struct {
	Subject     string    `json:"subject" yaml:"subject"`
	Issuer      string    `json:"issuer" yaml:"issuer"`
	DNSNames    []string  `json:"dnsNames,omitempty" yaml:"dnsNames,omitempty"`
	NotBefore   time.Time `json:"notBefore" yaml:"notBefore"`
	NotAfter    time.Time `json:"notAfter" yaml:"notAfter"`
	ChainLength int       `json:"chainLength" yaml:"chainLength"`
	Fingerprint string    `json:"fingerprint" yaml:"fingerprint"`
}

func newInspectCmd(root *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "inspect <descriptor-file>",
		Short: "Build a TLS context from a descriptor and describe it",
		Long: `Build a TLS context from a YAML descriptor file, as used under a
listener's or target's ssl key, and print its identity, trust anchors,
protocols and cipher suites. Relative resource locations resolve against
the descriptor file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := root.logger()
			if err != nil {
				return err
			}

			desc, err := loadDescriptor(args[0])
			if err != nil {
				return err
			}

			base, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			c, err := tlspkg.NewContext(desc, resolver.NewMap(), base, tlspkg.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("failed to build context: %w", err)
			}

			return writeReport(cmd.OutOrStdout(), format, newContextReport(c))
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", formatText, "output format: text, json, yaml")
	return cmd
}

// loadDescriptor reads and validates a descriptor file.
func loadDescriptor(path string) (*tlspkg.Descriptor, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}

	var desc tlspkg.Descriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor %s: %w", path, err)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return &desc, nil
}

func newContextReport(c *tlspkg.Context) contextReport {
	r := contextReport{
		Location:               c.Location(),
		Fingerprint:            c.Descriptor().Fingerprint(),
		Protocols:              c.Protocols(),
		Ciphers:                c.Ciphers(),
		ClientAuth:             c.ClientAuth().String(),
		EndpointIdentification: c.EndpointIdentificationAlgorithm(),
	}

	if id := c.Identity(); id != nil {
		leaf := id.Leaf()
		r.Identity = &identityReport{
			Subject:     leaf.Subject.String(),
			Issuer:      leaf.Issuer.String(),
			DNSNames:    id.DNSNames(),
			NotBefore:   leaf.NotBefore.UTC(),
			NotAfter:    leaf.NotAfter.UTC(),
			ChainLength: len(id.Chain()),
			Fingerprint: tlspkg.CertificateFingerprint(leaf),
		}
	}

	if trust := c.Trust(); trust != nil {
		r.TrustAnchors = len(trust.Certificates())
		r.SystemRoots = trust.UsesSystemRoots()
	}
	return r
}

func writeReport(w io.Writer, format string, r contextReport) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case formatText:
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	var b strings.Builder
	if r.Location != "" {
		fmt.Fprintf(&b, "Location:     %s\n", r.Location)
	}
	fmt.Fprintf(&b, "Fingerprint:  %s\n", r.Fingerprint)
	if r.Identity != nil {
		b.WriteString("\nIdentity:\n")
		fmt.Fprintf(&b, "  Subject:     %s\n", r.Identity.Subject)
		fmt.Fprintf(&b, "  Issuer:      %s\n", r.Identity.Issuer)
		if len(r.Identity.DNSNames) > 0 {
			fmt.Fprintf(&b, "  DNS names:   %s\n", strings.Join(r.Identity.DNSNames, ", "))
		}
		fmt.Fprintf(&b, "  Not before:  %s\n", r.Identity.NotBefore.Format(time.RFC3339))
		fmt.Fprintf(&b, "  Not after:   %s\n", r.Identity.NotAfter.Format(time.RFC3339))
		fmt.Fprintf(&b, "  Chain:       %d certificate(s)\n", r.Identity.ChainLength)
		fmt.Fprintf(&b, "  SHA-256:     %s\n", r.Identity.Fingerprint)
	} else {
		b.WriteString("\nIdentity:     none\n")
	}

	b.WriteString("\nTrust:\n")
	if r.SystemRoots {
		b.WriteString("  system roots\n")
	} else {
		fmt.Fprintf(&b, "  %d anchor(s)\n", r.TrustAnchors)
	}
	fmt.Fprintf(&b, "\nClient auth:  %s\n", r.ClientAuth)
	if r.EndpointIdentification != "" {
		fmt.Fprintf(&b, "Endpoint identification: %s\n", r.EndpointIdentification)
	}

	fmt.Fprintf(&b, "\nProtocols:    %s\n", strings.Join(r.Protocols, ", "))
	b.WriteString("Ciphers:\n")
	for _, c := range r.Ciphers {
		fmt.Fprintf(&b, "  %s\n", c)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
