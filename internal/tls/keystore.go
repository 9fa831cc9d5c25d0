package tls

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"fmt"
	"slices"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	"software.sslmate.com/src/go-pkcs12"
)

// storeProviders lists the provider names accepted for each store type.
// An empty provider always selects the built-in decoder.
var storeProviders = map[StoreType][]string{
	StoreTypeJKS:    {"SUN"},
	StoreTypePKCS12: {"SUN", "SunJSSE"},
}

func validateProvider(field string, typ StoreType, provider string) error {
	if provider == "" || slices.Contains(storeProviders[typ], provider) {
		return nil
	}
	return NewConfigurationErrorWithCause(field,
		fmt.Sprintf("provider %q does not supply store type %s", provider, typ), ErrUnsupportedProvider)
}

// keyEntry is a private key with its certificate chain, leaf first.
type keyEntry struct {
	alias string
	key   crypto.PrivateKey
	chain []*x509.Certificate
}

// storeContents is the decoded content of a keystore container.
type storeContents struct {
	keys    []keyEntry
	trusted []*x509.Certificate
}

// decodeKeyStore decodes a keystore holding private key entries. Aliases are
// visited in sorted order.
func decodeKeyStore(location string, data []byte, typ StoreType, storePassword, keyPassword string) (*storeContents, error) {
	switch typ {
	case StoreTypeJKS:
		return decodeJKS(location, data, storePassword, keyPassword, true)
	case StoreTypePKCS12:
		key, leaf, cas, err := pkcs12.DecodeChain(data, storePassword)
		if err != nil {
			return nil, NewCertificateErrorWithCause(location, "failed to decode PKCS12 keystore", joinKeyStoreErr(err))
		}
		chain := append([]*x509.Certificate{leaf}, cas...)
		return &storeContents{keys: []keyEntry{{alias: "1", key: key, chain: chain}}}, nil
	default:
		return nil, NewConfigurationError("keyStore.type", fmt.Sprintf("unknown store type %q", typ))
	}
}

// decodeTrustStore decodes a keystore holding trusted certificate entries.
func decodeTrustStore(location string, data []byte, typ StoreType, password string) ([]*x509.Certificate, error) {
	switch typ {
	case StoreTypeJKS:
		contents, err := decodeJKS(location, data, password, "", false)
		if err != nil {
			return nil, err
		}
		return contents.trusted, nil
	case StoreTypePKCS12:
		certs, err := pkcs12.DecodeTrustStore(data, password)
		if err == nil {
			return certs, nil
		}
		// Not a Java-style trust store; accept a plain bundle of certificates.
		_, leaf, cas, chainErr := pkcs12.DecodeChain(data, password)
		if chainErr != nil {
			return nil, NewCertificateErrorWithCause(location, "failed to decode PKCS12 truststore", joinKeyStoreErr(err))
		}
		return append([]*x509.Certificate{leaf}, cas...), nil
	default:
		return nil, NewConfigurationError("trustStore.type", fmt.Sprintf("unknown store type %q", typ))
	}
}

func decodeJKS(location string, data []byte, storePassword, keyPassword string, withKeys bool) (*storeContents, error) {
	ks := keystore.New(keystore.WithOrderedAliases())
	if err := ks.Load(bytes.NewReader(data), []byte(storePassword)); err != nil {
		return nil, NewCertificateErrorWithCause(location, "failed to load JKS keystore", joinKeyStoreErr(err))
	}

	contents := &storeContents{}
	for _, alias := range ks.Aliases() {
		switch {
		case ks.IsPrivateKeyEntry(alias):
			if !withKeys {
				continue
			}
			entry, err := ks.GetPrivateKeyEntry(alias, []byte(keyPassword))
			if err != nil {
				return nil, NewCertificateErrorWithCause(location,
					fmt.Sprintf("failed to recover key %q", alias), joinKeyStoreErr(err))
			}
			key, err := x509.ParsePKCS8PrivateKey(entry.PrivateKey)
			if err != nil {
				return nil, NewCertificateErrorWithCause(location,
					fmt.Sprintf("failed to parse key %q", alias), fmt.Errorf("%w: %w", ErrPrivateKeyInvalid, err))
			}
			chain, err := parseStoreCertificates(entry.CertificateChain)
			if err != nil {
				return nil, NewCertificateErrorWithCause(location,
					fmt.Sprintf("failed to parse chain of %q", alias), err)
			}
			contents.keys = append(contents.keys, keyEntry{alias: alias, key: key, chain: chain})
		case ks.IsTrustedCertificateEntry(alias):
			entry, err := ks.GetTrustedCertificateEntry(alias)
			if err != nil {
				return nil, NewCertificateErrorWithCause(location,
					fmt.Sprintf("failed to read certificate %q", alias), joinKeyStoreErr(err))
			}
			certs, err := parseStoreCertificates([]keystore.Certificate{entry.Certificate})
			if err != nil {
				return nil, NewCertificateErrorWithCause(location,
					fmt.Sprintf("failed to parse certificate %q", alias), err)
			}
			contents.trusted = append(contents.trusted, certs...)
		}
	}
	return contents, nil
}

func parseStoreCertificates(in []keystore.Certificate) ([]*x509.Certificate, error) {
	out := make([]*x509.Certificate, 0, len(in))
	for _, c := range in {
		cert, err := x509.ParseCertificate(c.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCertificateInvalid, err)
		}
		out = append(out, cert)
	}
	return out, nil
}

func joinKeyStoreErr(err error) error {
	return fmt.Errorf("%w: %w", ErrKeyStoreInvalid, err)
}
