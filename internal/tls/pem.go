package tls

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/youmark/pkcs8"
)

// PEMParser decodes PEM-armored certificates and private keys.
type PEMParser interface {
	// ParseCertificate decodes the first CERTIFICATE block in data.
	ParseCertificate(data []byte) (*x509.Certificate, error)
	// ParseKey decodes the first private key block in data. password is
	// used only for encrypted keys.
	ParseKey(data []byte, password []byte) (crypto.PrivateKey, error)
}

// DefaultPEMParser handles PKCS#1, PKCS#8, SEC 1, encrypted PKCS#8 and legacy
// Proc-Type encrypted keys.
type DefaultPEMParser struct{}

var _ PEMParser = DefaultPEMParser{}

// ParseCertificate implements PEMParser.
func (DefaultPEMParser) ParseCertificate(data []byte) (*x509.Certificate, error) {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("%w: no CERTIFICATE block found", ErrCertificateInvalid)
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCertificateInvalid, err)
		}
		return cert, nil
	}
}

// ParseKey implements PEMParser.
func (DefaultPEMParser) ParseKey(data []byte, password []byte) (crypto.PrivateKey, error) {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("%w: no private key block found", ErrPrivateKeyInvalid)
		}

		switch block.Type {
		case "ENCRYPTED PRIVATE KEY":
			if len(password) == 0 {
				return nil, fmt.Errorf("%w: encrypted private key", ErrMissingPassword)
			}
			key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, password)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrPrivateKeyInvalid, err)
			}
			return key, nil
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			der := block.Bytes
			//nolint:staticcheck // legacy Proc-Type encryption is still found in deployed key files
			if x509.IsEncryptedPEMBlock(block) {
				if len(password) == 0 {
					return nil, fmt.Errorf("%w: encrypted private key", ErrMissingPassword)
				}
				var err error
				//nolint:staticcheck // see above
				der, err = x509.DecryptPEMBlock(block, password)
				if err != nil {
					return nil, fmt.Errorf("%w: %w", ErrPrivateKeyInvalid, err)
				}
			}
			return parseDERKey(block.Type, der)
		}
	}
}

func parseDERKey(blockType string, der []byte) (crypto.PrivateKey, error) {
	var (
		key crypto.PrivateKey
		err error
	)
	switch blockType {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(der)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(der)
	default:
		key, err = x509.ParsePKCS8PrivateKey(der)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrivateKeyInvalid, err)
	}
	return key, nil
}
