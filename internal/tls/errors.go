package tls

import (
	"errors"
	"fmt"
)

// Sentinel errors for TLS context construction and use.
var (
	// ErrConfigInvalid indicates that a TLS descriptor is invalid.
	ErrConfigInvalid = errors.New("invalid TLS configuration")

	// ErrConflictingSources indicates that two mutually exclusive elements were both set.
	ErrConflictingSources = errors.New("mutually exclusive elements configured")

	// ErrMissingPassword indicates that a store or key requires a password that was not given.
	ErrMissingPassword = errors.New("missing required password")

	// ErrNoCertificates indicates that an inline key has no certificates.
	ErrNoCertificates = errors.New("no certificates")

	// ErrNoPrivateKey indicates that a keystore holds no private key entry.
	ErrNoPrivateKey = errors.New("no private key entry")

	// ErrUnsupportedCipher indicates a cipher suite name the platform does not know.
	ErrUnsupportedCipher = errors.New("unsupported cipher suite")

	// ErrNoCiphers indicates that cipher resolution produced an empty list.
	ErrNoCiphers = errors.New("no cipher suites available")

	// ErrUnsupportedProtocol indicates a protocol name the platform cannot enable.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")

	// ErrInvalidClientAuth indicates an unrecognized client authentication mode.
	ErrInvalidClientAuth = errors.New("invalid client authentication mode")

	// ErrUnsupportedAlgorithm indicates an unknown key or trust manager algorithm.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrUnsupportedProvider indicates an unknown keystore provider.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrKeyStoreInvalid indicates that a keystore could not be opened or decoded.
	ErrKeyStoreInvalid = errors.New("invalid keystore")

	// ErrCertificateInvalid indicates that a certificate could not be parsed.
	ErrCertificateInvalid = errors.New("certificate invalid")

	// ErrPrivateKeyInvalid indicates that a private key could not be parsed.
	ErrPrivateKeyInvalid = errors.New("private key invalid")
)

// CertificateError reports a failure to read or decode key or trust material.
type CertificateError struct {
	Path    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *CertificateError) Error() string {
	if e.Path != "" {
		if e.Cause != nil {
			return fmt.Sprintf("certificate error at %s: %s: %v", e.Path, e.Message, e.Cause)
		}
		return fmt.Sprintf("certificate error at %s: %s", e.Path, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("certificate error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("certificate error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *CertificateError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *CertificateError) Is(target error) bool {
	_, ok := target.(*CertificateError)
	return ok
}

// NewCertificateError creates a new CertificateError.
func NewCertificateError(path, message string) *CertificateError {
	return &CertificateError{Path: path, Message: message}
}

// NewCertificateErrorWithCause creates a new CertificateError with a cause.
func NewCertificateErrorWithCause(path, message string, cause error) *CertificateError {
	return &CertificateError{Path: path, Message: message, Cause: cause}
}

// ConfigurationError reports a descriptor that cannot produce a context.
// Field names the offending descriptor element (for example "keyStore.keyAlias").
type ConfigurationError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		if e.Cause != nil {
			return fmt.Sprintf("TLS config error at %s: %s: %v", e.Field, e.Message, e.Cause)
		}
		return fmt.Sprintf("TLS config error at %s: %s", e.Field, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("TLS config error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("TLS config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// Is reports true for ErrConfigInvalid and any *ConfigurationError target.
func (e *ConfigurationError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigurationError)
	return ok
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

// NewConfigurationErrorWithCause creates a new ConfigurationError with a cause.
func NewConfigurationErrorWithCause(field, message string, cause error) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message, Cause: cause}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
