package vault

import (
	"errors"
	"fmt"
)

// Common errors for Vault operations.
var (
	// ErrVaultDisabled indicates Vault integration is not enabled.
	ErrVaultDisabled = errors.New("vault: integration disabled")

	// ErrClientClosed indicates the client was closed.
	ErrClientClosed = errors.New("vault: client closed")

	// ErrAuthenticationFailed indicates authentication failed.
	ErrAuthenticationFailed = errors.New("vault: authentication failed")

	// ErrSecretNotFound indicates the secret was not found.
	ErrSecretNotFound = errors.New("vault: secret not found")

	// ErrFieldNotFound indicates the secret has no such field.
	ErrFieldNotFound = errors.New("vault: field not found")

	// ErrInvalidPath indicates an invalid secret path or location.
	ErrInvalidPath = errors.New("vault: invalid secret path")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("vault: invalid configuration")
)

// VaultError represents a failed Vault operation.
//
//nolint:revive // the package name is part of the established error vocabulary
type VaultError struct {
	Op      string
	Path    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *VaultError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	if e.Path != "" {
		return fmt.Sprintf("vault %s on path %s: %s", e.Op, e.Path, msg)
	}
	return fmt.Sprintf("vault %s: %s", e.Op, msg)
}

// Unwrap returns the underlying error.
func (e *VaultError) Unwrap() error {
	return e.Err
}

// NewVaultError creates a VaultError without a cause.
func NewVaultError(op, path, message string) *VaultError {
	return &VaultError{Op: op, Path: path, Message: message}
}

// NewVaultErrorWithCause creates a VaultError wrapping cause.
func NewVaultErrorWithCause(op, path, message string, cause error) *VaultError {
	return &VaultError{Op: op, Path: path, Message: message, Err: cause}
}

// ConfigurationError reports an invalid Vault configuration field.
type ConfigurationError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("vault config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("vault config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// Is reports true for ErrInvalidConfig.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

// NewConfigurationErrorWithCause creates a ConfigurationError with a cause.
func NewConfigurationErrorWithCause(field, message string, cause error) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message, Cause: cause}
}

// WrapError annotates a sentinel error with a path.
func WrapError(err error, path string) error {
	return fmt.Errorf("%w: %s", err, path)
}
