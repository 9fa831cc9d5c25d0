package tls

import (
	"errors"
	"fmt"
)

// Server and relay errors.
var (
	ErrServerRunning = errors.New("server already running")
	ErrServerStopped = errors.New("server stopped")
	ErrIdleTimeout   = errors.New("connection idle timeout")
	ErrUnknownMode   = errors.New("unknown listener mode")

	ErrShutdownIncomplete = errors.New("shutdown incomplete")
)

// UpstreamError reports a failure to reach a target.
type UpstreamError struct {
	Target string
	Err    error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Target, e.Err)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}
