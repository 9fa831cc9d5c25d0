package tls

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/tlsgate/internal/observability"
)

// Circuit breaker defaults.
const (
	DefaultBreakerFailures    = 5
	DefaultBreakerTimeout     = 30 * time.Second
	DefaultBreakerMaxRequests = 1
)

// BreakerConfig configures the circuit breaker guarding upstream dials.
type BreakerConfig struct {
	// Failures is the number of consecutive failed dials that opens the
	// breaker.
	Failures int
	// Timeout is how long the breaker stays open before a trial dial.
	Timeout time.Duration
	// MaxRequests is the number of trial dials admitted while half-open.
	MaxRequests int
}

// NewBreaker creates the circuit breaker for the named target. Zero fields
// take the defaults. Dials abandoned because the client went away or the
// server stopped do not count as failures.
func NewBreaker(name string, cfg BreakerConfig, logger observability.Logger) *gobreaker.CircuitBreaker {
	if cfg.Failures <= 0 {
		cfg.Failures = DefaultBreakerFailures
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBreakerTimeout
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultBreakerMaxRequests
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	failures := safeIntToUint32(cfg.Failures)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: safeIntToUint32(cfg.MaxRequests),
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("upstream circuit breaker state change",
				observability.String("target", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// safeIntToUint32 clamps n into the uint32 range.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}
