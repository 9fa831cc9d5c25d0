package main

import (
	"context"
	"fmt"
	"time"

	"github.com/vyrodovalexey/tlsgate/internal/gateway"
	"github.com/vyrodovalexey/tlsgate/internal/health"
)

// certificateExpiryWarning is how close to NotAfter a listener identity
// reports degraded.
const certificateExpiryWarning = 7 * 24 * time.Hour

// newHealthChecker registers the gateway state and listener certificate
// checks.
func newHealthChecker(gw *gateway.Gateway) *health.Checker {
	checker := health.NewChecker(version)
	checker.RegisterCheck("gateway", func(context.Context) health.Check {
		if gw == nil {
			return health.Unhealthy("gateway not initialized")
		}
		switch state := gw.State(); state {
		case gateway.StateRunning:
		case gateway.StateDegraded:
			return health.Unhealthy("gateway degraded: reload failed and previous listeners could not be restored")
		default:
			return health.Unhealthy("gateway " + state.String())
		}
		return health.Healthy(fmt.Sprintf("running for %s", gw.Uptime().Round(time.Second)))
	})
	checker.RegisterCheck("certificates", func(context.Context) health.Check {
		return certificateCheck(gw, time.Now())
	})
	return checker
}

// certificateCheck reports the soonest listener identity expiry.
func certificateCheck(gw *gateway.Gateway, now time.Time) health.Check {
	if gw == nil {
		return health.Healthy("no listeners")
	}

	var (
		soonest time.Time
		owner   string
	)
	for _, srv := range gw.Servers() {
		for _, c := range srv.Contexts().Contexts() {
			id := c.Identity()
			if id == nil {
				continue
			}
			if notAfter := id.Leaf().NotAfter; soonest.IsZero() || notAfter.Before(soonest) {
				soonest, owner = notAfter, srv.Name()
			}
		}
	}

	switch {
	case soonest.IsZero():
		return health.Healthy("no listener identities")
	case now.After(soonest):
		return health.Unhealthy(fmt.Sprintf("listener %s certificate expired at %s", owner, soonest.Format(time.RFC3339)))
	case soonest.Sub(now) < certificateExpiryWarning:
		return health.Degraded(fmt.Sprintf("listener %s certificate expires at %s", owner, soonest.Format(time.RFC3339)))
	default:
		return health.Healthy(fmt.Sprintf("next expiry %s", soonest.Format(time.RFC3339)))
	}
}
