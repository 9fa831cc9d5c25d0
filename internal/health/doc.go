// Package health serves liveness and readiness endpoints backed by
// registered checks.
//
//	checker := health.NewChecker(version)
//	checker.RegisterCheck("gateway", func(context.Context) health.Check {
//	    if gw.IsRunning() {
//	        return health.Healthy("running")
//	    }
//	    return health.Unhealthy("gateway " + gw.State().String())
//	})
//
//	mux.HandleFunc("/healthz", checker.LivenessHandler())
//	mux.HandleFunc("/readyz", checker.ReadinessHandler())
package health
