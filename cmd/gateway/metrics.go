package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/tlsgate/internal/gateway"
	"github.com/vyrodovalexey/tlsgate/internal/observability"
)

// createMetricsServer creates the metrics HTTP server with liveness
// (/healthz) and readiness (/readyz, /health) endpoints.
func createMetricsServer(
	address string,
	path string,
	registry *prometheus.Registry,
	gw *gateway.Gateway,
	logger observability.Logger,
) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	checker := newHealthChecker(gw)
	mux.HandleFunc("/healthz", checker.LivenessHandler())
	mux.HandleFunc("/readyz", checker.ReadinessHandler())
	mux.HandleFunc("/health", checker.ReadinessHandler())

	logger.Info("starting metrics server",
		observability.String("address", address),
		observability.String("metrics_path", path),
	)

	return &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// runMetricsServer runs the metrics HTTP server.
func runMetricsServer(server *http.Server, logger observability.Logger) {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server error", observability.Error(err))
	}
}

// startMetricsServerIfEnabled starts the metrics server if enabled.
func startMetricsServerIfEnabled(app *application, logger observability.Logger) {
	m := app.currentConfig().Metrics()
	if !m.Enabled {
		return
	}

	app.metricsServer = createMetricsServer(m.GetAddress(), m.GetPath(), app.promRegistry, app.gateway, logger)
	go runMetricsServer(app.metricsServer, logger)
}
