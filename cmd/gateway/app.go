package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vyrodovalexey/tlsgate/internal/config"
	"github.com/vyrodovalexey/tlsgate/internal/gateway"
	tlsserver "github.com/vyrodovalexey/tlsgate/internal/gateway/server/tls"
	"github.com/vyrodovalexey/tlsgate/internal/observability"
	"github.com/vyrodovalexey/tlsgate/internal/resolver"
	tlspkg "github.com/vyrodovalexey/tlsgate/internal/tls"
	"github.com/vyrodovalexey/tlsgate/internal/vault"
)

// application holds all application components.
type application struct {
	gateway       *gateway.Gateway
	registry      *tlspkg.Registry
	promRegistry  *prometheus.Registry
	tlsMetrics    *tlspkg.Metrics
	serverMetrics *tlsserver.Metrics
	reloadMetrics *reloadMetrics
	vaultClient   vault.Client
	tracer        *observability.Tracer
	metricsServer *http.Server

	// reloadMu serializes reloads from the config and resource watchers
	// and guards config and resourceWatcher.
	reloadMu        sync.Mutex
	config          *config.GatewayConfig
	resourceWatcher *tlspkg.ResourceWatcher
}

// initApplication wires metrics, resource resolution, the context registry
// and the gateway for cfg.
func initApplication(ctx context.Context, cfg *config.GatewayConfig, logger observability.Logger) (*application, error) {
	namespace := cfg.Metrics().GetNamespace()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tlsMetrics := tlspkg.NewMetrics(namespace, tlspkg.WithRegistry(promRegistry))
	serverMetrics := tlsserver.NewMetrics(namespace, promRegistry)
	diagnostics := tlspkg.NewDiagnostics(
		tlspkg.WithDiagnosticsLogger(logger),
		tlspkg.WithDiagnosticsMetrics(tlsMetrics),
	)

	app := &application{
		promRegistry:  promRegistry,
		tlsMetrics:    tlsMetrics,
		serverMetrics: serverMetrics,
		reloadMetrics: newReloadMetrics(namespace, promRegistry),
		config:        cfg,
	}

	res := resolver.NewMap()
	if cfg.Spec.Vault != nil && cfg.Spec.Vault.Enabled {
		client, err := initVaultClient(ctx, cfg.Spec.Vault, logger)
		if err != nil {
			return nil, err
		}
		app.vaultClient = client
		res.Register(vault.Scheme, vault.NewResolver(client, cfg.Spec.Vault.GetTimeout()))
	}

	app.registry = tlspkg.NewRegistry(res,
		tlspkg.WithLogger(logger),
		tlspkg.WithDiagnostics(diagnostics),
		tlspkg.WithMetrics(tlsMetrics),
	)

	tracer, err := initTracer(cfg)
	if err != nil {
		app.closeVault(logger)
		return nil, err
	}
	app.tracer = tracer

	gwOpts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithRegistry(app.registry),
		gateway.WithMetrics(serverMetrics),
		gateway.WithShutdownTimeout(tlsserver.DefaultShutdownTimeout),
	}
	if tracer.Enabled() {
		gwOpts = append(gwOpts, gateway.WithTracer(tracer.Tracer()))
	}

	gw, err := gateway.New(cfg, gwOpts...)
	if err != nil {
		app.shutdownTracer(context.Background(), logger)
		app.closeVault(logger)
		return nil, err
	}
	app.gateway = gw

	return app, nil
}

// initTracer creates the tracer from the tracing section. The service name
// falls back to the gateway name.
func initTracer(cfg *config.GatewayConfig) (*observability.Tracer, error) {
	tc := cfg.Tracing()
	serviceName := tc.ServiceName
	if serviceName == "" {
		serviceName = cfg.Metadata.Name
	}

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  serviceName,
		OTLPEndpoint: tc.Endpoint,
		SamplingRate: tc.GetSamplingRate(),
		Enabled:      tc.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	return tracer, nil
}

// currentConfig returns the configuration last applied.
func (app *application) currentConfig() *config.GatewayConfig {
	app.reloadMu.Lock()
	defer app.reloadMu.Unlock()
	return app.config
}

// shutdownTracer flushes pending spans.
func (app *application) shutdownTracer(ctx context.Context, logger observability.Logger) {
	if app.tracer == nil {
		return
	}
	if err := app.tracer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}
}

// closeVault closes the Vault client when one was created.
func (app *application) closeVault(logger observability.Logger) {
	if app.vaultClient == nil {
		return
	}
	logger.Info("closing vault client")
	if err := app.vaultClient.Close(); err != nil {
		logger.Error("failed to close vault client", observability.Error(err))
	}
}
