package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/tlsgate/internal/config"
	"github.com/vyrodovalexey/tlsgate/internal/observability"
)

// shutdownTimeout bounds the whole graceful shutdown.
const shutdownTimeout = 30 * time.Second

// runGateway starts the gateway and blocks until a shutdown signal.
func runGateway(ctx context.Context, app *application, configPath string, logger observability.Logger) {
	if err := app.gateway.Start(ctx); err != nil {
		app.closeVault(logger)
		fatalWithSync(logger, "failed to start gateway", observability.Error(err))
		return
	}

	startMetricsServerIfEnabled(app, logger)
	startResourceWatcher(ctx, app, logger)
	watcher := startConfigWatcher(ctx, app, configPath, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", observability.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdown(app, watcher, logger)
}

// shutdown stops the watchers, the metrics server and the gateway, then
// flushes traces and releases the Vault client.
func shutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warn("failed to stop config watcher", observability.Error(err))
		}
		app.reloadMetrics.configWatcherStatus.Set(0)
	}

	app.reloadMu.Lock()
	resources := app.resourceWatcher
	app.resourceWatcher = nil
	app.reloadMu.Unlock()
	if resources != nil {
		if err := resources.Stop(); err != nil {
			logger.Warn("failed to stop TLS resource watcher", observability.Error(err))
		}
	}

	if app.metricsServer != nil {
		logger.Info("stopping metrics server")
		if err := app.metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to stop metrics server gracefully", observability.Error(err))
		}
	}

	if err := app.gateway.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop gateway gracefully", observability.Error(err))
	}

	app.shutdownTracer(shutdownCtx, logger)

	// Listeners may still read key material while draining.
	app.closeVault(logger)

	logger.Info("gateway stopped")
}
