package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/tlsgate/internal/config"
	"github.com/vyrodovalexey/tlsgate/internal/observability"
	tlspkg "github.com/vyrodovalexey/tlsgate/internal/tls"
)

// reloadMetrics holds Prometheus metrics for configuration reloads.
type reloadMetrics struct {
	configReloadTotal       *prometheus.CounterVec
	configReloadDuration    prometheus.Histogram
	configReloadLastSuccess prometheus.Gauge
	configWatcherStatus     prometheus.Gauge
	resourceChangesTotal    prometheus.Counter
	resourceWatchedFiles    prometheus.Gauge
}

// newReloadMetrics creates reload metrics and registers them with
// registerer when it is not nil.
func newReloadMetrics(namespace string, registerer prometheus.Registerer) *reloadMetrics {
	rm := &reloadMetrics{
		configReloadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_total",
				Help:      "Total number of configuration reloads",
			},
			[]string{"result"},
		),
		configReloadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "config_reload_duration_seconds",
				Help:      "Duration of configuration reload operations",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		configReloadLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_reload_last_success_timestamp",
				Help:      "Timestamp of last successful config reload",
			},
		),
		configWatcherStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_watcher_running",
				Help:      "Whether the config file watcher is running (1=running, 0=stopped)",
			},
		),
		resourceChangesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tls_resource_changes_total",
				Help:      "Total number of key material file changes that triggered a reload",
			},
		),
		resourceWatchedFiles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tls_resource_watched_files",
				Help:      "Number of key material files watched for changes",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			rm.configReloadTotal,
			rm.configReloadDuration,
			rm.configReloadLastSuccess,
			rm.configWatcherStatus,
			rm.resourceChangesTotal,
			rm.resourceWatchedFiles,
		)
	}

	return rm
}

// startConfigWatcher starts the configuration watcher. It returns nil when
// the watcher could not be created.
func startConfigWatcher(
	ctx context.Context,
	app *application,
	configPath string,
	logger observability.Logger,
) *config.Watcher {
	rm := app.reloadMetrics

	watcher, err := config.NewWatcher(configPath, func(newCfg *config.GatewayConfig) {
		logger.Info("configuration changed, reloading")
		reloadGateway(ctx, app, newCfg, logger)
	},
		config.WithLogger(logger),
		config.WithErrorCallback(func(err error) {
			rm.configReloadTotal.WithLabelValues("error").Inc()
			logger.Error("configuration rejected", observability.Error(err))
		}),
	)
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		rm.configWatcherStatus.Set(0)
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		rm.configWatcherStatus.Set(0)
		return watcher
	}

	rm.configWatcherStatus.Set(1)
	return watcher
}

// startResourceWatcher watches the key material files referenced by the
// current configuration and reloads the gateway when they change. It returns
// nil when the watcher could not be created.
func startResourceWatcher(ctx context.Context, app *application, logger observability.Logger) *tlspkg.ResourceWatcher {
	rm := app.reloadMetrics

	watcher, err := tlspkg.NewResourceWatcher(func() {
		rm.resourceChangesTotal.Inc()
		logger.Info("TLS resource files changed, reloading")
		reloadResources(ctx, app, logger)
	}, tlspkg.WithWatcherLogger(logger))
	if err != nil {
		logger.Warn("failed to create TLS resource watcher", observability.Error(err))
		return nil
	}

	app.reloadMu.Lock()
	files := app.config.ResourceFiles()
	if err := watcher.SetFiles(files); err != nil {
		logger.Warn("some TLS resource files cannot be watched", observability.Error(err))
	}
	app.resourceWatcher = watcher
	app.reloadMu.Unlock()
	rm.resourceWatchedFiles.Set(float64(len(watcher.Files())))

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start TLS resource watcher", observability.Error(err))
	}
	return watcher
}

// reloadGateway applies newCfg to the running gateway. Changes to the vault
// and observability sections take effect on restart only.
func reloadGateway(ctx context.Context, app *application, newCfg *config.GatewayConfig, logger observability.Logger) {
	app.reloadMu.Lock()
	defer app.reloadMu.Unlock()
	applyReload(ctx, app, newCfg, logger)
}

// reloadResources reapplies the current configuration so that every TLS
// context is rebuilt from fresh key material.
func reloadResources(ctx context.Context, app *application, logger observability.Logger) {
	app.reloadMu.Lock()
	defer app.reloadMu.Unlock()
	applyReload(ctx, app, app.config, logger)
}

// applyReload must be called with app.reloadMu held.
func applyReload(ctx context.Context, app *application, newCfg *config.GatewayConfig, logger observability.Logger) {
	rm := app.reloadMetrics
	start := time.Now()

	if err := app.gateway.Reload(ctx, newCfg); err != nil {
		rm.configReloadTotal.WithLabelValues("error").Inc()
		rm.configReloadDuration.Observe(time.Since(start).Seconds())
		logger.Error("failed to reload configuration", observability.Error(err))
		return
	}

	app.config = newCfg
	rm.configReloadTotal.WithLabelValues("success").Inc()
	rm.configReloadDuration.Observe(time.Since(start).Seconds())
	rm.configReloadLastSuccess.SetToCurrentTime()

	if app.resourceWatcher != nil {
		if err := app.resourceWatcher.SetFiles(newCfg.ResourceFiles()); err != nil {
			logger.Warn("some TLS resource files cannot be watched", observability.Error(err))
		}
		rm.resourceWatchedFiles.Set(float64(len(app.resourceWatcher.Files())))
	}
}
