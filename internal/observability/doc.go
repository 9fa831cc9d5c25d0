// Package observability provides structured logging for the gateway.
//
// The Logger interface wraps zap and is passed to every component through
// functional options:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer func() { _ = logger.Sync() }()
//
//	logger.Info("listener started",
//	    observability.String("listener", "public"),
//	    observability.Int("port", 8443),
//	)
package observability
