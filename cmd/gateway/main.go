// Package main is the entry point for the TLS gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vyrodovalexey/tlsgate/internal/config"
	"github.com/vyrodovalexey/tlsgate/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// exitFunc is os.Exit, replaced in tests.
var exitFunc = os.Exit

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		exitFunc(2)
		return
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	logger := initLogger(observability.LogConfig{
		Level:  orDefault(flags.logLevel, "info"),
		Format: orDefault(flags.logFormat, "json"),
	})
	defer func() { _ = logger.Sync() }()

	cfg, configPath, err := loadAndValidateConfig(flags.configPath, logger)
	if err != nil {
		fatalWithSync(logger, "failed to load configuration", observability.Error(err))
		return
	}

	logger = reconfigureLogger(logger, flags, cfg.Logging())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initApplication(ctx, cfg, logger)
	if err != nil {
		fatalWithSync(logger, "failed to initialize gateway", observability.Error(err))
		return
	}

	runGateway(ctx, app, configPath, logger)
}

// parseFlags parses command line flags from args.
func parseFlags(fs *flag.FlagSet, args []string) (cliFlags, error) {
	var flags cliFlags
	fs.StringVar(&flags.configPath, "config", getEnvOrDefault("TLSGATE_CONFIG_PATH", "gateway.yaml"),
		"Path to configuration file")
	fs.StringVar(&flags.logLevel, "log-level", getEnvOrDefault("TLSGATE_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides the configuration")
	fs.StringVar(&flags.logFormat, "log-format", getEnvOrDefault("TLSGATE_LOG_FORMAT", ""),
		"Log format (json, console); overrides the configuration")
	fs.BoolVar(&flags.showVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return flags, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "tlsgate version %s\n", version)
	_, _ = fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	_, _ = fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(cfg observability.LogConfig) observability.Logger {
	logger, err := observability.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		exitFunc(1)
		return observability.NopLogger()
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// reconfigureLogger rebuilds the logger from the configuration's logging
// section. Command line values take precedence.
func reconfigureLogger(
	current observability.Logger,
	flags cliFlags,
	cfg *config.LoggingConfig,
) observability.Logger {
	logCfg := observability.LogConfig{
		Level:  orDefault(flags.logLevel, orDefault(cfg.Level, "info")),
		Format: orDefault(flags.logFormat, orDefault(cfg.Format, "json")),
		Output: cfg.Output,
	}

	logger, err := observability.NewLogger(logCfg)
	if err != nil {
		current.Warn("keeping bootstrap logger", observability.Error(err))
		return current
	}

	_ = current.Sync()
	observability.SetGlobalLogger(logger)
	return logger
}

// fatalWithSync logs at error level, flushes the logger and exits.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	logger.Error(msg, fields...)
	_ = logger.Sync()
	exitFunc(1)
}
