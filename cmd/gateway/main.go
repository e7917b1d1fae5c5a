// Package main is the entry point for the RFC gateway.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/vyrodovalexey/avarfc/internal/config"
	"github.com/vyrodovalexey/avarfc/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// exitFunc is replaced in tests.
var exitFunc = os.Exit

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags.logLevel, flags.logFormat)
	cfg := loadAndValidateConfig(flags.configPath, logger)
	if flags.logLevel == "" || flags.logFormat == "" {
		logger = initLogger(
			firstNonEmpty(flags.logLevel, cfg.Logging.Level),
			firstNonEmpty(flags.logFormat, cfg.Logging.Format),
		)
	}
	defer func() { _ = logger.Sync() }()

	app := initApplication(cfg, logger)
	runGateway(app, flags.configPath, logger)
}

// parseFlags parses command line flags. Environment variables provide the
// defaults; explicit flags win.
func parseFlags(fs *flag.FlagSet, args []string) cliFlags {
	var f cliFlags
	fs.StringVar(&f.configPath, "config", getEnvOrDefault("RFCGW_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	fs.StringVar(&f.logLevel, "log-level", getEnvOrDefault("RFCGW_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides logging.level")
	fs.StringVar(&f.logFormat, "log-format", getEnvOrDefault("RFCGW_LOG_FORMAT", ""),
		"Log format (json, console); overrides logging.format")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")
	_ = fs.Parse(args)
	return f
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("avarfc version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the process logger.
func initLogger(level, format string) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  firstNonEmpty(level, "info"),
		Format: firstNonEmpty(format, "json"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		exitFunc(1)
		return observability.NopLogger()
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting avarfc",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fatalWithSync(logger, "failed to load configuration", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	if err := config.ValidateConfig(cfg); err != nil {
		fatalWithSync(logger, "invalid configuration", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	names := make([]string, 0, len(cfg.Destinations))
	for _, d := range cfg.Destinations {
		names = append(names, d.Name)
	}
	logger.Info("configuration loaded",
		observability.Strings("destinations", names),
		observability.String("default_destination", cfg.DefaultDestination),
		observability.Bool("auth", cfg.Auth.Enabled),
		observability.Bool("audit", cfg.Audit.Enabled),
	)

	return cfg
}

// fatalWithSync logs at error level, flushes the logger and exits.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	logger.Error(msg, fields...)
	_ = logger.Sync()
	exitFunc(1)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
