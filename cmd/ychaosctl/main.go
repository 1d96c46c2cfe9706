// Command ychaosctl runs a chaos attack plan end to end: it loads a plan
// document, runs the STEADY-state verifications, executes the attack,
// runs CHAOS-state verifications while it's in flight, tears every agent
// down, runs RECOVERED-state verifications, and persists the resulting
// report and accumulated verification data.
//
// Usage:
//
//	ychaosctl run --plan plan.yaml           # run a plan end to end
//	ychaosctl run --plan plan.yaml --config ychaos.yaml
//	ychaosctl migrate up                      # apply database migrations
//	ychaosctl migrate status                  # show migration status
//	ychaosctl version                         # show version information
//	ychaosctl help                            # show this help message
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yahoo/ychaos/config"
	"github.com/yahoo/ychaos/internal/migration"
	"github.com/yahoo/ychaos/internal/telemetry"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runPlan(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("ychaosctl %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`ychaosctl - chaos attack plan runner

Usage:
  ychaosctl <command> [options]

Commands:
  run       Run a plan end to end
  migrate   Database migration commands
  version   Show version information
  help      Show this help message

Options for 'run':
  --plan <path>      Path to plan document (YAML or JSON), required
  --config <path>    Path to engine config file (YAML)
  --output <path>    Write the report to this path instead of stdout
  --format <fmt>     Report output format: yaml or json (default yaml)

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate status    Show migration status
  migrate version   Show current migration version

Examples:
  ychaosctl run --plan plan.yaml
  ychaosctl run --plan plan.yaml --config ychaos.yaml --output report.yaml
  ychaosctl migrate up --config ychaos.yaml
  ychaosctl version`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	format := cfg.Format
	if format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		format = "json"
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      format == "console",
		Encoding:         format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	opts := []zap.Option{}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "migrate requires a subcommand: up, down, status, version")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	dbType := migration.DatabaseType(cfg.Database.Driver)
	migrator, err := migration.NewMigrator(&migration.Config{
		DatabaseType: dbType,
		DatabaseURL:  cfg.Database.DSN(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	ctx := context.Background()

	var cmdErr error
	switch fs.Arg(0) {
	case "up":
		cmdErr = cli.RunUp(ctx)
	case "down":
		cmdErr = cli.RunDown(ctx)
	case "status":
		cmdErr = cli.RunStatus(ctx)
	case "version":
		cmdErr = cli.RunVersion(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown migrate subcommand: %s\n", fs.Arg(0))
		os.Exit(1)
	}
	if cmdErr != nil {
		fmt.Fprintln(os.Stderr, cmdErr)
		os.Exit(1)
	}
}

func runPlan(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	planPath := fs.String("plan", "", "Path to plan document (required)")
	configPath := fs.String("config", "", "Path to engine config file")
	outputPath := fs.String("output", "", "Write the report to this path instead of stdout")
	outputFormat := fs.String("format", "yaml", "Report output format: yaml or json")
	fs.Parse(args)

	if *planPath == "" {
		fmt.Fprintln(os.Stderr, "run requires --plan")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting ychaosctl run",
		zap.String("version", Version),
		zap.String("plan", *planPath),
	)

	if _, err := telemetry.Init(cfg.Telemetry, logger); err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runner, err := newRunner(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize runner", zap.Error(err))
	}
	defer runner.Close()

	report, err := runner.Run(ctx, *planPath)
	if err != nil {
		logger.Error("plan run failed", zap.Error(err))
	}
	if report == nil {
		os.Exit(1)
	}

	encoded, err := encodeReport(report, *outputFormat)
	if err != nil {
		logger.Fatal("failed to encode report", zap.Error(err))
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			logger.Fatal("failed to write report", zap.Error(err), zap.String("path", *outputPath))
		}
	} else {
		os.Stdout.Write(encoded)
	}

	if report.ExitCode != 0 {
		os.Exit(report.ExitCode)
	}
}

func encodeReport(report *runResult, format string) ([]byte, error) {
	switch format {
	case "json":
		return report.MarshalJSON()
	default:
		return report.MarshalYAML()
	}
}
