package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/trainconf/internal/application"
	"github.com/eugenenazirov/trainconf/internal/cli"
	"github.com/eugenenazirov/trainconf/internal/config"
	"github.com/eugenenazirov/trainconf/internal/logging"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitProblem = 2
)

var signalNotify = signal.Notify

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	app := kingpin.New("trainconf", "Validate, format, compare and serve training hyperparameter configs")
	app.Writers(stdout, stderr)
	app.Terminate(nil)

	validateCmd := app.Command("validate", "Validate config files or directories")
	validateStrict := validateCmd.Flag("strict", "Treat unknown keys as errors").Bool()
	validateWorkers := validateCmd.Flag("workers", "Files validated concurrently (0 uses all CPUs)").Default("0").Int()
	validateJSON := validateCmd.Flag("json", "Print results as JSON").Bool()
	validatePaths := validateCmd.Arg("path", "Config files or directories").Required().Strings()

	fmtCmd := app.Command("fmt", "Print a config in canonical form")
	fmtWrite := fmtCmd.Flag("write", "Rewrite the file in place").Short('w').Bool()
	fmtPath := fmtCmd.Arg("file", "Config file").Required().String()

	diffCmd := app.Command("diff", "Compare two configs, ignoring key order")
	diffJSON := diffCmd.Flag("json", "Print changes as JSON").Bool()
	diffA := diffCmd.Arg("a", "First config").Required().String()
	diffB := diffCmd.Arg("b", "Second config").Required().String()

	setCmd := app.Command("set", "Apply key=value overrides to a config")
	setWrite := setCmd.Flag("write", "Rewrite the file in place").Short('w').Bool()
	setStrict := setCmd.Flag("strict", "Treat unknown keys as errors").Bool()
	setPath := setCmd.Arg("file", "Config file").Required().String()
	setOverrides := setCmd.Arg("override", "key=value overrides").Required().Strings()

	scheduleCmd := app.Command("schedule", "Preview the learning-rate schedule of a config")
	scheduleSteps := scheduleCmd.Flag("steps-per-epoch", "Optimizer steps per epoch").Default("1").Int()
	scheduleJSON := scheduleCmd.Flag("json", "Print points as JSON").Bool()
	schedulePath := scheduleCmd.Arg("file", "Config file").Required().String()

	modelsCmd := app.Command("models", "List known models or describe one")
	modelsJSON := modelsCmd.Flag("json", "Print as JSON").Bool()
	modelsName := modelsCmd.Arg("name", "Model name").String()

	schemaCmd := app.Command("schema", "List every known option")

	serveCmd := app.Command("serve", "Run the HTTP API")
	configFile := serveCmd.Flag("config", "Path to YAML configuration file").String()
	port := serveCmd.Flag("port", "HTTP port exposed by the service").String()
	configDir := serveCmd.Flag("config-dir", "Directory of configs to watch and load").String()
	storePath := serveCmd.Flag("store", "SQLite database path (in-memory when empty)").String()
	strict := serveCmd.Flag("strict", "Treat unknown keys as errors").Bool()
	logLevel := serveCmd.Flag("log-level", "Log level (debug, info, warn, error)").String()
	rateLimitRPSFlag := serveCmd.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := serveCmd.Flag("rate-limit-burst", "Burst capacity for rate limiter").Default("-1").Int()

	command, err := app.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "trainconf: %v\n", err)
		return exitProblem
	}
	if command == "" {
		return exitOK
	}

	ctx := context.Background()
	switch command {
	case validateCmd.FullCommand():
		err = cli.Validate(ctx, stdout, cli.ValidateOptions{
			Paths:   *validatePaths,
			Strict:  *validateStrict,
			Workers: *validateWorkers,
			JSON:    *validateJSON,
		})
	case fmtCmd.FullCommand():
		err = cli.Format(stdout, *fmtPath, *fmtWrite)
	case diffCmd.FullCommand():
		err = cli.Diff(stdout, *diffA, *diffB, *diffJSON)
	case setCmd.FullCommand():
		err = cli.Set(stdout, *setPath, *setOverrides, *setWrite, *setStrict)
	case scheduleCmd.FullCommand():
		err = cli.Schedule(stdout, *schedulePath, *scheduleSteps, *scheduleJSON)
	case modelsCmd.FullCommand():
		err = cli.Models(stdout, *modelsName, *modelsJSON)
	case schemaCmd.FullCommand():
		err = cli.Schema(stdout)
	case serveCmd.FullCommand():
		overrides := &config.CLIOverrides{
			ConfigFile: *configFile,
			Port:       port,
			ConfigDir:  configDir,
			StorePath:  storePath,
			Strict:     strict,
			LogLevel:   logLevel,
		}
		if *rateLimitRPSFlag >= 0 {
			overrides.RateLimitRPS = rateLimitRPSFlag
		}
		if *rateLimitBurstFlag >= 0 {
			overrides.RateLimitBurst = rateLimitBurstFlag
		}
		err = serve(ctx, overrides)
	}

	return exitCode(err, stderr)
}

func exitCode(err error, stderr io.Writer) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, cli.ErrDifferent):
		return exitFailed
	case errors.Is(err, cli.ErrInvalid):
		// a bare ErrInvalid means the report is already on stdout
		if err != cli.ErrInvalid {
			fmt.Fprintf(stderr, "trainconf: %v\n", err)
		}
		return exitFailed
	default:
		fmt.Fprintf(stderr, "trainconf: %v\n", err)
		return exitProblem
	}
}

func serve(ctx context.Context, overrides *config.CLIOverrides) error {
	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		_ = app.Shutdown(ctx)
		return fmt.Errorf("failed to start server: %w", err)
	}

	shutdown(app, cfg.ShutdownGracePeriod, logger)
	return nil
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func shutdown(app shutdowner, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
}
