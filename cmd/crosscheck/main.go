package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	crosscheck "github.com/conformance-tools/crosscheck"
	"github.com/conformance-tools/crosscheck/corpus"
	"github.com/conformance-tools/crosscheck/exitcodes"
	"github.com/conformance-tools/crosscheck/flags"
	"github.com/conformance-tools/crosscheck/registry"
	"github.com/conformance-tools/crosscheck/report"
	"github.com/conformance-tools/crosscheck/service"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "crosscheck"
	app.Usage = "JSON Schema conformance harness"
	app.Description = "crosscheck runs a shared test corpus against every registered JSON Schema implementation and compares their verdicts"
	app.Commands = []*cli.Command{
		{
			Name:   "run",
			Usage:  "Run the corpus against every registered adapter",
			Flags:  flags.RunFlags,
			Action: runHarness,
		},
		{
			Name:   "validate",
			Usage:  "Check that the corpus file parses",
			Flags:  flags.ValidateFlags,
			Action: validateCorpus,
		},
		{
			Name:   "info",
			Usage:  "Print an adapter's self-reported identity",
			Flags:  flags.InfoFlags,
			Action: adapterInfo,
		},
		{
			Name:   "smoke",
			Usage:  "Run synthetic smoke cases against a single adapter",
			Flags:  flags.SmokeFlags,
			Action: smokeAdapter,
		},
		{
			Name:   "badges",
			Usage:  "Regenerate badge files from a stored report",
			Flags:  flags.BadgesFlags,
			Action: generateBadges,
		},
		{
			Name:   "serve",
			Usage:  "Serve reports, badges, and metrics over HTTP",
			Flags:  flags.ServeFlags,
			Action: serveReports,
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			if crosscheck.IsRuntimeError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
			} else if crosscheck.IsConformanceError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.ConformanceFailure))
			} else {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.ConformanceFailure))
			}
		}
	}

	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		slog.Error("failed to set up telemetry", "error", err)
		os.Exit(exitcodes.RuntimeErr)
	}
	defer otelShutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		// The exit handler terminates the process for every error it
		// recognizes, so anything left here carried no exit code.
		slog.Error("application failed", "error", err)
		os.Exit(exitcodes.RuntimeErr)
	}
}

// runHarness is the main command: it builds the harness from flags and
// runs it once or on an interval until interrupted.
func runHarness(cliCtx *cli.Context) error {
	log := newLogger(cliCtx)

	cfg, err := crosscheck.NewConfig(cliCtx, log,
		cliCtx.String(flags.CorpusFile.Name),
		cliCtx.String(flags.AdapterConfig.Name))
	if err != nil {
		return crosscheck.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	appCtx, cancel := context.WithCancelCause(cliCtx.Context)
	defer cancel(nil)

	harness, err := crosscheck.New(appCtx, cfg, Version, cancel)
	if err != nil {
		return crosscheck.NewRuntimeError(fmt.Errorf("failed to create harness: %w", err))
	}

	if err := harness.Start(appCtx); err != nil {
		return err
	}
	if cfg.RunOnce {
		return nil
	}

	<-appCtx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := harness.Stop(shutdownCtx); err != nil {
		return crosscheck.NewRuntimeError(fmt.Errorf("failed to stop harness: %w", err))
	}
	return harness.WaitForShutdown(shutdownCtx)
}

func validateCorpus(cliCtx *cli.Context) error {
	log := newLogger(cliCtx)

	path := cliCtx.String(flags.CorpusFile.Name)
	cases, err := corpus.Load(path)
	if err != nil {
		return crosscheck.NewRuntimeError(err)
	}

	var tests int
	for _, tc := range cases {
		tests += len(tc.Tests)
	}
	log.Debug("corpus parsed", "path", path)
	fmt.Printf("%s: %d cases, %d tests\n", path, len(cases), tests)
	return nil
}

func adapterInfo(cliCtx *cli.Context) error {
	newLogger(cliCtx)

	adapter := registry.ParseAdapter(cliCtx.String(flags.Adapter.Name))
	impl, err := crosscheck.AdapterInfo(cliCtx.Context, adapter, Version, smokeOptions(cliCtx))
	if err != nil {
		return crosscheck.NewRuntimeError(err)
	}

	out, err := json.MarshalIndent(impl, "", "  ")
	if err != nil {
		return crosscheck.NewRuntimeError(err)
	}
	fmt.Println(string(out))
	return nil
}

func smokeAdapter(cliCtx *cli.Context) error {
	log := newLogger(cliCtx)

	adapter := registry.ParseAdapter(cliCtx.String(flags.Adapter.Name))
	result, err := crosscheck.RunSmoke(cliCtx.Context, log, adapter, Version, smokeOptions(cliCtx))
	if err != nil {
		return crosscheck.NewRuntimeError(err)
	}

	fmt.Println(result.String())
	if result.Status == report.StatusFail {
		return crosscheck.NewConformanceError(fmt.Sprintf("adapter %s failed the smoke cases", adapter.Key()))
	}
	return nil
}

func generateBadges(cliCtx *cli.Context) error {
	log := newLogger(cliCtx)

	badgeDir := cliCtx.String(flags.BadgeDir.Name)
	if badgeDir == "" {
		return crosscheck.NewRuntimeError(errors.New("badges directory is required"))
	}

	rep, err := report.ReadFile(cliCtx.String(flags.ReportFile.Name))
	if err != nil {
		return crosscheck.NewRuntimeError(err)
	}
	if err := rep.GenerateBadges(badgeDir); err != nil {
		return crosscheck.NewRuntimeError(err)
	}
	log.Info("badges written", "dir", badgeDir, "adapters", len(rep.RunInfo.Implementations))
	return nil
}

func serveReports(cliCtx *cli.Context) error {
	log := newLogger(cliCtx)

	cfg, err := service.ReadConfig(cliCtx.String(flags.ServeConfig.Name))
	if err != nil {
		return crosscheck.NewRuntimeError(fmt.Errorf("failed to read config: %w", err))
	}

	svc := service.New(log, cfg)
	svc.Start(cliCtx.Context)
	defer svc.Shutdown()

	<-cliCtx.Context.Done()
	log.Info("shutting down")
	return nil
}

func smokeOptions(cliCtx *cli.Context) crosscheck.SmokeOptions {
	return crosscheck.SmokeOptions{
		ContainerRuntime: cliCtx.String(flags.ContainerRuntime.Name),
		CaseTimeout:      cliCtx.Duration(flags.CaseTimeout.Name),
		StartTimeout:     cliCtx.Duration(flags.StartTimeout.Name),
	}
}

// newLogger builds the process logger from the log flags and installs it
// as the slog default.
func newLogger(cliCtx *cli.Context) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cliCtx.String(flags.LogLevel.Name))}

	var handler slog.Handler
	if cliCtx.String(flags.LogFormat.Name) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
