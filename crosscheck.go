// Package crosscheck wires the adapter registry, the corpus, and the
// harness runner into a service lifecycle the CLI can start and stop.
package crosscheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"

	"github.com/conformance-tools/crosscheck/archive"
	"github.com/conformance-tools/crosscheck/corpus"
	"github.com/conformance-tools/crosscheck/exitcodes"
	"github.com/conformance-tools/crosscheck/metrics"
	"github.com/conformance-tools/crosscheck/registry"
	"github.com/conformance-tools/crosscheck/report"
	"github.com/conformance-tools/crosscheck/runner"
)

// Crosscheck owns one harness configuration: the adapters under test, the
// corpus they are measured against, and the sinks run artifacts go to.
type Crosscheck struct {
	ctx     context.Context
	config  *Config
	version string

	registry  *registry.Registry
	cases     []corpus.TestCase
	runner    runner.HarnessRunner
	archiver  *archive.Archiver
	archiveDB archive.Connection
	scheduler *Scheduler

	result *runner.Result

	shutdownCallback func(error)
}

// New loads the adapter registry and the corpus, builds the runner, and
// opens the archive when a DSN is configured.
func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Crosscheck, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		config.Log = slog.Default()
	}
	config.Log.Debug("creating harness",
		"corpus", config.CorpusFile,
		"adapters", config.AdapterConfig,
		"dialect", config.Dialect)

	reg, err := registry.NewRegistry(registry.Config{
		Log:               config.Log,
		AdapterConfigFile: config.AdapterConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	cases, err := corpus.Load(config.CorpusFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}

	harnessRunner, err := runner.NewHarnessRunner(runner.Config{
		Registry:         reg,
		Corpus:           cases,
		Dialect:          config.Dialect,
		Log:              config.Log,
		HarnessVersion:   version,
		ContainerRuntime: config.ContainerRuntime,
		CaseTimeout:      config.CaseTimeout,
		StartTimeout:     config.StartTimeout,
		FailFast:         config.FailFast,
		MaxConcurrent:    config.MaxConcurrent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create harness runner: %w", err)
	}

	c := &Crosscheck{
		ctx:              ctx,
		config:           config,
		version:          version,
		registry:         reg,
		cases:            cases,
		runner:           harnessRunner,
		shutdownCallback: shutdownCallback,
	}

	if config.ArchiveDSN != "" {
		db, err := archive.NewDB(ctx, config.ArchiveDSN)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		archiver, err := archive.New(archive.Config{
			Log:  config.Log,
			Conn: db,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		c.archiveDB = db
		c.archiver = archiver
	}

	c.scheduler = NewScheduler(config.RunInterval, config.RunOnce, config.Log)
	c.scheduler.RegisterCallback(c.runCorpus)

	config.Log.Info("created registry and harness runner",
		"adapters", len(reg.Adapters()),
		"cases", len(cases))
	return c, nil
}

// Start runs the corpus immediately, then keeps running it on the
// configured interval unless the harness is in run-once mode.
func (c *Crosscheck) Start(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			c.config.Log.Error("runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	c.ctx = ctx

	if err := c.scheduler.Start(ctx); err != nil {
		c.config.Log.Error("runtime error running corpus", "error", err)
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}

	if c.config.RunOnce {
		c.config.Log.Info("run completed, exiting (run-once mode)")

		if c.result != nil && c.result.Status == report.StatusFail {
			c.config.Log.Warn("run completed with conformance failures")
			return NewConformanceError(c.result.String())
		}

		go func() {
			c.shutdownCallback(nil)
		}()
		return nil
	}

	c.config.Log.Debug("crosscheck started successfully")
	return nil
}

// Stop stops the harness. It is safe to call more than once.
func (c *Crosscheck) Stop(ctx context.Context) error {
	c.config.Log.Info("stopping crosscheck")

	if err := c.scheduler.Stop(); err != nil {
		return err
	}
	if c.archiveDB != nil {
		if err := c.archiveDB.Close(); err != nil {
			c.config.Log.Error("failed to close archive connection", "error", err)
		}
	}

	c.config.Log.Info("crosscheck stopped successfully")
	return nil
}

// Stopped returns true if the harness is stopped.
func (c *Crosscheck) Stopped() bool {
	return c.scheduler.Stopped()
}

// WaitForShutdown blocks until all goroutines have terminated or the
// context expires.
func (c *Crosscheck) WaitForShutdown(ctx context.Context) error {
	return c.scheduler.WaitForShutdown(ctx)
}

// runCorpus performs one full corpus run and publishes its artifacts.
func (c *Crosscheck) runCorpus() error {
	c.config.Log.Info("running corpus against all adapters")
	result, err := c.runner.RunCorpus(c.ctx)
	if err != nil {
		c.config.Log.Error("runtime error running corpus", "error", err)
		return NewRuntimeError(err)
	}
	c.result = result

	c.printResultsTable(result)
	fmt.Println(result.String())

	if err := c.publishArtifacts(result); err != nil {
		return NewRuntimeError(err)
	}

	c.config.Log.Info("corpus run completed", "run_id", result.RunID, "status", result.Status)
	return nil
}

// publishArtifacts writes the report file and badges, then archives the
// run. Archival failures are logged rather than returned: the report file
// stays the source of truth even when the database is unreachable.
func (c *Crosscheck) publishArtifacts(result *runner.Result) error {
	if c.config.ReportFile != "" {
		if err := writeReportFile(c.config.ReportFile, result); err != nil {
			return err
		}
		c.config.Log.Info("wrote report", "path", c.config.ReportFile)
	}

	if c.config.BadgeDir != "" {
		if err := result.Summary.GenerateBadges(c.config.BadgeDir, result.Info.Dialect); err != nil {
			return fmt.Errorf("failed to generate badges: %w", err)
		}
		c.config.Log.Info("wrote badges", "dir", c.config.BadgeDir)
	}

	if c.archiver != nil {
		if err := c.archiver.Store(c.ctx, result.RunID, result.Info, result.Summary); err != nil {
			c.config.Log.Error("failed to archive run", "run_id", result.RunID, "error", err)
			metrics.RecordErrorDetails("archive", err)
		}
	}
	return nil
}

func writeReportFile(path string, result *runner.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := report.Write(f, result.Info, result.Summary); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// printResultsTable prints the per-adapter results to the console.
func (c *Crosscheck) printResultsTable(result *runner.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Conformance Results (%s)", formatDuration(result.Duration)))

	t.AppendHeader(table.Row{
		"Adapter", "Language", "Version", "Cases", "Tests", "Failed", "Errored", "Skipped", "Status",
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Adapter", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Cases", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Errored", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
	})

	counts := result.Summary.Counts()
	var grandTotal, grandFailed, grandErrored, grandSkipped int
	for _, image := range result.Summary.Images() {
		count := counts[image]
		impl, _ := result.Summary.Implementation(image)
		t.AppendRow(table.Row{
			image,
			impl.Language,
			impl.Version,
			count.TotalCases,
			count.TotalTests,
			count.FailedTests,
			count.ErroredTests,
			count.SkippedTests,
			getResultString(count.Status()),
		})
		grandTotal += count.TotalTests
		grandFailed += count.FailedTests
		grandErrored += count.ErroredTests
		grandSkipped += count.SkippedTests
	}

	switch result.Status {
	case report.StatusPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case report.StatusSkip:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	// Cases and tests are dispatched identically to every adapter, so the
	// footer shows the corpus size rather than a sum over adapters.
	totalCases, _ := result.Summary.TotalCases()
	totalTests, _ := result.Summary.TotalTests()
	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		"",
		totalCases,
		totalTests,
		grandFailed,
		grandErrored,
		grandSkipped,
		getResultString(result.Status),
	})

	t.Render()

	metrics.RecordRun(
		result.Info.Dialect,
		result.RunID,
		result.Status,
		grandTotal,
		grandFailed,
		grandErrored,
		grandSkipped,
		result.Duration,
	)
}

// getResultString returns a short string representing a run status.
func getResultString(status report.Status) string {
	switch status {
	case report.StatusPass:
		return "✓ pass"
	case report.StatusSkip:
		return "- skip"
	default:
		return "✗ fail"
	}
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
