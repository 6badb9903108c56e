package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "CROSSCHECK"

func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	AdapterConfig = &cli.StringFlag{
		Name:    "adapters",
		Value:   "adapters.yaml",
		EnvVars: prefixEnvVars("ADAPTERS"),
		Usage:   "Path to the adapter registry config file (eg. 'adapters.yaml')",
	}
	CorpusFile = &cli.StringFlag{
		Name:     "corpus",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("CORPUS"),
		Usage:    "Path to the corpus file (one JSON case group per line)",
	}
	Dialect = &cli.StringFlag{
		Name:    "dialect",
		Value:   "https://json-schema.org/draft/2020-12/schema",
		EnvVars: prefixEnvVars("DIALECT"),
		Usage:   "Schema dialect URI the run is pinned to",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: prefixEnvVars("RUN_INTERVAL"),
		Usage:   "Interval between corpus runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	FailFast = &cli.BoolFlag{
		Name:    "fail-fast",
		Value:   false,
		EnvVars: prefixEnvVars("FAIL_FAST"),
		Usage:   "Stop dispatching new cases once any failure is observed",
	}
	MaxConcurrent = &cli.IntFlag{
		Name:    "max-concurrent",
		Value:   0,
		EnvVars: prefixEnvVars("MAX_CONCURRENT"),
		Usage:   "Maximum adapters evaluated in parallel per case (0 = all adapters)",
	}
	CaseTimeout = &cli.DurationFlag{
		Name:    "case-timeout",
		Value:   10 * time.Second,
		EnvVars: prefixEnvVars("CASE_TIMEOUT"),
		Usage:   "Per-case timeout for a single adapter",
	}
	StartTimeout = &cli.DurationFlag{
		Name:    "start-timeout",
		Value:   time.Minute,
		EnvVars: prefixEnvVars("START_TIMEOUT"),
		Usage:   "Timeout for an adapter's start handshake, image pull included",
	}
	ContainerRuntime = &cli.StringFlag{
		Name:    "container-runtime",
		Value:   "docker",
		EnvVars: prefixEnvVars("CONTAINER_RUNTIME"),
		Usage:   "Container runtime used to launch image adapters",
	}
	ReportFile = &cli.StringFlag{
		Name:    "report",
		Value:   "report.json",
		EnvVars: prefixEnvVars("REPORT"),
		Usage:   "Path the run report is written to ('' disables the report file)",
	}
	BadgeDir = &cli.StringFlag{
		Name:    "badges",
		Value:   "",
		EnvVars: prefixEnvVars("BADGES"),
		Usage:   "Directory badge descriptors are written to ('' disables badges)",
	}
	ArchiveDSN = &cli.StringFlag{
		Name:    "archive-dsn",
		Value:   "",
		EnvVars: prefixEnvVars("ARCHIVE_DSN"),
		Usage:   "Postgres DSN for run archival ('' disables the archive)",
	}
	Adapter = &cli.StringFlag{
		Name:     "adapter",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("ADAPTER"),
		Usage:    "Adapter to target: an image reference, or 'direct' for the built-in engine",
	}
	ServeConfig = &cli.StringFlag{
		Name:    "config",
		Value:   "serve.toml",
		EnvVars: prefixEnvVars("SERVE_CONFIG"),
		Usage:   "Path to the serve config file",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Usage:   "Log level: debug, info, warn, error",
	}
	LogFormat = &cli.StringFlag{
		Name:    "log-format",
		Value:   "text",
		EnvVars: prefixEnvVars("LOG_FORMAT"),
		Usage:   "Log format: text or json",
	}
)

var logFlags = []cli.Flag{
	LogLevel,
	LogFormat,
}

var RunFlags = append([]cli.Flag{
	AdapterConfig,
	CorpusFile,
	Dialect,
	RunInterval,
	FailFast,
	MaxConcurrent,
	CaseTimeout,
	StartTimeout,
	ContainerRuntime,
	ReportFile,
	BadgeDir,
	ArchiveDSN,
}, logFlags...)

var ValidateFlags = append([]cli.Flag{
	CorpusFile,
}, logFlags...)

var InfoFlags = append([]cli.Flag{
	Adapter,
	ContainerRuntime,
	StartTimeout,
}, logFlags...)

var SmokeFlags = append([]cli.Flag{
	Adapter,
	ContainerRuntime,
	CaseTimeout,
	StartTimeout,
}, logFlags...)

var BadgesFlags = append([]cli.Flag{
	ReportFile,
	BadgeDir,
}, logFlags...)

var ServeFlags = append([]cli.Flag{
	ServeConfig,
}, logFlags...)

// CheckRequired verifies that each named flag carries a value, either from
// the command line or through its environment variable.
func CheckRequired(ctx *cli.Context, required ...cli.Flag) error {
	for _, f := range required {
		name := f.Names()[0]
		if ctx.String(name) == "" {
			return fmt.Errorf("flag %s is required", name)
		}
	}
	return nil
}
