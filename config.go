package crosscheck

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/conformance-tools/crosscheck/flags"
)

type Config struct {
	AdapterConfig    string
	CorpusFile       string
	Dialect          string
	RunInterval      time.Duration
	RunOnce          bool
	FailFast         bool
	MaxConcurrent    int
	CaseTimeout      time.Duration
	StartTimeout     time.Duration
	ContainerRuntime string
	ReportFile       string
	BadgeDir         string
	ArchiveDSN       string

	Log *slog.Logger
}

// NewConfig creates a new Config from cli flags. The corpus and adapter
// registry paths are resolved to absolute paths so runs behave the same
// regardless of the working directory.
func NewConfig(ctx *cli.Context, log *slog.Logger, corpusFile string, adapterConfig string) (*Config, error) {
	if err := flags.CheckRequired(ctx, flags.CorpusFile); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if corpusFile == "" {
		return nil, errors.New("corpus file is required")
	}
	if adapterConfig == "" {
		return nil, errors.New("adapter config is required")
	}

	absCorpusFile, err := filepath.Abs(corpusFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for corpus file: %w", err)
	}
	absAdapterConfig, err := filepath.Abs(adapterConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for adapter config: %w", err)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	return &Config{
		AdapterConfig:    absAdapterConfig,
		CorpusFile:       absCorpusFile,
		Dialect:          ctx.String(flags.Dialect.Name),
		RunInterval:      runInterval,
		RunOnce:          runOnce,
		FailFast:         ctx.Bool(flags.FailFast.Name),
		MaxConcurrent:    ctx.Int(flags.MaxConcurrent.Name),
		CaseTimeout:      ctx.Duration(flags.CaseTimeout.Name),
		StartTimeout:     ctx.Duration(flags.StartTimeout.Name),
		ContainerRuntime: ctx.String(flags.ContainerRuntime.Name),
		ReportFile:       ctx.String(flags.ReportFile.Name),
		BadgeDir:         ctx.String(flags.BadgeDir.Name),
		ArchiveDSN:       ctx.String(flags.ArchiveDSN.Name),
		Log:              log,
	}, nil
}
