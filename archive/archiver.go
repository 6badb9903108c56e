package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/pool"

	"github.com/conformance-tools/crosscheck/corpus"
	"github.com/conformance-tools/crosscheck/report"
)

const defaultMaxConcurrent = 4

// Archiver writes finished runs to an archive connection.
type Archiver struct {
	log           *slog.Logger
	conn          Connection
	maxConcurrent int
}

type Config struct {
	Log  *slog.Logger
	Conn Connection

	// MaxConcurrent bounds parallel inserts within one transaction.
	MaxConcurrent int
}

func New(cfg Config) (*Archiver, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("archive connection is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}

	return &Archiver{
		log:           cfg.Log,
		conn:          cfg.Conn,
		maxConcurrent: cfg.MaxConcurrent,
	}, nil
}

// Store archives one run in a single transaction: the run row, one count row
// per adapter, and one digest row per dispatched case.
func (a *Archiver) Store(ctx context.Context, runID string, info report.RunInfo, summary *report.Summary) error {
	counts := summary.Counts()
	cases := summary.CaseResults()

	tx, err := a.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	run := Run{
		ID:             runID,
		Started:        info.Started,
		HarnessVersion: info.HarnessVersion,
		Dialect:        info.Dialect,
		Status:         string(summary.Status()),
		DidFailFast:    summary.DidFailFast(),
	}
	if err := tx.InsertRun(ctx, run); err != nil {
		return err
	}

	p := pool.New().
		WithErrors().
		WithFirstError().
		WithMaxGoroutines(a.maxConcurrent).
		WithContext(ctx).
		WithCancelOnError()

	for image, count := range counts {
		p.Go(func(ctx context.Context) error {
			return tx.InsertAdapterCount(ctx, AdapterCount{RunID: runID, Image: image, Count: count})
		})
	}
	for _, cr := range cases {
		p.Go(func(ctx context.Context) error {
			digest, err := corpus.Digest(cr.Case)
			if err != nil {
				return fmt.Errorf("failed to digest case %d: %w", cr.Seq, err)
			}
			return tx.InsertCaseRecord(ctx, CaseRecord{
				RunID:       runID,
				Seq:         cr.Seq,
				Digest:      digest,
				Description: cr.Case.Description,
			})
		})
	}
	if err := p.Wait(); err != nil {
		return fmt.Errorf("failed to archive run %s: %w", runID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	a.log.Info("archived run", "run_id", runID, "adapters", len(counts), "cases", len(cases))
	return nil
}
