// Package archive persists run history to Postgres. Report files remain the
// source of truth for full verdicts; the archive keeps enough per run to
// answer history queries: identity, counts per adapter, and stable case
// digests.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conformance-tools/crosscheck/report"
)

// Run is one archived harness run.
type Run struct {
	ID             string
	Started        time.Time
	HarnessVersion string
	Dialect        string
	Status         string
	DidFailFast    bool
}

// AdapterCount is one adapter's totals within a run.
type AdapterCount struct {
	RunID string
	Image string
	Count report.Count
}

// CaseRecord identifies one dispatched case within a run. Digest is the
// canonical-JSON digest of the case, stable across corpus reorderings.
type CaseRecord struct {
	RunID       string
	Seq         int
	Digest      string
	Description string
}

type Connection interface {
	EnsureSchema(ctx context.Context) error
	LastRun(ctx context.Context) (*Run, error)

	Begin() (Transactor, error)
	Close() error
}

type Transactor interface {
	InsertRun(ctx context.Context, r Run) error
	InsertAdapterCount(ctx context.Context, c AdapterCount) error
	InsertCaseRecord(ctx context.Context, c CaseRecord) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context)
}

type PGXDB struct {
	conn *pgxpool.Pool
}

func NewDB(ctx context.Context, uri string) (*PGXDB, error) {
	conn, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}

	return &PGXDB{conn: conn}, nil
}

func (p *PGXDB) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started TIMESTAMPTZ NOT NULL,
	harness_version TEXT NOT NULL,
	dialect TEXT NOT NULL,
	status TEXT NOT NULL,
	did_fail_fast BOOLEAN NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS run_counts (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	image TEXT NOT NULL,
	total_cases INTEGER NOT NULL,
	errored_cases INTEGER NOT NULL,
	total_tests INTEGER NOT NULL,
	failed_tests INTEGER NOT NULL,
	errored_tests INTEGER NOT NULL,
	skipped_tests INTEGER NOT NULL,
	PRIMARY KEY (run_id, image)
)`,
		`CREATE TABLE IF NOT EXISTS run_cases (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	digest TEXT NOT NULL,
	description TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
)`,
	}

	for i, sql := range statements {
		if _, err := p.conn.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to ensure schema: statement %d: %w", i, err)
		}
	}
	return nil
}

// LastRun returns the most recently started run, or nil when the archive is
// empty.
func (p *PGXDB) LastRun(ctx context.Context) (*Run, error) {
	sql := `
SELECT id, started, harness_version, dialect, status, did_fail_fast
FROM runs ORDER BY started DESC LIMIT 1
`

	row := p.conn.QueryRow(ctx, sql)
	var r Run
	if err := row.Scan(&r.ID, &r.Started, &r.HarnessVersion, &r.Dialect, &r.Status, &r.DidFailFast); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get last run: %w", err)
	}
	return &r, nil
}

func (p *PGXDB) Begin() (Transactor, error) {
	tx, err := p.conn.Begin(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &PGXTransactor{tx: tx}, nil
}

func (p *PGXDB) Close() error {
	p.conn.Close()
	return nil
}

// PGXTransactor serializes access to an open transaction so insert calls can
// fan out across goroutines.
type PGXTransactor struct {
	tx  pgx.Tx
	mtx sync.Mutex
}

func (p *PGXTransactor) InsertRun(ctx context.Context, r Run) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	sql := `
INSERT INTO runs (id, started, harness_version, dialect, status, did_fail_fast)
VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT DO NOTHING
`

	if _, err := p.tx.Exec(ctx,
		sql,
		r.ID,
		r.Started,
		r.HarnessVersion,
		r.Dialect,
		r.Status,
		r.DidFailFast,
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (p *PGXTransactor) InsertAdapterCount(ctx context.Context, c AdapterCount) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	sql := `
INSERT INTO run_counts (run_id, image, total_cases, errored_cases, total_tests, failed_tests, errored_tests, skipped_tests)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT DO NOTHING
`

	if _, err := p.tx.Exec(ctx,
		sql,
		c.RunID,
		c.Image,
		c.Count.TotalCases,
		c.Count.ErroredCases,
		c.Count.TotalTests,
		c.Count.FailedTests,
		c.Count.ErroredTests,
		c.Count.SkippedTests,
	); err != nil {
		return fmt.Errorf("failed to insert adapter count: %w", err)
	}
	return nil
}

func (p *PGXTransactor) InsertCaseRecord(ctx context.Context, c CaseRecord) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	sql := `
INSERT INTO run_cases (run_id, seq, digest, description)
VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING
`

	if _, err := p.tx.Exec(ctx,
		sql,
		c.RunID,
		c.Seq,
		c.Digest,
		c.Description,
	); err != nil {
		return fmt.Errorf("failed to insert case record: %w", err)
	}
	return nil
}

func (p *PGXTransactor) Commit(ctx context.Context) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.tx.Commit(ctx)
}

func (p *PGXTransactor) Rollback(ctx context.Context) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if err := p.tx.Rollback(context.Background()); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Error("error rolling back transaction", "err", err)
	}
}
