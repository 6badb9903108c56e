// Package runner drives every configured adapter through the wire
// protocol over a shared corpus and aggregates their verdicts.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/conformance-tools/crosscheck/connect"
	"github.com/conformance-tools/crosscheck/corpus"
	"github.com/conformance-tools/crosscheck/metrics"
	"github.com/conformance-tools/crosscheck/protocol"
	"github.com/conformance-tools/crosscheck/registry"
	"github.com/conformance-tools/crosscheck/report"
)

const (
	defaultDialect      = "https://json-schema.org/draft/2020-12/schema"
	defaultCaseTimeout  = 10 * time.Second
	defaultStartTimeout = time.Minute
)

// DialFunc opens a connection to an adapter. Tests substitute fakes.
type DialFunc func(ctx context.Context, adapter registry.Adapter, opts connect.Options) (connect.Connection, error)

// Result captures the complete harness run results.
type Result struct {
	RunID    string
	Info     report.RunInfo
	Summary  *report.Summary
	Status   report.Status
	Duration time.Duration
}

// String returns a single-line summary of the run.
func (r *Result) String() string {
	totalCases, _ := r.Summary.TotalCases()
	totalTests, _ := r.Summary.TotalTests()
	return fmt.Sprintf("Run %s: %d adapters, %d cases, %d tests each, %d failed, %d errored, %d skipped, status %s (%.1fs)",
		r.RunID,
		len(r.Summary.Images()),
		totalCases,
		totalTests,
		r.Summary.FailedTests(),
		r.Summary.ErroredTests(),
		r.Summary.SkippedTests(),
		r.Status,
		r.Duration.Seconds(),
	)
}

// HarnessRunner defines the interface for running the corpus against
// every configured adapter.
type HarnessRunner interface {
	RunCorpus(ctx context.Context) (*Result, error)
}

// runner struct implements HarnessRunner interface
type runner struct {
	adapters         []registry.Adapter
	cases            []corpus.TestCase
	dialect          string
	log              *slog.Logger
	version          string
	containerRuntime string
	caseTimeout      time.Duration
	startTimeout     time.Duration
	failFast         bool
	maxConcurrent    int
	dial             DialFunc
	runID            string
	tracer           trace.Tracer
}

// Config holds configuration for creating a new runner.
type Config struct {
	Registry *registry.Registry
	Corpus   []corpus.TestCase
	Dialect  string
	Log      *slog.Logger

	// HarnessVersion is stamped into reports and handed to the built-in
	// engine.
	HarnessVersion string
	// ContainerRuntime is the docker-compatible binary for image adapters.
	ContainerRuntime string
	// CaseTimeout bounds a single run request per adapter.
	CaseTimeout time.Duration
	// StartTimeout bounds connecting and the handshake, which may include
	// an image pull.
	StartTimeout time.Duration
	// FailFast stops dispatching new cases once any failure is observed.
	FailFast bool
	// MaxConcurrent caps how many adapters are driven at once. Zero means
	// all of them.
	MaxConcurrent int
	// Dial overrides how adapters are reached.
	Dial DialFunc
}

// NewHarnessRunner creates a new runner instance.
func NewHarnessRunner(cfg Config) (HarnessRunner, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if len(cfg.Corpus) == 0 {
		return nil, fmt.Errorf("no test cases found")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Dialect == "" {
		cfg.Dialect = defaultDialect
	}
	if cfg.CaseTimeout <= 0 {
		cfg.CaseTimeout = defaultCaseTimeout
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	adapters := cfg.Registry.Adapters()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = len(adapters)
	}
	if cfg.Dial == nil {
		cfg.Dial = connect.Dial
	}

	cfg.Log.Debug("NewHarnessRunner()",
		"dialect", cfg.Dialect,
		"adapters", len(adapters),
		"cases", len(cfg.Corpus),
		"failFast", cfg.FailFast)

	return &runner{
		adapters:         adapters,
		cases:            cfg.Corpus,
		dialect:          cfg.Dialect,
		log:              cfg.Log,
		version:          cfg.HarnessVersion,
		containerRuntime: cfg.ContainerRuntime,
		caseTimeout:      cfg.CaseTimeout,
		startTimeout:     cfg.StartTimeout,
		failFast:         cfg.FailFast,
		maxConcurrent:    cfg.MaxConcurrent,
		dial:             cfg.Dial,
		tracer:           otel.Tracer("harness runner"),
	}, nil
}

// adapterSession is one live adapter for the duration of a run.
type adapterSession struct {
	adapter registry.Adapter
	image   string
	conn    connect.Connection
	session *protocol.Session
	impl    protocol.Implementation
	timeout time.Duration
}

// RunCorpus implements the HarnessRunner interface. Cases are dispatched
// in sequence order, each case fanning out to every adapter, so that a
// fail-fast stop still leaves all adapters having seen the same cases.
func (r *runner) RunCorpus(ctx context.Context) (*Result, error) {
	r.runID = uuid.New().String()
	defer func() { r.runID = "" }()
	start := time.Now()
	r.log.Debug("running corpus", "run_id", r.runID, "dialect", r.dialect)

	ctx, span := r.tracer.Start(ctx, "corpus run")
	defer span.End()

	sessions := r.openSessions(ctx)
	if len(sessions) == 0 {
		return nil, fmt.Errorf("no adapters started successfully")
	}
	defer func() {
		for _, as := range sessions {
			r.closeSession(as)
		}
	}()

	implementations := make([]protocol.Implementation, len(sessions))
	for i, as := range sessions {
		implementations[i] = as.impl
	}
	info := report.NewRunInfo(r.version, r.dialect, implementations)
	summary := report.New(implementations)

	var stoppedEarly bool
	for i, tc := range r.cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seq := i + 1
		summary.RegisterCase(seq, tc)

		_, caseSpan := r.tracer.Start(ctx, fmt.Sprintf("case %d", seq))
		p := pool.New().WithMaxGoroutines(r.maxConcurrent)
		for _, as := range sessions {
			p.Go(func() {
				r.runCase(as, summary, seq, tc)
			})
		}
		p.Wait()
		caseSpan.End()

		if r.failFast && summary.Status() == report.StatusFail {
			r.log.Warn("failure observed, stopping early", "run_id", r.runID, "seq", seq)
			stoppedEarly = true
			break
		}
	}
	summary.RecordFailFast(stoppedEarly)

	// Every adapter was offered every dispatched case exactly once, so a
	// total mismatch here is a harness bug worth dying over.
	if _, err := summary.TotalCases(); err != nil {
		return nil, err
	}
	if _, err := summary.TotalTests(); err != nil {
		return nil, err
	}

	return &Result{
		RunID:    r.runID,
		Info:     info,
		Summary:  summary,
		Status:   summary.Status(),
		Duration: time.Since(start),
	}, nil
}

// openSessions connects and handshakes every adapter concurrently.
// Adapters that fail to start or do not support the dialect are excluded
// with a warning rather than failing the run.
func (r *runner) openSessions(ctx context.Context) []*adapterSession {
	slots := make([]*adapterSession, len(r.adapters))
	p := pool.New().WithMaxGoroutines(len(r.adapters))
	for i, adapter := range r.adapters {
		p.Go(func() {
			as, err := r.openSession(ctx, adapter)
			if err != nil {
				r.log.Warn("excluding adapter", "adapter", adapter.Key(), "error", err)
				metrics.RecordErrorDetails("adapter_start", err)
				return
			}
			slots[i] = as
		})
	}
	p.Wait()

	sessions := make([]*adapterSession, 0, len(slots))
	for _, as := range slots {
		if as != nil {
			sessions = append(sessions, as)
		}
	}
	return sessions
}

func (r *runner) openSession(ctx context.Context, adapter registry.Adapter) (*adapterSession, error) {
	conn, err := r.dial(ctx, adapter, connect.Options{
		ContainerRuntime: r.containerRuntime,
		HarnessVersion:   r.version,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}

	// The watchdog covers the whole handshake, image pull included.
	watchdog := time.AfterFunc(r.startTimeout, func() { conn.Close() })
	defer watchdog.Stop()

	session := protocol.NewSession(conn)
	impl, err := session.Start()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("starting: %w", err)
	}
	impl.Image = adapter.Key()

	if !impl.Supports(r.dialect) {
		session.Stop()
		conn.Close()
		return nil, fmt.Errorf("does not support dialect %s", r.dialect)
	}
	ok, err := session.Dialect(r.dialect)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting dialect: %w", err)
	}
	if !ok {
		r.log.Warn("adapter did not acknowledge dialect", "adapter", impl.Image, "dialect", r.dialect)
	}

	r.log.Info("adapter started",
		"adapter", impl.Image,
		"name", impl.Name,
		"language", impl.Language,
		"version", impl.Version)

	return &adapterSession{
		adapter: adapter,
		image:   impl.Image,
		conn:    conn,
		session: session,
		impl:    impl,
		timeout: adapter.TimeoutOr(r.caseTimeout),
	}, nil
}

// runCase sends one case to one adapter and records whatever comes back.
// A session that broke earlier reports an uncaught error immediately, so
// every adapter accounts for every dispatched case.
func (r *runner) runCase(as *adapterSession, summary *report.Summary, seq int, tc corpus.TestCase) {
	watchdog := time.AfterFunc(as.timeout, func() { as.conn.Close() })
	resp, err := as.session.Run(seq, tc)
	watchdog.Stop()

	if err != nil {
		delta := summary.RecordCaseError(as.image, seq, protocol.Uncaught(seq, err.Error()))
		metrics.RecordVerdicts(as.image, r.runID, delta)
		metrics.RecordErrorDetails("run_case", err)
		r.log.Error("case errored", "run_id", r.runID, "adapter", as.image, "seq", seq, "error", err)
		return
	}

	var delta report.Count
	switch resp := resp.(type) {
	case protocol.CaseResult:
		delta = summary.RecordResult(as.image, seq, resp.Results)
	case protocol.CaseErrored:
		delta = summary.RecordCaseError(as.image, seq, resp)
		r.log.Warn("adapter reported a case error", "adapter", as.image, "seq", seq, "reason", resp.Reason())
	case protocol.CaseSkipped:
		delta = summary.RecordCaseSkip(as.image, seq, resp)
	}
	metrics.RecordVerdicts(as.image, r.runID, delta)
}

func (r *runner) closeSession(as *adapterSession) {
	if err := as.session.Stop(); err != nil {
		r.log.Debug("adapter stop failed", "adapter", as.image, "error", err)
	}
	if err := as.conn.Close(); err != nil {
		r.log.Debug("adapter close failed", "adapter", as.image, "error", err)
	}
	if p, ok := as.conn.(interface{ Stderr() string }); ok {
		if stderr := strings.TrimSpace(p.Stderr()); stderr != "" {
			r.log.Debug("adapter stderr", "adapter", as.image, "stderr", stderr)
		}
	}
}
