// Package report aggregates adapter verdicts into per-adapter counts,
// cross-adapter comparisons, and derived artifacts (badges, run reports).
package report

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/conformance-tools/crosscheck/corpus"
	"github.com/conformance-tools/crosscheck/protocol"
)

// Outcome classifies a single test verdict.
type Outcome string

const (
	OutcomeMatched    Outcome = "matched"
	OutcomeMismatched Outcome = "mismatched"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeErrored    Outcome = "errored"
)

// Verdict is one adapter's classified verdict for one test. Valid carries
// the adapter's boolean when it produced one; Detail carries the skip or
// error reason otherwise.
type Verdict struct {
	Outcome Outcome `json:"outcome"`
	Valid   *bool   `json:"valid,omitempty"`
	Detail  string  `json:"detail,omitempty"`
}

// Count tallies one adapter's outcomes over a run. Counters only increase;
// the Summary is the only mutator.
type Count struct {
	TotalCases   int `json:"total_cases"`
	ErroredCases int `json:"errored_cases"`
	TotalTests   int `json:"total_tests"`
	FailedTests  int `json:"failed_tests"`
	ErroredTests int `json:"errored_tests"`
	SkippedTests int `json:"skipped_tests"`
}

// UnsuccessfulTests is the number of tests that did not pass outright.
func (c Count) UnsuccessfulTests() int {
	return c.ErroredTests + c.FailedTests + c.SkippedTests
}

// Status classifies a single adapter's tally: fail when anything failed
// or errored, skip when every test was skipped, pass otherwise.
func (c Count) Status() Status {
	switch {
	case c.FailedTests > 0 || c.ErroredTests > 0 || c.ErroredCases > 0:
		return StatusFail
	case c.TotalTests > 0 && c.SkippedTests == c.TotalTests:
		return StatusSkip
	default:
		return StatusPass
	}
}

func (c *Count) add(other Count) {
	c.TotalCases += other.TotalCases
	c.ErroredCases += other.ErroredCases
	c.TotalTests += other.TotalTests
	c.FailedTests += other.FailedTests
	c.ErroredTests += other.ErroredTests
	c.SkippedTests += other.SkippedTests
}

// Status is the overall classification of a run.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// TestComparison pairs one test with every adapter's verdict for it,
// keyed by adapter image.
type TestComparison struct {
	Test     corpus.Test        `json:"test"`
	Verdicts map[string]Verdict `json:"verdicts"`
}

// CaseResult is the cross-adapter comparison for a single case. Errors
// records adapters whose whole run request failed, keyed by image.
type CaseResult struct {
	Seq     int               `json:"seq"`
	Case    corpus.TestCase   `json:"case"`
	Results []TestComparison  `json:"results"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// FlatResult is one row of the streaming view over the combined results.
type FlatResult struct {
	Seq         int
	Description string
	Case        corpus.TestCase
	Results     []TestComparison
}

// InconsistentCountsError reports adapters that disagree on how many cases
// or tests the run contained. Every adapter is offered the same corpus, so
// totals must match exactly; a divergence means a broken adapter or a
// harness bug, and is never averaged away.
type InconsistentCountsError struct {
	Unit   string
	Totals map[string]int
}

func (e *InconsistentCountsError) Error() string {
	images := slices.Sorted(maps.Keys(e.Totals))
	parts := make([]string, 0, len(images))
	for _, image := range images {
		parts = append(parts, fmt.Sprintf("%s=%d", image, e.Totals[image]))
	}
	return fmt.Sprintf("inconsistent %s totals across adapters: %s", e.Unit, strings.Join(parts, ", "))
}

// Summary aggregates results across every adapter in a run. It is the
// single shared-mutation point: one lock serializes writes to the combined
// result map, so adapter goroutines may report concurrently. Reporting for
// an unregistered adapter or case is a programmer error and panics.
type Summary struct {
	mu              sync.Mutex
	order           []string
	implementations map[string]protocol.Implementation
	counts          map[string]*Count
	combined        map[int]*caseEntry
	didFailFast     bool
}

type caseEntry struct {
	testCase corpus.TestCase
	results  []TestComparison
	errors   map[string]string
}

// New builds a Summary with one zeroed Count per implementation, keyed by
// image, in the given order. Implementations must carry unique, non-empty
// images.
func New(implementations []protocol.Implementation) *Summary {
	s := &Summary{
		implementations: make(map[string]protocol.Implementation, len(implementations)),
		counts:          make(map[string]*Count, len(implementations)),
		combined:        make(map[int]*caseEntry),
	}
	for _, impl := range implementations {
		if impl.Image == "" {
			panic("report: implementation without an image")
		}
		if _, dup := s.counts[impl.Image]; dup {
			panic(fmt.Sprintf("report: duplicate adapter image %q", impl.Image))
		}
		s.order = append(s.order, impl.Image)
		s.implementations[impl.Image] = impl
		s.counts[impl.Image] = &Count{}
	}
	return s
}

// Images returns the registered adapter images in registration order.
func (s *Summary) Images() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Implementation returns the registered identity for an image.
func (s *Summary) Implementation(image string) (protocol.Implementation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	impl, ok := s.implementations[image]
	return impl, ok
}

// RegisterCase registers a case under its sequence number before any
// adapter results for it arrive, with one empty verdict slot per test.
// Registering the same seq again overwrites the slot, so callers must
// issue unique sequence numbers per run.
func (s *Summary) RegisterCase(seq int, tc corpus.TestCase) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]TestComparison, len(tc.Tests))
	for i, test := range tc.Tests {
		results[i] = TestComparison{Test: test, Verdicts: make(map[string]Verdict)}
	}
	s.combined[seq] = &caseEntry{
		testCase: tc,
		results:  results,
		errors:   make(map[string]string),
	}
}

// RecordResult ingests a completed run response for one adapter. Each test
// verdict is classified against the expected valid flag: adapter-level
// skips and errors count as such, agreement counts as matched, and
// disagreement as mismatched (a failed test). Tests without an expected
// flag always match. Returns the count delta applied.
func (s *Summary) RecordResult(image string, seq int, results []protocol.TestResult) Count {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.count(image)
	entry := s.entry(seq)
	if len(results) != len(entry.results) {
		panic(fmt.Sprintf("report: %d results for case %d with %d tests", len(results), seq, len(entry.results)))
	}

	var delta Count
	delta.TotalCases = 1
	for i, result := range results {
		slot := &entry.results[i]
		switch {
		case result.Skipped:
			delta.SkippedTests++
			slot.Verdicts[image] = Verdict{Outcome: OutcomeSkipped, Detail: result.Reason()}
		case result.Errored:
			delta.ErroredTests++
			slot.Verdicts[image] = Verdict{Outcome: OutcomeErrored, Detail: result.Reason()}
		default:
			outcome := OutcomeMatched
			if expected := slot.Test.Valid; expected != nil && *expected != result.Valid {
				delta.FailedTests++
				outcome = OutcomeMismatched
			}
			valid := result.Valid
			slot.Verdicts[image] = Verdict{Outcome: outcome, Valid: &valid}
		}
		delta.TotalTests++
	}
	count.add(delta)
	return delta
}

// RecordCaseError ingests a whole-case failure for one adapter: the case
// and all of its tests count as errored, and no per-test verdict slots are
// touched. Returns the count delta applied.
func (s *Summary) RecordCaseError(image string, seq int, errored protocol.CaseErrored) Count {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.count(image)
	entry := s.entry(seq)

	delta := Count{
		TotalCases:   1,
		ErroredCases: 1,
		TotalTests:   len(entry.results),
		ErroredTests: len(entry.results),
	}
	entry.errors[image] = errored.Reason()
	count.add(delta)
	return delta
}

// RecordCaseSkip ingests an adapter's declaration that it cannot run the
// case at all. Every test counts as skipped and records the reason in its
// verdict slot. Returns the count delta applied.
func (s *Summary) RecordCaseSkip(image string, seq int, skipped protocol.CaseSkipped) Count {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.count(image)
	entry := s.entry(seq)

	reason := skipped.Reason()
	var delta Count
	delta.TotalCases = 1
	for i := range entry.results {
		delta.SkippedTests++
		delta.TotalTests++
		entry.results[i].Verdicts[image] = Verdict{Outcome: OutcomeSkipped, Detail: reason}
	}
	count.add(delta)
	return delta
}

// RecordFailFast records whether the run stopped dispatching early. It is
// informational for report consumers and does not stop ingestion.
func (s *Summary) RecordFailFast(flag bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.didFailFast = flag
}

// DidFailFast reports whether the run stopped dispatching early.
func (s *Summary) DidFailFast() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.didFailFast
}

// TotalCases returns the case total every adapter agreed on, or an
// InconsistentCountsError naming each adapter's differing count.
func (s *Summary) TotalCases() (int, error) {
	return s.commonTotal("case", func(c *Count) int { return c.TotalCases })
}

// TotalTests returns the test total every adapter agreed on, or an
// InconsistentCountsError naming each adapter's differing count.
func (s *Summary) TotalTests() (int, error) {
	return s.commonTotal("test", func(c *Count) int { return c.TotalTests })
}

func (s *Summary) commonTotal(unit string, get func(*Count) int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var want int
	for i, image := range s.order {
		got := get(s.counts[image])
		if i == 0 {
			want = got
			continue
		}
		if got != want {
			totals := make(map[string]int, len(s.order))
			for _, image := range s.order {
				totals[image] = get(s.counts[image])
			}
			return 0, &InconsistentCountsError{Unit: unit, Totals: totals}
		}
	}
	return want, nil
}

// ErroredCases sums whole-case errors across adapters.
func (s *Summary) ErroredCases() int {
	return s.sum(func(c *Count) int { return c.ErroredCases })
}

// FailedTests sums mismatched verdicts across adapters.
func (s *Summary) FailedTests() int {
	return s.sum(func(c *Count) int { return c.FailedTests })
}

// ErroredTests sums errored tests across adapters.
func (s *Summary) ErroredTests() int {
	return s.sum(func(c *Count) int { return c.ErroredTests })
}

// SkippedTests sums skipped tests across adapters.
func (s *Summary) SkippedTests() int {
	return s.sum(func(c *Count) int { return c.SkippedTests })
}

func (s *Summary) sum(get func(*Count) int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int
	for _, count := range s.counts {
		total += get(count)
	}
	return total
}

// Counts returns a snapshot of every adapter's Count, keyed by image.
func (s *Summary) Counts() map[string]Count {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]Count, len(s.counts))
	for image, count := range s.counts {
		counts[image] = *count
	}
	return counts
}

// Status classifies the run: fail when anything failed or errored, skip
// when every test everywhere was skipped, pass otherwise.
func (s *Summary) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total, skipped int
	for _, c := range s.counts {
		if c.FailedTests > 0 || c.ErroredTests > 0 || c.ErroredCases > 0 {
			return StatusFail
		}
		total += c.TotalTests
		skipped += c.SkippedTests
	}
	if total > 0 && skipped == total {
		return StatusSkip
	}
	return StatusPass
}

// CaseResults returns every case with its per-test, per-adapter verdicts,
// in ascending sequence order.
func (s *Summary) CaseResults() []CaseResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// FlatResults yields cases in ascending numeric sequence order regardless
// of the order results arrived. Each call iterates over a fresh snapshot,
// so the sequence is restartable and unaffected by later ingestion.
func (s *Summary) FlatResults() iter.Seq[FlatResult] {
	s.mu.Lock()
	cases := s.snapshot()
	s.mu.Unlock()

	return func(yield func(FlatResult) bool) {
		for _, c := range cases {
			row := FlatResult{
				Seq:         c.Seq,
				Description: c.Case.Description,
				Case:        c.Case,
				Results:     c.Results,
			}
			if !yield(row) {
				return
			}
		}
	}
}

// snapshot copies the combined results sorted by seq. Callers must hold
// s.mu.
func (s *Summary) snapshot() []CaseResult {
	seqs := slices.Sorted(maps.Keys(s.combined))
	cases := make([]CaseResult, 0, len(seqs))
	for _, seq := range seqs {
		entry := s.combined[seq]
		results := make([]TestComparison, len(entry.results))
		for i, comparison := range entry.results {
			results[i] = TestComparison{
				Test:     comparison.Test,
				Verdicts: maps.Clone(comparison.Verdicts),
			}
		}
		var caseErrors map[string]string
		if len(entry.errors) > 0 {
			caseErrors = maps.Clone(entry.errors)
		}
		cases = append(cases, CaseResult{
			Seq:     seq,
			Case:    entry.testCase,
			Results: results,
			Errors:  caseErrors,
		})
	}
	return cases
}

// GenerateBadges writes one badge descriptor per adapter that declares
// support for the dialect, under dir/<language>-<name>/<shortname>.json.
func (s *Summary) GenerateBadges(dir, dialect string) error {
	s.mu.Lock()
	order := slices.Clone(s.order)
	counts := make(map[string]Count, len(s.counts))
	for image, count := range s.counts {
		counts[image] = *count
	}
	implementations := maps.Clone(s.implementations)
	s.mu.Unlock()

	for _, image := range order {
		impl := implementations[image]
		if !impl.Supports(dialect) {
			continue
		}
		if err := writeBadge(dir, impl, dialect, badgeFor(counts[image], dialect)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Summary) count(image string) *Count {
	count, ok := s.counts[image]
	if !ok {
		panic(fmt.Sprintf("report: unregistered adapter %q", image))
	}
	return count
}

func (s *Summary) entry(seq int) *caseEntry {
	entry, ok := s.combined[seq]
	if !ok {
		panic(fmt.Sprintf("report: unregistered case seq %d", seq))
	}
	return entry
}
