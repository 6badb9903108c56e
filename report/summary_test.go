package report

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conformance-tools/crosscheck/corpus"
	"github.com/conformance-tools/crosscheck/protocol"
)

const dialect2020 = "https://json-schema.org/draft/2020-12/schema"

func boolPtr(b bool) *bool { return &b }

func testImpl(name string, dialects ...string) protocol.Implementation {
	if len(dialects) == 0 {
		dialects = []string{dialect2020}
	}
	return protocol.Implementation{
		Name:     name,
		Language: "go",
		Dialects: dialects,
		Image:    "example/" + name,
	}
}

func caseWithTests(desc string, expected ...*bool) corpus.TestCase {
	tc := corpus.TestCase{
		Description: desc,
		Schema:      json.RawMessage(`{}`),
	}
	for i, want := range expected {
		tc.Tests = append(tc.Tests, corpus.Test{
			Description: fmt.Sprintf("test %d", i),
			Instance:    json.RawMessage(`{}`),
			Valid:       want,
		})
	}
	return tc
}

func validResults(verdicts ...bool) []protocol.TestResult {
	results := make([]protocol.TestResult, len(verdicts))
	for i, v := range verdicts {
		results[i] = protocol.TestResult{Valid: v}
	}
	return results
}

func TestRecordResultClassification(t *testing.T) {
	tests := []struct {
		name        string
		expected    *bool
		result      protocol.TestResult
		wantDelta   Count
		wantOutcome Outcome
		wantDetail  string
	}{
		{
			name:        "agreement matches",
			expected:    boolPtr(true),
			result:      protocol.TestResult{Valid: true},
			wantDelta:   Count{TotalCases: 1, TotalTests: 1},
			wantOutcome: OutcomeMatched,
		},
		{
			name:        "disagreement fails",
			expected:    boolPtr(true),
			result:      protocol.TestResult{Valid: false},
			wantDelta:   Count{TotalCases: 1, TotalTests: 1, FailedTests: 1},
			wantOutcome: OutcomeMismatched,
		},
		{
			name:        "no expectation always matches",
			expected:    nil,
			result:      protocol.TestResult{Valid: false},
			wantDelta:   Count{TotalCases: 1, TotalTests: 1},
			wantOutcome: OutcomeMatched,
		},
		{
			name:        "skip with message",
			expected:    boolPtr(true),
			result:      protocol.TestResult{Skipped: true, Message: "not supported"},
			wantDelta:   Count{TotalCases: 1, TotalTests: 1, SkippedTests: 1},
			wantOutcome: OutcomeSkipped,
			wantDetail:  "not supported",
		},
		{
			name:        "skip with issue url",
			expected:    boolPtr(true),
			result:      protocol.TestResult{Skipped: true, IssueURL: "https://example.com/42"},
			wantDelta:   Count{TotalCases: 1, TotalTests: 1, SkippedTests: 1},
			wantOutcome: OutcomeSkipped,
			wantDetail:  "https://example.com/42",
		},
		{
			name:        "error with context message",
			expected:    boolPtr(false),
			result:      protocol.TestResult{Errored: true, Context: map[string]any{"message": "stack overflow"}},
			wantDelta:   Count{TotalCases: 1, TotalTests: 1, ErroredTests: 1},
			wantOutcome: OutcomeErrored,
			wantDetail:  "stack overflow",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New([]protocol.Implementation{testImpl("impl")})
			s.RegisterCase(1, caseWithTests("case", tt.expected))

			delta := s.RecordResult("example/impl", 1, []protocol.TestResult{tt.result})
			assert.Equal(t, tt.wantDelta, delta)
			assert.Equal(t, tt.wantDelta, s.Counts()["example/impl"])

			cases := s.CaseResults()
			require.Len(t, cases, 1)
			require.Len(t, cases[0].Results, 1)
			verdict, ok := cases[0].Results[0].Verdicts["example/impl"]
			require.True(t, ok)
			assert.Equal(t, tt.wantOutcome, verdict.Outcome)
			assert.Equal(t, tt.wantDetail, verdict.Detail)
			if tt.wantOutcome == OutcomeMatched || tt.wantOutcome == OutcomeMismatched {
				require.NotNil(t, verdict.Valid)
				assert.Equal(t, tt.result.Valid, *verdict.Valid)
			} else {
				assert.Nil(t, verdict.Valid)
			}
		})
	}
}

func TestTwoAdaptersSameCorpus(t *testing.T) {
	s := New([]protocol.Implementation{testImpl("alpha"), testImpl("beta")})
	s.RegisterCase(1, caseWithTests("integers", boolPtr(true), boolPtr(false)))

	s.RecordResult("example/alpha", 1, validResults(true, false))
	s.RecordResult("example/beta", 1, validResults(true, true))

	totalCases, err := s.TotalCases()
	require.NoError(t, err)
	assert.Equal(t, 1, totalCases)

	totalTests, err := s.TotalTests()
	require.NoError(t, err)
	assert.Equal(t, 2, totalTests)

	counts := s.Counts()
	assert.Equal(t, 0, counts["example/alpha"].FailedTests)
	assert.Equal(t, 1, counts["example/beta"].FailedTests)
	assert.Equal(t, 1, s.FailedTests())
	assert.Equal(t, StatusFail, s.Status())

	cases := s.CaseResults()
	require.Len(t, cases, 1)
	second := cases[0].Results[1].Verdicts
	assert.Equal(t, OutcomeMatched, second["example/alpha"].Outcome)
	assert.Equal(t, OutcomeMismatched, second["example/beta"].Outcome)
}

func TestCaseErrorDoesNotLeakAcrossAdapters(t *testing.T) {
	s := New([]protocol.Implementation{testImpl("alpha"), testImpl("beta")})
	s.RegisterCase(7, caseWithTests("recursion", boolPtr(true), boolPtr(true)))

	s.RecordResult("example/alpha", 7, validResults(true, true))
	delta := s.RecordCaseError("example/beta", 7, protocol.CaseErrored{Seq: 7, Caught: true})

	assert.Equal(t, Count{TotalCases: 1, ErroredCases: 1, TotalTests: 2, ErroredTests: 2}, delta)
	counts := s.Counts()
	assert.Equal(t, Count{TotalCases: 1, TotalTests: 2}, counts["example/alpha"])
	assert.Equal(t, delta, counts["example/beta"])
	assert.Equal(t, 1, s.ErroredCases())
	assert.Equal(t, 2, s.ErroredTests())

	totalTests, err := s.TotalTests()
	require.NoError(t, err)
	assert.Equal(t, 2, totalTests)

	cases := s.CaseResults()
	require.Len(t, cases, 1)
	assert.Equal(t, map[string]string{"example/beta": "Encountered an error."}, cases[0].Errors)
	for _, comparison := range cases[0].Results {
		assert.NotContains(t, comparison.Verdicts, "example/beta")
		assert.Contains(t, comparison.Verdicts, "example/alpha")
	}
}

func TestCaseSkipKeepsTotalsAligned(t *testing.T) {
	s := New([]protocol.Implementation{testImpl("alpha"), testImpl("beta")})
	s.RegisterCase(1, caseWithTests("formats", boolPtr(true), boolPtr(false)))

	s.RecordResult("example/alpha", 1, validResults(true, false))
	delta := s.RecordCaseSkip("example/beta", 1, protocol.CaseSkipped{Seq: 1, Message: "no format support"})

	assert.Equal(t, Count{TotalCases: 1, TotalTests: 2, SkippedTests: 2}, delta)

	totalTests, err := s.TotalTests()
	require.NoError(t, err)
	assert.Equal(t, 2, totalTests)
	assert.Equal(t, 2, s.SkippedTests())
	assert.Equal(t, StatusPass, s.Status())

	cases := s.CaseResults()
	require.Len(t, cases, 1)
	for _, comparison := range cases[0].Results {
		verdict := comparison.Verdicts["example/beta"]
		assert.Equal(t, OutcomeSkipped, verdict.Outcome)
		assert.Equal(t, "no format support", verdict.Detail)
	}
}

func TestInconsistentCounts(t *testing.T) {
	s := New([]protocol.Implementation{testImpl("alpha"), testImpl("beta")})
	s.RegisterCase(1, caseWithTests("one", boolPtr(true)))
	s.RegisterCase(2, caseWithTests("two", boolPtr(true)))

	s.RecordResult("example/alpha", 1, validResults(true))
	s.RecordResult("example/alpha", 2, validResults(true))
	s.RecordResult("example/beta", 1, validResults(true))

	_, err := s.TotalCases()
	var inconsistent *InconsistentCountsError
	require.ErrorAs(t, err, &inconsistent)
	assert.Equal(t, "case", inconsistent.Unit)
	assert.Equal(t, map[string]int{"example/alpha": 2, "example/beta": 1}, inconsistent.Totals)
	assert.Contains(t, err.Error(), "example/alpha=2")
	assert.Contains(t, err.Error(), "example/beta=1")

	_, err = s.TotalTests()
	require.ErrorAs(t, err, &inconsistent)
	assert.Equal(t, "test", inconsistent.Unit)
}

func TestFlatResultsOrderedBySeq(t *testing.T) {
	s := New([]protocol.Implementation{testImpl("alpha")})
	for _, seq := range []int{3, 1, 2} {
		s.RegisterCase(seq, caseWithTests(fmt.Sprintf("case %d", seq), boolPtr(true)))
		s.RecordResult("example/alpha", seq, validResults(true))
	}

	var seqs []int
	for row := range s.FlatResults() {
		seqs = append(seqs, row.Seq)
	}
	assert.Equal(t, []int{1, 2, 3}, seqs)

	// The sequence is restartable and supports early exit.
	rows := s.FlatResults()
	for row := range rows {
		assert.Equal(t, 1, row.Seq)
		break
	}
	seqs = seqs[:0]
	for row := range rows {
		seqs = append(seqs, row.Seq)
	}
	assert.Equal(t, []int{1, 2, 3}, seqs)
}

func TestFlatResultsSnapshotIgnoresLaterIngestion(t *testing.T) {
	s := New([]protocol.Implementation{testImpl("alpha")})
	s.RegisterCase(1, caseWithTests("first", boolPtr(true)))
	s.RecordResult("example/alpha", 1, validResults(true))

	rows := s.FlatResults()

	s.RegisterCase(2, caseWithTests("second", boolPtr(true)))
	s.RecordResult("example/alpha", 2, validResults(true))

	var count int
	for range rows {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestSummaryStatus(t *testing.T) {
	tests := []struct {
		name  string
		build func(s *Summary)
		want  Status
	}{
		{
			name:  "empty run passes",
			build: func(s *Summary) {},
			want:  StatusPass,
		},
		{
			name: "all matched passes",
			build: func(s *Summary) {
				s.RecordResult("example/impl", 1, validResults(true, false))
			},
			want: StatusPass,
		},
		{
			name: "mismatch fails",
			build: func(s *Summary) {
				s.RecordResult("example/impl", 1, validResults(false, false))
			},
			want: StatusFail,
		},
		{
			name: "case error fails",
			build: func(s *Summary) {
				s.RecordCaseError("example/impl", 1, protocol.CaseErrored{Seq: 1, Caught: true})
			},
			want: StatusFail,
		},
		{
			name: "everything skipped",
			build: func(s *Summary) {
				s.RecordCaseSkip("example/impl", 1, protocol.CaseSkipped{Seq: 1})
			},
			want: StatusSkip,
		},
		{
			name: "partial skip passes",
			build: func(s *Summary) {
				s.RecordResult("example/impl", 1, []protocol.TestResult{
					{Valid: true},
					{Skipped: true, Message: "later"},
				})
			},
			want: StatusPass,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New([]protocol.Implementation{testImpl("impl")})
			s.RegisterCase(1, caseWithTests("case", boolPtr(true), boolPtr(false)))
			tt.build(s)
			assert.Equal(t, tt.want, s.Status())
		})
	}
}

func TestRecordFailFast(t *testing.T) {
	s := New([]protocol.Implementation{testImpl("impl")})
	assert.False(t, s.DidFailFast())
	s.RecordFailFast(true)
	assert.True(t, s.DidFailFast())
}

func TestImagesPreservesRegistrationOrder(t *testing.T) {
	s := New([]protocol.Implementation{testImpl("zeta"), testImpl("alpha"), testImpl("mid")})
	assert.Equal(t, []string{"example/zeta", "example/alpha", "example/mid"}, s.Images())

	impl, ok := s.Implementation("example/mid")
	require.True(t, ok)
	assert.Equal(t, "mid", impl.Name)
	_, ok = s.Implementation("example/unknown")
	assert.False(t, ok)
}

func TestProgrammerErrorsPanic(t *testing.T) {
	s := New([]protocol.Implementation{testImpl("impl")})
	s.RegisterCase(1, caseWithTests("case", boolPtr(true)))

	assert.Panics(t, func() { s.RecordResult("example/unknown", 1, validResults(true)) })
	assert.Panics(t, func() { s.RecordResult("example/impl", 99, validResults(true)) })
	assert.Panics(t, func() { s.RecordResult("example/impl", 1, validResults(true, true)) })
	assert.Panics(t, func() { New([]protocol.Implementation{testImpl("dup"), testImpl("dup")}) })
	assert.Panics(t, func() { New([]protocol.Implementation{{Name: "anon"}}) })
}
