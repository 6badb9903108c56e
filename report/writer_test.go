package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conformance-tools/crosscheck/protocol"
)

func sampleRun(t *testing.T) (RunInfo, *Summary) {
	t.Helper()
	implementations := []protocol.Implementation{testImpl("alpha"), testImpl("beta")}
	info := NewRunInfo("0.1.0", dialect2020, implementations)
	s := info.NewSummary()

	s.RegisterCase(1, caseWithTests("integers", boolPtr(true), boolPtr(false)))
	s.RegisterCase(2, caseWithTests("strings", boolPtr(true)))
	s.RecordResult("example/alpha", 1, validResults(true, false))
	s.RecordResult("example/alpha", 2, validResults(false))
	s.RecordResult("example/beta", 1, validResults(true, true))
	s.RecordCaseError("example/beta", 2, protocol.CaseErrored{Seq: 2, Caught: true})
	s.RecordFailFast(true)
	return info, s
}

func TestReportRoundTrip(t *testing.T) {
	info, s := sampleRun(t)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, info, s))

	rep, err := Read(&buf)
	require.NoError(t, err)

	assert.Equal(t, info.Dialect, rep.RunInfo.Dialect)
	assert.Equal(t, info.HarnessVersion, rep.RunInfo.HarnessVersion)
	assert.WithinDuration(t, info.Started, rep.RunInfo.Started, 0)
	assert.Equal(t, info.Implementations, rep.RunInfo.Implementations)

	require.Len(t, rep.Results, 2)
	assert.Equal(t, 1, rep.Results[0].Seq)
	assert.Equal(t, 2, rep.Results[1].Seq)
	assert.Equal(t, "integers", rep.Results[0].Case.Description)
	assert.Equal(t, map[string]string{"example/beta": "Encountered an error."}, rep.Results[1].Errors)

	assert.Equal(t, s.Counts(), rep.Counts)
	assert.True(t, rep.DidFailFast)
	assert.Equal(t, s.Status(), rep.Status())
}

func TestReportStatus(t *testing.T) {
	tests := []struct {
		name   string
		counts map[string]Count
		want   Status
	}{
		{
			name:   "all matched",
			counts: map[string]Count{"a": {TotalCases: 1, TotalTests: 2}},
			want:   StatusPass,
		},
		{
			name:   "a failed test",
			counts: map[string]Count{"a": {TotalTests: 2, FailedTests: 1}},
			want:   StatusFail,
		},
		{
			name:   "a case error",
			counts: map[string]Count{"a": {TotalCases: 1, ErroredCases: 1, TotalTests: 1, ErroredTests: 1}},
			want:   StatusFail,
		},
		{
			name:   "everything skipped",
			counts: map[string]Count{"a": {TotalTests: 2, SkippedTests: 2}},
			want:   StatusSkip,
		},
		{
			name:   "empty report",
			counts: map[string]Count{},
			want:   StatusPass,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := &Report{Counts: tt.counts}
			assert.Equal(t, tt.want, rep.Status())
		})
	}
}

func TestReadRejectsTruncatedReports(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{
			name:    "empty",
			input:   "",
			wantErr: "missing header or footer",
		},
		{
			name:    "header only",
			input:   `{"dialect":"x","implementations":{}}` + "\n",
			wantErr: "missing header or footer",
		},
		{
			name:    "footer without counts",
			input:   `{"dialect":"x","implementations":{}}` + "\n" + `{"did_fail_fast":false}` + "\n",
			wantErr: "footer carries no counts",
		},
		{
			name:    "garbage case line",
			input:   `{"dialect":"x","implementations":{}}` + "\n" + "{nope}\n" + `{"did_fail_fast":false,"counts":{}}` + "\n",
			wantErr: "parsing report line 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReadFile(t *testing.T) {
	info, s := sampleRun(t)
	path := filepath.Join(t.TempDir(), "run.json")

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, Write(f, info, s))
	require.NoError(t, f.Close())

	rep, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, rep.Results, 2)

	_, err = ReadFile(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestReportGenerateBadges(t *testing.T) {
	info, s := sampleRun(t)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, info, s))
	rep, err := Read(&buf)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, rep.GenerateBadges(dir))

	for _, name := range []string{"go-alpha", "go-beta"} {
		data, err := os.ReadFile(filepath.Join(dir, name, "draft2020-12.json"))
		require.NoError(t, err)
		assert.Contains(t, string(data), `"label":"Draft 2020-12"`)
	}
}
