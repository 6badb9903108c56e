package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conformance-tools/crosscheck/protocol"
)

func TestBadgeFor(t *testing.T) {
	tests := []struct {
		name        string
		count       Count
		wantMessage string
		wantColor   string
	}{
		{
			name:        "everything failing",
			count:       Count{TotalTests: 4, FailedTests: 4},
			wantMessage: "0% Passing",
			wantColor:   "640000",
		},
		{
			name:        "three quarters passing",
			count:       Count{TotalTests: 4, FailedTests: 1},
			wantMessage: "75% Passing",
			wantColor:   "194b00",
		},
		{
			name:        "everything passing",
			count:       Count{TotalTests: 4},
			wantMessage: "100% Passing",
			wantColor:   "006400",
		},
		{
			name:        "half passing",
			count:       Count{TotalTests: 2, ErroredTests: 1},
			wantMessage: "50% Passing",
			wantColor:   "323200",
		},
		{
			name:        "percentage floors",
			count:       Count{TotalTests: 3, SkippedTests: 1},
			wantMessage: "66% Passing",
			wantColor:   "224200",
		},
		{
			name:        "no tests recorded",
			count:       Count{},
			wantMessage: "0% Passing",
			wantColor:   "640000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			badge := badgeFor(tt.count, dialect2020)
			assert.Equal(t, 1, badge.SchemaVersion)
			assert.Equal(t, "Draft 2020-12", badge.Label)
			assert.Equal(t, tt.wantMessage, badge.Message)
			assert.Equal(t, tt.wantColor, badge.Color)
		})
	}
}

func TestBadgeLabelPassesThroughUnknownDialect(t *testing.T) {
	badge := badgeFor(Count{TotalTests: 1}, "https://example.com/custom-dialect")
	assert.Equal(t, "https://example.com/custom-dialect", badge.Label)
}

func TestClampByte(t *testing.T) {
	assert.Equal(t, 0, clampByte(-5))
	assert.Equal(t, 0, clampByte(0))
	assert.Equal(t, 42, clampByte(42))
	assert.Equal(t, 100, clampByte(100))
	assert.Equal(t, 100, clampByte(250))
}

func TestGenerateBadges(t *testing.T) {
	s := New([]protocol.Implementation{
		testImpl("alpha"),
		testImpl("beta", "http://json-schema.org/draft-07/schema#"),
	})
	s.RegisterCase(1, caseWithTests("case", boolPtr(true), boolPtr(true), boolPtr(true), boolPtr(true)))
	s.RecordResult("example/alpha", 1, validResults(true, true, true, false))
	s.RecordResult("example/beta", 1, validResults(true, true, true, true))

	dir := t.TempDir()
	require.NoError(t, s.GenerateBadges(dir, dialect2020))

	data, err := os.ReadFile(filepath.Join(dir, "go-alpha", "draft2020-12.json"))
	require.NoError(t, err)
	g := goldie.New(t)
	g.Assert(t, "badge_descriptor", data)

	// beta does not declare 2020-12 support, so no badge is written.
	_, err = os.Stat(filepath.Join(dir, "go-beta"))
	assert.True(t, os.IsNotExist(err))
}
