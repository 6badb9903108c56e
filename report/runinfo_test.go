package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conformance-tools/crosscheck/protocol"
)

func TestDialectNames(t *testing.T) {
	tests := []struct {
		dialect    string
		wantPretty string
		wantShort  string
	}{
		{"https://json-schema.org/draft/2020-12/schema", "Draft 2020-12", "draft2020-12"},
		{"https://json-schema.org/draft/2019-09/schema", "Draft 2019-09", "draft2019-09"},
		{"http://json-schema.org/draft-07/schema#", "Draft 7", "draft7"},
		{"http://json-schema.org/draft-03/schema#", "Draft 3", "draft3"},
		{"https://example.com/unknown", "https://example.com/unknown", "https://example.com/unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			assert.Equal(t, tt.wantPretty, PrettyName(tt.dialect))
			assert.Equal(t, tt.wantShort, ShortName(tt.dialect))
		})
	}
}

func TestKnownDialectsNewestFirst(t *testing.T) {
	dialects := KnownDialects()
	require.Len(t, dialects, 6)
	assert.Equal(t, "https://json-schema.org/draft/2020-12/schema", dialects[0])
	assert.Equal(t, "http://json-schema.org/draft-03/schema#", dialects[len(dialects)-1])
}

func TestNewRunInfo(t *testing.T) {
	implementations := []protocol.Implementation{testImpl("zeta"), testImpl("alpha")}
	info := NewRunInfo("1.2.3", dialect2020, implementations)

	assert.Equal(t, "1.2.3", info.HarnessVersion)
	assert.Equal(t, dialect2020, info.Dialect)
	assert.WithinDuration(t, time.Now().UTC(), info.Started, time.Minute)
	require.Len(t, info.Implementations, 2)
	assert.Equal(t, "zeta", info.Implementations["example/zeta"].Name)

	s := info.NewSummary()
	assert.Equal(t, []string{"example/alpha", "example/zeta"}, s.Images())
}
