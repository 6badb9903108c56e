package report

import (
	"maps"
	"slices"
	"time"

	"github.com/conformance-tools/crosscheck/protocol"
)

// RunInfo is the header of a run report: when it started, what produced
// it, which dialect was exercised, and every participating adapter's
// identity keyed by image.
type RunInfo struct {
	Started         time.Time                          `json:"started"`
	HarnessVersion  string                             `json:"harness_version"`
	Dialect         string                             `json:"dialect"`
	Implementations map[string]protocol.Implementation `json:"implementations"`
}

// NewRunInfo stamps a header for a run starting now.
func NewRunInfo(harnessVersion, dialect string, implementations []protocol.Implementation) RunInfo {
	byImage := make(map[string]protocol.Implementation, len(implementations))
	for _, impl := range implementations {
		byImage[impl.Image] = impl
	}
	return RunInfo{
		Started:         time.Now().UTC(),
		HarnessVersion:  harnessVersion,
		Dialect:         dialect,
		Implementations: byImage,
	}
}

// NewSummary builds the aggregator for this run's implementations,
// registered in image order.
func (r RunInfo) NewSummary() *Summary {
	implementations := make([]protocol.Implementation, 0, len(r.Implementations))
	for _, image := range slices.Sorted(maps.Keys(r.Implementations)) {
		implementations = append(implementations, r.Implementations[image])
	}
	return New(implementations)
}

// dialectNames maps a dialect URI to its display label and its file-safe
// short form.
var dialectNames = map[string]struct{ pretty, short string }{
	"https://json-schema.org/draft/2020-12/schema": {"Draft 2020-12", "draft2020-12"},
	"https://json-schema.org/draft/2019-09/schema": {"Draft 2019-09", "draft2019-09"},
	"http://json-schema.org/draft-07/schema#":      {"Draft 7", "draft7"},
	"http://json-schema.org/draft-06/schema#":      {"Draft 6", "draft6"},
	"http://json-schema.org/draft-04/schema#":      {"Draft 4", "draft4"},
	"http://json-schema.org/draft-03/schema#":      {"Draft 3", "draft3"},
}

// PrettyName returns the human-readable label for a dialect URI.
// Unrecognized URIs pass through unchanged so reports of custom dialects
// stay legible.
func PrettyName(dialect string) string {
	if names, ok := dialectNames[dialect]; ok {
		return names.pretty
	}
	return dialect
}

// ShortName returns the file-safe name for a dialect URI, used in badge
// paths. Unrecognized URIs pass through unchanged.
func ShortName(dialect string) string {
	if names, ok := dialectNames[dialect]; ok {
		return names.short
	}
	return dialect
}

// KnownDialects returns the recognized dialect URIs, newest first.
func KnownDialects() []string {
	dialects := slices.Sorted(maps.Keys(dialectNames))
	slices.Reverse(dialects)
	return dialects
}
