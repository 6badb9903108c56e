package report

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/conformance-tools/crosscheck/protocol"
)

// Badge is a shields.io endpoint descriptor summarizing one adapter's
// compliance with one dialect.
type Badge struct {
	SchemaVersion int    `json:"schemaVersion"`
	Label         string `json:"label"`
	Message       string `json:"message"`
	Color         string `json:"color"`
}

// badgeFor computes the badge for one adapter's counts. The color fades
// linearly from red at 0% to green at 100%, with each channel clamped to
// the 0..100 range before hex encoding. An adapter with no recorded tests
// reports 0%.
func badgeFor(count Count, dialect string) Badge {
	var pct float64
	if count.TotalTests > 0 {
		passed := count.TotalTests - count.UnsuccessfulTests()
		pct = float64(passed) / float64(count.TotalTests) * 100
	}
	p := int(math.Floor(pct))
	return Badge{
		SchemaVersion: 1,
		Label:         PrettyName(dialect),
		Message:       fmt.Sprintf("%d%% Passing", p),
		Color:         fmt.Sprintf("%02x%02x00", clampByte(100-p), clampByte(p)),
	}
}

// clampByte confines a channel value to 0..100 so badge colors stay on the
// red-green fade even if a percentage lands outside the expected range.
func clampByte(v int) int {
	return max(0, min(100, v))
}

// writeBadge persists a badge under dir/<language>-<name>/<shortname>.json,
// creating directories as needed.
func writeBadge(dir string, impl protocol.Implementation, dialect string, badge Badge) error {
	target := filepath.Join(dir, fmt.Sprintf("%s-%s", impl.Language, impl.Name))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("creating badge directory: %w", err)
	}
	data, err := json.Marshal(badge)
	if err != nil {
		return fmt.Errorf("encoding badge: %w", err)
	}
	path := filepath.Join(target, ShortName(dialect)+".json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing badge: %w", err)
	}
	return nil
}
