package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
)

// maxReportLineBytes bounds a single report line. Case lines carry every
// adapter's verdicts, so the ceiling is generous.
const maxReportLineBytes = 10 << 20

// Report is a fully parsed run report, as written by Write.
type Report struct {
	RunInfo     RunInfo
	Results     []CaseResult
	Counts      map[string]Count
	DidFailFast bool
}

type reportFooter struct {
	DidFailFast bool             `json:"did_fail_fast"`
	Counts      map[string]Count `json:"counts"`
}

// Write emits a run as line-delimited JSON: a RunInfo header, one line per
// case in sequence order, and a footer carrying final counts and the
// fail-fast flag. The footer makes the report self-contained, so badges
// and summaries can be rebuilt without replaying every case line.
func Write(w io.Writer, info RunInfo, summary *Summary) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(info); err != nil {
		return fmt.Errorf("writing report header: %w", err)
	}
	for _, result := range summary.CaseResults() {
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("writing case %d: %w", result.Seq, err)
		}
	}
	footer := reportFooter{DidFailFast: summary.DidFailFast(), Counts: summary.Counts()}
	if err := enc.Encode(footer); err != nil {
		return fmt.Errorf("writing report footer: %w", err)
	}
	return nil
}

// Read parses a report written by Write. Blank lines are ignored; a
// report without both a header and a footer is rejected as truncated.
func Read(r io.Reader) (*Report, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReportLineBytes)

	var lines [][]byte
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, slices.Clone(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	if len(lines) < 2 {
		return nil, errors.New("report is truncated: missing header or footer")
	}

	var rep Report
	if err := json.Unmarshal(lines[0], &rep.RunInfo); err != nil {
		return nil, fmt.Errorf("parsing report header: %w", err)
	}
	var footer reportFooter
	if err := json.Unmarshal(lines[len(lines)-1], &footer); err != nil {
		return nil, fmt.Errorf("parsing report footer: %w", err)
	}
	if footer.Counts == nil {
		return nil, errors.New("report is truncated: footer carries no counts")
	}
	rep.Counts = footer.Counts
	rep.DidFailFast = footer.DidFailFast

	for i, line := range lines[1 : len(lines)-1] {
		var result CaseResult
		if err := json.Unmarshal(line, &result); err != nil {
			return nil, fmt.Errorf("parsing report line %d: %w", i+2, err)
		}
		rep.Results = append(rep.Results, result)
	}
	return &rep, nil
}

// ReadFile loads a report from disk.
func ReadFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening report: %w", err)
	}
	defer f.Close()

	rep, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", path, err)
	}
	return rep, nil
}

// Status derives the overall verdict from the footer counts, using the same
// rules as a live Summary.
func (r *Report) Status() Status {
	var total, skipped int
	for _, c := range r.Counts {
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

// GenerateBadges writes one badge per adapter in the report that both
// declares support for the report's dialect and carries final counts.
func (r *Report) GenerateBadges(dir string) error {
	for _, image := range slices.Sorted(maps.Keys(r.RunInfo.Implementations)) {
		impl := r.RunInfo.Implementations[image]
		if !impl.Supports(r.RunInfo.Dialect) {
			continue
		}
		count, ok := r.Counts[image]
		if !ok {
			continue
		}
		if err := writeBadge(dir, impl, r.RunInfo.Dialect, badgeFor(count, r.RunInfo.Dialect)); err != nil {
			return err
		}
	}
	return nil
}
