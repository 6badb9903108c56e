// Package protocol implements the line-delimited JSON contract spoken
// between the harness and every validator adapter. Each request line
// carries a cmd field naming one of the four commands (start, dialect,
// run, stop); each command receives exactly one response line, in request
// order.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/conformance-tools/crosscheck/corpus"
)

// Version is the wire protocol version this harness speaks. Adapters must
// echo it back from start.
const Version = 1

// Implementation is an adapter's self-reported identity from its start
// response. It is immutable for the run. Image is assigned by the harness
// from the adapter registry and keys all per-adapter state.
type Implementation struct {
	Name            string   `json:"name"`
	Language        string   `json:"language"`
	Version         string   `json:"version,omitempty"`
	Homepage        string   `json:"homepage,omitempty"`
	Issues          string   `json:"issues,omitempty"`
	Source          string   `json:"source,omitempty"`
	Dialects        []string `json:"dialects"`
	OS              string   `json:"os,omitempty"`
	OSVersion       string   `json:"os_version,omitempty"`
	LanguageVersion string   `json:"language_version,omitempty"`
	Image           string   `json:"image,omitempty"`
}

// Supports reports whether the adapter declared support for the dialect URI.
func (i Implementation) Supports(dialect string) bool {
	return slices.Contains(i.Dialects, dialect)
}

// Request is a protocol request. The set of implementations is closed:
// Start, Dialect, Run, and Stop. Encode dispatches exhaustively over them.
type Request interface {
	command() string
}

// Start opens a session. The adapter must reply ready with a matching
// protocol version before anything else is sent.
type Start struct {
	Version int `json:"version"`
}

func (Start) command() string { return "start" }

// Dialect selects the schema dialect for subsequent runs.
type Dialect struct {
	Dialect string `json:"dialect"`
}

func (Dialect) command() string { return "dialect" }

// Run asks the adapter to validate every test instance in the case against
// the case's schema. Seq correlates the response with this request.
type Run struct {
	Seq  int             `json:"seq"`
	Case corpus.TestCase `json:"case"`
}

func (Run) command() string { return "run" }

// Stop ends the session. No response is expected.
type Stop struct{}

func (Stop) command() string { return "stop" }

// Encode renders a request as a single wire line without the trailing
// newline.
func Encode(req Request) ([]byte, error) {
	switch r := req.(type) {
	case Start:
		return json.Marshal(struct {
			Cmd string `json:"cmd"`
			Start
		}{"start", r})
	case Dialect:
		return json.Marshal(struct {
			Cmd string `json:"cmd"`
			Dialect
		}{"dialect", r})
	case Run:
		return json.Marshal(struct {
			Cmd string `json:"cmd"`
			Run
		}{"run", r})
	case Stop:
		return json.Marshal(struct {
			Cmd string `json:"cmd"`
		}{"stop"})
	default:
		return nil, fmt.Errorf("unknown request type %T", req)
	}
}

type startResponse struct {
	Ready          bool           `json:"ready"`
	Version        int            `json:"version"`
	Implementation Implementation `json:"implementation"`
}

type dialectResponse struct {
	OK bool `json:"ok"`
}

// TestResult is one adapter verdict for a single test within a run
// response. Exactly one of three shapes applies on the wire: a boolean
// verdict, a skip (with an optional message or issue link), or an error
// (with optional context).
type TestResult struct {
	Valid    bool
	Skipped  bool
	Errored  bool
	Message  string
	IssueURL string
	Context  map[string]any
}

func (r *TestResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Valid    *bool          `json:"valid"`
		Skipped  bool           `json:"skipped"`
		Errored  bool           `json:"errored"`
		Message  string         `json:"message"`
		IssueURL string         `json:"issue_url"`
		Context  map[string]any `json:"context"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Skipped:
		*r = TestResult{Skipped: true, Message: raw.Message, IssueURL: raw.IssueURL}
	case raw.Errored:
		*r = TestResult{Errored: true, Context: raw.Context}
	default:
		if raw.Valid == nil {
			return errors.New("test result carries no verdict, skip, or error")
		}
		*r = TestResult{Valid: *raw.Valid}
	}
	return nil
}

// Reason returns the diagnostic to attach to a skipped or errored test
// result, falling back to a generic message when the adapter gave none.
func (r TestResult) Reason() string {
	switch {
	case r.Skipped:
		if r.Message != "" {
			return r.Message
		}
		if r.IssueURL != "" {
			return r.IssueURL
		}
		return "skipped"
	case r.Errored:
		if m, ok := r.Context["message"].(string); ok && m != "" {
			return m
		}
		return "Encountered an error."
	}
	return ""
}

// RunResponse is an adapter's reply to a run request: per-test results, a
// whole-case error, or a whole-case skip. The set of implementations is
// closed.
type RunResponse interface {
	Sequence() int
	runResponse()
}

// CaseResult carries one verdict per test, in test order.
type CaseResult struct {
	Seq     int          `json:"seq"`
	Results []TestResult `json:"results"`
}

func (r CaseResult) Sequence() int { return r.Seq }
func (CaseResult) runResponse()    {}

// CaseErrored reports that the whole run request failed. Caught is false
// when the failure was observed by the harness (a crash or protocol
// breakage) rather than reported by the adapter itself.
type CaseErrored struct {
	Seq     int            `json:"seq"`
	Context map[string]any `json:"context,omitempty"`
	Caught  bool           `json:"caught"`
}

func (r CaseErrored) Sequence() int { return r.Seq }
func (CaseErrored) runResponse()    {}

// Reason returns the error diagnostic, falling back to a generic message.
func (r CaseErrored) Reason() string {
	if m, ok := r.Context["message"].(string); ok && m != "" {
		return m
	}
	return "Encountered an error."
}

// Uncaught builds the case error recorded when an adapter dies or breaks
// protocol rather than reporting the failure itself.
func Uncaught(seq int, message string) CaseErrored {
	return CaseErrored{Seq: seq, Context: map[string]any{"message": message}, Caught: false}
}

// CaseSkipped reports that the adapter declined to run the case at all.
type CaseSkipped struct {
	Seq      int    `json:"seq"`
	Message  string `json:"message,omitempty"`
	IssueURL string `json:"issue_url,omitempty"`
}

func (r CaseSkipped) Sequence() int { return r.Seq }
func (CaseSkipped) runResponse()    {}

// Reason returns the skip diagnostic, falling back to a generic message.
func (r CaseSkipped) Reason() string {
	if r.Message != "" {
		return r.Message
	}
	if r.IssueURL != "" {
		return r.IssueURL
	}
	return "skipped"
}

// decodeRunResponse picks the response shape by key presence, the same way
// adapters tag them on the wire.
func decodeRunResponse(line []byte) (RunResponse, error) {
	var probe struct {
		Seq      int            `json:"seq"`
		Errored  bool           `json:"errored"`
		Skipped  bool           `json:"skipped"`
		Context  map[string]any `json:"context"`
		Caught   *bool          `json:"caught"`
		Message  string         `json:"message"`
		IssueURL string         `json:"issue_url"`
		Results  []TestResult   `json:"results"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, err
	}
	switch {
	case probe.Errored:
		caught := true
		if probe.Caught != nil {
			caught = *probe.Caught
		}
		return CaseErrored{Seq: probe.Seq, Context: probe.Context, Caught: caught}, nil
	case probe.Skipped:
		return CaseSkipped{Seq: probe.Seq, Message: probe.Message, IssueURL: probe.IssueURL}, nil
	case probe.Results == nil:
		return nil, errors.New("run response carries no results, error, or skip")
	default:
		return CaseResult{Seq: probe.Seq, Results: probe.Results}, nil
	}
}
