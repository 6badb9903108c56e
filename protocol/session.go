package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/conformance-tools/crosscheck/corpus"
)

// maxResponseBytes bounds a single adapter response line.
const maxResponseBytes = 10 * 1024 * 1024

// State is an adapter session's position in its lifecycle.
type State int

const (
	NotStarted State = iota
	Started
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrNotReady is returned when an adapter answers start without signaling
// readiness.
var ErrNotReady = errors.New("adapter failed to signal readiness")

// VersionMismatchError is returned when an adapter speaks a different
// protocol version than the harness.
type VersionMismatchError struct {
	Got int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("unsupported protocol version %d (want %d)", e.Got, Version)
}

// ProtocolViolationError reports a command issued outside the session state
// machine. It is fatal to the session.
type ProtocolViolationError struct {
	Cmd   string
	State State
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation: %s issued while session is %s", e.Cmd, e.State)
}

// MalformedResponseError reports an adapter reply that failed to parse or
// violated the expected shape. It is an adapter fault for that response,
// never a harness crash; the session stays usable because the line pairing
// is still intact.
type MalformedResponseError struct {
	Cmd    string
	Detail string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed %s response: %s", e.Cmd, e.Detail)
}

// Session drives the request/response exchange with one adapter over its
// logical channel. Requests are strictly sequential: the session holds its
// lock across each round trip, so there is never more than one command in
// flight. Transport failures, handshake failures, and correlation failures
// poison the session; every later call returns the original error.
type Session struct {
	mu      sync.Mutex
	w       io.Writer
	scanner *bufio.Scanner
	state   State
	broken  error
}

// NewSession wraps a logical adapter channel. The caller retains ownership
// of the channel and closes it after Stop.
func NewSession(rw io.ReadWriter) *Session {
	scanner := bufio.NewScanner(rw)
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseBytes)
	return &Session{w: rw, scanner: scanner}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start performs the opening handshake and returns the adapter's identity.
// It must be the first command of the session.
func (s *Session) Start() (Implementation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != NotStarted {
		return Implementation{}, s.fail(&ProtocolViolationError{Cmd: "start", State: s.state})
	}
	line, err := s.exchange(Start{Version: Version})
	if err != nil {
		return Implementation{}, err
	}

	var resp startResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return Implementation{}, s.fail(&MalformedResponseError{Cmd: "start", Detail: err.Error()})
	}
	if resp.Version != Version {
		return Implementation{}, s.fail(&VersionMismatchError{Got: resp.Version})
	}
	if !resp.Ready {
		return Implementation{}, s.fail(ErrNotReady)
	}
	s.state = Started
	return resp.Implementation, nil
}

// Dialect switches the adapter's active dialect and reports whether the
// adapter accepted it.
func (s *Session) Dialect(uri string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Started {
		return false, s.fail(&ProtocolViolationError{Cmd: "dialect", State: s.state})
	}
	line, err := s.exchange(Dialect{Dialect: uri})
	if err != nil {
		return false, err
	}

	var resp dialectResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return false, &MalformedResponseError{Cmd: "dialect", Detail: err.Error()}
	}
	return resp.OK, nil
}

// Run submits one case and returns the adapter's response for it. A
// response that fails to parse, disagrees on length, or echoes the wrong
// sequence number is a MalformedResponseError; only the last poisons the
// session, since it breaks request/response correlation.
func (s *Session) Run(seq int, tc corpus.TestCase) (RunResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Started {
		return nil, s.fail(&ProtocolViolationError{Cmd: "run", State: s.state})
	}
	line, err := s.exchange(Run{Seq: seq, Case: tc})
	if err != nil {
		return nil, err
	}

	resp, err := decodeRunResponse(line)
	if err != nil {
		return nil, &MalformedResponseError{Cmd: "run", Detail: err.Error()}
	}
	if resp.Sequence() != seq {
		return nil, s.fail(&MalformedResponseError{
			Cmd:    "run",
			Detail: fmt.Sprintf("response seq %d does not match request seq %d", resp.Sequence(), seq),
		})
	}
	if results, ok := resp.(CaseResult); ok && len(results.Results) != len(tc.Tests) {
		return nil, &MalformedResponseError{
			Cmd:    "run",
			Detail: fmt.Sprintf("expected %d results, got %d", len(tc.Tests), len(results.Results)),
		}
	}
	return resp, nil
}

// Stop ends the session. No response is read; the adapter is expected to
// exit or close its channel. Stopping an already stopped session is a
// no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Stopped:
		return nil
	case NotStarted:
		return s.fail(&ProtocolViolationError{Cmd: "stop", State: s.state})
	}
	s.state = Stopped
	if s.broken != nil {
		return nil
	}
	line, err := Encode(Stop{})
	if err != nil {
		return err
	}
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing stop request: %w", err)
	}
	return nil
}

// exchange writes one request line and reads one response line. Callers
// must hold s.mu.
func (s *Session) exchange(req Request) ([]byte, error) {
	if s.broken != nil {
		return nil, s.broken
	}
	line, err := Encode(req)
	if err != nil {
		return nil, err
	}
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return nil, s.fail(fmt.Errorf("writing %s request: %w", req.command(), err))
	}
	if !s.scanner.Scan() {
		err := s.scanner.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, s.fail(fmt.Errorf("reading %s response: %w", req.command(), err))
	}
	return s.scanner.Bytes(), nil
}

// fail poisons the session with its first fatal error. Callers must hold
// s.mu.
func (s *Session) fail(err error) error {
	if s.broken == nil {
		s.broken = err
	}
	return err
}
