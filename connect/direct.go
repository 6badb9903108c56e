package connect

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"github.com/conformance-tools/crosscheck/corpus"
	"github.com/conformance-tools/crosscheck/protocol"
)

const (
	draft2020 = "https://json-schema.org/draft/2020-12/schema"

	maxEngineLineBytes = 10 << 20
)

// Direct runs the built-in engine in-process while still speaking the
// wire protocol, so a run can include one adapter without any external
// runtime.
type Direct struct {
	reqW  *io.PipeWriter
	respR *io.PipeReader

	closeOnce sync.Once
	done      chan struct{}
}

// StartDirect launches the built-in engine and returns its connection.
// The version is reported as the engine's own version.
func StartDirect(version string) *Direct {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	d := &Direct{reqW: reqW, respR: respR, done: make(chan struct{})}
	go d.serve(reqR, respW, version)
	return d
}

func (d *Direct) Read(b []byte) (int, error)  { return d.respR.Read(b) }
func (d *Direct) Write(b []byte) (int, error) { return d.reqW.Write(b) }

// Close tears both pipes down and waits for the engine goroutine to exit.
func (d *Direct) Close() error {
	d.closeOnce.Do(func() {
		d.reqW.Close()
		d.respR.Close()
	})
	<-d.done
	return nil
}

type engineRequest struct {
	Cmd     string          `json:"cmd"`
	Version int             `json:"version"`
	Dialect string          `json:"dialect"`
	Seq     int             `json:"seq"`
	Case    corpus.TestCase `json:"case"`
}

type engineStarted struct {
	Version        int                     `json:"version"`
	Ready          bool                    `json:"ready"`
	Implementation protocol.Implementation `json:"implementation"`
}

type engineDialectOK struct {
	OK bool `json:"ok"`
}

type engineResult struct {
	Valid bool `json:"valid"`
}

type engineResults struct {
	Seq     int            `json:"seq"`
	Results []engineResult `json:"results"`
}

type engineSkipped struct {
	Seq     int    `json:"seq"`
	Skipped bool   `json:"skipped"`
	Message string `json:"message"`
}

type engineErrored struct {
	Seq     int            `json:"seq"`
	Errored bool           `json:"errored"`
	Context map[string]any `json:"context"`
}

func (d *Direct) serve(requests *io.PipeReader, responses *io.PipeWriter, version string) {
	defer close(d.done)
	defer responses.Close()
	defer requests.Close()

	enc := json.NewEncoder(responses)
	scanner := bufio.NewScanner(requests)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEngineLineBytes)

	for scanner.Scan() {
		var req engineRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			return
		}

		var resp any
		switch req.Cmd {
		case "start":
			resp = engineStarted{Version: protocol.Version, Ready: true, Implementation: engineIdentity(version)}
		case "dialect":
			resp = engineDialectOK{OK: req.Dialect == draft2020}
		case "run":
			resp = evaluate(req.Seq, req.Case)
		case "stop":
			return
		default:
			return
		}
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

// evaluate compiles the case schema and checks every instance. Panics are
// converted to a case error so one hostile schema cannot take the engine
// down mid-run.
func evaluate(seq int, tc corpus.TestCase) (resp any) {
	defer func() {
		if r := recover(); r != nil {
			resp = engineErrored{Seq: seq, Errored: true, Context: map[string]any{"message": fmt.Sprintf("panic: %v", r)}}
		}
	}()

	if len(tc.Registry) > 0 {
		return engineSkipped{Seq: seq, Skipped: true, Message: "schema registries are not supported by the built-in engine"}
	}

	// A fresh compiler per case keeps $ids from one case from leaking
	// into the next.
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(tc.Schema)
	if err != nil {
		return engineErrored{Seq: seq, Errored: true, Context: map[string]any{"message": fmt.Sprintf("compiling schema: %v", err)}}
	}

	results := make([]engineResult, len(tc.Tests))
	for i, test := range tc.Tests {
		results[i] = engineResult{Valid: schema.ValidateJSON([]byte(test.Instance)).IsValid()}
	}
	return engineResults{Seq: seq, Results: results}
}

// engineIdentity is the built-in engine's wire identity. The harness
// attaches the aggregation key afterwards, the same as for every other
// adapter.
func engineIdentity(version string) protocol.Implementation {
	return protocol.Implementation{
		Name:            "crosscheck-builtin",
		Language:        "go",
		Version:         version,
		Homepage:        "https://github.com/conformance-tools/crosscheck",
		Issues:          "https://github.com/conformance-tools/crosscheck/issues",
		Source:          "https://github.com/conformance-tools/crosscheck",
		Dialects:        []string{draft2020},
		OS:              runtime.GOOS,
		LanguageVersion: runtime.Version(),
	}
}
