package connect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
)

const (
	// closeGrace is how long a closing adapter gets to exit on its own
	// after stdin closes before it is killed.
	closeGrace = 2 * time.Second

	// maxStderrBytes caps captured diagnostics per adapter. Only the head
	// is kept; the first complaints are usually the informative ones.
	maxStderrBytes = 1 << 20
)

// Process is a connection to an adapter running as a child process, with
// stdin/stdout carrying the protocol and stderr captured for diagnostics.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *stderrSink

	closeOnce sync.Once
	closeErr  error
}

// StartProcess spawns argv and wires its pipes for the protocol. The
// process is killed if ctx is canceled.
func StartProcess(ctx context.Context, argv []string) (*Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty adapter command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	sink := &stderrSink{}
	cmd.Stderr = sink
	// Orphaned children can inherit the stderr pipe and keep Wait from
	// returning after the adapter itself exits.
	cmd.WaitDelay = closeGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting adapter %q: %w", argv[0], err)
	}

	return &Process{cmd: cmd, stdin: stdin, stdout: stdout, stderr: sink}, nil
}

func (p *Process) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *Process) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// Close shuts the adapter down: stdin closes first so a well-behaved
// adapter exits on EOF, then after closeGrace the process is killed.
// Safe to call more than once and from a timeout goroutine.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.stdin.Close()

		done := make(chan error, 1)
		go func() { done <- p.cmd.Wait() }()
		select {
		case err := <-done:
			p.closeErr = err
		case <-time.After(closeGrace):
			p.cmd.Process.Kill()
			p.closeErr = <-done
		}
	})
	return p.closeErr
}

// Stderr returns what the adapter has written to stderr, with ANSI
// escapes stripped so container runtimes' colored noise stays readable
// in logs.
func (p *Process) Stderr() string {
	return p.stderr.String()
}

// stderrSink captures the head of a stream up to maxStderrBytes without
// ever failing the writer.
type stderrSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *stderrSink) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if remain := maxStderrBytes - s.buf.Len(); remain > 0 {
		if len(b) > remain {
			s.buf.Write(b[:remain])
		} else {
			s.buf.Write(b)
		}
	}
	return len(b), nil
}

func (s *stderrSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stripansi.Strip(s.buf.String())
}
