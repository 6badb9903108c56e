// Package connect establishes wire-protocol channels to adapters:
// containers, spawned commands, and the built-in engine.
package connect

import (
	"context"
	"errors"
	"io"

	"github.com/conformance-tools/crosscheck/registry"
)

// DefaultContainerRuntime is the docker-compatible binary used to run
// containerized adapters when the config names none.
const DefaultContainerRuntime = "docker"

// Connection is a bidirectional line-oriented channel to a running
// adapter. Close releases the underlying resources and interrupts any
// blocked read, which is how timeouts surface to a waiting session.
type Connection interface {
	io.Reader
	io.Writer
	Close() error
}

// Options configure how adapters are reached.
type Options struct {
	// ContainerRuntime is the docker-compatible binary for image
	// adapters. Defaults to DefaultContainerRuntime.
	ContainerRuntime string
	// HarnessVersion is reported as the built-in engine's version.
	HarnessVersion string
}

// Dial opens a connection for the adapter described by the registry
// entry.
func Dial(ctx context.Context, adapter registry.Adapter, opts Options) (Connection, error) {
	switch {
	case adapter.Direct:
		return StartDirect(opts.HarnessVersion), nil
	case adapter.Image != "":
		runtime := opts.ContainerRuntime
		if runtime == "" {
			runtime = DefaultContainerRuntime
		}
		return StartProcess(ctx, []string{runtime, "run", "--rm", "--interactive", adapter.Image})
	case len(adapter.Command) > 0:
		return StartProcess(ctx, adapter.Command)
	}
	return nil, errors.New("adapter specifies no way to connect")
}
