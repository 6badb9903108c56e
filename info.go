package crosscheck

import (
	"context"
	"fmt"
	"time"

	"github.com/conformance-tools/crosscheck/connect"
	"github.com/conformance-tools/crosscheck/protocol"
	"github.com/conformance-tools/crosscheck/registry"
)

// AdapterInfo opens a session with the adapter just long enough to read
// its self-reported identity.
func AdapterInfo(ctx context.Context, adapter registry.Adapter, version string, opts SmokeOptions) (protocol.Implementation, error) {
	conn, err := connect.Dial(ctx, adapter, connect.Options{
		ContainerRuntime: opts.ContainerRuntime,
		HarnessVersion:   version,
	})
	if err != nil {
		return protocol.Implementation{}, fmt.Errorf("failed to dial adapter %s: %w", adapter.Key(), err)
	}
	defer conn.Close()

	if opts.StartTimeout > 0 {
		watchdog := time.AfterFunc(opts.StartTimeout, func() { conn.Close() })
		defer watchdog.Stop()
	}

	session := protocol.NewSession(conn)
	impl, err := session.Start()
	if err != nil {
		return protocol.Implementation{}, fmt.Errorf("failed to start adapter %s: %w", adapter.Key(), err)
	}
	impl.Image = adapter.Key()

	if err := session.Stop(); err != nil {
		return impl, fmt.Errorf("failed to stop adapter %s: %w", adapter.Key(), err)
	}
	return impl, nil
}
