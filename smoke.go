package crosscheck

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/conformance-tools/crosscheck/corpus"
	"github.com/conformance-tools/crosscheck/registry"
	"github.com/conformance-tools/crosscheck/runner"
)

// SmokeOptions configures a single-adapter run outside the full harness
// lifecycle.
type SmokeOptions struct {
	ContainerRuntime string
	CaseTimeout      time.Duration
	StartTimeout     time.Duration
}

// SmokeCases returns the synthetic sanity cases: a schema that accepts
// everything and a schema that rejects everything, each evaluated against
// one instance of every JSON type.
func SmokeCases() []corpus.TestCase {
	instances := []struct {
		description string
		value       string
	}{
		{"null", `null`},
		{"boolean", `true`},
		{"integer", `37`},
		{"number", `37.37`},
		{"string", `"37"`},
		{"array", `[37]`},
		{"object", `{"37": 37}`},
	}

	expect := func(valid bool) *bool { return &valid }

	allowTests := make([]corpus.Test, len(instances))
	rejectTests := make([]corpus.Test, len(instances))
	for i, instance := range instances {
		allowTests[i] = corpus.Test{
			Description: instance.description,
			Instance:    json.RawMessage(instance.value),
			Valid:       expect(true),
		}
		rejectTests[i] = corpus.Test{
			Description: instance.description,
			Instance:    json.RawMessage(instance.value),
			Valid:       expect(false),
		}
	}

	return []corpus.TestCase{
		{
			Description: "allow-everything schema",
			Schema:      json.RawMessage(`{"$schema": "https://json-schema.org/draft/2020-12/schema"}`),
			Tests:       allowTests,
		},
		{
			Description: "allow-nothing schema",
			Schema:      json.RawMessage(`{"$schema": "https://json-schema.org/draft/2020-12/schema", "not": {}}`),
			Tests:       rejectTests,
		},
	}
}

// RunSmoke drives the smoke cases through a single adapter and returns the
// aggregated result.
func RunSmoke(ctx context.Context, log *slog.Logger, adapter registry.Adapter, version string, opts SmokeOptions) (*runner.Result, error) {
	reg, err := registry.FromAdapters(log, []registry.Adapter{adapter})
	if err != nil {
		return nil, err
	}

	harnessRunner, err := runner.NewHarnessRunner(runner.Config{
		Registry:         reg,
		Corpus:           SmokeCases(),
		Log:              log,
		HarnessVersion:   version,
		ContainerRuntime: opts.ContainerRuntime,
		CaseTimeout:      opts.CaseTimeout,
		StartTimeout:     opts.StartTimeout,
	})
	if err != nil {
		return nil, err
	}

	return harnessRunner.RunCorpus(ctx)
}
