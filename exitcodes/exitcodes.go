// Package exitcodes defines the standard exit codes used by crosscheck.
//
// * Success (0): every adapter matched the corpus expectations
// * ConformanceFailure (1): at least one verdict mismatched or errored
// * RuntimeErr (2): the harness itself failed (bad config, adapter
//   unreachable, panics)
package exitcodes

const (
	Success            = 0
	ConformanceFailure = 1
	RuntimeErr         = 2
)
