package metrics

import (
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/conformance-tools/crosscheck/report"
)

const (
	MetricsNamespace = "crosscheck"
)

var (
	Debug                bool = true
	validStatuses             = []report.Status{report.StatusPass, report.StatusFail, report.StatusSkip}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	verdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "verdicts_total",
		Help:      "Count of test verdicts by outcome",
	}, []string{
		"adapter",
		"run_id",
		"outcome",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of harness runs",
	}, []string{
		"dialect",
		"run_id",
		"result",
	})

	runTestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests_total",
		Help:      "Total number of tests exercised per run",
	}, []string{
		"dialect",
		"run_id",
	})

	runTestsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests_failed",
		Help:      "Number of mismatched tests per run",
	}, []string{
		"dialect",
		"run_id",
	})

	runTestsErrored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests_errored",
		Help:      "Number of errored tests per run",
	}, []string{
		"dialect",
		"run_id",
	})

	runTestsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests_skipped",
		Help:      "Number of skipped tests per run",
	}, []string{
		"dialect",
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of harness runs",
	}, []string{
		"dialect",
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		slog.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordVerdicts ingests one adapter's count delta for a single case.
func RecordVerdicts(adapter string, runID string, delta report.Count) {
	if Debug {
		slog.Debug("metric inc",
			"m", "verdicts_total",
			"adapter", adapter,
			"run_id", runID,
			"tests", delta.TotalTests)
	}
	matched := delta.TotalTests - delta.FailedTests - delta.ErroredTests - delta.SkippedTests
	verdictsTotal.WithLabelValues(adapter, runID, string(report.OutcomeMatched)).Add(float64(matched))
	verdictsTotal.WithLabelValues(adapter, runID, string(report.OutcomeMismatched)).Add(float64(delta.FailedTests))
	verdictsTotal.WithLabelValues(adapter, runID, string(report.OutcomeErrored)).Add(float64(delta.ErroredTests))
	verdictsTotal.WithLabelValues(adapter, runID, string(report.OutcomeSkipped)).Add(float64(delta.SkippedTests))
}

func RecordRun(
	dialect string,
	runID string,
	status report.Status,
	total int,
	failed int,
	errored int,
	skipped int,
	duration time.Duration,
) {
	if !isValidStatus(status) {
		slog.Error("RecordRun - invalid status", "status", status)
		return
	}
	runResults.WithLabelValues(dialect, runID, string(status)).Set(1)
	runTestsTotal.WithLabelValues(dialect, runID).Add(float64(total))
	runTestsFailed.WithLabelValues(dialect, runID).Add(float64(failed))
	runTestsErrored.WithLabelValues(dialect, runID).Add(float64(errored))
	runTestsSkipped.WithLabelValues(dialect, runID).Add(float64(skipped))
	runDuration.WithLabelValues(dialect, runID).Set(duration.Seconds())
}

func isValidStatus(status report.Status) bool {
	return slices.Contains(validStatuses, status)
}
