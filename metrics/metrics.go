package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-parallel/types"
)

const (
	MetricsNamespace = "op_parallel"
)

// Unit outcome labels
const (
	UnitPassed  = "pass"
	UnitFailed  = "fail"
	UnitSkipped = "fastfail"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	unitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "units_total",
		Help:      "Count of executed units by outcome",
	}, []string{
		"result",
	})

	unitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "unit_duration_seconds",
		Help:      "Wall time of executed units",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	})

	testsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_total",
		Help:      "Count of tests by outcome",
	}, []string{
		"result",
	})

	runResult = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_result",
		Help:      "Result of the last run, 1 for the reported result",
	}, []string{
		"run_id",
		"result",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the run",
	}, []string{
		"run_id",
	})

	runWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "workers",
		Help:      "Size of the worker pool",
	})

	coveragePercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "coverage_percent",
		Help:      "Total statement coverage of the run",
	}, []string{
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
		log.Debug("metric inc",
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

// RecordUnitResult counts one executed unit and its tests
func RecordUnitResult(unitID string, result types.UnitResult) {
	outcome := UnitPassed
	if result.Failed() {
		outcome = UnitFailed
	}
	if Debug {
		log.Debug("metric inc",
			"m", "units_total",
			"unit", unitID,
			"result", outcome,
			"duration", result.Duration)
	}
	unitsTotal.WithLabelValues(outcome).Inc()
	unitDuration.Observe(result.Duration.Seconds())

	passed := result.TestsRun - len(result.Errors) - len(result.Failures) - result.Skipped -
		result.ExpectedFailures - result.UnexpectedSuccesses
	addTests("pass", max(passed, 0))
	addTests("fail", len(result.Failures))
	addTests("error", len(result.Errors))
	addTests("skip", result.Skipped)
	addTests("expected_failure", result.ExpectedFailures)
	addTests("unexpected_success", result.UnexpectedSuccesses)
}

// RecordUnitSkipped counts a unit that fail-fast kept from starting
func RecordUnitSkipped() {
	unitsTotal.WithLabelValues(UnitSkipped).Inc()
}

// RecordWorkers records the effective pool size
func RecordWorkers(n int) {
	runWorkers.Set(float64(n))
}

// RecordRun records the final verdict of a run
func RecordRun(runID string, success bool, duration time.Duration) {
	result := UnitPassed
	if !success {
		result = UnitFailed
	}
	runResult.WithLabelValues(runID, result).Set(1)
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}

// RecordCoverage records the merged coverage percentage of a run
func RecordCoverage(runID string, percent float64) {
	coveragePercent.WithLabelValues(runID).Set(percent)
}

// WriteTextfile writes every registered metric in the node exporter
// textfile format
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

func addTests(result string, n int) {
	if n > 0 {
		testsTotal.WithLabelValues(result).Add(float64(n))
	}
}
