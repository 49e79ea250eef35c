// Package reporting folds the per-unit results of a run into one report.
package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-parallel/types"
)

// maxExitCode is the largest status a process can exit with
const maxExitCode = 255

// Report is the aggregate of every unit result of a run. It is computed once
// by Aggregate and never updated afterwards.
type Report struct {
	TestsRun            int
	Errors              []types.FormattedError
	Failures            []types.FormattedError
	Skipped             int
	ExpectedFailures    int
	UnexpectedSuccesses int

	// Units that never started because fail-fast was already set
	FastFailed int
}

// Aggregate sums the counters of all results and concatenates their errors
// and failures in unit order.
func Aggregate(results []types.UnitResult) *Report {
	r := &Report{
		Errors:   []types.FormattedError{},
		Failures: []types.FormattedError{},
	}
	for _, res := range results {
		r.TestsRun += res.TestsRun
		r.Errors = append(r.Errors, res.Errors...)
		r.Failures = append(r.Failures, res.Failures...)
		r.Skipped += res.Skipped
		r.ExpectedFailures += res.ExpectedFailures
		r.UnexpectedSuccesses += res.UnexpectedSuccesses
		if res.FastFailed {
			r.FastFailed++
		}
	}
	return r
}

// IsSuccess reports whether the run had no errors, failures or unexpected successes
func (r *Report) IsSuccess() bool {
	return len(r.Errors) == 0 && len(r.Failures) == 0 && r.UnexpectedSuccesses == 0
}

// ExitCode returns the number of problems, clamped to a valid process status
func (r *Report) ExitCode() int {
	code := len(r.Errors) + len(r.Failures) + r.UnexpectedSuccesses
	return min(max(code, 0), maxExitCode)
}

// WriteSummary writes every error, then every failure, followed by the run
// totals and the OK / FAILED verdict.
func (r *Report) WriteSummary(w io.Writer, elapsed time.Duration) error {
	var b strings.Builder
	for _, e := range r.Errors {
		b.WriteString(string(e))
		b.WriteString("\n")
	}
	for _, f := range r.Failures {
		b.WriteString(string(f))
		b.WriteString("\n")
	}
	b.WriteString(types.Separator2)
	b.WriteString("\n")

	plural := ""
	if r.TestsRun > 1 {
		plural = "s"
	}
	fmt.Fprintf(&b, "Ran %d test%s in %.3fs\n\n", r.TestsRun, plural, elapsed.Seconds())

	details := r.details()
	switch {
	case r.IsSuccess() && len(details) > 0:
		fmt.Fprintf(&b, "OK (%s)\n", strings.Join(details, ", "))
	case r.IsSuccess():
		b.WriteString("OK\n")
	default:
		fmt.Fprintf(&b, "FAILED (%s)\n", strings.Join(details, ", "))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// details lists only the nonzero counters
func (r *Report) details() []string {
	var out []string
	add := func(name string, n int) {
		if n > 0 {
			out = append(out, fmt.Sprintf("%s=%d", name, n))
		}
	}
	add("failures", len(r.Failures))
	add("errors", len(r.Errors))
	add("skipped", r.Skipped)
	add("expected failures", r.ExpectedFailures)
	add("unexpected successes", r.UnexpectedSuccesses)
	return out
}

// Summary is the machine readable form of a report
type Summary struct {
	RunID               string   `json:"runID"`
	Success             bool     `json:"success"`
	ExitCode            int      `json:"exitCode"`
	TestsRun            int      `json:"testsRun"`
	Errors              int      `json:"errors"`
	Failures            int      `json:"failures"`
	Skipped             int      `json:"skipped"`
	ExpectedFailures    int      `json:"expectedFailures"`
	UnexpectedSuccesses int      `json:"unexpectedSuccesses"`
	FastFailedUnits     int      `json:"fastFailedUnits"`
	Duration            string   `json:"duration"`
	Coverage            *float64 `json:"coverage,omitempty"`
}

// Summary returns the report counters for the given run
func (r *Report) Summary(runID string, elapsed time.Duration) Summary {
	return Summary{
		RunID:               runID,
		Success:             r.IsSuccess(),
		ExitCode:            r.ExitCode(),
		TestsRun:            r.TestsRun,
		Errors:              len(r.Errors),
		Failures:            len(r.Failures),
		Skipped:             r.Skipped,
		ExpectedFailures:    r.ExpectedFailures,
		UnexpectedSuccesses: r.UnexpectedSuccesses,
		FastFailedUnits:     r.FastFailed,
		Duration:            elapsed.String(),
	}
}
