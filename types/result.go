package types

import (
	"strings"
	"time"
)

// Report separators, matching the classic text test result layout
var (
	Separator1 = strings.Repeat("=", 70)
	Separator2 = strings.Repeat("-", 70)
)

// FormattedError is a fully rendered error or failure report. It carries only
// text so that it can cross a process boundary.
type FormattedError string

// FormatError renders a description and its output into a FormattedError
func FormatError(description, output string) FormattedError {
	return FormattedError(strings.Join([]string{
		Separator1,
		description,
		Separator2,
		strings.TrimRight(output, "\n"),
	}, "\n"))
}

// UnitResult is the outcome of one execution unit
type UnitResult struct {
	TestsRun            int
	Errors              []FormattedError
	Failures            []FormattedError
	Skipped             int
	ExpectedFailures    int
	UnexpectedSuccesses int
	ShouldStop          bool

	// Bookkeeping only, never folded into the aggregate
	UnitID     string
	FastFailed bool // Unit was short-circuited before it started
	Duration   time.Duration
}

// NewZeroResult returns an all-zero result for a unit that never started
func NewZeroResult(unitID string) UnitResult {
	return UnitResult{
		UnitID:     unitID,
		Errors:     []FormattedError{},
		Failures:   []FormattedError{},
		FastFailed: true,
	}
}

// Failed reports whether the unit produced any errors, failures or unexpected successes
func (r UnitResult) Failed() bool {
	return len(r.Errors) > 0 || len(r.Failures) > 0 || r.UnexpectedSuccesses > 0
}

// RawError is an unrendered error or failure record from the runner
type RawError struct {
	Test   TestRef
	Output string
}

// RawResult is what the external runner reports for a unit
type RawResult struct {
	TestsRun            int
	Errors              []RawError
	Failures            []RawError
	Skipped             int
	ExpectedFailures    int
	UnexpectedSuccesses int
	ShouldStop          bool
}

// Merge folds another raw result into this one
func (r *RawResult) Merge(other *RawResult) {
	if other == nil {
		return
	}
	r.TestsRun += other.TestsRun
	r.Errors = append(r.Errors, other.Errors...)
	r.Failures = append(r.Failures, other.Failures...)
	r.Skipped += other.Skipped
	r.ExpectedFailures += other.ExpectedFailures
	r.UnexpectedSuccesses += other.UnexpectedSuccesses
	r.ShouldStop = r.ShouldStop || other.ShouldStop
}
