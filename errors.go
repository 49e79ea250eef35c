package parallel

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-parallel/exitcodes"
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include configuration errors, discovery failures, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError reports a run whose tests did not all pass. ExitCode is
// the aggregated problem count.
type TestFailureError struct {
	Message  string
	ExitCode int
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.Message)
}

// NewTestFailureError creates a new TestFailureError, keeping the exit code
// within [TestFailure, MaxTestFailures]
func NewTestFailureError(message string, exitCode int) *TestFailureError {
	return &TestFailureError{
		Message:  message,
		ExitCode: min(max(exitCode, exitcodes.TestFailure), exitcodes.MaxTestFailures),
	}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// CoverageError reports total coverage below the configured minimum
type CoverageError struct {
	Percent   float64
	FailUnder float64
}

func (e *CoverageError) Error() string {
	return fmt.Sprintf("coverage failure: total of %.2f%% is less than fail-under=%.2f%%", e.Percent, e.FailUnder)
}

// IsCoverageError checks if the error is or wraps a CoverageError
func IsCoverageError(err error) bool {
	var covErr *CoverageError
	return err != nil && errors.As(err, &covErr)
}

// ExitCode maps a run error to the process exit status
func ExitCode(err error) int {
	if err == nil {
		return exitcodes.Success
	}
	var testErr *TestFailureError
	switch {
	case errors.As(err, &testErr):
		return testErr.ExitCode
	case IsCoverageError(err):
		return exitcodes.CoverageFailure
	default:
		return exitcodes.RuntimeErr
	}
}
