// Package exitcodes defines the standard exit codes used by op-parallel.
package exitcodes

// Exit code constants used by op-parallel.
//
// A run with failing tests exits with the number of errors, failures and
// unexpected successes, clamped to MaxTestFailures; TestFailure is the
// smallest such status.
const (
	Success         = 0   // All tests pass
	TestFailure     = 1   // At least one test problem
	RuntimeErr      = 2   // Configuration, discovery or other runtime errors
	CoverageFailure = 2   // Total coverage below the configured minimum
	MaxTestFailures = 255 // Largest status a process can report
)
