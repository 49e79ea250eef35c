// Package runner executes partitioned Go test units in parallel.
//
// The main components are:
//   - TestRunner: runs one execution unit through `go test -json` in its own process
//   - eventParser: turns the test2json stream into a raw unit result
//   - Worker: wraps one unit with fail-fast checks, coverage, rendering and tracing
//   - Scheduler: a fixed-size pool of workers returning index-aligned results
//   - progressWriter: live per-test progress at the requested verbosity
//
// Units never share a process, so the fail-fast signal is the only state that
// crosses process boundaries.
package runner
