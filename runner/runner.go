package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-parallel/types"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
)

// maxEventLineBytes bounds a single test2json line (large log output)
const maxEventLineBytes = 16 * 1024 * 1024

// Options are the per-run knobs handed to the runner for every unit
type Options struct {
	Verbosity int  // 0 quiet, 1 one character per test, 2 one line per test
	FailFast  bool // Stop the unit at its first failure and request a run-wide stop
	Buffer    bool // Hold test output, only showing it inside error reports

	// CoverArgs are added to every go test invocation of the unit. When a
	// unit spans several packages their profiles are appended to the single
	// -coverprofile path.
	CoverArgs []string
}

// TestRunner runs one execution unit and reports its raw outcome
type TestRunner interface {
	Run(ctx context.Context, unit types.ExecutionUnit, opts Options) (*types.RawResult, error)
}

// RawOutputSink receives the raw go test -json stream of every unit
type RawOutputSink interface {
	RawOutput(unitID string) (io.WriteCloser, error)
}

// Config holds the configuration for the go test runner
type Config struct {
	Log              log.Logger
	GoBinary         string           // Path to the Go binary
	Timeout          time.Duration    // go test -timeout per package invocation
	GoFlags          []string         // Extra flags passed through to go test, e.g. -race
	Env              []string         // Extra KEY=VALUE pairs for every child process
	Progress         *ProgressWriter  // Live progress, nil for none
	ExpectedFailures ExpectedFailures // Tests whose failure is expected
	RawSink          RawOutputSink    // Optional raw output capture
}

// goTestRunner runs units through `go test -json` in child processes
type goTestRunner struct {
	log      log.Logger
	goBinary string
	timeout  time.Duration
	goFlags  []string
	env      []string
	progress *ProgressWriter
	expected ExpectedFailures
	rawSink  RawOutputSink
}

// NewTestRunner creates a TestRunner that shells out to go test
func NewTestRunner(cfg Config) (TestRunner, error) {
	if cfg.Log == nil {
		return nil, errors.New("logger is required")
	}
	goBinary := cfg.GoBinary
	if goBinary == "" {
		goBinary = DefaultGoBinary
	}
	timeout := cfg.Timeout
	if timeout < 0 {
		return nil, fmt.Errorf("invalid timeout %v", timeout)
	}
	if timeout == 0 {
		timeout = DefaultTestTimeout
	}
	for _, kv := range cfg.Env {
		if !strings.Contains(kv, "=") {
			return nil, fmt.Errorf("invalid environment entry %q, want KEY=VALUE", kv)
		}
	}
	progress := cfg.Progress
	if progress == nil {
		progress = NewProgressWriter(nil)
	}

	return &goTestRunner{
		log:      cfg.Log.New("component", "go-test-runner"),
		goBinary: goBinary,
		timeout:  timeout,
		goFlags:  cfg.GoFlags,
		env:      cfg.Env,
		progress: progress,
		expected: cfg.ExpectedFailures,
		rawSink:  cfg.RawSink,
	}, nil
}

// Run executes every package of the unit in turn and merges the results
func (r *goTestRunner) Run(ctx context.Context, unit types.ExecutionUnit, opts Options) (*types.RawResult, error) {
	packages := unit.Packages()
	if len(packages) == 0 {
		return &types.RawResult{}, nil
	}

	var raw io.Writer
	if r.rawSink != nil {
		w, err := r.rawSink.RawOutput(unit.ID)
		if err != nil {
			r.log.Warn("Failed to open raw output sink", "unit", unit.ID, "error", err)
		} else {
			defer w.Close()
			raw = w
		}
	}

	result := &types.RawResult{}
	for i, pkg := range packages {
		coverArgs, partPath, profilePath := splitCoverProfile(opts.CoverArgs, i)
		pkgResult, err := r.runPackage(ctx, pkg, opts, coverArgs, raw)
		if partPath != "" {
			if appendErr := appendProfile(profilePath, partPath); appendErr != nil {
				r.log.Warn("Failed to merge coverage profile", "unit", unit.ID, "error", appendErr)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to run %s: %w", pkg.Package, err)
		}
		result.Merge(pkgResult)
		if opts.FailFast && stopsRun(result) {
			break
		}
	}
	result.ShouldStop = opts.FailFast && stopsRun(result)
	return result, nil
}

// stopsRun reports whether a result ends the run under fail-fast: any error,
// failure or unexpected success
func stopsRun(result *types.RawResult) bool {
	return len(result.Errors)+len(result.Failures) > 0 || result.UnexpectedSuccesses > 0
}

func (r *goTestRunner) runPackage(ctx context.Context, pkg types.PackageTests, opts Options, coverArgs []string, raw io.Writer) (*types.RawResult, error) {
	args := r.buildTestArgs(pkg.Tests, opts, coverArgs)

	// Units are never preempted, so the child is not bound to ctx
	cmd := exec.Command(r.goBinary, args...)
	cmd.Dir = pkg.Dir
	// Children join the unit's trace through the environment
	cmd.Env = telemetry.InstrumentEnvironment(ctx, append(os.Environ(), r.env...))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	stderr := newTailBuffer(0)
	cmd.Stderr = stderr

	r.log.Debug("Running test command",
		"dir", cmd.Dir,
		"package", pkg.Package,
		"tests", len(pkg.Tests),
		"command", cmd.String())

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", r.goBinary, err)
	}

	parser := newEventParser(pkg, r.expected)
	parser.onOutcome = func(ref types.TestRef, outcome Outcome) {
		r.progress.Outcome(ref, outcome, opts.Verbosity)
	}
	if !opts.Buffer {
		parser.onOutput = func(output string) {
			if !isFramingLine(output) {
				_, _ = io.WriteString(r.progress, output)
			}
		}
	}

	var source io.Reader = stdout
	if raw != nil {
		source = io.TeeReader(stdout, raw)
	}
	scanner := bufio.NewScanner(source)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineBytes)
	for scanner.Scan() {
		parser.handle(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		r.log.Warn("Failed to read test output", "package", pkg.Package, "error", err)
		// Drain so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, source)
	}

	waitErr := cmd.Wait()
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return nil, fmt.Errorf("failed waiting for go test: %w", waitErr)
	}
	if exitErr != nil {
		// Exit code 1 is an ordinary test failure, anything else is logged
		if exitErr.ExitCode() != 1 {
			r.log.Debug("go test exited abnormally", "package", pkg.Package, "exitCode", exitErr.ExitCode())
		}
		return parser.finish(exitErr, stderr.String()), nil
	}
	return parser.finish(nil, stderr.String()), nil
}

// buildTestArgs constructs the go test command line for one package
func (r *goTestRunner) buildTestArgs(tests []types.TestRef, opts Options, coverArgs []string) []string {
	args := []string{TestCommand, JSONFlag}

	// Always disable caching
	args = append(args, CountFlag+"="+DisableCacheCount)
	args = append(args, RunFlag, runPattern(tests))
	args = append(args, TimeoutFlag, r.timeout.String())
	// go test stops on an expected failure as on any other, so those
	// packages run to the end and fail-fast is applied per unit instead
	if opts.FailFast && !r.hasExpectedFailure(tests) {
		args = append(args, FailFastFlag)
	}
	args = append(args, coverArgs...)
	args = append(args, r.goFlags...)
	return append(args, CurrentDirPkg)
}

func (r *goTestRunner) hasExpectedFailure(tests []types.TestRef) bool {
	if r.expected == nil {
		return false
	}
	for _, t := range tests {
		if r.expected.IsExpectedFailure(t.Package, t.Name) {
			return true
		}
	}
	return false
}

// runPattern anchors the test names so no other top-level test matches
func runPattern(tests []types.TestRef) string {
	names := make([]string, 0, len(tests))
	for _, t := range tests {
		names = append(names, regexp.QuoteMeta(t.Name))
	}
	return "^(" + strings.Join(names, "|") + ")$"
}

// splitCoverProfile rewrites -coverprofile for every invocation after the
// first so it lands in a part file that is appended to the main profile.
func splitCoverProfile(args []string, invocation int) (out []string, partPath, profilePath string) {
	if invocation == 0 {
		return args, "", ""
	}
	out = make([]string, len(args))
	copy(out, args)
	prefix := CoverProfile + "="
	for i, arg := range out {
		if strings.HasPrefix(arg, prefix) {
			profilePath = strings.TrimPrefix(arg, prefix)
			partPath = fmt.Sprintf("%s.part%d", profilePath, invocation)
			out[i] = prefix + partPath
			return out, partPath, profilePath
		}
	}
	return args, "", ""
}

// appendProfile appends the blocks of part (without its mode line) to dst and
// removes part
func appendProfile(dst, part string) error {
	defer os.Remove(part)

	content, err := os.ReadFile(part)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read profile part: %w", err)
	}
	body := string(content)
	mode, blocks, found := strings.Cut(body, "\n")
	if !strings.HasPrefix(mode, "mode:") {
		blocks = body
	} else if !found {
		return nil
	}

	existing, err := os.ReadFile(dst)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read profile: %w", err)
	}

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open profile: %w", err)
	}
	defer f.Close()

	if len(existing) == 0 && strings.HasPrefix(mode, "mode:") {
		blocks = mode + "\n" + blocks
	} else if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		blocks = "\n" + blocks
	}
	if _, err := f.WriteString(blocks); err != nil {
		return fmt.Errorf("failed to append profile: %w", err)
	}
	return nil
}
