package parallel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-parallel/coverage"
	"github.com/ethereum-optimism/infra/op-parallel/discovery"
	"github.com/ethereum-optimism/infra/op-parallel/failfast"
	"github.com/ethereum-optimism/infra/op-parallel/logging"
	"github.com/ethereum-optimism/infra/op-parallel/metrics"
	"github.com/ethereum-optimism/infra/op-parallel/partition"
	"github.com/ethereum-optimism/infra/op-parallel/registry"
	"github.com/ethereum-optimism/infra/op-parallel/reporting"
	"github.com/ethereum-optimism/infra/op-parallel/runner"
	"github.com/ethereum-optimism/infra/op-parallel/types"
	"github.com/ethereum-optimism/infra/op-parallel/ui"
)

// RunResult is the outcome of one complete run
type RunResult struct {
	RunID    string
	Units    []types.ExecutionUnit
	Results  []types.UnitResult // Aligned with Units
	Report   *reporting.Report
	Workers  int
	Duration time.Duration
	Coverage *float64 // Set when coverage was reported
	LogDir   string   // Artifact directory of this run, empty when disabled
}

// Runner wires discovery, partitioning, scheduling and reporting together
type Runner struct {
	cfg      *Config
	log      log.Logger
	registry *registry.Registry

	// onStart is called once the pool is about to start, for readiness
	onStart func()
}

// NewRunner validates the config and loads the run config file
func NewRunner(cfg *Config) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	reg, err := registry.NewRegistry(registry.Config{
		Log:        cfg.Log,
		ConfigFile: cfg.RunConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	return &Runner{cfg: cfg, log: cfg.Log, registry: reg}, nil
}

// Run executes the whole pipeline once. A run whose tests did not all pass
// returns its result together with a TestFailureError; coverage below the
// configured minimum returns a CoverageError.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	cfg := r.cfg
	res := &RunResult{RunID: uuid.New().String()}

	tree, count, err := discovery.Discover(discovery.Options{
		StartDir:    cfg.StartDir,
		Pattern:     cfg.Pattern,
		TopLevelDir: cfg.TopLevelDir,
	})
	if err != nil {
		metrics.RecordErrorDetails("discovery", err)
		return nil, NewRuntimeError(fmt.Errorf("failed to discover tests: %w", err))
	}
	res.Units = partition.Partition(tree, cfg.Granularity)
	r.log.Info("Discovered tests", "tests", count, "units", len(res.Units), "granularity", cfg.Granularity)

	if cfg.List {
		if err := ui.WriteSuiteTree(cfg.Stdout, tree); err != nil {
			return nil, NewRuntimeError(err)
		}
		if err := ui.WriteUnits(cfg.Stdout, res.Units, cfg.Granularity); err != nil {
			return nil, NewRuntimeError(err)
		}
		res.Report = reporting.Aggregate(nil)
		return res, nil
	}

	tempDir, err := os.MkdirTemp("", "op-parallel-")
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to create run directory: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			r.log.Warn("Failed to remove run directory", "dir", tempDir, "error", err)
		}
	}()

	var fileLogger *logging.FileLogger
	if cfg.LogDir != "" {
		fileLogger, err = logging.NewFileLogger(cfg.LogDir, res.RunID)
		if err != nil {
			return nil, NewRuntimeError(fmt.Errorf("failed to create run artifacts: %w", err))
		}
		res.LogDir = fileLogger.GetBaseDir()
	}

	var collector *coverage.Collector
	if cfg.Coverage.Enabled {
		if collector, err = coverage.NewCollector(cfg.Coverage, tempDir); err != nil {
			return nil, NewRuntimeError(err)
		}
	}

	scheduler, err := r.newScheduler(tempDir, fileLogger, collector)
	if err != nil {
		return nil, NewRuntimeError(err)
	}
	res.Workers = scheduler.Workers(len(res.Units))
	metrics.RecordWorkers(res.Workers)

	fmt.Fprintf(cfg.Stderr, "Running %d test suites (%d total tests) across %d processes\n",
		len(res.Units), count, res.Workers)
	if cfg.Verbosity > runner.VerbosityDots {
		fmt.Fprintln(cfg.Stderr)
	}
	if r.onStart != nil {
		r.onStart()
	}

	start := time.Now()
	res.Results = scheduler.Run(ctx, res.Units)
	res.Duration = time.Since(start)
	if cfg.Verbosity == runner.VerbosityDots {
		fmt.Fprintln(cfg.Stderr)
	}

	res.Report = reporting.Aggregate(res.Results)
	if cfg.Verbosity >= runner.VerbosityVerbose {
		reporting.WriteUnitsTable(cfg.Stderr, res.Results)
	}
	var summary strings.Builder
	if err := res.Report.WriteSummary(&summary, res.Duration); err != nil {
		return nil, NewRuntimeError(err)
	}
	fmt.Fprint(cfg.Stderr, summary.String())
	metrics.RecordRun(res.RunID, res.Report.IsSuccess(), res.Duration)

	var runErr error
	if !res.Report.IsSuccess() {
		runErr = NewTestFailureError(strings.TrimSpace(lastLine(summary.String())), res.Report.ExitCode())
	} else if collector != nil {
		runErr = r.reportCoverage(collector, res)
	}

	r.writeArtifacts(fileLogger, res, summary.String())
	if cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
			r.log.Warn("Failed to write metrics textfile", "path", cfg.MetricsTextfile, "error", err)
		}
	}

	r.log.Info("Run completed", "runID", res.RunID, "success", res.Report.IsSuccess(),
		"exitCode", ExitCode(runErr), "duration", res.Duration)
	return res, runErr
}

func (r *Runner) newScheduler(tempDir string, sink *logging.FileLogger, collector *coverage.Collector) (*runner.Scheduler, error) {
	cfg := r.cfg

	signal, err := failfast.NewFileSignal(tempDir)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = r.registry.Timeout()
	}
	runnerCfg := runner.Config{
		Log:              r.log,
		GoBinary:         cfg.GoBinary,
		Timeout:          timeout,
		GoFlags:          append(r.registry.GoFlags(), cfg.GoFlags...),
		Env:              append(r.registry.Env(), signal.Env()),
		Progress:         runner.NewProgressWriter(cfg.Stderr),
		ExpectedFailures: r.registry,
	}
	if sink != nil {
		runnerCfg.RawSink = sink
	}
	testRunner, err := runner.NewTestRunner(runnerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create test runner: %w", err)
	}

	workerCfg := runner.WorkerConfig{
		Log:    r.log,
		Runner: testRunner,
		Signal: signal,
		Options: runner.Options{
			Verbosity: cfg.Verbosity,
			FailFast:  cfg.FailFast,
			Buffer:    cfg.Buffer,
		},
	}
	if collector != nil {
		workerCfg.NewCoverage = func() (runner.CoverageContext, error) {
			c, err := collector.NewContext()
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	worker, err := runner.NewWorker(workerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}
	return runner.NewScheduler(r.log, worker, cfg.Jobs)
}

// reportCoverage merges the per-unit profiles and writes the configured reports
func (r *Runner) reportCoverage(collector *coverage.Collector, res *RunResult) error {
	cfg := r.cfg.Coverage

	paths, err := collector.Profiles()
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to list coverage profiles: %w", err))
	}
	merged, err := coverage.Combine(paths)
	if err != nil {
		return NewRuntimeError(err)
	}
	profile, err := merged.Filter(cfg.Include, cfg.Omit)
	if err != nil {
		return NewRuntimeError(err)
	}

	fmt.Fprintln(r.cfg.Stderr)
	percent := profile.Report(r.cfg.Stderr)
	res.Coverage = &percent
	metrics.RecordCoverage(res.RunID, percent)

	if cfg.HTMLDir != "" {
		dir := cfg.HTMLDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(r.cfg.TopLevelDir, dir)
		}
		if err := profile.HTMLReport(dir, coverage.HTMLOptions{GoBinary: r.cfg.GoBinary, WorkDir: r.cfg.TopLevelDir}); err != nil {
			return NewRuntimeError(err)
		}
		r.log.Info("Wrote coverage HTML report", "dir", dir)
	}
	if cfg.XMLFile != "" {
		path := cfg.XMLFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(r.cfg.TopLevelDir, path)
		}
		if err := profile.XMLReport(path, r.cfg.TopLevelDir); err != nil {
			return NewRuntimeError(err)
		}
		r.log.Info("Wrote coverage XML report", "path", path)
	}

	if cfg.FailUnder > 0 && percent < cfg.FailUnder {
		return &CoverageError{Percent: percent, FailUnder: cfg.FailUnder}
	}
	return nil
}

func (r *Runner) writeArtifacts(l *logging.FileLogger, res *RunResult, summary string) {
	if l == nil {
		return
	}
	for _, unitResult := range res.Results {
		if unitResult.FastFailed {
			continue
		}
		if err := l.LogUnitResult(unitResult); err != nil {
			r.log.Warn("Failed to log unit result", "unit", unitResult.UnitID, "error", err)
		}
	}
	s := res.Report.Summary(res.RunID, res.Duration)
	s.Coverage = res.Coverage
	if err := l.LogSummary(summary, s); err != nil {
		r.log.Warn("Failed to write run summary", "error", err)
	}
	if err := l.Complete(); err != nil {
		r.log.Warn("Failed to close run artifacts", "error", err)
	}
	r.log.Info("Wrote run artifacts", "dir", l.GetBaseDir())
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
