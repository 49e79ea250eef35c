package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-parallel/failfast"
	"github.com/ethereum-optimism/infra/op-parallel/metrics"
	"github.com/ethereum-optimism/infra/op-parallel/types"
)

// CoverageContext is the per-unit coverage lifecycle. Start returns the go
// test flags that make the child write its profile.
type CoverageContext interface {
	Start() []string
	Stop() error
	Save() error
	Close() error
}

// CoverageFactory creates a fresh coverage context for one unit
type CoverageFactory func() (CoverageContext, error)

// WorkerConfig holds what every unit execution needs
type WorkerConfig struct {
	Log         log.Logger
	Runner      TestRunner
	Signal      failfast.Signal
	Options     Options
	NewCoverage CoverageFactory // nil disables coverage
	Tracer      trace.Tracer
}

// Worker executes single units inside a pool slot
type Worker struct {
	log         log.Logger
	runner      TestRunner
	signal      failfast.Signal
	opts        Options
	newCoverage CoverageFactory
	tracer      trace.Tracer
}

// NewWorker validates the config and creates a Worker
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Log == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Signal == nil {
		return nil, errors.New("fail-fast signal is required")
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("op-parallel")
	}
	return &Worker{
		log:         cfg.Log.New("component", "worker"),
		runner:      cfg.Runner,
		signal:      cfg.Signal,
		opts:        cfg.Options,
		newCoverage: cfg.NewCoverage,
		tracer:      tracer,
	}, nil
}

// Execute runs one unit and always returns a fully populated result. A unit
// that must not start (fail-fast set or ctx done) yields a zeroed result.
func (w *Worker) Execute(ctx context.Context, unit types.ExecutionUnit) (result types.UnitResult) {
	if w.signal.IsSet() || ctx.Err() != nil {
		w.log.Debug("Skipping unit", "unit", unit.ID, "failfast", w.signal.IsSet())
		metrics.RecordUnitSkipped()
		return types.NewZeroResult(unit.ID)
	}

	ctx, span := w.tracer.Start(ctx, fmt.Sprintf("unit %s", unit.ID))
	defer span.End()
	span.SetAttributes(attribute.String("unit.id", unit.ID), attribute.Int("unit.tests", unit.Node.CountTests()))

	start := time.Now()
	var cov CoverageContext

	defer func() {
		if rec := recover(); rec != nil {
			w.log.Error("Unit execution panicked", "unit", unit.ID, "panic", rec)
			result = w.errorResult(unit, fmt.Errorf("panic: %v\n%s", rec, debug.Stack()))
		}
		if cov != nil {
			if err := cov.Close(); err != nil {
				w.log.Warn("Failed to save coverage", "unit", unit.ID, "error", err)
			}
		}
		result.UnitID = unit.ID
		result.Duration = time.Since(start)
		if result.ShouldStop {
			w.signal.Set()
		}
		if len(result.Errors)+len(result.Failures) > 0 {
			span.SetStatus(codes.Error, "unit failed")
		}
		metrics.RecordUnitResult(unit.ID, result)
	}()

	opts := w.opts
	if w.newCoverage != nil {
		c, err := w.newCoverage()
		if err != nil {
			return w.errorResult(unit, fmt.Errorf("failed to start coverage: %w", err))
		}
		cov = c
		opts.CoverArgs = cov.Start()
	}

	w.log.Debug("Running unit", "unit", unit.ID, "tests", unit.Node.CountTests())
	raw, err := w.runner.Run(ctx, unit, opts)
	if err != nil {
		w.log.Error("Unit execution failed", "unit", unit.ID, "error", err)
		return w.errorResult(unit, err)
	}
	if raw == nil {
		return w.errorResult(unit, errors.New("runner returned no result"))
	}

	if cov != nil {
		if err := cov.Stop(); err != nil {
			w.log.Warn("Failed to stop coverage", "unit", unit.ID, "error", err)
		}
		if err := cov.Save(); err != nil {
			w.log.Warn("Failed to save coverage", "unit", unit.ID, "error", err)
		}
	}

	return render(raw)
}

// render converts a raw runner result into its text-only form
func render(raw *types.RawResult) types.UnitResult {
	result := types.UnitResult{
		TestsRun:            raw.TestsRun,
		Errors:              make([]types.FormattedError, 0, len(raw.Errors)),
		Failures:            make([]types.FormattedError, 0, len(raw.Failures)),
		Skipped:             raw.Skipped,
		ExpectedFailures:    raw.ExpectedFailures,
		UnexpectedSuccesses: raw.UnexpectedSuccesses,
		ShouldStop:          raw.ShouldStop,
	}
	for _, e := range raw.Errors {
		result.Errors = append(result.Errors, types.FormatError(e.Test.Description(), stripansi.Strip(e.Output)))
	}
	for _, f := range raw.Failures {
		result.Failures = append(result.Failures, types.FormatError(f.Test.Description(), stripansi.Strip(f.Output)))
	}
	return result
}

// errorResult reports an invocation failure as one error entry for the unit
func (w *Worker) errorResult(unit types.ExecutionUnit, err error) types.UnitResult {
	return types.UnitResult{
		Errors:     []types.FormattedError{types.FormatError(unit.ID, stripansi.Strip(err.Error()))},
		Failures:   []types.FormattedError{},
		ShouldStop: w.opts.FailFast,
	}
}
