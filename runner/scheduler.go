package runner

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-parallel/types"
)

// Executor runs a single unit. Worker is the production implementation.
type Executor interface {
	Execute(ctx context.Context, unit types.ExecutionUnit) types.UnitResult
}

// EffectiveWorkers sizes the pool: 0 means one per CPU, a negative request
// means one, and the result never exceeds the number of units.
func EffectiveWorkers(requested, units, hostCPUs int) int {
	n := requested
	switch {
	case requested == 0:
		n = hostCPUs
	case requested < 0:
		n = 1
	}
	n = min(n, max(1, units))
	return max(1, n)
}

// Scheduler distributes units over a fixed-size pool of workers
type Scheduler struct {
	log       log.Logger
	executor  Executor
	requested int
	hostCPUs  int
}

// NewScheduler creates a scheduler. requested follows the EffectiveWorkers rules.
func NewScheduler(logger log.Logger, executor Executor, requested int) (*Scheduler, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	return &Scheduler{
		log:       logger.New("component", "scheduler"),
		executor:  executor,
		requested: requested,
		hostCPUs:  runtime.NumCPU(),
	}, nil
}

// Workers returns the pool size used for the given number of units
func (s *Scheduler) Workers(units int) int {
	return EffectiveWorkers(s.requested, units, s.hostCPUs)
}

// Run executes every unit exactly once and returns results aligned with
// units. Units not handed out before ctx is done get a zeroed result.
func (s *Scheduler) Run(ctx context.Context, units []types.ExecutionUnit) []types.UnitResult {
	results := make([]types.UnitResult, len(units))
	if len(units) == 0 {
		s.log.Debug("No units to execute")
		return results
	}

	workers := s.Workers(len(units))
	if workers > MaxReasonableConcurrency {
		s.log.Warn("Very high concurrency requested", "workers", workers,
			"recommendation", "Consider using lower values to avoid resource exhaustion")
	}
	start := time.Now()
	s.log.Info("Starting parallel execution", "units", len(units), "workers", workers)

	workChan := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range workChan {
				s.log.Debug("Worker picked up unit", "worker", workerID, "unit", units[idx].ID)
				results[idx] = s.executor.Execute(ctx, units[idx])
			}
		}(i)
	}

	sent := 0
dispatch:
	for ; sent < len(units); sent++ {
		select {
		case workChan <- sent:
		case <-ctx.Done():
			s.log.Debug("Context cancelled while dispatching units", "remaining", len(units)-sent)
			break dispatch
		}
	}
	close(workChan)
	for idx := sent; idx < len(units); idx++ {
		results[idx] = types.NewZeroResult(units[idx].ID)
	}
	wg.Wait()

	s.log.Info("Parallel execution completed", "units", len(units), "duration", time.Since(start))
	return results
}
