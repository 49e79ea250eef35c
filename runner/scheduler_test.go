package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-parallel/types"
)

func makeUnits(n int) []types.ExecutionUnit {
	units := make([]types.ExecutionUnit, n)
	for i := range units {
		ref := types.TestRef{Package: "example.com/m", Dir: "/src/m", File: "m_test.go", Name: fmt.Sprintf("Test%d", i)}
		units[i] = types.ExecutionUnit{Index: i, ID: ref.String(), Node: types.NewLeaf(ref)}
	}
	return units
}

type funcExecutor func(ctx context.Context, unit types.ExecutionUnit) types.UnitResult

func (f funcExecutor) Execute(ctx context.Context, unit types.ExecutionUnit) types.UnitResult {
	return f(ctx, unit)
}

func TestEffectiveWorkers(t *testing.T) {
	tests := []struct {
		name                      string
		requested, units, hostCPU int
		want                      int
	}{
		{name: "zero means host cpus, clamped to units", requested: 0, units: 5, hostCPU: 32, want: 5},
		{name: "zero with more units than cpus", requested: 0, units: 50, hostCPU: 8, want: 8},
		{name: "request above units", requested: 100, units: 3, hostCPU: 4, want: 3},
		{name: "negative means one", requested: -1, units: 10, hostCPU: 16, want: 1},
		{name: "very negative", requested: -42, units: 10, hostCPU: 16, want: 1},
		{name: "no units", requested: 8, units: 0, hostCPU: 16, want: 1},
		{name: "exact request", requested: 4, units: 10, hostCPU: 2, want: 4},
		{name: "zero cpus reported", requested: 0, units: 10, hostCPU: 0, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveWorkers(tt.requested, tt.units, tt.hostCPU)
			assert.Equal(t, tt.want, got)
			// Clamping is idempotent
			assert.Equal(t, got, EffectiveWorkers(got, tt.units, tt.hostCPU))
		})
	}
}

func TestScheduler_ResultsAreIndexAligned(t *testing.T) {
	units := makeUnits(20)
	var calls sync.Map
	executor := funcExecutor(func(_ context.Context, unit types.ExecutionUnit) types.UnitResult {
		if _, loaded := calls.LoadOrStore(unit.ID, true); loaded {
			t.Errorf("unit %s executed twice", unit.ID)
		}
		// Later units finish first
		time.Sleep(time.Duration(20-unit.Index) * time.Millisecond)
		return types.UnitResult{UnitID: unit.ID, TestsRun: unit.Index + 1}
	})

	s, err := NewScheduler(log.NewLogger(log.DiscardHandler()), executor, 4)
	require.NoError(t, err)
	results := s.Run(context.Background(), units)

	require.Len(t, results, len(units))
	for i, r := range results {
		assert.Equal(t, units[i].ID, r.UnitID)
		assert.Equal(t, i+1, r.TestsRun)
	}
}

func TestScheduler_RespectsPoolSize(t *testing.T) {
	var running, peak atomic.Int32
	executor := funcExecutor(func(_ context.Context, unit types.ExecutionUnit) types.UnitResult {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return types.UnitResult{UnitID: unit.ID}
	})

	s, err := NewScheduler(log.NewLogger(log.DiscardHandler()), executor, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Workers(12))
	s.Run(context.Background(), makeUnits(12))
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestScheduler_CancelledContextZeroesRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executor := funcExecutor(func(ctx context.Context, unit types.ExecutionUnit) types.UnitResult {
		if unit.Index == 0 {
			defer cancel()
			return types.UnitResult{UnitID: unit.ID, TestsRun: 1}
		}
		if ctx.Err() != nil {
			return types.NewZeroResult(unit.ID)
		}
		return types.UnitResult{UnitID: unit.ID, TestsRun: 1}
	})

	s, err := NewScheduler(log.NewLogger(log.DiscardHandler()), executor, 1)
	require.NoError(t, err)
	units := makeUnits(5)
	results := s.Run(ctx, units)

	require.Len(t, results, 5)
	assert.Equal(t, 1, results[0].TestsRun)
	for i := 1; i < len(results); i++ {
		assert.True(t, results[i].FastFailed, "unit %d", i)
		assert.Equal(t, units[i].ID, results[i].UnitID)
	}
}

func TestScheduler_Empty(t *testing.T) {
	s, err := NewScheduler(log.NewLogger(log.DiscardHandler()), funcExecutor(nil), 0)
	require.NoError(t, err)
	assert.Empty(t, s.Run(context.Background(), nil))
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := NewScheduler(nil, funcExecutor(nil), 1)
	require.Error(t, err)
	_, err = NewScheduler(log.NewLogger(log.DiscardHandler()), nil, 1)
	require.Error(t, err)
}
