package reporting

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-parallel/types"
)

func failure(name string) types.FormattedError {
	return types.FormatError(name+" (example.com/m)", "boom")
}

func TestAggregate_PreservesUnitOrder(t *testing.T) {
	results := []types.UnitResult{
		{TestsRun: 2, Errors: []types.FormattedError{failure("E1")}, Failures: []types.FormattedError{failure("F1")}},
		{TestsRun: 1, Skipped: 1},
		{TestsRun: 3, Errors: []types.FormattedError{failure("E2"), failure("E3")}, Failures: []types.FormattedError{failure("F2")}},
		types.NewZeroResult("late"),
	}

	r := Aggregate(results)

	assert.Equal(t, 6, r.TestsRun)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, 1, r.FastFailed)
	assert.Equal(t, []types.FormattedError{failure("E1"), failure("E2"), failure("E3")}, r.Errors)
	assert.Equal(t, []types.FormattedError{failure("F1"), failure("F2")}, r.Failures)
	assert.False(t, r.IsSuccess())
	assert.Equal(t, 5, r.ExitCode())
}

func TestAggregate_Empty(t *testing.T) {
	r := Aggregate(nil)
	assert.True(t, r.IsSuccess())
	assert.Equal(t, 0, r.ExitCode())
	assert.NotNil(t, r.Errors)
	assert.NotNil(t, r.Failures)
}

func TestReport_ExitCode(t *testing.T) {
	tests := []struct {
		name    string
		results []types.UnitResult
		want    int
	}{
		{"all pass", []types.UnitResult{{TestsRun: 3}}, 0},
		{"expected failures are fine", []types.UnitResult{{TestsRun: 1, ExpectedFailures: 1}}, 0},
		{"unexpected success counts", []types.UnitResult{{TestsRun: 1, UnexpectedSuccesses: 1}}, 1},
		{"clamped", []types.UnitResult{{UnexpectedSuccesses: 300}}, 255},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Aggregate(tt.results)
			assert.Equal(t, tt.want, r.ExitCode())
			assert.Equal(t, tt.want == 0, r.IsSuccess())
		})
	}
}

// Two passing units and one failing unit in a three slot pool
func TestReport_OneFailingUnit(t *testing.T) {
	results := []types.UnitResult{
		{UnitID: "a", TestsRun: 1},
		{UnitID: "b", TestsRun: 1, Failures: []types.FormattedError{failure("TestB")}},
		{UnitID: "c", TestsRun: 1},
	}
	r := Aggregate(results)

	require.Len(t, r.Failures, 1)
	assert.Equal(t, 3, r.TestsRun)
	assert.Equal(t, 1, r.ExitCode())

	var buf bytes.Buffer
	require.NoError(t, r.WriteSummary(&buf, 1500*time.Millisecond))
	out := buf.String()
	assert.Contains(t, out, "TestB (example.com/m)")
	assert.Contains(t, out, "Ran 3 tests in 1.500s")
	assert.True(t, strings.HasSuffix(out, "FAILED (failures=1)\n"))
}

func TestReport_WriteSummary(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Aggregate([]types.UnitResult{{TestsRun: 1}}).WriteSummary(&buf, 0))
		assert.Equal(t, types.Separator2+"\nRan 1 test in 0.000s\n\nOK\n", buf.String())
	})

	t.Run("no tests", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Aggregate(nil).WriteSummary(&buf, 0))
		assert.Equal(t, types.Separator2+"\nRan 0 test in 0.000s\n\nOK\n", buf.String())
	})

	t.Run("ok with details", func(t *testing.T) {
		var buf bytes.Buffer
		r := Aggregate([]types.UnitResult{{TestsRun: 3, Skipped: 1, ExpectedFailures: 1}})
		require.NoError(t, r.WriteSummary(&buf, time.Second))
		assert.Contains(t, buf.String(), "OK (skipped=1, expected failures=1)\n")
	})

	t.Run("errors before failures", func(t *testing.T) {
		var buf bytes.Buffer
		r := Aggregate([]types.UnitResult{
			{TestsRun: 1, Failures: []types.FormattedError{failure("TestFailing")}},
			{TestsRun: 1, Errors: []types.FormattedError{failure("TestErroring")}, UnexpectedSuccesses: 1},
		})
		require.NoError(t, r.WriteSummary(&buf, time.Second))
		out := buf.String()
		assert.Less(t, strings.Index(out, "TestErroring"), strings.Index(out, "TestFailing"))
		assert.Contains(t, out, "FAILED (failures=1, errors=1, unexpected successes=1)\n")
	})
}

func TestReport_Summary(t *testing.T) {
	r := Aggregate([]types.UnitResult{
		{TestsRun: 2, Failures: []types.FormattedError{failure("TestA")}, Skipped: 1},
		types.NewZeroResult("b"),
	})
	s := r.Summary("run-1", 2*time.Second)
	assert.Equal(t, Summary{
		RunID:           "run-1",
		Success:         false,
		ExitCode:        1,
		TestsRun:        2,
		Failures:        1,
		Skipped:         1,
		FastFailedUnits: 1,
		Duration:        "2s",
	}, s)
}

func TestWriteUnitsTable(t *testing.T) {
	var buf bytes.Buffer
	WriteUnitsTable(&buf, []types.UnitResult{
		{UnitID: "example.com/m.TestA", TestsRun: 1, Duration: 12 * time.Millisecond},
		{UnitID: "example.com/m.TestB", TestsRun: 1, Failures: []types.FormattedError{failure("TestB")}},
		types.NewZeroResult("example.com/m.TestC"),
	})
	out := buf.String()
	assert.Contains(t, out, "example.com/m.TestA")
	assert.Contains(t, out, StatusPass)
	assert.Contains(t, out, StatusFail)
	assert.Contains(t, out, StatusFastFailed)
	assert.Contains(t, out, "12ms")
	assert.Contains(t, out, "TOTAL")
}
