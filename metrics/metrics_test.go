package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-parallel/types"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name: "simple error",
			err:  errors.New("test error"),
		},
		{
			name: "error with special chars",
			err:  errors.New("test@error#123"),
		},
		{
			name: "error with multiple spaces",
			err:  errors.New("test   error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errToLabel(tt.err)
			validLabelRegex := regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)
			if !validLabelRegex.MatchString(result) {
				t.Errorf("errLabel() = %v, is not a valid Prometheus label", result)
			}
		})
	}
}

func TestRecordError(t *testing.T) {
	// just test that it doesn't panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("RecordError panic'd")
		}
	}()

	RecordError("test_error")
	RecordErrorDetails("label", errors.New("boom"))
}

func TestRecordUnitResult(t *testing.T) {
	RecordUnitResult("pkg.TestX", types.UnitResult{
		TestsRun: 3,
		Failures: []types.FormattedError{"boom"},
		Skipped:  1,
		Duration: 10 * time.Millisecond,
	})
	RecordUnitSkipped()

	path := filepath.Join(t.TempDir(), "units.prom")
	require.NoError(t, WriteTextfile(path))
	content, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Contains(t, string(content), `op_parallel_units_total{result="fail"}`)
	assert.Contains(t, string(content), `op_parallel_units_total{result="fastfail"}`)
	assert.Contains(t, string(content), `op_parallel_tests_total{result="skip"}`)
	assert.Contains(t, string(content), "op_parallel_unit_duration_seconds_count")
}

func TestWriteTextfile(t *testing.T) {
	RecordWorkers(4)
	RecordRun("run-1", true, time.Second)
	RecordCoverage("run-1", 66.5)

	path := filepath.Join(t.TempDir(), "op-parallel.prom")
	require.NoError(t, WriteTextfile(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "op_parallel_workers 4")
	assert.Contains(t, string(content), `op_parallel_coverage_percent{run_id="run-1"} 66.5`)
}
