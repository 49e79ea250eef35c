package parallel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-parallel/coverage"
	"github.com/ethereum-optimism/infra/op-parallel/logging"
	"github.com/ethereum-optimism/infra/op-parallel/reporting"
	"github.com/ethereum-optimism/infra/op-parallel/runner"
	"github.com/ethereum-optimism/infra/op-parallel/types"
)

func requireGo(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping go test integration in short mode")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go binary not available")
	}
}

// createModule writes a throwaway module with the given files
func createModule(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/m\n\ngo 1.21\n"), 0644))
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func testFile(names ...string) string {
	var b strings.Builder
	b.WriteString("package m\n\nimport \"testing\"\n\n")
	for _, name := range names {
		fmt.Fprintf(&b, "func %s(t *testing.T) {}\n", name)
	}
	return b.String()
}

type testOutput struct {
	stdout, stderr bytes.Buffer
}

func newTestConfig(t *testing.T, dir string, out *testOutput) *Config {
	t.Helper()
	return &Config{
		StartDir:    dir,
		TopLevelDir: dir,
		Pattern:     "*_test.go",
		Granularity: types.GranularityTestCase,
		Verbosity:   runner.VerbosityDots,
		GoBinary:    "go",
		Log:         log.NewLogger(log.DiscardHandler()),
		Stdout:      &out.stdout,
		Stderr:      &out.stderr,
	}
}

// Ten independent passing tests
func TestRun_AllPass(t *testing.T) {
	requireGo(t)
	dir := createModule(t, map[string]string{
		"a_test.go": testFile("TestA1", "TestA2", "TestA3", "TestA4", "TestA5"),
		"b_test.go": testFile("TestB1", "TestB2", "TestB3", "TestB4", "TestB5"),
	})
	var out testOutput
	cfg := newTestConfig(t, dir, &out)
	cfg.Jobs = 4

	r, err := NewRunner(cfg)
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Units, 10)
	require.Len(t, res.Results, 10)
	assert.Equal(t, 4, res.Workers)
	assert.Equal(t, 10, res.Report.TestsRun)
	assert.True(t, res.Report.IsSuccess())
	assert.Equal(t, 0, res.Report.ExitCode())
	for i, unitResult := range res.Results {
		assert.Equal(t, res.Units[i].ID, unitResult.UnitID)
	}

	stderr := out.stderr.String()
	assert.Contains(t, stderr, "Running 10 test suites (10 total tests) across 4 processes")
	assert.Contains(t, stderr, "..........")
	assert.Contains(t, stderr, "Ran 10 tests in")
	assert.True(t, strings.HasSuffix(stderr, "\nOK\n"))
}

// Five tests run serially; the third fails with fail-fast and buffering on
func TestRun_FailFast(t *testing.T) {
	requireGo(t)
	dir := createModule(t, map[string]string{
		"m_test.go": `package m

import (
	"fmt"
	"testing"
)

func TestA(t *testing.T) {}
func TestB(t *testing.T) {}
func TestC(t *testing.T) {
	fmt.Println("buffered output of C")
	t.Fatal("C is broken")
}
func TestD(t *testing.T) {}
func TestE(t *testing.T) {}
`,
	})
	var out testOutput
	cfg := newTestConfig(t, dir, &out)
	cfg.Jobs = -1
	cfg.FailFast = true
	cfg.Buffer = true
	cfg.LogDir = t.TempDir()

	r, err := NewRunner(cfg)
	require.NoError(t, err)
	res, err := r.Run(context.Background())

	require.Error(t, err)
	require.True(t, IsTestFailureError(err))
	assert.Equal(t, 1, ExitCode(err))
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Workers)

	require.Len(t, res.Results, 5)
	assert.Equal(t, 1, res.Results[0].TestsRun)
	assert.Equal(t, 1, res.Results[1].TestsRun)
	require.Len(t, res.Results[2].Failures, 1)
	assert.Contains(t, string(res.Results[2].Failures[0]), "TestC (example.com/m)")
	assert.Contains(t, string(res.Results[2].Failures[0]), "C is broken")
	assert.Contains(t, string(res.Results[2].Failures[0]), "buffered output of C")
	assert.True(t, res.Results[2].ShouldStop)
	for _, late := range res.Results[3:] {
		assert.True(t, late.FastFailed)
		assert.Zero(t, late.TestsRun)
	}

	assert.Equal(t, 3, res.Report.TestsRun)
	assert.Equal(t, 2, res.Report.FastFailed)
	assert.Contains(t, out.stderr.String(), "FAILED (failures=1)")

	// Run artifacts
	require.NotEmpty(t, res.LogDir)
	data, err := os.ReadFile(filepath.Join(res.LogDir, logging.SummaryJSONName))
	require.NoError(t, err)
	var summary reporting.Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, res.RunID, summary.RunID)
	assert.False(t, summary.Success)
	assert.Equal(t, 1, summary.Failures)
	assert.Equal(t, 2, summary.FastFailedUnits)
	assert.FileExists(t, filepath.Join(res.LogDir, logging.FailedDirname, "example.com_m.TestC.log"))
	assert.FileExists(t, filepath.Join(res.LogDir, logging.RawEventsFilename))
}

// Three units each cover one function; the merged percentage comes from the
// union of their three profiles
func TestRun_Coverage(t *testing.T) {
	requireGo(t)
	dir := createModule(t, map[string]string{
		"m.go": `package m

func A() int { return 1 }

func B() int { return 2 }

func C() int { return 3 }

func D() int { return 4 }
`,
		"m_test.go": `package m

import "testing"

func TestA(t *testing.T) { _ = A() }
func TestB(t *testing.T) { _ = B() }
func TestC(t *testing.T) { _ = C() }
`,
	})
	var out testOutput
	cfg := newTestConfig(t, dir, &out)
	cfg.Jobs = 3
	cfg.Coverage = coverage.Config{
		Enabled: true,
		XMLFile: "coverage.xml",
	}

	r, err := NewRunner(cfg)
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Workers)
	require.NotNil(t, res.Coverage)
	assert.InDelta(t, 75.0, *res.Coverage, 1e-9)
	assert.Contains(t, out.stderr.String(), "Total coverage is 75.00%")
	assert.Empty(t, out.stdout.String())
	assert.FileExists(t, filepath.Join(dir, "coverage.xml"))

	t.Run("fail under", func(t *testing.T) {
		var out testOutput
		cfg := newTestConfig(t, dir, &out)
		cfg.Coverage = coverage.Config{Enabled: true, FailUnder: 80}

		r, err := NewRunner(cfg)
		require.NoError(t, err)
		_, err = r.Run(context.Background())
		require.Error(t, err)
		assert.True(t, IsCoverageError(err))
		assert.Equal(t, 2, ExitCode(err))
	})
}

func TestRun_ExpectedFailures(t *testing.T) {
	requireGo(t)
	dir := createModule(t, map[string]string{
		"m_test.go": `package m

import "testing"

func TestKnownBroken(t *testing.T) { t.Fatal("still broken") }
func TestFine(t *testing.T)        {}
`,
		"op-parallel.yaml": "expected_failures:\n  - package: example.com/m\n    name: TestKnownBroken\n",
	})
	var out testOutput
	cfg := newTestConfig(t, dir, &out)
	cfg.RunConfig = filepath.Join(dir, "op-parallel.yaml")

	r, err := NewRunner(cfg)
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.ExpectedFailures)
	assert.Contains(t, out.stderr.String(), "OK (expected failures=1)")
}

func TestRun_List(t *testing.T) {
	dir := createModule(t, map[string]string{
		"a_test.go":     testFile("TestA1", "TestA2"),
		"sub/b_test.go": "package sub\n\nimport \"testing\"\n\nfunc TestB(t *testing.T) {}\n",
	})
	var out testOutput
	cfg := newTestConfig(t, dir, &out)
	cfg.List = true
	cfg.Granularity = types.GranularityModuleFixture

	r, err := NewRunner(cfg)
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Units, 2)
	assert.Nil(t, res.Results)
	stdout := out.stdout.String()
	assert.Contains(t, stdout, "TestA2")
	assert.Contains(t, stdout, "2 execution units (module-fixture)")
	assert.Contains(t, stdout, "example.com/m/sub (1 tests)")
	assert.Empty(t, out.stderr.String())
}

func TestRun_DiscoveryError(t *testing.T) {
	dir := createModule(t, map[string]string{"a_test.go": testFile("TestA")})
	var out testOutput
	cfg := newTestConfig(t, dir, &out)
	cfg.Pattern = "[bad"

	r, err := NewRunner(cfg)
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.Equal(t, 2, ExitCode(err))
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(nil)
	require.Error(t, err)

	var out testOutput
	cfg := newTestConfig(t, filepath.Join(t.TempDir(), "missing"), &out)
	_, err = NewRunner(cfg)
	require.Error(t, err)

	cfg = newTestConfig(t, t.TempDir(), &out)
	cfg.RunConfig = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = NewRunner(cfg)
	require.Error(t, err)
}
