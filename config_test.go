package parallel

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-parallel/flags"
	"github.com/ethereum-optimism/infra/op-parallel/runner"
	"github.com/ethereum-optimism/infra/op-parallel/types"
)

// configFromArgs parses args the way the binary does and returns the config
func configFromArgs(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var (
		cfg    *Config
		cfgErr error
	)
	app := cli.NewApp()
	app.Flags = flags.Flags
	app.Action = func(ctx *cli.Context) error {
		cfg, cfgErr = NewConfig(ctx, log.NewLogger(log.DiscardHandler()))
		return nil
	}
	require.NoError(t, app.Run(append([]string{"op-parallel"}, args...)))
	return cfg, cfgErr
}

func TestNewConfig(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name        string
		args        []string
		granularity types.Granularity
		verbosity   int
		coverage    bool
	}{
		{
			name:        "defaults",
			granularity: types.GranularityTestCase,
			verbosity:   runner.VerbosityDots,
		},
		{
			name:        "class fixtures",
			args:        []string{"--class-fixtures"},
			granularity: types.GranularityClassFixture,
			verbosity:   runner.VerbosityDots,
		},
		{
			name:        "module fixtures win over class fixtures",
			args:        []string{"--class-fixtures", "--module-fixtures"},
			granularity: types.GranularityModuleFixture,
			verbosity:   runner.VerbosityDots,
		},
		{
			name:        "fixture flag wins over granularity",
			args:        []string{"--granularity", "test-case", "--class-fixtures"},
			granularity: types.GranularityClassFixture,
			verbosity:   runner.VerbosityDots,
		},
		{
			name:        "quiet",
			args:        []string{"-q"},
			granularity: types.GranularityTestCase,
			verbosity:   runner.VerbosityQuiet,
		},
		{
			name:        "verbose wins over quiet",
			args:        []string{"-q", "-v"},
			granularity: types.GranularityTestCase,
			verbosity:   runner.VerbosityVerbose,
		},
		{
			name:        "coverage",
			args:        []string{"--coverage"},
			granularity: types.GranularityTestCase,
			verbosity:   runner.VerbosityDots,
			coverage:    true,
		},
		{
			name:        "coverage switched off",
			args:        []string{"--coverage=false"},
			granularity: types.GranularityTestCase,
			verbosity:   runner.VerbosityDots,
		},
		{
			name:        "branch coverage implies coverage",
			args:        []string{"--coverage-branch"},
			granularity: types.GranularityTestCase,
			verbosity:   runner.VerbosityDots,
			coverage:    true,
		},
		{
			name:        "any coverage option enables coverage",
			args:        []string{"--coverage-fail-under", "50"},
			granularity: types.GranularityTestCase,
			verbosity:   runner.VerbosityDots,
			coverage:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := configFromArgs(t, append([]string{"-s", dir}, tt.args...)...)
			require.NoError(t, err)
			assert.Equal(t, tt.granularity, cfg.Granularity)
			assert.Equal(t, tt.verbosity, cfg.Verbosity)
			assert.Equal(t, tt.coverage, cfg.Coverage.Enabled)
			assert.Equal(t, dir, cfg.StartDir)
			assert.Equal(t, dir, cfg.TopLevelDir)
		})
	}
}

func TestNewConfig_CoverageFromEnv(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("OP_PARALLEL_COVERAGE", "false")
	cfg, err := configFromArgs(t, "-s", dir)
	require.NoError(t, err)
	assert.False(t, cfg.Coverage.Enabled)

	t.Setenv("OP_PARALLEL_COVERAGE", "true")
	cfg, err = configFromArgs(t, "-s", dir)
	require.NoError(t, err)
	assert.True(t, cfg.Coverage.Enabled)
}

func TestNewConfig_Options(t *testing.T) {
	dir := t.TempDir()
	top := filepath.Dir(dir)

	cfg, err := configFromArgs(t,
		"-s", dir,
		"-t", top,
		"-p", "*_integration_test.go",
		"-j", "3",
		"-f", "-b",
		"--timeout", "2m",
		"--log-dir", "logs",
	)
	require.NoError(t, err)

	assert.Equal(t, top, cfg.TopLevelDir)
	assert.Equal(t, "*_integration_test.go", cfg.Pattern)
	assert.Equal(t, 3, cfg.Jobs)
	assert.True(t, cfg.FailFast)
	assert.True(t, cfg.Buffer)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.True(t, filepath.IsAbs(cfg.LogDir))
	assert.False(t, cfg.MetricsConfig.Enabled)
}

func TestNewConfig_TimeoutUnset(t *testing.T) {
	cfg, err := configFromArgs(t, "-s", t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, cfg.Timeout)
}

func TestNewConfig_Errors(t *testing.T) {
	t.Run("missing start directory", func(t *testing.T) {
		_, err := configFromArgs(t, "-s", filepath.Join(t.TempDir(), "missing"))
		require.Error(t, err)
	})

	t.Run("start directory is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, nil, 0644))
		_, err := configFromArgs(t, "-s", file)
		require.Error(t, err)
	})

	t.Run("negative timeout", func(t *testing.T) {
		_, err := configFromArgs(t, "-s", t.TempDir(), "--timeout", "-1s")
		require.Error(t, err)
	})

	t.Run("fail-under out of range", func(t *testing.T) {
		_, err := configFromArgs(t, "-s", t.TempDir(), "--coverage-fail-under", "101")
		require.Error(t, err)
	})

	t.Run("missing coverage rc file", func(t *testing.T) {
		_, err := configFromArgs(t, "-s", t.TempDir(), "--coverage-rcfile", filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}

func TestConfigCheck_RCFile(t *testing.T) {
	dir := t.TempDir()
	rc := filepath.Join(dir, "coverage.yaml")
	require.NoError(t, os.WriteFile(rc, []byte("branch: true\nfail_under: 80\nomit:\n  - \"*_gen.go\"\n"), 0644))

	cfg := &Config{
		StartDir:    dir,
		Granularity: types.GranularityTestCase,
		Log:         log.NewLogger(log.DiscardHandler()),
	}
	cfg.Coverage.Enabled = true
	cfg.Coverage.RCFile = rc
	cfg.Coverage.FailUnder = 60

	require.NoError(t, cfg.Check())
	assert.Equal(t, dir, cfg.TopLevelDir)
	assert.True(t, cfg.Coverage.Branch)
	assert.Equal(t, 60.0, cfg.Coverage.FailUnder)
	assert.Equal(t, []string{"*_gen.go"}, cfg.Coverage.Omit)
	assert.NotNil(t, cfg.Stdout)
	assert.NotNil(t, cfg.Stderr)
}
