package parallel

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-parallel/coverage"
	"github.com/ethereum-optimism/infra/op-parallel/flags"
	"github.com/ethereum-optimism/infra/op-parallel/runner"
	"github.com/ethereum-optimism/infra/op-parallel/types"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

// Config holds the application configuration
type Config struct {
	StartDir    string            // Absolute directory discovery starts from
	TopLevelDir string            // Absolute project root, import paths resolve against it
	Pattern     string            // Test file glob
	Granularity types.Granularity // Unit of parallelism
	Jobs        int               // Requested pool size, see runner.EffectiveWorkers
	Verbosity   int               // runner.VerbosityQuiet, VerbosityDots or VerbosityVerbose
	FailFast    bool              // Stop starting units after the first problem
	Buffer      bool              // Only show test output for failing tests
	List        bool              // Print tests and units, then exit

	RunConfig string        // Optional YAML run config
	Timeout   time.Duration // go test -timeout, zero uses the run config or the default
	GoBinary  string
	GoFlags   []string

	LogDir          string // Per-run artifacts, disabled when empty
	MetricsTextfile string // Prometheus textfile written after the run
	MetricsConfig   opmetrics.CLIConfig

	Coverage coverage.Config

	Log    log.Logger
	Stdout io.Writer // Listing
	Stderr io.Writer // Progress, test report and coverage report
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	startDir, err := filepath.Abs(ctx.String(flags.StartDirectory.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for start directory: %w", err)
	}
	topLevelDir := startDir
	if dir := ctx.String(flags.TopLevelDirectory.Name); dir != "" {
		if topLevelDir, err = filepath.Abs(dir); err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for top level directory: %w", err)
		}
	}

	granularity, err := resolveGranularity(ctx)
	if err != nil {
		return nil, err
	}

	runConfig := ctx.String(flags.RunConfig.Name)
	if runConfig != "" {
		if runConfig, err = filepath.Abs(runConfig); err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for run config: %w", err)
		}
	}

	logDir := ctx.String(flags.LogDir.Name)
	if logDir != "" {
		if logDir, err = filepath.Abs(logDir); err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for log directory: %w", err)
		}
	}

	var timeout time.Duration
	if ctx.IsSet(flags.Timeout.Name) {
		timeout = ctx.Duration(flags.Timeout.Name)
	}

	cfg := &Config{
		StartDir:        startDir,
		TopLevelDir:     topLevelDir,
		Pattern:         ctx.String(flags.Pattern.Name),
		Granularity:     granularity,
		Jobs:            ctx.Int(flags.Jobs.Name),
		Verbosity:       resolveVerbosity(ctx),
		FailFast:        ctx.Bool(flags.FailFast.Name),
		Buffer:          ctx.Bool(flags.Buffer.Name),
		List:            ctx.Bool(flags.List.Name),
		RunConfig:       runConfig,
		Timeout:         timeout,
		GoBinary:        ctx.String(flags.GoBinary.Name),
		GoFlags:         ctx.StringSlice(flags.GoFlags.Name),
		LogDir:          logDir,
		MetricsTextfile: ctx.String(flags.MetricsTextfile.Name),
		MetricsConfig:   opmetrics.ReadCLIConfig(ctx),
		Coverage:        readCoverageConfig(ctx),
		Log:             log,
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveGranularity applies the fixture flags; --module-fixtures wins over
// --class-fixtures, both win over --granularity.
func resolveGranularity(ctx *cli.Context) (types.Granularity, error) {
	switch {
	case ctx.Bool(flags.ModuleFixtures.Name):
		return types.GranularityModuleFixture, nil
	case ctx.Bool(flags.ClassFixtures.Name):
		return types.GranularityClassFixture, nil
	}
	return types.ParseGranularity(ctx.String(flags.Granularity.Name))
}

func resolveVerbosity(ctx *cli.Context) int {
	switch {
	case ctx.Bool(flags.Verbose.Name):
		return runner.VerbosityVerbose
	case ctx.Bool(flags.Quiet.Name):
		return runner.VerbosityQuiet
	}
	return runner.VerbosityDots
}

func readCoverageConfig(ctx *cli.Context) coverage.Config {
	// The switches are read by value; any other coverage option implies coverage
	enabled := ctx.Bool(flags.Coverage.Name) || ctx.Bool(flags.CoverageBranch.Name)
	for _, f := range flags.CoverageFlags {
		if _, isSwitch := f.(*cli.BoolFlag); isSwitch {
			continue
		}
		if ctx.IsSet(f.Names()[0]) {
			enabled = true
			break
		}
	}
	return coverage.Config{
		Enabled:   enabled,
		Branch:    ctx.Bool(flags.CoverageBranch.Name),
		Include:   ctx.StringSlice(flags.CoverageInclude.Name),
		Omit:      ctx.StringSlice(flags.CoverageOmit.Name),
		Source:    ctx.StringSlice(flags.CoverageSource.Name),
		RCFile:    ctx.String(flags.CoverageRCFile.Name),
		HTMLDir:   ctx.String(flags.CoverageHTML.Name),
		XMLFile:   ctx.String(flags.CoverageXML.Name),
		FailUnder: ctx.Float64(flags.CoverageFailUnder.Name),
	}
}

// Check validates the config and merges the coverage rc file
func (c *Config) Check() error {
	if c.StartDir == "" {
		return errors.New("start directory is required")
	}
	info, err := os.Stat(c.StartDir)
	if err != nil {
		return fmt.Errorf("start directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("start directory %s is not a directory", c.StartDir)
	}
	if c.TopLevelDir == "" {
		c.TopLevelDir = c.StartDir
	}
	if !c.Granularity.IsValid() {
		return fmt.Errorf("invalid granularity %q", c.Granularity)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %v", c.Timeout)
	}
	if err := c.MetricsConfig.Check(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}
	if c.Coverage.Enabled {
		if err := c.Coverage.ApplyRCFile(); err != nil {
			return err
		}
		if err := c.Coverage.Validate(); err != nil {
			return err
		}
	}
	if c.Stdout == nil {
		c.Stdout = io.Discard
	}
	if c.Stderr == nil {
		c.Stderr = io.Discard
	}
	return nil
}
