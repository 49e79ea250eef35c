package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-parallel/discovery"
	"github.com/ethereum-optimism/infra/op-parallel/runner"
	"github.com/ethereum-optimism/infra/op-parallel/types"
	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_PARALLEL"

func prefixEnvVars(name string) []string {
	return opservice.PrefixEnvVar(EnvVarPrefix, name)
}

const (
	runCategory      = "RUN"
	discoverCategory = "DISCOVERY"
	coverageCategory = "COVERAGE"
	outputCategory   = "OUTPUT"
)

var (
	Verbose = &cli.BoolFlag{
		Name:     "verbose",
		Aliases:  []string{"v"},
		EnvVars:  prefixEnvVars("VERBOSE"),
		Usage:    "Verbose output, one line per test",
		Category: outputCategory,
	}
	Quiet = &cli.BoolFlag{
		Name:     "quiet",
		Aliases:  []string{"q"},
		EnvVars:  prefixEnvVars("QUIET"),
		Usage:    "Quiet output, no per-test progress",
		Category: outputCategory,
	}
	Buffer = &cli.BoolFlag{
		Name:     "buffer",
		Aliases:  []string{"b"},
		EnvVars:  prefixEnvVars("BUFFER"),
		Usage:    "Buffer test output; it is only shown for failing tests",
		Category: outputCategory,
	}
	FailFast = &cli.BoolFlag{
		Name:     "failfast",
		Aliases:  []string{"f"},
		EnvVars:  prefixEnvVars("FAILFAST"),
		Usage:    "Stop starting new units after the first error or failure",
		Category: runCategory,
	}
	Jobs = &cli.IntFlag{
		Name:     "jobs",
		Aliases:  []string{"j"},
		Value:    0,
		EnvVars:  prefixEnvVars("JOBS"),
		Usage:    "Number of worker processes; 0 uses every CPU, a negative value runs serially",
		Category: runCategory,
	}
	Granularity = &cli.StringFlag{
		Name:     "granularity",
		Value:    string(types.GranularityTestCase),
		EnvVars:  prefixEnvVars("GRANULARITY"),
		Usage:    fmt.Sprintf("Unit of parallelism: %s, %s or %s", types.GranularityTestCase, types.GranularityClassFixture, types.GranularityModuleFixture),
		Category: runCategory,
		Action: func(_ *cli.Context, v string) error {
			_, err := types.ParseGranularity(v)
			return err
		},
	}
	ClassFixtures = &cli.BoolFlag{
		Name:     "class-fixtures",
		EnvVars:  prefixEnvVars("CLASS_FIXTURES"),
		Usage:    "Run every test file as one unit, sharing its setup",
		Category: runCategory,
	}
	ModuleFixtures = &cli.BoolFlag{
		Name:     "module-fixtures",
		EnvVars:  prefixEnvVars("MODULE_FIXTURES"),
		Usage:    "Run every package as one unit, sharing its TestMain (wins over --class-fixtures)",
		Category: runCategory,
	}
	StartDirectory = &cli.StringFlag{
		Name:     "start-directory",
		Aliases:  []string{"s"},
		Value:    ".",
		EnvVars:  prefixEnvVars("START_DIRECTORY"),
		Usage:    "Directory to start discovery",
		Category: discoverCategory,
	}
	Pattern = &cli.StringFlag{
		Name:     "pattern",
		Aliases:  []string{"p"},
		Value:    discovery.DefaultPattern,
		EnvVars:  prefixEnvVars("PATTERN"),
		Usage:    "Pattern to match test files",
		Category: discoverCategory,
	}
	TopLevelDirectory = &cli.StringFlag{
		Name:     "top-level-directory",
		Aliases:  []string{"t"},
		EnvVars:  prefixEnvVars("TOP_LEVEL_DIRECTORY"),
		Usage:    "Top level directory of the project, defaults to the start directory",
		Category: discoverCategory,
	}
	List = &cli.BoolFlag{
		Name:     "list",
		EnvVars:  prefixEnvVars("LIST"),
		Usage:    "Print the discovered tests and execution units, then exit",
		Category: discoverCategory,
	}
	RunConfig = &cli.StringFlag{
		Name:     "config",
		EnvVars:  prefixEnvVars("CONFIG"),
		Usage:    "Path to a YAML run config (expected failures, go flags, env, timeout)",
		Category: runCategory,
	}
	Timeout = &cli.DurationFlag{
		Name:     "timeout",
		Value:    runner.DefaultTestTimeout,
		EnvVars:  prefixEnvVars("TIMEOUT"),
		Usage:    "go test -timeout for every package invocation",
		Category: runCategory,
	}
	GoBinary = &cli.StringFlag{
		Name:     "go-binary",
		Value:    runner.DefaultGoBinary,
		EnvVars:  prefixEnvVars("GO_BINARY"),
		Usage:    "Path to the Go binary to use for running tests",
		Category: runCategory,
	}
	GoFlags = &cli.StringSliceFlag{
		Name:     "go-flag",
		EnvVars:  prefixEnvVars("GO_FLAG"),
		Usage:    "Extra flag passed to every go test invocation (eg. '-race'), repeatable",
		Category: runCategory,
	}
	LogDir = &cli.StringFlag{
		Name:     "log-dir",
		EnvVars:  prefixEnvVars("LOG_DIR"),
		Usage:    "Directory for per-run artifacts (raw go test events, failed unit logs, summary); disabled when empty",
		Category: outputCategory,
	}
	MetricsTextfile = &cli.StringFlag{
		Name:     "metrics.textfile",
		EnvVars:  prefixEnvVars("METRICS_TEXTFILE"),
		Usage:    "Write Prometheus metrics of the run to this textfile",
		Category: outputCategory,
	}
	Coverage = &cli.BoolFlag{
		Name:     "coverage",
		EnvVars:  prefixEnvVars("COVERAGE"),
		Usage:    "Collect and report statement coverage",
		Category: coverageCategory,
	}
	CoverageBranch = &cli.BoolFlag{
		Name:     "coverage-branch",
		EnvVars:  prefixEnvVars("COVERAGE_BRANCH"),
		Usage:    "Collect hit counts (-covermode=atomic); implies --coverage",
		Category: coverageCategory,
	}
	CoverageRCFile = &cli.StringFlag{
		Name:     "coverage-rcfile",
		EnvVars:  prefixEnvVars("COVERAGE_RCFILE"),
		Usage:    "YAML file with coverage defaults; implies --coverage",
		Category: coverageCategory,
	}
	CoverageInclude = &cli.StringSliceFlag{
		Name:     "coverage-include",
		EnvVars:  prefixEnvVars("COVERAGE_INCLUDE"),
		Usage:    "Only report files matching this glob, repeatable; implies --coverage",
		Category: coverageCategory,
	}
	CoverageOmit = &cli.StringSliceFlag{
		Name:     "coverage-omit",
		EnvVars:  prefixEnvVars("COVERAGE_OMIT"),
		Usage:    "Omit files matching this glob, repeatable; implies --coverage",
		Category: coverageCategory,
	}
	CoverageSource = &cli.StringSliceFlag{
		Name:     "coverage-source",
		EnvVars:  prefixEnvVars("COVERAGE_SOURCE"),
		Usage:    "Package pattern to measure (-coverpkg), repeatable; implies --coverage",
		Category: coverageCategory,
	}
	CoverageHTML = &cli.StringFlag{
		Name:     "coverage-html",
		EnvVars:  prefixEnvVars("COVERAGE_HTML"),
		Usage:    "Write an HTML coverage report into this directory; implies --coverage",
		Category: coverageCategory,
	}
	CoverageXML = &cli.StringFlag{
		Name:     "coverage-xml",
		EnvVars:  prefixEnvVars("COVERAGE_XML"),
		Usage:    "Write a Cobertura XML coverage report to this file; implies --coverage",
		Category: coverageCategory,
	}
	CoverageFailUnder = &cli.Float64Flag{
		Name:     "coverage-fail-under",
		EnvVars:  prefixEnvVars("COVERAGE_FAIL_UNDER"),
		Usage:    "Exit with status 2 when total coverage is below this percentage; implies --coverage",
		Category: coverageCategory,
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	Verbose,
	Quiet,
	Buffer,
	FailFast,
	Jobs,
	Granularity,
	ClassFixtures,
	ModuleFixtures,
	StartDirectory,
	Pattern,
	TopLevelDirectory,
	List,
	RunConfig,
	Timeout,
	GoBinary,
	GoFlags,
	LogDir,
	MetricsTextfile,
	Coverage,
	CoverageBranch,
	CoverageRCFile,
	CoverageInclude,
	CoverageOmit,
	CoverageSource,
	CoverageHTML,
	CoverageXML,
	CoverageFailUnder,
}

// CoverageFlags are the coverage options. The two switches enable coverage
// when true, every other option enables it when set.
var CoverageFlags = []cli.Flag{
	Coverage,
	CoverageBranch,
	CoverageRCFile,
	CoverageInclude,
	CoverageOmit,
	CoverageSource,
	CoverageHTML,
	CoverageXML,
	CoverageFailUnder,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
