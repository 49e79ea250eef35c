package runner

import "time"

// Test execution constants
const (
	// DefaultTestTimeout is passed to go test -timeout when none is configured
	DefaultTestTimeout = 10 * time.Minute

	// Default go binary name
	DefaultGoBinary = "go"

	// Test command arguments
	TestCommand   = "test"
	JSONFlag      = "-json"
	TimeoutFlag   = "-timeout"
	CountFlag     = "-count"
	RunFlag       = "-run"
	FailFastFlag  = "-failfast"
	CoverProfile  = "-coverprofile"
	CurrentDirPkg = "."

	// Test count to disable caching
	DisableCacheCount = "1"

	// MaxReasonableConcurrency is the pool size above which a warning is logged
	MaxReasonableConcurrency = 32
)

// Verbosity levels understood by the runner
const (
	VerbosityQuiet   = 0
	VerbosityDots    = 1
	VerbosityVerbose = 2
)
