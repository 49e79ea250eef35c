package runner

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-parallel/types"
)

// Go test2json (TestEvent) action constants for JSON test output
// See https://cs.opensource.google/go/go/+/master:src/cmd/test2json/main.go;l=34-60
const (
	ActionStart       = "start"
	ActionRun         = "run"
	ActionPass        = "pass"
	ActionFail        = "fail"
	ActionSkip        = "skip"
	ActionOutput      = "output"
	ActionBuildOutput = "build-output"
	ActionBuildFail   = "build-fail"
)

// TestEvent represents a single event from the go test JSON output
type TestEvent struct {
	Time       time.Time // Time the event occurred
	Action     string    // The action taken (run, pause, cont, pass, fail, skip, output)
	Package    string    // The package being tested
	Test       string    // The test function name (may be empty for package events)
	Output     string    // Output text (may be empty)
	Elapsed    float64   // Elapsed time in seconds for the specific action
	ImportPath string    // Set on build events
}

// Outcome is the classified result of a single test
type Outcome int

const (
	OutcomePass Outcome = iota
	OutcomeFail
	OutcomeError
	OutcomeSkip
	OutcomeExpectedFailure
	OutcomeUnexpectedSuccess
)

// ExpectedFailures reports whether a test is known to fail
type ExpectedFailures interface {
	IsExpectedFailure(pkg, name string) bool
}

type testState struct {
	ref     types.TestRef
	started bool
	done    bool
	output  strings.Builder
}

// eventParser folds the test2json stream of one package invocation into a
// raw result. Subtest events are attributed to their top-level test.
type eventParser struct {
	pkg      types.PackageTests
	expected ExpectedFailures

	tests      map[string]*testState
	order      []*testState
	pending    []*testState // Failed tests not yet classified
	pkgOutput  strings.Builder
	pkgAction  string
	failEvents int

	onOutcome func(ref types.TestRef, outcome Outcome)
	onOutput  func(output string)

	result *types.RawResult
}

func newEventParser(pkg types.PackageTests, expected ExpectedFailures) *eventParser {
	p := &eventParser{
		pkg:      pkg,
		expected: expected,
		tests:    make(map[string]*testState),
		result:   &types.RawResult{},
	}
	for _, ref := range pkg.Tests {
		state := &testState{ref: ref}
		p.tests[ref.Name] = state
		p.order = append(p.order, state)
	}
	return p
}

// handle consumes one line of go test -json output. Lines that are not JSON
// are kept as package output.
func (p *eventParser) handle(line []byte) {
	var event TestEvent
	if err := json.Unmarshal(line, &event); err != nil || event.Action == "" {
		p.pkgOutput.Write(line)
		p.pkgOutput.WriteByte('\n')
		return
	}

	if event.Test == "" {
		switch event.Action {
		case ActionOutput, ActionBuildOutput:
			p.pkgOutput.WriteString(event.Output)
		case ActionPass, ActionFail, ActionSkip:
			p.pkgAction = event.Action
		case ActionBuildFail:
			p.pkgAction = ActionFail
		}
		return
	}

	name, _, _ := strings.Cut(event.Test, "/")
	state, ok := p.tests[name]
	if !ok {
		state = &testState{ref: types.TestRef{
			Package: p.pkg.Package,
			Dir:     p.pkg.Dir,
			Name:    name,
		}}
		if len(p.pkg.Tests) > 0 {
			state.ref.File = p.pkg.Tests[0].File
		}
		p.tests[name] = state
		p.order = append(p.order, state)
	}

	switch event.Action {
	case ActionOutput:
		if !isFramingLine(event.Output) {
			state.output.WriteString(event.Output)
		}
		if p.onOutput != nil {
			p.onOutput(event.Output)
		}
	case ActionRun:
		if event.Test == name {
			p.flush(false)
			state.started = true
		}
	case ActionPass, ActionFail, ActionSkip:
		if event.Test != name || state.done {
			return
		}
		p.flush(false)
		state.started = true
		state.done = true
		if event.Action == ActionFail {
			// A panic is printed after the test reports its failure, so
			// failures are classified once the next test starts or the
			// process exits.
			p.failEvents++
			p.pending = append(p.pending, state)
			return
		}
		p.record(state, p.classify(state, event.Action, ""))
	}
}

// flush classifies pending failures. exited is set once the process is gone,
// when trailing package output may carry a panic for the last failure.
func (p *eventParser) flush(exited bool) {
	for i, state := range p.pending {
		trailing := ""
		if exited && i == len(p.pending)-1 {
			trailing = p.pkgOutput.String()
		}
		p.record(state, p.classify(state, ActionFail, trailing))
	}
	p.pending = nil
}

func (p *eventParser) classify(state *testState, action string, trailing string) Outcome {
	switch action {
	case ActionSkip:
		return OutcomeSkip
	case ActionPass:
		if p.isExpectedFailure(state.ref) {
			return OutcomeUnexpectedSuccess
		}
		return OutcomePass
	default:
		if isPanic(state.output.String()) {
			return OutcomeError
		}
		if isPanic(trailing) {
			state.output.WriteString(trailing)
			return OutcomeError
		}
		if p.isExpectedFailure(state.ref) {
			return OutcomeExpectedFailure
		}
		return OutcomeFail
	}
}

func (p *eventParser) record(state *testState, outcome Outcome) {
	r := p.result
	r.TestsRun++
	switch outcome {
	case OutcomeSkip:
		r.Skipped++
	case OutcomeUnexpectedSuccess:
		r.UnexpectedSuccesses++
	case OutcomeExpectedFailure:
		r.ExpectedFailures++
	case OutcomeError:
		r.Errors = append(r.Errors, types.RawError{Test: state.ref, Output: state.output.String()})
	case OutcomeFail:
		r.Failures = append(r.Failures, types.RawError{Test: state.ref, Output: state.output.String()})
	}
	if p.onOutcome != nil {
		p.onOutcome(state.ref, outcome)
	}
}

// finish closes the stream once the process has exited. exitErr is the
// process wait error and stderr whatever the process wrote there.
func (p *eventParser) finish(exitErr error, stderr string) *types.RawResult {
	p.flush(exitErr != nil)
	anyDone := false
	for _, state := range p.order {
		if state.done {
			anyDone = true
			continue
		}
		if !state.started {
			continue
		}
		// Started but never reported: the binary died under it
		state.done = true
		anyDone = true
		state.output.WriteString(p.pkgOutput.String())
		state.output.WriteString("test did not complete\n")
		p.record(state, OutcomeError)
	}

	failed := p.pkgAction == ActionFail || exitErr != nil
	if failed && (!anyDone || p.failEvents == 0) && len(p.result.Errors) == 0 {
		output := strings.TrimRight(p.pkgOutput.String(), "\n")
		if stderr != "" {
			if output != "" {
				output += "\n"
			}
			output += stderr
		}
		if strings.TrimSpace(output) == "" && exitErr != nil {
			output = exitErr.Error()
		}
		p.result.Errors = append(p.result.Errors, types.RawError{
			Test:   types.TestRef{Package: p.pkg.Package, Dir: p.pkg.Dir},
			Output: output,
		})
		if p.onOutcome != nil {
			p.onOutcome(types.TestRef{Package: p.pkg.Package, Dir: p.pkg.Dir}, OutcomeError)
		}
	}
	return p.result
}

func (p *eventParser) isExpectedFailure(ref types.TestRef) bool {
	return p.expected != nil && p.expected.IsExpectedFailure(ref.Package, ref.Name)
}

// isFramingLine matches the === RUN/PAUSE/CONT/NAME markers go test prints
func isFramingLine(output string) bool {
	return strings.HasPrefix(strings.TrimLeft(output, " "), "=== ")
}

func isPanic(output string) bool {
	return strings.HasPrefix(output, "panic: ") || strings.Contains(output, "\npanic: ")
}
