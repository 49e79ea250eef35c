package runner

import (
	"fmt"
	"io"
	"sync"

	"github.com/ethereum-optimism/infra/op-parallel/types"
)

// ProgressWriter serializes live progress from every worker onto one writer
type ProgressWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewProgressWriter wraps w. A nil writer discards everything.
func NewProgressWriter(w io.Writer) *ProgressWriter {
	if w == nil {
		w = io.Discard
	}
	return &ProgressWriter{w: w}
}

// Write implements io.Writer under the writer's lock
func (p *ProgressWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w.Write(b)
}

// Outcome reports one classified test at the given verbosity
func (p *ProgressWriter) Outcome(ref types.TestRef, outcome Outcome, verbosity int) {
	switch {
	case verbosity >= VerbosityVerbose:
		fmt.Fprintf(p, "%s ... %s\n", ref.Description(), outcomeWord(outcome))
	case verbosity == VerbosityDots:
		_, _ = p.Write([]byte{outcomeChar(outcome)})
	}
}

func outcomeChar(o Outcome) byte {
	switch o {
	case OutcomeFail:
		return 'F'
	case OutcomeError:
		return 'E'
	case OutcomeSkip:
		return 's'
	case OutcomeExpectedFailure:
		return 'x'
	case OutcomeUnexpectedSuccess:
		return 'u'
	default:
		return '.'
	}
}

func outcomeWord(o Outcome) string {
	switch o {
	case OutcomeFail:
		return "FAIL"
	case OutcomeError:
		return "ERROR"
	case OutcomeSkip:
		return "skipped"
	case OutcomeExpectedFailure:
		return "expected failure"
	case OutcomeUnexpectedSuccess:
		return "unexpected success"
	default:
		return "ok"
	}
}
