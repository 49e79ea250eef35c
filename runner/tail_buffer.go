package runner

import (
	"sync"
)

const defaultStderrTailBytes = 256 * 1024

// tailBuffer keeps only the last N bytes written to it, so a runaway child
// process cannot grow the captured stderr without bound.
type tailBuffer struct {
	maxBytes int

	mu       sync.Mutex
	total    int64
	contents []byte
}

func newTailBuffer(maxBytes int) *tailBuffer {
	if maxBytes <= 0 {
		maxBytes = defaultStderrTailBytes
	}
	return &tailBuffer{maxBytes: maxBytes}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))
	b.contents = append(b.contents, p...)
	if len(b.contents) > b.maxBytes {
		b.contents = b.contents[len(b.contents)-b.maxBytes:]
	}
	return len(p), nil
}

// String returns the kept tail, prefixed with a marker when bytes were dropped
func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if int64(len(b.contents)) < b.total {
		return "...[truncated]...\n" + string(b.contents)
	}
	return string(b.contents)
}
