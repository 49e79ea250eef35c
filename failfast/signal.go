// Package failfast provides the stop signal shared by every worker of a run.
//
// Units execute in separate OS processes, so the signal lives on disk: a
// marker file inside the run's temporary directory. Any process that can see
// the directory can set or observe it.
package failfast

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// EnvVar is the environment variable carrying the marker path to child test processes
const EnvVar = "OP_PARALLEL_FAILFAST_FILE"

const markerName = "failfast"

// Signal is a two-state, write-once flag
type Signal interface {
	// IsSet reports whether any worker has requested a stop
	IsSet() bool
	// Set requests a stop. It is idempotent and safe under concurrent callers.
	Set()
}

var _ Signal = (*FileSignal)(nil)

// FileSignal implements Signal with a marker file
type FileSignal struct {
	path string
	set  atomic.Bool
}

// NewFileSignal creates a signal whose marker lives in dir. The directory
// must exist; the marker must not, so a fresh directory starts unset.
func NewFileSignal(dir string) (*FileSignal, error) {
	if dir == "" {
		return nil, errors.New("failfast: directory is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failfast: stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("failfast: %s is not a directory", dir)
	}
	return &FileSignal{path: filepath.Join(dir, markerName)}, nil
}

// Path returns the marker file path
func (s *FileSignal) Path() string {
	return s.path
}

// Env returns the KEY=VALUE pair exporting the marker path to a child process
func (s *FileSignal) Env() string {
	return EnvVar + "=" + s.path
}

// IsSet checks the local cache first and the marker file second
func (s *FileSignal) IsSet() bool {
	if s.set.Load() {
		return true
	}
	if _, err := os.Stat(s.path); err == nil {
		s.set.Store(true)
		return true
	}
	return false
}

// Set creates the marker file. Losing the creation race to another setter is
// equivalent to winning it.
func (s *FileSignal) Set() {
	s.set.Store(true)
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		// fs.ErrExist means another setter got there first
		return
	}
	_ = f.Close()
}

// IsSetFromEnv lets a test process observe the run's signal through EnvVar.
// It returns false when the variable is not present.
func IsSetFromEnv() bool {
	path := os.Getenv(EnvVar)
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
