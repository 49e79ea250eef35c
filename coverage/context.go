package coverage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ProfilePattern matches the per-unit profiles inside a run directory
const ProfilePattern = "coverage-*.out"

// Collector hands out one Context per unit, all writing into dir
type Collector struct {
	cfg Config
	dir string
}

// NewCollector creates a Collector writing profiles into dir
func NewCollector(cfg Config, dir string) (*Collector, error) {
	if dir == "" {
		return nil, errors.New("coverage directory is required")
	}
	return &Collector{cfg: cfg, dir: dir}, nil
}

// NewContext reserves a uniquely named profile file for one unit
func (c *Collector) NewContext() (*Context, error) {
	f, err := os.CreateTemp(c.dir, ProfilePattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create coverage profile: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to create coverage profile: %w", err)
	}

	mode := c.cfg.Mode()
	args := []string{"-coverprofile=" + f.Name(), "-covermode=" + mode}
	if len(c.cfg.Source) > 0 {
		args = append(args, "-coverpkg="+strings.Join(c.cfg.Source, ","))
	}
	return &Context{path: f.Name(), mode: mode, args: args}, nil
}

// Profiles lists every profile written into the collector's directory
func (c *Collector) Profiles() ([]string, error) {
	return filepath.Glob(filepath.Join(c.dir, ProfilePattern))
}

// Context is the coverage lifecycle of one unit. The child go test process
// does the measuring; the context owns the profile file it writes.
type Context struct {
	path string
	mode string
	args []string

	mu      sync.Mutex
	started bool
	stopped bool
	saved   bool
}

// Path returns the profile file of this context
func (c *Context) Path() string {
	return c.path
}

// Start returns the go test flags that direct the child's profile here
func (c *Context) Start() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	out := make([]string, len(c.args))
	copy(out, c.args)
	return out
}

// Stop marks measurement finished. The child has exited by now.
func (c *Context) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return nil
}

// Save makes sure a valid profile exists, writing an empty one with only the
// mode line when the child produced nothing (build failure, crash).
func (c *Context) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saved {
		return nil
	}
	c.saved = true

	info, err := os.Stat(c.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat coverage profile: %w", err)
	}
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err := os.WriteFile(c.path, []byte("mode: "+c.mode+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write empty coverage profile: %w", err)
	}
	return nil
}

// Close stops and saves; safe to call more than once
func (c *Context) Close() error {
	return errors.Join(c.Stop(), c.Save())
}
