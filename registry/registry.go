// Package registry loads the optional run configuration file.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"
)

// TestSelector names a test, or every test of a package when Name is empty
type TestSelector struct {
	Package string `yaml:"package"`
	Name    string `yaml:"name,omitempty"`
}

// RunConfig is the YAML form of the run configuration file
type RunConfig struct {
	ExpectedFailures []TestSelector    `yaml:"expected_failures"`
	GoFlags          []string          `yaml:"go_flags"`
	Env              map[string]string `yaml:"env"`
	Timeout          string            `yaml:"timeout"`
}

// Registry answers questions about the configured tests
type Registry struct {
	log      log.Logger
	expected map[string]map[string]bool // package -> test names, "" for all
	goFlags  []string
	env      []string
	timeout  time.Duration
	mu       sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log        log.Logger
	ConfigFile string // Optional, an empty registry when unset
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	r := &Registry{
		log:      cfg.Log,
		expected: make(map[string]map[string]bool),
	}
	if cfg.ConfigFile == "" {
		return r, nil
	}

	runCfg, err := loadConfig(cfg.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load run config: %w", err)
	}
	if err := r.apply(runCfg); err != nil {
		return nil, fmt.Errorf("invalid run config %s: %w", cfg.ConfigFile, err)
	}

	cfg.Log.Debug("Registry loaded",
		"expectedFailures", len(runCfg.ExpectedFailures),
		"goFlags", len(r.goFlags),
		"env", len(r.env))
	return r, nil
}

func loadConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg RunConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

func (r *Registry) apply(cfg *RunConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, sel := range cfg.ExpectedFailures {
		if sel.Package == "" {
			return fmt.Errorf("expected_failures[%d]: package is required", i)
		}
		names, ok := r.expected[sel.Package]
		if !ok {
			names = make(map[string]bool)
			r.expected[sel.Package] = names
		}
		names[sel.Name] = true
	}

	for _, flag := range cfg.GoFlags {
		if !strings.HasPrefix(flag, "-") {
			return fmt.Errorf("go flag %q must start with '-'", flag)
		}
	}
	r.goFlags = append([]string(nil), cfg.GoFlags...)

	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		if k == "" || strings.Contains(k, "=") {
			return fmt.Errorf("invalid env name %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r.env = append(r.env, k+"="+cfg.Env[k])
	}

	if cfg.Timeout != "" {
		timeout, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
		if timeout < 0 {
			return errors.New("timeout must not be negative")
		}
		r.timeout = timeout
	}
	return nil
}

// IsExpectedFailure reports whether the test is listed as expected to fail,
// either by name or through its whole package.
func (r *Registry) IsExpectedFailure(pkg, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names, ok := r.expected[pkg]
	if !ok {
		return false
	}
	if names[""] {
		return true
	}
	// Subtests inherit from their top-level test
	top, _, _ := strings.Cut(name, "/")
	return names[name] || names[top]
}

// GoFlags returns the extra go test flags from the config file
func (r *Registry) GoFlags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.goFlags...)
}

// Env returns the extra KEY=VALUE environment, sorted by key
func (r *Registry) Env() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.env...)
}

// Timeout returns the configured per-package timeout, zero when unset
func (r *Registry) Timeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timeout
}
