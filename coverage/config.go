// Package coverage collects per-unit Go coverage profiles and merges them
// into one report once every unit has finished.
package coverage

import (
	"errors"
	"fmt"
	"os"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// Go coverage modes
const (
	ModeSet    = "set"
	ModeCount  = "count"
	ModeAtomic = "atomic"
)

// Config holds the coverage settings of a run
type Config struct {
	Enabled   bool
	Branch    bool     // Record hit counts, selecting atomic mode
	Include   []string // Globs over profile file names, empty means all
	Omit      []string // Globs over profile file names to drop
	Source    []string // Package patterns passed as -coverpkg
	RCFile    string   // Optional YAML file with defaults for the above
	HTMLDir   string
	XMLFile   string
	FailUnder float64
}

// RCFile is the on-disk form of coverage defaults
type RCFile struct {
	Branch    bool     `yaml:"branch"`
	Include   []string `yaml:"include"`
	Omit      []string `yaml:"omit"`
	Source    []string `yaml:"source"`
	FailUnder float64  `yaml:"fail_under"`
	HTMLDir   string   `yaml:"html_dir"`
	XMLFile   string   `yaml:"xml_output"`
}

// LoadRCFile reads a coverage rc file
func LoadRCFile(path string) (*RCFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read coverage rc file: %w", err)
	}
	var rc RCFile
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("failed to parse coverage rc file: %w", err)
	}
	return &rc, nil
}

// ApplyRCFile fills every setting not given on the command line from the rc
// file, when one is configured.
func (c *Config) ApplyRCFile() error {
	if c.RCFile == "" {
		return nil
	}
	rc, err := LoadRCFile(c.RCFile)
	if err != nil {
		return err
	}
	c.Branch = c.Branch || rc.Branch
	if len(c.Include) == 0 {
		c.Include = rc.Include
	}
	if len(c.Omit) == 0 {
		c.Omit = rc.Omit
	}
	if len(c.Source) == 0 {
		c.Source = rc.Source
	}
	if c.FailUnder == 0 {
		c.FailUnder = rc.FailUnder
	}
	if c.HTMLDir == "" {
		c.HTMLDir = rc.HTMLDir
	}
	if c.XMLFile == "" {
		c.XMLFile = rc.XMLFile
	}
	return nil
}

// Validate checks the settings once flags and rc file are merged
func (c *Config) Validate() error {
	if c.FailUnder < 0 || c.FailUnder > 100 {
		return fmt.Errorf("coverage fail-under must be between 0 and 100, got %v", c.FailUnder)
	}
	for _, patterns := range [][]string{c.Include, c.Omit} {
		if _, err := compileGlobs(patterns); err != nil {
			return err
		}
	}
	return nil
}

// Mode returns the go test -covermode for the config
func (c *Config) Mode() string {
	if c.Branch {
		return ModeAtomic
	}
	return ModeSet
}

// filter selects profile file names by include and omit globs
type filter struct {
	include []glob.Glob
	omit    []glob.Glob
}

func newFilter(include, omit []string) (*filter, error) {
	inc, err := compileGlobs(include)
	if err != nil {
		return nil, err
	}
	om, err := compileGlobs(omit)
	if err != nil {
		return nil, err
	}
	return &filter{include: inc, omit: om}, nil
}

// Match reports whether a file name passes the filter. Globs have no
// separators, so * also matches across path segments.
func (f *filter) Match(name string) bool {
	if f == nil {
		return true
	}
	if len(f.include) > 0 && !matchAny(f.include, name) {
		return false
	}
	return !matchAny(f.omit, name)
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	var globs []glob.Glob
	for _, p := range patterns {
		if p == "" {
			return nil, errors.New("empty coverage pattern")
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid coverage pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func matchAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
