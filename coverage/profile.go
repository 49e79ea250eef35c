package coverage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/cover"
)

// maxConcurrentLoads bounds how many profiles are parsed at once
const maxConcurrentLoads = 8

// Profile is the union of every unit's coverage profile
type Profile struct {
	Mode  string
	Files []*cover.Profile // Sorted by file name, blocks sorted by position
}

type blockKey struct {
	startLine, startCol, endLine, endCol int
}

// Combine parses the given profile files and merges them. Blocks seen in
// several profiles are merged by mode: set keeps the maximum, count and
// atomic sum their hits.
func Combine(paths []string) (*Profile, error) {
	parsed := make([][]*cover.Profile, len(paths))
	modes := make([]string, len(paths))

	var g errgroup.Group
	g.SetLimit(maxConcurrentLoads)
	for i, path := range paths {
		g.Go(func() error {
			profiles, mode, err := loadProfile(path)
			if err != nil {
				return err
			}
			parsed[i] = profiles
			modes[i] = mode
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &Profile{}
	for i, mode := range modes {
		if mode == "" {
			continue
		}
		if merged.Mode == "" {
			merged.Mode = mode
		} else if merged.Mode != mode {
			return nil, fmt.Errorf("cannot combine %s profile %s with %s profiles", mode, paths[i], merged.Mode)
		}
	}
	if merged.Mode == "" {
		merged.Mode = ModeSet
	}

	byFile := make(map[string]map[blockKey]*cover.ProfileBlock)
	for _, profiles := range parsed {
		for _, p := range profiles {
			blocks, ok := byFile[p.FileName]
			if !ok {
				blocks = make(map[blockKey]*cover.ProfileBlock)
				byFile[p.FileName] = blocks
			}
			for _, b := range p.Blocks {
				key := blockKey{b.StartLine, b.StartCol, b.EndLine, b.EndCol}
				existing, ok := blocks[key]
				if !ok {
					block := b
					blocks[key] = &block
					continue
				}
				if merged.Mode == ModeSet {
					existing.Count = max(existing.Count, b.Count)
				} else {
					existing.Count += b.Count
				}
			}
		}
	}

	names := make([]string, 0, len(byFile))
	for name := range byFile {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := &cover.Profile{FileName: name, Mode: merged.Mode}
		for _, b := range byFile[name] {
			p.Blocks = append(p.Blocks, *b)
		}
		sort.Slice(p.Blocks, func(i, j int) bool {
			bi, bj := p.Blocks[i], p.Blocks[j]
			if bi.StartLine != bj.StartLine {
				return bi.StartLine < bj.StartLine
			}
			if bi.StartCol != bj.StartCol {
				return bi.StartCol < bj.StartCol
			}
			if bi.EndLine != bj.EndLine {
				return bi.EndLine < bj.EndLine
			}
			return bi.EndCol < bj.EndCol
		})
		merged.Files = append(merged.Files, p)
	}
	return merged, nil
}

// loadProfile parses one profile; empty files yield no blocks and no mode
func loadProfile(path string) ([]*cover.Profile, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open coverage profile: %w", err)
	}
	defer f.Close()

	mode, err := readMode(f)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read coverage profile %s: %w", path, err)
	}
	if mode == "" {
		return nil, "", nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, "", fmt.Errorf("failed to rewind coverage profile: %w", err)
	}
	profiles, err := cover.ParseProfilesFromReader(f)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse coverage profile %s: %w", path, err)
	}
	return profiles, mode, nil
}

func readMode(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return "", scanner.Err()
	}
	var mode string
	if _, err := fmt.Sscanf(scanner.Text(), "mode: %s", &mode); err != nil {
		return "", fmt.Errorf("bad mode line %q", scanner.Text())
	}
	return mode, nil
}

// Filter returns the profile restricted to file names passing the globs
func (p *Profile) Filter(include, omit []string) (*Profile, error) {
	f, err := newFilter(include, omit)
	if err != nil {
		return nil, err
	}
	out := &Profile{Mode: p.Mode}
	for _, file := range p.Files {
		if f.Match(file.FileName) {
			out.Files = append(out.Files, file)
		}
	}
	return out, nil
}

// FileStats is the statement coverage of one file
type FileStats struct {
	Name       string
	Statements int
	Covered    int
}

// Percent returns the covered share of statements, 100 for no statements
func (s FileStats) Percent() float64 {
	if s.Statements == 0 {
		return 100
	}
	return 100 * float64(s.Covered) / float64(s.Statements)
}

// Stats returns per-file statement counts in file name order
func (p *Profile) Stats() []FileStats {
	stats := make([]FileStats, 0, len(p.Files))
	for _, file := range p.Files {
		s := FileStats{Name: file.FileName}
		for _, b := range file.Blocks {
			s.Statements += b.NumStmt
			if b.Count > 0 {
				s.Covered += b.NumStmt
			}
		}
		stats = append(stats, s)
	}
	return stats
}

// Total returns the aggregated statement counts
func (p *Profile) Total() FileStats {
	total := FileStats{Name: "TOTAL"}
	for _, s := range p.Stats() {
		total.Statements += s.Statements
		total.Covered += s.Covered
	}
	return total
}

// Percent returns the total statement coverage
func (p *Profile) Percent() float64 {
	return p.Total().Percent()
}

// WriteProfile writes the merged profile in the go test -coverprofile format
func (p *Profile) WriteProfile(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "mode: %s\n", p.Mode)
	for _, file := range p.Files {
		for _, b := range file.Blocks {
			fmt.Fprintf(bw, "%s:%d.%d,%d.%d %d %d\n",
				file.FileName, b.StartLine, b.StartCol, b.EndLine, b.EndCol, b.NumStmt, b.Count)
		}
	}
	return bw.Flush()
}
