package coverage

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Report writes a per-file table and the total line to w and returns the
// total statement coverage
func (p *Profile) Report(w io.Writer) float64 {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Name", "Stmts", "Miss", "Cover"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Name", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Stmts", Align: text.AlignRight},
		{Name: "Miss", Align: text.AlignRight},
		{Name: "Cover", Align: text.AlignRight},
	})
	for _, s := range p.Stats() {
		t.AppendRow(table.Row{s.Name, s.Statements, s.Statements - s.Covered, formatPercent(s.Percent())})
	}
	total := p.Total()
	t.AppendFooter(table.Row{total.Name, total.Statements, total.Statements - total.Covered, formatPercent(total.Percent())})
	t.SetStyle(table.StyleLight)
	t.Render()

	percent := total.Percent()
	fmt.Fprintf(w, "Total coverage is %.2f%%\n", percent)
	return percent
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64) + "%"
}

// HTMLOptions locate the go tool used to render HTML
type HTMLOptions struct {
	GoBinary string // Defaults to "go"
	WorkDir  string // Module directory the profile's import paths resolve from
}

// HTMLReport renders dir/index.html with go tool cover. The merged profile
// is kept next to it as coverage.out.
func (p *Profile) HTMLReport(dir string, opts HTMLOptions) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create coverage html directory: %w", err)
	}
	profilePath := filepath.Join(dir, "coverage.out")
	f, err := os.Create(profilePath)
	if err != nil {
		return fmt.Errorf("failed to create merged profile: %w", err)
	}
	if err := p.WriteProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write merged profile: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write merged profile: %w", err)
	}

	goBinary := opts.GoBinary
	if goBinary == "" {
		goBinary = "go"
	}
	cmd := exec.Command(goBinary, "tool", "cover", "-html="+profilePath, "-o", filepath.Join(dir, "index.html"))
	cmd.Dir = opts.WorkDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("go tool cover failed: %w: %s", err, out)
	}
	return nil
}

// Cobertura XML document
type coberturaCoverage struct {
	XMLName         xml.Name           `xml:"coverage"`
	LineRate        string             `xml:"line-rate,attr"`
	BranchRate      string             `xml:"branch-rate,attr"`
	LinesCovered    int                `xml:"lines-covered,attr"`
	LinesValid      int                `xml:"lines-valid,attr"`
	BranchesCovered int                `xml:"branches-covered,attr"`
	BranchesValid   int                `xml:"branches-valid,attr"`
	Complexity      int                `xml:"complexity,attr"`
	Version         string             `xml:"version,attr"`
	Timestamp       int64              `xml:"timestamp,attr"`
	Sources         []string           `xml:"sources>source"`
	Packages        []coberturaPackage `xml:"packages>package"`
}

type coberturaPackage struct {
	Name       string           `xml:"name,attr"`
	LineRate   string           `xml:"line-rate,attr"`
	BranchRate string           `xml:"branch-rate,attr"`
	Complexity int              `xml:"complexity,attr"`
	Classes    []coberturaClass `xml:"classes>class"`
}

type coberturaClass struct {
	Name       string          `xml:"name,attr"`
	Filename   string          `xml:"filename,attr"`
	LineRate   string          `xml:"line-rate,attr"`
	BranchRate string          `xml:"branch-rate,attr"`
	Complexity int             `xml:"complexity,attr"`
	Methods    struct{}        `xml:"methods"`
	Lines      []coberturaLine `xml:"lines>line"`
}

type coberturaLine struct {
	Number int `xml:"number,attr"`
	Hits   int `xml:"hits,attr"`
}

// XMLReport writes a Cobertura report. Go records statement blocks, so every
// line of a block carries the block's hits and branch rates are zero.
func (p *Profile) XMLReport(outPath string, sources ...string) error {
	doc := p.cobertura(time.Now())
	doc.Sources = sources

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create coverage xml directory: %w", err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create coverage xml: %w", err)
	}
	defer f.Close()

	if _, err := io.WriteString(f, xml.Header); err != nil {
		return fmt.Errorf("failed to write coverage xml: %w", err)
	}
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode coverage xml: %w", err)
	}
	return f.Close()
}

func (p *Profile) cobertura(now time.Time) coberturaCoverage {
	doc := coberturaCoverage{
		BranchRate: rate(0, 0),
		Version:    "op-parallel",
		Timestamp:  now.UnixMilli(),
	}

	packages := make(map[string]*coberturaPackage)
	var pkgNames []string
	pkgCounts := make(map[string][2]int)

	for _, file := range p.Files {
		hits := make(map[int]int)
		for _, b := range file.Blocks {
			for line := b.StartLine; line <= b.EndLine; line++ {
				if prev, ok := hits[line]; !ok || b.Count > prev {
					hits[line] = b.Count
				}
			}
		}
		lineNumbers := make([]int, 0, len(hits))
		for n := range hits {
			lineNumbers = append(lineNumbers, n)
		}
		sort.Ints(lineNumbers)

		class := coberturaClass{
			Name:       path.Base(file.FileName),
			Filename:   file.FileName,
			BranchRate: rate(0, 0),
		}
		covered := 0
		for _, n := range lineNumbers {
			class.Lines = append(class.Lines, coberturaLine{Number: n, Hits: hits[n]})
			if hits[n] > 0 {
				covered++
			}
		}
		class.LineRate = rate(covered, len(lineNumbers))

		pkgName := path.Dir(file.FileName)
		pkg, ok := packages[pkgName]
		if !ok {
			pkg = &coberturaPackage{Name: pkgName, BranchRate: rate(0, 0)}
			packages[pkgName] = pkg
			pkgNames = append(pkgNames, pkgName)
		}
		pkg.Classes = append(pkg.Classes, class)
		counts := pkgCounts[pkgName]
		pkgCounts[pkgName] = [2]int{counts[0] + covered, counts[1] + len(lineNumbers)}

		doc.LinesCovered += covered
		doc.LinesValid += len(lineNumbers)
	}

	sort.Strings(pkgNames)
	for _, name := range pkgNames {
		pkg := packages[name]
		counts := pkgCounts[name]
		pkg.LineRate = rate(counts[0], counts[1])
		doc.Packages = append(doc.Packages, *pkg)
	}
	doc.LineRate = rate(doc.LinesCovered, doc.LinesValid)
	return doc
}

func rate(covered, valid int) string {
	if valid == 0 {
		return "1"
	}
	return strconv.FormatFloat(float64(covered)/float64(valid), 'f', 4, 64)
}
