package reporting

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-parallel/types"
)

// Unit status labels used in the units table
const (
	StatusPass       = "PASS"
	StatusFail       = "FAIL"
	StatusFastFailed = "NOT RUN"
)

// UnitStatus returns the table label of one unit result
func UnitStatus(res types.UnitResult) string {
	switch {
	case res.FastFailed:
		return StatusFastFailed
	case res.Failed():
		return StatusFail
	default:
		return StatusPass
	}
}

// WriteUnitsTable renders one row per unit with its counters and duration
func WriteUnitsTable(w io.Writer, results []types.UnitResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Execution Units")
	t.AppendHeader(table.Row{"Unit", "Status", "Tests", "Failures", "Errors", "Skipped", "Duration"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Unit", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Failures", Align: text.AlignRight},
		{Name: "Errors", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
	})

	var tests, failures, errs, skipped int
	for _, res := range results {
		t.AppendRow(table.Row{
			res.UnitID,
			UnitStatus(res),
			res.TestsRun,
			len(res.Failures),
			len(res.Errors),
			res.Skipped,
			formatDuration(res),
		})
		tests += res.TestsRun
		failures += len(res.Failures)
		errs += len(res.Errors)
		skipped += res.Skipped
	}
	t.AppendFooter(table.Row{"TOTAL", "", tests, failures, errs, skipped, ""})
	t.SetStyle(table.StyleLight)
	t.Render()
}

func formatDuration(res types.UnitResult) string {
	if res.FastFailed {
		return "-"
	}
	return res.Duration.Round(1e6).String()
}
