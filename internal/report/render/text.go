package render

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/vk/labgrid/internal/report"
)

// Text writes r as plain text tables for a terminal.
func Text(w io.Writer, r *report.Report) {
	for _, group := range [][]report.Table{r.Absolute, r.Comparisons, r.Aggregates} {
		for _, t := range group {
			fmt.Fprintf(w, "%s\n", t.Title)
			TextTable(w, t)
			fmt.Fprintln(w)
		}
	}
	for _, s := range r.Scatter {
		fmt.Fprintf(w, "scatter %s: %s vs %s, %d point(s)", s.Attribute, s.X, s.Y, len(s.Points))
		if s.Incomplete {
			fmt.Fprintf(w, ", %d task(s) without values", len(s.Missing))
		}
		fmt.Fprintln(w)
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}

// TextTable draws one table.
func TextTable(w io.Writer, t report.Table) {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetHeader(t.Header())
	align := make([]int, len(t.Columns)+1)
	align[0] = tablewriter.ALIGN_LEFT
	for i := 1; i < len(align); i++ {
		align[i] = tablewriter.ALIGN_RIGHT
	}
	table.SetColumnAlignment(align)
	for _, row := range t.Rows {
		if row.Summary {
			table.SetFooter(row.Strings())
			continue
		}
		table.Append(row.Strings())
	}
	table.Render()
}
