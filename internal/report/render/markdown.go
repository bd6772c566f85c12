package render

import (
	"fmt"
	"strings"

	"rsc.io/markdown"

	"github.com/vk/labgrid/internal/report"
)

// Markdown renders r as a GitHub-flavoured markdown document.
func Markdown(r *report.Report) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", r.Name)

	if len(r.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "- %s\n", escape(w))
		}
	}

	section(&b, "Absolute", r.Absolute)
	section(&b, "Comparison", r.Comparisons)
	section(&b, "Aggregates", r.Aggregates)

	if len(r.Scatter) > 0 {
		b.WriteString("\n## Scatter plots\n")
		for _, s := range r.Scatter {
			title := fmt.Sprintf("%s: %s vs %s", s.Attribute, s.X, s.Y)
			fmt.Fprintf(&b, "\n![%s](%s)\n", title, PlotFile(s))
			if s.Incomplete {
				fmt.Fprintf(&b, "\nNo value on both sides for: %s\n", escape(strings.Join(s.Missing, ", ")))
			}
		}
	}
	return []byte(b.String())
}

func section(b *strings.Builder, title string, tables []report.Table) {
	if len(tables) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n", title)
	for _, t := range tables {
		fmt.Fprintf(b, "\n### %s\n\n", t.Title)
		tableRow(b, t.Header())
		sep := make([]string, len(t.Columns)+1)
		sep[0] = ":---"
		for i := 1; i < len(sep); i++ {
			sep[i] = "---:"
		}
		fmt.Fprintf(b, "| %s |\n", strings.Join(sep, " | "))
		for _, row := range t.Rows {
			cells := row.Strings()
			if row.Summary {
				cells[0] = "**" + cells[0] + "**"
			}
			tableRow(b, cells)
		}
	}
}

func tableRow(b *strings.Builder, cells []string) {
	escaped := make([]string, len(cells))
	for i, c := range cells {
		escaped[i] = strings.ReplaceAll(c, "|", `\|`)
	}
	fmt.Fprintf(b, "| %s |\n", strings.Join(escaped, " | "))
}

func escape(s string) string {
	return strings.NewReplacer("*", `\*`, "_", `\_`, "<", "&lt;").Replace(s)
}

const htmlHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
th, td { border: 1px solid #ccc; padding: 0.2em 0.6em; }
td { text-align: right; }
td:first-child { text-align: left; }
</style>
</head>
<body>
`

// HTML renders the markdown document of r as a standalone HTML page.
func HTML(r *report.Report) []byte {
	p := &markdown.Parser{
		HeadingIDs: true,
		Table:      true,
	}
	doc := p.Parse(string(Markdown(r)))
	var b strings.Builder
	fmt.Fprintf(&b, htmlHead, strings.NewReplacer("<", "&lt;", ">", "&gt;", "&", "&amp;").Replace(r.Name))
	b.WriteString(markdown.ToHTML(doc))
	b.WriteString("</body>\n</html>\n")
	return []byte(b.String())
}
