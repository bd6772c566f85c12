package render

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/labgrid/internal/config"
	"github.com/vk/labgrid/internal/properties"
	"github.com/vk/labgrid/internal/report"
)

func sample() *report.Report {
	c := properties.Combined{}
	add := func(alg, problem string, time any) {
		rec := properties.Record{"run_id": alg + "/d/" + problem, "algorithm": alg, "domain": "d", "problem": problem, "coverage": 1}
		if time != nil {
			rec["time"] = time
		}
		c[rec.String("run_id")] = rec
	}
	add("base", "p1", 2.0)
	add("base", "p2", 4.5)
	add("new", "p1", 1.0)
	add("new", "p2", nil)

	return report.Generate("demo", report.NewBatch(c), config.Report{
		Attributes:  []string{"coverage", "time"},
		Comparisons: []config.Comparison{{A: "base", B: "new"}},
		Scatter:     []config.Scatter{{Attribute: "time", X: "base", Y: "new"}, {Attribute: "coverage", X: "base", Y: "new", LogScale: true, Format: "svg"}},
	})
}

func TestMarkdown(t *testing.T) {
	md := string(Markdown(sample()))
	assert.True(t, strings.HasPrefix(md, "# demo\n"))
	assert.Contains(t, md, "## Comparison")
	assert.Contains(t, md, "| task | base | new | Diff |")
	assert.Contains(t, md, "| d:p1 | 2 | 1 | -1 |")
	assert.Contains(t, md, "| d:p2 | 4.50 | n/a | n/a |")
	assert.Contains(t, md, "| **sum** |")
	assert.Contains(t, md, "![time: base vs new](scatter-time-base-new.png)")
	assert.Contains(t, md, "No value on both sides for: d:p2")
}

func TestHTML(t *testing.T) {
	html := string(HTML(sample()))
	assert.Contains(t, html, "<title>demo</title>")
	assert.Contains(t, html, "<table")
	assert.Contains(t, html, "n/a</td>")
	assert.True(t, strings.HasSuffix(html, "</html>\n"))
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	Text(&buf, sample())
	out := buf.String()
	assert.Contains(t, out, "base")
	assert.Contains(t, out, "n/a")
	assert.Contains(t, out, "scatter time: base vs new, 1 point(s), 1 task(s) without values")
	assert.Contains(t, out, "warning: scatter time base vs new: no value for 1 task(s)")
}

func TestDocument_JSONUsesNullForMissing(t *testing.T) {
	data, err := Document(sample(), FormatJSON)
	require.NoError(t, err)

	var decoded struct {
		Comparisons []struct {
			Rows []struct {
				Label string
				Cells []*float64
			}
		}
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	row := decoded.Comparisons[1].Rows[1]
	assert.Equal(t, "d:p2", row.Label)
	require.NotNil(t, row.Cells[0])
	assert.Equal(t, 4.5, *row.Cells[0])
	assert.Nil(t, row.Cells[1])

	_, err = Document(sample(), "doc")
	assert.ErrorContains(t, err, `unknown report format "doc"`)
}

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	r := sample()
	written, err := Write(dir, r, []string{FormatMarkdown, FormatText})
	require.NoError(t, err)

	var names []string
	for _, p := range written {
		names = append(names, filepath.Base(p))
	}
	assert.Equal(t, []string{"scatter-time-base-new.png", "scatter-coverage-base-new.svg", "report.md", "report.txt"}, names)
	for _, p := range written {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.NotZero(t, info.Size(), p)
	}
}

func TestWrite_PlotFailureBecomesWarning(t *testing.T) {
	r := &report.Report{Name: "empty", Scatter: []report.Series{{Attribute: "time", X: "a", Y: "b"}}}
	written, err := Write(t.TempDir(), r, []string{FormatMarkdown})
	require.NoError(t, err)
	assert.Len(t, written, 1)
	assert.Empty(t, r.Scatter)
	assert.Equal(t, []string{"scatter time a vs b: no points"}, r.Warnings)
}

func TestPlotFile(t *testing.T) {
	assert.Equal(t, "scatter-search_time-rev_1-a_b.svg", PlotFile(report.Series{Attribute: "search time", X: "rev/1", Y: "a:b", Format: "svg"}))
}
