package report

import (
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/montanaflynn/stats"

	"github.com/vk/labgrid/internal/config"
	"github.com/vk/labgrid/internal/properties"
)

// Cell is one table value. A zero Cell is missing.
type Cell struct {
	Value   float64
	Present bool
}

func present(v float64) Cell { return Cell{Value: v, Present: true} }

// MarshalJSON encodes a missing cell as null.
func (c Cell) MarshalJSON() ([]byte, error) {
	if !c.Present {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, c.Value, 'g', -1, 64), nil
}

func (c Cell) String() string {
	if !c.Present {
		return Missing
	}
	return FormatValue(c.Value)
}

// FormatValue prints integral values without a fraction and everything else
// with two decimals.
func FormatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Row is a labelled list of cells, one per column.
type Row struct {
	Label   string
	Cells   []Cell
	Summary bool
}

// Strings returns the label followed by the printed cells.
func (r Row) Strings() []string {
	out := make([]string, 0, len(r.Cells)+1)
	out = append(out, r.Label)
	for _, c := range r.Cells {
		out = append(out, c.String())
	}
	return out
}

// Table is a derived view of one attribute.
type Table struct {
	Title     string
	Attribute string
	// Corner is the header of the label column.
	Corner  string
	Columns []string
	Rows    []Row
}

// Header returns Corner followed by Columns.
func (t Table) Header() []string {
	return append([]string{t.Corner}, t.Columns...)
}

// Group names accepted by Compare and Aggregate.
const (
	GroupByTask   = "task"
	GroupByDomain = "domain"
	GroupByAll    = "all"
)

type rowKey struct {
	label string
	tasks []Task
}

func rowKeys(b *Batch, groupBy string) ([]rowKey, error) {
	tasks := b.Tasks()
	switch groupBy {
	case "", GroupByTask:
		keys := make([]rowKey, len(tasks))
		for i, t := range tasks {
			keys[i] = rowKey{label: t.String(), tasks: []Task{t}}
		}
		return keys, nil
	case GroupByDomain:
		var keys []rowKey
		for _, t := range tasks {
			if n := len(keys); n > 0 && keys[n-1].label == t.Domain {
				keys[n-1].tasks = append(keys[n-1].tasks, t)
				continue
			}
			keys = append(keys, rowKey{label: t.Domain, tasks: []Task{t}})
		}
		return keys, nil
	case GroupByAll:
		return []rowKey{{label: GroupByAll, tasks: tasks}}, nil
	}
	return nil, fmt.Errorf("unknown grouping %q", groupBy)
}

// values returns the present values of attribute for alg over tasks.
func values(idx map[string]map[Task]properties.Record, alg, attribute string, tasks []Task) []float64 {
	var out []float64
	for _, t := range tasks {
		if rec, ok := idx[alg][t]; ok {
			if v, ok := rec.Float(attribute); ok {
				out = append(out, v)
			}
		}
	}
	return out
}

func sumCell(vs []float64) Cell {
	if len(vs) == 0 {
		return Cell{}
	}
	s, _ := stats.Sum(vs)
	return present(s)
}

func summaryRow(rows []Row, columns int) Row {
	sum := Row{Label: "sum", Cells: make([]Cell, columns), Summary: true}
	for c := range columns {
		var vs []float64
		for _, r := range rows {
			if r.Cells[c].Present {
				vs = append(vs, r.Cells[c].Value)
			}
		}
		sum.Cells[c] = sumCell(vs)
	}
	return sum
}

func hasAttribute(b *Batch, attribute string) bool {
	return slices.ContainsFunc(b.records, func(r properties.Record) bool {
		_, ok := r.Float(attribute)
		return ok
	})
}

// Absolute returns one table per attribute with a row per task, a column per
// algorithm and a summary row. Attributes without any numeric value are
// skipped with a warning.
func Absolute(b *Batch, attributes []string) ([]Table, []string) {
	idx := b.index()
	algs := b.Algorithms()
	var tables []Table
	var warnings []string
	for _, attr := range attributes {
		if !hasAttribute(b, attr) {
			warnings = append(warnings, fmt.Sprintf("absolute report: attribute %q has no values", attr))
			continue
		}
		t := Table{Title: attr, Attribute: attr, Corner: GroupByTask, Columns: algs}
		for _, task := range b.Tasks() {
			row := Row{Label: task.String(), Cells: make([]Cell, len(algs))}
			for i, alg := range algs {
				if rec, ok := idx[alg][task]; ok {
					if v, ok := rec.Float(attr); ok {
						row.Cells[i] = present(v)
					}
				}
			}
			t.Rows = append(t.Rows, row)
		}
		t.Rows = append(t.Rows, summaryRow(t.Rows, len(algs)))
		tables = append(tables, t)
	}
	return tables, warnings
}

// DefaultDiffLabel heads the difference column of pairs without a label.
const DefaultDiffLabel = "Diff"

// Compare returns one table per attribute. Every usable pair contributes the
// columns A, B and its difference label, where the difference is B-A and is
// missing unless both sides are present. Rows are tasks, or domains whose
// cells sum the present task values. Pairs where one side never ran are left
// out and reported in the returned warnings.
func Compare(b *Batch, pairs []config.Comparison, attributes []string, groupBy string) ([]Table, []string) {
	var warnings []string
	var usable []config.Comparison
	for _, p := range pairs {
		var absent []string
		for _, alg := range []string{p.A, p.B} {
			if !b.HasAlgorithm(alg) {
				absent = append(absent, alg)
			}
		}
		if len(absent) > 0 {
			warnings = append(warnings, fmt.Sprintf("comparison %s vs %s: no runs of %v", p.A, p.B, absent))
			continue
		}
		if p.Label == "" {
			p.Label = DefaultDiffLabel
		}
		usable = append(usable, p)
	}
	if len(usable) == 0 {
		return nil, warnings
	}

	keys, err := rowKeys(b, groupBy)
	if err != nil {
		return nil, append(warnings, "comparison: "+err.Error())
	}
	idx := b.index()
	var tables []Table
	for _, attr := range attributes {
		if !hasAttribute(b, attr) {
			warnings = append(warnings, fmt.Sprintf("comparison: attribute %q has no values", attr))
			continue
		}
		t := Table{Title: attr, Attribute: attr, Corner: groupBy}
		if t.Corner == "" {
			t.Corner = GroupByTask
		}
		for _, p := range usable {
			t.Columns = append(t.Columns, p.A, p.B, p.Label)
		}
		for _, key := range keys {
			row := Row{Label: key.label}
			for _, p := range usable {
				a := sumCell(values(idx, p.A, attr, key.tasks))
				bb := sumCell(values(idx, p.B, attr, key.tasks))
				diff := Cell{}
				if a.Present && bb.Present {
					diff = present(bb.Value - a.Value)
				}
				row.Cells = append(row.Cells, a, bb, diff)
			}
			t.Rows = append(t.Rows, row)
		}
		t.Rows = append(t.Rows, summaryRow(t.Rows, len(t.Columns)))
		tables = append(tables, t)
	}
	return tables, warnings
}

// Point is one task in a scatter series.
type Point struct {
	Task string
	X    float64
	Y    float64
}

// Series holds the points of a scatter plot comparing two algorithms.
type Series struct {
	Attribute string
	X         string
	Y         string
	Points    []Point
	// Incomplete is set when some task lacks a value on either side. Missing
	// lists those tasks.
	Incomplete bool
	Missing    []string
	LogScale   bool
	// Format is the plot file extension, e.g. "png" or "svg".
	Format string
}

// Scatter pairs the values of attribute for algorithms x and y per task.
func Scatter(b *Batch, attribute, x, y string) (Series, error) {
	for _, alg := range []string{x, y} {
		if !b.HasAlgorithm(alg) {
			return Series{}, fmt.Errorf("scatter %s: algorithm %q has no runs", attribute, alg)
		}
	}
	idx := b.index()
	s := Series{Attribute: attribute, X: x, Y: y}
	for _, task := range b.Tasks() {
		xs := values(idx, x, attribute, []Task{task})
		ys := values(idx, y, attribute, []Task{task})
		if len(xs) == 0 || len(ys) == 0 {
			s.Incomplete = true
			s.Missing = append(s.Missing, task.String())
			continue
		}
		s.Points = append(s.Points, Point{Task: task.String(), X: xs[0], Y: ys[0]})
	}
	return s, nil
}

// Reductions accepted by Aggregate.
const (
	ReduceCount         = "count"
	ReduceSum           = "sum"
	ReduceMean          = "mean"
	ReduceGeometricMean = "geometric_mean"
	ReduceMin           = "min"
	ReduceMax           = "max"
)

var reducers = map[string]func(stats.Float64Data) (float64, error){
	ReduceCount:         func(d stats.Float64Data) (float64, error) { return float64(d.Len()), nil },
	ReduceSum:           stats.Sum,
	ReduceMean:          stats.Mean,
	ReduceGeometricMean: stats.GeometricMean,
	ReduceMin:           stats.Min,
	ReduceMax:           stats.Max,
}

// DefaultReductions is used when Aggregate gets no reductions.
var DefaultReductions = []string{ReduceCount, ReduceSum, ReduceMean, ReduceGeometricMean, ReduceMin, ReduceMax}

// Aggregate reduces each attribute per (algorithm, group). Rows are labelled
// "<algorithm> / <group>" and columns are reductions. A reduction of no
// values is missing, except count which is 0.
func Aggregate(b *Batch, groupBy string, reductions, attributes []string) ([]Table, error) {
	if len(reductions) == 0 {
		reductions = DefaultReductions
	}
	for _, r := range reductions {
		if _, ok := reducers[r]; !ok {
			return nil, fmt.Errorf("aggregate: unknown reduction %q", r)
		}
	}
	if groupBy == "" {
		groupBy = GroupByDomain
	}
	keys, err := rowKeys(b, groupBy)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	idx := b.index()
	var tables []Table
	for _, attr := range attributes {
		t := Table{Title: attr + " by " + groupBy, Attribute: attr, Corner: "algorithm / " + groupBy, Columns: slices.Clone(reductions)}
		for _, alg := range b.Algorithms() {
			for _, key := range keys {
				data := stats.Float64Data(values(idx, alg, attr, key.tasks))
				row := Row{Label: alg + " / " + key.label, Cells: make([]Cell, len(reductions))}
				for i, r := range reductions {
					if v, err := reducers[r](data); err == nil && !math.IsNaN(v) {
						row.Cells[i] = present(v)
					}
				}
				t.Rows = append(t.Rows, row)
			}
		}
		tables = append(tables, t)
	}
	return tables, nil
}
