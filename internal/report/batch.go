// Package report derives tables and plot series from the combined run
// records of an experiment.
//
// Records pass through a chain of filters that may derive, rename or drop
// attributes. A Batch is not modified once NewBatch returns; every report
// function returns a fresh view. Missing values are kept distinct from zeros throughout: a
// cell is either present (possibly 0) or Missing.
package report

import (
	"fmt"
	"slices"

	"github.com/vk/labgrid/internal/properties"
)

// Missing marks a cell whose value is absent.
const Missing = "n/a"

// Filter transforms one record. Returning false drops the record.
type Filter func(rec properties.Record, b *Batch) (properties.Record, bool)

// Batch is a filtered, ordered set of records.
type Batch struct {
	records    []properties.Record
	algorithms []string
	warnings   []string
}

// NewBatch applies filters to every record of c, in run id order. The input
// records are not modified.
func NewBatch(c properties.Combined, filters ...Filter) *Batch {
	b := &Batch{}
	for _, id := range c.IDs() {
		rec := c[id].Clone()
		keep := true
		for _, f := range filters {
			if rec, keep = f(rec, b); !keep {
				break
			}
		}
		if keep {
			b.records = append(b.records, rec)
		}
	}
	for _, rec := range b.records {
		if a := rec.String("algorithm"); a != "" && !slices.Contains(b.algorithms, a) {
			b.algorithms = append(b.algorithms, a)
		}
	}
	return b
}

// Records returns the records in run id order.
func (b *Batch) Records() []properties.Record {
	return b.records
}

// Algorithms returns the algorithm names in order of first appearance.
func (b *Batch) Algorithms() []string {
	return slices.Clone(b.algorithms)
}

// HasAlgorithm reports whether any record belongs to algorithm.
func (b *Batch) HasAlgorithm(name string) bool {
	return slices.Contains(b.algorithms, name)
}

// Warn records a problem found by a filter.
func (b *Batch) Warn(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

// Warnings returns the problems the filters recorded.
func (b *Batch) Warnings() []string {
	return slices.Clone(b.warnings)
}

// Task identifies a benchmark instance within a batch.
type Task struct {
	Domain  string
	Problem string
}

func (t Task) String() string {
	return t.Domain + ":" + t.Problem
}

func taskOf(rec properties.Record) Task {
	return Task{Domain: rec.String("domain"), Problem: rec.String("problem")}
}

// Tasks returns the distinct tasks in sorted order.
func (b *Batch) Tasks() []Task {
	seen := map[Task]bool{}
	var out []Task
	for _, rec := range b.records {
		t := taskOf(rec)
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(x, y Task) int {
		if x.Domain != y.Domain {
			return cmpString(x.Domain, y.Domain)
		}
		return cmpString(x.Problem, y.Problem)
	})
	return out
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// index maps (algorithm, task) to the record.
func (b *Batch) index() map[string]map[Task]properties.Record {
	idx := map[string]map[Task]properties.Record{}
	for _, rec := range b.records {
		a := rec.String("algorithm")
		if idx[a] == nil {
			idx[a] = map[Task]properties.Record{}
		}
		idx[a][taskOf(rec)] = rec
	}
	return idx
}
