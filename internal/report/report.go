package report

import (
	"fmt"

	"github.com/vk/labgrid/internal/config"
)

// DefaultAttributes are reported when the configuration names none.
var DefaultAttributes = []string{"coverage", "wall_clock_time", "peak_memory"}

// Report collects every view configured for an experiment. A view that
// cannot be produced is left out and explained in Warnings.
type Report struct {
	Name        string
	Absolute    []Table
	Comparisons []Table
	Scatter     []Series
	Aggregates  []Table
	Warnings    []string
}

// Generate builds all views configured in cfg from b.
func Generate(name string, b *Batch, cfg config.Report) *Report {
	attrs := cfg.Attributes
	if len(attrs) == 0 {
		attrs = DefaultAttributes
	}
	r := &Report{Name: name, Warnings: b.Warnings()}

	var w []string
	r.Absolute, w = Absolute(b, attrs)
	r.Warnings = append(r.Warnings, w...)

	if len(cfg.Comparisons) > 0 {
		r.Comparisons, w = Compare(b, cfg.Comparisons, attrs, "")
		r.Warnings = append(r.Warnings, w...)
	}

	for _, sc := range cfg.Scatter {
		s, err := Scatter(b, sc.Attribute, sc.X, sc.Y)
		if err != nil {
			r.Warnings = append(r.Warnings, err.Error())
			continue
		}
		s.LogScale = sc.LogScale
		s.Format = sc.Format
		if s.Incomplete {
			r.Warnings = append(r.Warnings, fmt.Sprintf("scatter %s %s vs %s: no value for %d task(s)", s.Attribute, s.X, s.Y, len(s.Missing)))
		}
		r.Scatter = append(r.Scatter, s)
	}

	if agg := cfg.Aggregate; agg != nil {
		aggAttrs := agg.Attributes
		if len(aggAttrs) == 0 {
			aggAttrs = attrs
		}
		tables, err := Aggregate(b, agg.GroupBy, agg.Reductions, aggAttrs)
		if err != nil {
			r.Warnings = append(r.Warnings, err.Error())
		}
		r.Aggregates = tables
	}
	return r
}

// DerivedFilters turns derived attribute definitions into filters.
func DerivedFilters(derived []config.Derived) ([]Filter, error) {
	filters := make([]Filter, 0, len(derived))
	for _, d := range derived {
		switch d.Kind {
		case config.DerivedRatio:
			filters = append(filters, Ratio(d.Name, d.A, d.B))
		case config.DerivedDifference:
			filters = append(filters, Difference(d.Name, d.A, d.B))
		case config.DerivedEvaluationsPerTime:
			filters = append(filters, EvaluationsPerTime())
		default:
			return nil, fmt.Errorf("derived attribute %q: unknown kind %q", d.Name, d.Kind)
		}
	}
	return filters, nil
}

// ReportFilters returns the filters applied before reporting: domain
// grouping, then algorithm renaming.
func ReportFilters(cfg config.Report, domainGroups map[string][]string) []Filter {
	var filters []Filter
	if len(domainGroups) > 0 {
		filters = append(filters, GroupDomains(domainGroups))
	}
	if len(cfg.Rename) > 0 {
		filters = append(filters, RenameAlgorithms(cfg.Rename))
	}
	return filters
}
