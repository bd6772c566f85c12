package report

import (
	"github.com/vk/labgrid/internal/properties"
)

// Ratio sets name to num/den. The attribute is omitted when either operand
// is absent or the denominator is zero.
func Ratio(name, num, den string) Filter {
	return func(rec properties.Record, _ *Batch) (properties.Record, bool) {
		n, okN := rec.Float(num)
		d, okD := rec.Float(den)
		if okN && okD && d != 0 {
			rec[name] = n / d
		} else {
			delete(rec, name)
		}
		return rec, true
	}
}

// EvaluationsPerTime derives "evaluations_per_time" from "evaluations" and
// "search_time".
func EvaluationsPerTime() Filter {
	return Ratio("evaluations_per_time", "evaluations", "search_time")
}

// Difference sets name to a-b when both are present.
func Difference(name, a, b string) Filter {
	return func(rec properties.Record, _ *Batch) (properties.Record, bool) {
		x, okA := rec.Float(a)
		y, okB := rec.Float(b)
		if okA && okB {
			rec[name] = x - y
		} else {
			delete(rec, name)
		}
		return rec, true
	}
}

// GroupDomains merges domains into named groups. A record of a grouped
// domain gets the group as its domain, "<domain>:<problem>" as its problem
// and its old domain in "original_domain".
func GroupDomains(groups map[string][]string) Filter {
	byDomain := map[string]string{}
	for group, domains := range groups {
		for _, d := range domains {
			byDomain[d] = group
		}
	}
	return func(rec properties.Record, _ *Batch) (properties.Record, bool) {
		domain := rec.String("domain")
		group, ok := byDomain[domain]
		if !ok {
			return rec, true
		}
		rec["original_domain"] = domain
		rec["domain"] = group
		rec["problem"] = domain + ":" + rec.String("problem")
		return rec, true
	}
}

// RenameAlgorithms renames algorithms according to names. Records of
// algorithms renamed to the empty string are dropped.
func RenameAlgorithms(names map[string]string) Filter {
	return func(rec properties.Record, _ *Batch) (properties.Record, bool) {
		to, ok := names[rec.String("algorithm")]
		if !ok {
			return rec, true
		}
		if to == "" {
			return rec, false
		}
		rec["algorithm"] = to
		return rec, true
	}
}

// OnlyAlgorithms drops records of algorithms not listed.
func OnlyAlgorithms(names ...string) Filter {
	keep := map[string]bool{}
	for _, n := range names {
		keep[n] = true
	}
	return func(rec properties.Record, _ *Batch) (properties.Record, bool) {
		return rec, keep[rec.String("algorithm")]
	}
}
