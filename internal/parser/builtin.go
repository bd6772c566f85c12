package parser

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/vk/labgrid/internal/config"
	"github.com/vk/labgrid/internal/model"
	"github.com/vk/labgrid/internal/properties"
	"github.com/vk/labgrid/internal/rundir"
)

// RunInfo seeds the record with the static description from run.json.
func RunInfo() Parser {
	return Func("run-info", func(_ context.Context, dir *rundir.RunDir, rec properties.Record) error {
		spec, err := dir.Spec()
		if err != nil {
			return err
		}
		rec["run_id"] = spec.RunID
		rec["algorithm"] = spec.Algorithm
		rec["revision"] = spec.Revision
		rec["config"] = spec.Config
		rec["domain"] = spec.Domain
		rec["problem"] = spec.Problem
		rec["run_dir"] = path.Join("runs", spec.RunID)
		return nil
	})
}

// StatusParser copies the execution summary from status.json. Runs that did
// not end successfully get an entry in unexplained_errors.
func StatusParser() Parser {
	return Func("status", func(_ context.Context, dir *rundir.RunDir, rec properties.Record) error {
		st, err := dir.Status()
		if err != nil {
			return err
		}
		if st == nil {
			rec.AppendString(UnexplainedErrors, "no status summary")
			return errors.New("status.json is missing")
		}

		outcome := string(st.Outcome)
		if outcome == "" {
			// Never executed, e.g. build_failed or dispatch_failed.
			outcome = string(st.State)
		}
		rec["outcome"] = outcome
		if st.ExitCode != nil {
			rec["exit_code"] = *st.ExitCode
		}
		if st.Signal != "" {
			rec["signal"] = st.Signal
		}
		if st.JobID != "" {
			rec["job_id"] = st.JobID
		}
		if st.State == model.StateCompleted {
			rec["wall_clock_time"] = st.WallClock
			rec["peak_memory"] = st.PeakMemory
		}
		if st.Error != "" {
			rec["error"] = st.Error
		}

		switch {
		case st.Outcome == model.OutcomeSuccess:
		case st.Outcome == model.OutcomeTimeout, st.Outcome == model.OutcomeOOM:
			// Expected ways for a run to end.
		case st.Error != "":
			rec.AppendString(UnexplainedErrors, fmt.Sprintf("%s: %s", outcome, st.Error))
		default:
			rec.AppendString(UnexplainedErrors, outcome)
		}
		return nil
	})
}

// Coverage sets "coverage" to 1 for successful runs and 0 otherwise. It must
// run after StatusParser.
func Coverage() Parser {
	return Func("coverage", func(_ context.Context, _ *rundir.RunDir, rec properties.Record) error {
		if rec.String("outcome") == string(model.OutcomeSuccess) {
			rec["coverage"] = 1
		} else {
			rec["coverage"] = 0
		}
		return nil
	})
}

// Pattern types.
const (
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeString = "string"
)

// MissingError reports a required attribute that was not found.
type MissingError struct {
	Attribute string
	File      string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("required attribute %q not found in %s", e.Attribute, e.File)
}

// Pattern extracts an attribute with a regular expression whose first
// capture group holds the value.
type Pattern struct {
	Attribute string
	Regex     *regexp.Regexp
	Type      string
	File      string
	All       bool
	Required  bool
}

// NewPattern compiles a pattern configuration. Type defaults to int and
// File to run.log.
func NewPattern(cfg config.Pattern) (*Pattern, error) {
	re, err := regexp.Compile(cfg.Regex)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", cfg.Attribute, err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("pattern %q: regex needs a capture group", cfg.Attribute)
	}
	p := &Pattern{Attribute: cfg.Attribute, Regex: re, Type: cfg.Type, File: cfg.File, All: cfg.All, Required: cfg.Required}
	if p.Type == "" {
		p.Type = TypeInt
	}
	if p.File == "" {
		p.File = rundir.StdoutFile
	}
	switch p.Type {
	case TypeInt, TypeFloat, TypeString:
	default:
		return nil, fmt.Errorf("pattern %q: unknown type %q", cfg.Attribute, p.Type)
	}
	return p, nil
}

func (p *Pattern) Name() string { return "pattern:" + p.Attribute }

func (p *Pattern) Parse(_ context.Context, dir *rundir.RunDir, rec properties.Record) error {
	data, err := dir.ReadFile(p.File)
	if err != nil {
		return err
	}

	var values []any
	var convErr error
	for _, m := range p.Regex.FindAllSubmatch(data, -1) {
		v, err := p.convert(string(m[1]))
		if err != nil {
			convErr = err
			continue
		}
		values = append(values, v)
		if !p.All {
			break
		}
	}

	switch {
	case len(values) > 0 && p.All:
		rec[p.Attribute] = values
	case len(values) > 0:
		rec[p.Attribute] = values[0]
	case p.Required:
		rec[p.Attribute] = nil
		rec.AppendString(UnexplainedErrors, fmt.Sprintf("missing required attribute %s", p.Attribute))
		return &MissingError{Attribute: p.Attribute, File: p.File}
	}
	return convErr
}

func (p *Pattern) convert(s string) (any, error) {
	s = strings.TrimSpace(s)
	switch p.Type {
	case TypeInt:
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", p.Attribute, err)
		}
		return n, nil
	case TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", p.Attribute, err)
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, fmt.Errorf("attribute %s: non-finite value %q", p.Attribute, s)
		}
		return f, nil
	}
	return s, nil
}

// Default returns the standard pipeline followed by the given patterns.
func Default(patterns []config.Pattern) (Pipeline, error) {
	p := New(RunInfo(), StatusParser(), Coverage())
	var errs []error
	for _, cfg := range patterns {
		pat, err := NewPattern(cfg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p = p.With(pat)
	}
	return p, errors.Join(errs...)
}
